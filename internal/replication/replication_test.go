package replication

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tuplespace/internal/naming"
	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
)

var intString = tuple.MustNew(tuple.IntType, tuple.StringType)

type node struct {
	engine *space.Engine
	c      *Coordinator
	srv    *httptest.Server

	// refuseApply makes the node fail every mirrored batch
	refuseApply atomic.Bool
}

func newNode(t *testing.T, reg naming.Registry) *node {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)

	n := &node{engine: space.New(), srv: srv}
	n.c = New(Config{
		Name:             "space",
		Addr:             srv.URL,
		PollInterval:     20 * time.Millisecond,
		FailureThreshold: 1,
		RebindBackoff:    10 * time.Millisecond,
	}, n.engine, reg)
	mux.Handle("/replica/", n.c.Handler())
	mux.HandleFunc("/replica/apply", func(w http.ResponseWriter, r *http.Request) {
		if n.refuseApply.Load() {
			http.Error(w, "disk full", http.StatusInternalServerError)
			return
		}
		n.c.Handler().ServeHTTP(w, r)
	})

	t.Cleanup(n.kill)
	return n
}

func startNode(t *testing.T, reg naming.Registry) *node {
	t.Helper()
	n := newNode(t, reg)
	require.NoError(t, n.c.Start(context.Background()))
	return n
}

// kill makes n unreachable, like a crashed process
func (n *node) kill() {
	n.c.Close()
	n.srv.CloseClientConnections()
	n.srv.Close()
}

func lookup(t *testing.T, reg naming.Registry) string {
	t.Helper()
	addr, err := reg.Lookup(context.Background(), "space")
	require.NoError(t, err)
	return addr
}

func TestStartBindsPrimary(t *testing.T) {
	reg := naming.NewMemory()
	n := startNode(t, reg)

	assert.Equal(t, RolePrimary, n.c.Role())
	assert.Equal(t, n.srv.URL, lookup(t, reg))

	e, err := n.c.Engine()
	require.NoError(t, err)
	assert.Same(t, n.engine, e)
}

func TestSecondServerBecomesBackup(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	require.NoError(t, primary.engine.Write(tuple.MustNew(1, "a")))
	require.NoError(t, primary.engine.Write(tuple.MustNew(2, "b")))

	backup := startNode(t, reg)
	assert.Equal(t, RoleBackup, backup.c.Role())
	assert.Equal(t, primary.srv.URL, lookup(t, reg), "backup must not steal the name")
	assert.Equal(t, 2, backup.engine.Stats().Tuples)

	_, err := backup.c.Engine()
	assert.ErrorIs(t, err, ErrNotPrimary)

	attached, err := primary.c.KeepAlive(backup.c.ID())
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, backup.srv.URL, primary.c.Info().Backup)
	assert.Equal(t, 0, backup.c.Info().MissedKeepAlives)

	// incremental mirroring
	require.NoError(t, primary.engine.Write(tuple.MustNew(3, "c")))
	_, ok, err := primary.engine.TryTake(tuple.MustNew(1, "a"))
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := backup.engine.ReadAll(intString)
	assert.Len(t, got, 2)
	_, ok, _ = backup.engine.TryRead(tuple.MustNew(1, "a"))
	assert.False(t, ok)
	_, ok, _ = backup.engine.TryRead(tuple.MustNew(3, "c"))
	assert.True(t, ok)
}

func TestFailover(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	backup := startNode(t, reg)
	require.NoError(t, primary.engine.Write(tuple.MustNew(4, "oui")))
	require.NoError(t, primary.engine.Write(tuple.MustNew(6, "non")))

	primary.kill()

	require.Eventually(t, func() bool { return backup.c.Role() == RolePrimary }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, backup.srv.URL, lookup(t, reg))

	e, err := backup.c.Engine()
	require.NoError(t, err)
	got, err := e.ReadAll(tuple.Wildcard(2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(tuple.MustNew(4, "oui")))
	assert.True(t, got[1].Equal(tuple.MustNew(6, "non")))
	assert.Equal(t, "", backup.c.Info().Primary)
}

// flakyRebind fails the first n Rebind calls, like a registry that is
// briefly unreachable
type flakyRebind struct {
	naming.Registry
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyRebind) Rebind(ctx context.Context, name, addr string) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("registry unreachable")
	}
	return f.Registry.Rebind(ctx, name, addr)
}

func TestPromotionRetriesRebind(t *testing.T) {
	mem := naming.NewMemory()
	reg := &flakyRebind{Registry: mem}
	primary := startNode(t, reg)
	backup := startNode(t, reg)

	reg.failures.Store(2)
	primary.kill()

	require.Eventually(t, func() bool {
		addr, err := mem.Lookup(context.Background(), "space")
		return err == nil && addr == backup.srv.URL
	}, 2*time.Second, 10*time.Millisecond, "the promoted backup must end up bound to the name")
	assert.Equal(t, RolePrimary, backup.c.Role())
	assert.Equal(t, int32(3), reg.calls.Load())
}

func TestCloseStopsRebindRetries(t *testing.T) {
	mem := naming.NewMemory()
	reg := &flakyRebind{Registry: mem}
	primary := startNode(t, reg)
	backup := startNode(t, reg)

	reg.failures.Store(1 << 20)
	primary.kill()
	require.Eventually(t, func() bool { return reg.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		backup.c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the rebind loop")
	}
	calls := reg.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, reg.calls.Load())
}

func TestLivePrimaryRefusingBackupIsNotFailover(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	backup := startNode(t, reg)

	backup.refuseApply.Store(true)
	require.NoError(t, primary.engine.Write(tuple.MustNew(1, "a")))
	assert.Equal(t, "", primary.c.Info().Backup, "failed mirror drops the backup")

	// several polls: each finds the primary alive and the re-attach refused
	time.Sleep(10 * 20 * time.Millisecond)
	assert.Equal(t, RoleBackup, backup.c.Role())
	assert.Equal(t, RolePrimary, primary.c.Role())
	assert.Equal(t, primary.srv.URL, lookup(t, reg), "a live primary keeps the name")
	assert.Equal(t, 0, backup.c.Info().MissedKeepAlives)

	backup.refuseApply.Store(false)
	require.Eventually(t, func() bool {
		attached, _ := primary.c.KeepAlive(backup.c.ID())
		return attached
	}, 2*time.Second, 10*time.Millisecond)
	_, ok, _ := backup.engine.TryRead(tuple.MustNew(1, "a"))
	assert.True(t, ok)
}

func TestStaleBindingTakeover(t *testing.T) {
	reg := naming.NewMemory()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	require.NoError(t, reg.Bind(context.Background(), "space", deadURL))

	n := startNode(t, reg)
	assert.Equal(t, RolePrimary, n.c.Role())
	assert.Equal(t, n.srv.URL, lookup(t, reg))
}

func TestStartFailsWithoutRegistry(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	n := newNode(t, naming.NewHTTPClient(deadURL))
	assert.Error(t, n.c.Start(context.Background()))
	assert.Equal(t, RoleUnparented, n.c.Role())
}

func TestMirrorFailureDropsBackup(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	backup := startNode(t, reg)
	id := backup.c.ID()

	backup.kill()

	require.NoError(t, primary.engine.Write(tuple.MustNew(1, "a")), "a lost backup never fails the caller")
	assert.Equal(t, "", primary.c.Info().Backup)
	attached, err := primary.c.KeepAlive(id)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Equal(t, 1, primary.engine.Stats().Tuples)
}

func TestBackupReattachesWhenDropped(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	backup := startNode(t, reg)

	primary.c.mu.Lock()
	primary.c.backup = nil
	primary.c.mu.Unlock()
	require.NoError(t, primary.engine.Write(tuple.MustNew(9, "missed")))

	require.Eventually(t, func() bool {
		attached, _ := primary.c.KeepAlive(backup.c.ID())
		return attached
	}, 2*time.Second, 10*time.Millisecond)

	// the fresh snapshot carries what was missed
	_, ok, _ := backup.engine.TryRead(tuple.MustNew(9, "missed"))
	assert.True(t, ok)
	assert.Equal(t, RoleBackup, backup.c.Role())
}

func TestApplyRejectedUnlessBackup(t *testing.T) {
	n := startNode(t, naming.NewMemory())
	err := n.c.Apply([]space.Mutation{{Op: space.OpInsert, Tuple: tuple.MustNew(1)}})
	assert.ErrorIs(t, err, ErrNotBackup)
	assert.Equal(t, 0, n.engine.Stats().Tuples)
}

func TestRegisterBackupRejectedUnlessPrimary(t *testing.T) {
	n := newNode(t, naming.NewMemory())
	assert.ErrorIs(t, n.c.RegisterBackup(context.Background(), "id", "http://x"), ErrNotPrimary)
	assert.ErrorIs(t, n.c.RegisterBackup(context.Background(), "", ""), tuple.ErrMalformed)

	_, err := n.c.KeepAlive("id")
	assert.ErrorIs(t, err, ErrNotPrimary)
}

func TestEvent(t *testing.T) {
	t.Run("fires on a later write", func(t *testing.T) {
		n := startNode(t, naming.NewMemory())
		done := make(chan tuple.Tuple, 1)
		go func() {
			got, err := n.c.Event(context.Background(), "h1", space.ModeTake, space.TimingImmediate, intString)
			if err == nil {
				done <- got
			}
		}()

		require.Eventually(t, func() bool { return n.engine.Pending("h1") }, time.Second, 5*time.Millisecond)
		require.NoError(t, n.engine.Write(tuple.MustNew(1, "a")))

		select {
		case got := <-done:
			assert.True(t, got.Equal(tuple.MustNew(1, "a")))
		case <-time.After(2 * time.Second):
			t.Fatal("event never delivered")
		}
		assert.Equal(t, 0, n.engine.Stats().Tuples)
	})

	t.Run("same handle is claimed again until released", func(t *testing.T) {
		n := startNode(t, naming.NewMemory())
		require.NoError(t, n.engine.Write(tuple.MustNew(1, "a")))
		require.NoError(t, n.engine.Write(tuple.MustNew(2, "b")))

		first, err := n.c.Event(context.Background(), "h", space.ModeTake, space.TimingImmediate, intString)
		require.NoError(t, err)
		again, err := n.c.Event(context.Background(), "h", space.ModeTake, space.TimingImmediate, intString)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
		assert.Equal(t, 1, n.engine.Stats().Tuples, "a retried handle must not take twice")

		require.NoError(t, n.c.Release("h"))
		assert.Equal(t, 0, n.c.hub.Len())
	})

	t.Run("abandoned wait keeps the registration", func(t *testing.T) {
		n := startNode(t, naming.NewMemory())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := n.c.Event(ctx, "h", space.ModeRead, space.TimingFuture, intString)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, n.engine.Pending("h"))
	})

	t.Run("malformed input", func(t *testing.T) {
		n := startNode(t, naming.NewMemory())
		_, err := n.c.Event(context.Background(), "", space.ModeRead, space.TimingFuture, intString)
		assert.ErrorIs(t, err, tuple.ErrMalformed)
		_, err = n.c.Event(context.Background(), "h", space.ModeRead, space.TimingFuture, tuple.Tuple{{}})
		assert.ErrorIs(t, err, tuple.ErrMalformed)
		assert.Equal(t, 0, n.c.hub.Len(), "failed registrations leave no mailbox")
	})

	t.Run("not primary", func(t *testing.T) {
		n := newNode(t, naming.NewMemory())
		_, err := n.c.Event(context.Background(), "h", space.ModeRead, space.TimingFuture, intString)
		assert.ErrorIs(t, err, ErrNotPrimary)
		assert.ErrorIs(t, n.c.Release("h"), ErrNotPrimary)
	})
}

func TestRegistrationsSurviveFailover(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)

	// delivered before the backup exists, never claimed
	require.NoError(t, primary.engine.Write(tuple.MustNew(5, "x")))
	got, err := primary.c.Event(context.Background(), "delivered", space.ModeTake, space.TimingImmediate, intString)
	require.NoError(t, err)
	require.True(t, got.Equal(tuple.MustNew(5, "x")))

	backup := startNode(t, reg)

	// pending while the backup is attached, its waiter gives up
	ctx, cancel := context.WithCancel(context.Background())
	waited := make(chan error, 1)
	go func() {
		_, err := primary.c.Event(ctx, "pending", space.ModeTake, space.TimingImmediate, intString)
		waited <- err
	}()
	require.Eventually(t, func() bool { return backup.engine.Pending("pending") }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-waited, context.Canceled)

	primary.kill()
	require.Eventually(t, func() bool { return backup.c.Role() == RolePrimary }, 2*time.Second, 10*time.Millisecond)

	again, err := backup.c.Event(context.Background(), "delivered", space.ModeTake, space.TimingImmediate, intString)
	require.NoError(t, err)
	assert.True(t, again.Equal(tuple.MustNew(5, "x")))

	require.NoError(t, backup.engine.Write(tuple.MustNew(6, "y")))
	later, err := backup.c.Event(context.Background(), "pending", space.ModeTake, space.TimingImmediate, intString)
	require.NoError(t, err)
	assert.True(t, later.Equal(tuple.MustNew(6, "y")))
	assert.Equal(t, 0, backup.engine.Stats().Tuples)
}

func TestReleaseIsMirrored(t *testing.T) {
	reg := naming.NewMemory()
	primary := startNode(t, reg)
	backup := startNode(t, reg)

	require.NoError(t, primary.engine.Write(tuple.MustNew(1, "a")))
	_, err := primary.c.Event(context.Background(), "h", space.ModeRead, space.TimingImmediate, intString)
	require.NoError(t, err)
	assert.Equal(t, 1, backup.c.hub.Len())

	require.NoError(t, primary.c.Release("h"))
	assert.Equal(t, 0, backup.c.hub.Len())
	assert.Equal(t, 0, primary.c.hub.Len())
}

func TestHub(t *testing.T) {
	h := NewHub()

	_, err := h.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)

	cb := h.callback("a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cb(tuple.MustNew(1))
	cb(tuple.MustNew(2)) // a registration fires once
	got, err := h.Wait(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, got.Equal(tuple.MustNew(1)))

	h.observe([]space.Mutation{
		{Op: space.OpRegister, ID: "b"},
		{Op: space.OpFire, ID: "c", Tuple: tuple.MustNew(3)},
	})
	assert.Equal(t, 3, h.Len())
	fired := h.fired()
	assert.Len(t, fired, 2)

	h.observe([]space.Mutation{{Op: space.OpRelease, ID: "a"}})
	assert.Equal(t, 2, h.Len())
	h.observe([]space.Mutation{{Op: space.OpReset}})
	assert.Equal(t, 0, h.Len())
}

func TestMonitor(t *testing.T) {
	t.Run("fires once after threshold", func(t *testing.T) {
		var calls, downs atomic.Int32
		m := NewMonitor(5*time.Millisecond, 3, func(context.Context) error {
			calls.Add(1)
			return errors.New("unreachable")
		}, func() { downs.Add(1) })
		m.Start()
		defer m.Stop()

		require.Eventually(t, func() bool { return downs.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), downs.Load())
		assert.Equal(t, int32(3), calls.Load(), "polling stops once the peer is down")
	})

	t.Run("success resets the count", func(t *testing.T) {
		var calls atomic.Int32
		m := NewMonitor(5*time.Millisecond, 2, func(context.Context) error {
			// fail every other check
			if calls.Add(1)%2 == 1 {
				return errors.New("flaky")
			}
			return nil
		}, func() { t.Error("peer declared down") })
		m.Start()

		require.Eventually(t, func() bool { return calls.Load() >= 6 }, time.Second, 5*time.Millisecond)
		m.Stop()
		assert.LessOrEqual(t, m.Failures(), 1)
	})

	t.Run("threshold below one", func(t *testing.T) {
		m := NewMonitor(time.Second, 0, nil, nil)
		assert.Equal(t, 1, m.maxFailures)
	})
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "UNPARENTED", RoleUnparented.String())
	assert.Equal(t, "PRIMARY", RolePrimary.String())
	assert.Equal(t, "BACKUP", RoleBackup.String())
	assert.Equal(t, "Role(7)", Role(7).String())
}
