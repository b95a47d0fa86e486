package replication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/tuplespace/internal/naming"
	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
	"github.com/dreamware/tuplespace/internal/wire"
)

var (
	// ErrNotPrimary rejects client operations on a server that is not primary
	ErrNotPrimary = errors.New("not the primary")
	// ErrNotBackup rejects mirrored mutations on a server that is not a backup
	ErrNotBackup = errors.New("not a backup")
)

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultFailureThreshold = 1
	DefaultRebindBackoff    = time.Second
)

// Config identifies a server and tunes failure detection
type Config struct {
	Name             string        // service name in the registry
	Addr             string        // base URL peers and clients reach this server at
	PollInterval     time.Duration // backup keep-alive period
	FailureThreshold int           // consecutive failed keep-alives before failover
	RebindBackoff    time.Duration // pause between attempts to take the name after failover
}

type peer struct {
	id   string
	addr string
}

// Coordinator runs the primary/backup protocol around one engine
type Coordinator struct {
	cfg    Config
	id     string
	engine *space.Engine
	reg    naming.Registry
	hub    *Hub

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc

	mu      sync.Mutex
	role    Role
	primary string // primary's address while backup
	backup  *peer  // attached backup while primary
	monitor *Monitor
}

// New creates an UNPARENTED coordinator. It installs itself as the
// engine's journal.
func New(cfg Config, engine *space.Engine, reg naming.Registry) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RebindBackoff <= 0 {
		cfg.RebindBackoff = DefaultRebindBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		id:     uuid.NewString(),
		engine: engine,
		reg:    reg,
		hub:    NewHub(),
		ctx:    ctx,
		cancel: cancel,
	}
	engine.SetJournal(c.journal)
	return c
}

// Start acquires the service name or attaches to its holder. A binding
// whose holder does not answer is taken over.
func (c *Coordinator) Start(ctx context.Context) error {
	err := c.reg.Bind(ctx, c.cfg.Name, c.cfg.Addr)
	if err == nil {
		c.setRole(RolePrimary)
		log.Printf("replica[%s]: primary at %s", c.cfg.Name, c.cfg.Addr)
		return nil
	}
	if !errors.Is(err, naming.ErrAlreadyBound) {
		return fmt.Errorf("bind %s: %w", c.cfg.Name, err)
	}

	primary, err := c.reg.Lookup(ctx, c.cfg.Name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", c.cfg.Name, err)
	}
	err = c.attach(ctx, primary)
	if err == nil {
		return nil
	}
	if !wire.IsUnavailable(err) {
		return err
	}

	log.Printf("replica[%s]: bound primary %s does not answer, taking over: %v", c.cfg.Name, primary, err)
	if err := c.reg.Rebind(ctx, c.cfg.Name, c.cfg.Addr); err != nil {
		return fmt.Errorf("rebind %s: %w", c.cfg.Name, err)
	}
	c.setRole(RolePrimary)
	log.Printf("replica[%s]: primary at %s", c.cfg.Name, c.cfg.Addr)
	return nil
}

func (c *Coordinator) attach(ctx context.Context, primary string) error {
	c.mu.Lock()
	c.role = RoleBackup
	c.primary = primary
	c.mu.Unlock()

	if err := c.register(ctx, primary); err != nil {
		c.mu.Lock()
		c.role = RoleUnparented
		c.primary = ""
		c.mu.Unlock()
		return err
	}

	m := NewMonitor(c.cfg.PollInterval, c.cfg.FailureThreshold, c.keepAlive, c.promote)
	c.mu.Lock()
	c.monitor = m
	c.mu.Unlock()
	m.Start()
	log.Printf("replica[%s]: backup of %s", c.cfg.Name, primary)
	return nil
}

func (c *Coordinator) register(ctx context.Context, primary string) error {
	req := wire.RegisterBackupRequest{ID: c.id, Addr: c.cfg.Addr}
	if err := wire.Msgpack.Post(ctx, primary+"/replica/register-backup", req, nil); err != nil {
		return fmt.Errorf("register backup with %s: %w", primary, err)
	}
	return nil
}

// keepAlive is the monitor probe. Only an unanswered poll counts as a
// failure. A primary that answers but no longer counts us as its backup
// gets a fresh registration, retried on the next tick if it fails.
func (c *Coordinator) keepAlive(ctx context.Context) error {
	c.mu.Lock()
	primary := c.primary
	c.mu.Unlock()

	var resp wire.KeepAliveResponse
	if err := wire.Msgpack.Post(ctx, primary+"/replica/keep-alive", wire.KeepAliveRequest{ID: c.id}, &resp); err != nil {
		return err
	}
	if resp.Attached {
		return nil
	}
	log.Printf("replica[%s]: dropped by %s, re-attaching", c.cfg.Name, primary)
	if err := c.register(ctx, primary); err != nil {
		log.Printf("replica[%s]: re-attach: %v", c.cfg.Name, err)
	}
	return nil
}

// promote turns a backup into the primary after its primary was declared
// down. Runs on the monitor goroutine.
func (c *Coordinator) promote() {
	c.mu.Lock()
	if c.role != RoleBackup {
		c.mu.Unlock()
		return
	}
	old := c.primary
	c.role = RolePrimary
	c.primary = ""
	c.backup = nil
	c.mu.Unlock()

	log.Printf("replica[%s]: primary %s is down, promoting %s", c.cfg.Name, old, c.cfg.Addr)

	// clients only find us once the name points here
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		err := c.reg.Rebind(ctx, c.cfg.Name, c.cfg.Addr)
		cancel()
		if err == nil {
			log.Printf("replica[%s]: name now bound to %s", c.cfg.Name, c.cfg.Addr)
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		log.Printf("replica[%s]: rebind attempt %d after failover failed, retrying in %v: %v", c.cfg.Name, attempt, c.cfg.RebindBackoff, err)
		select {
		case <-time.After(c.cfg.RebindBackoff):
		case <-c.ctx.Done():
			return
		}
	}
}

// journal runs under the engine lock for every batch of mutations
func (c *Coordinator) journal(muts []space.Mutation) {
	c.hub.observe(muts)

	c.mu.Lock()
	b := c.backup
	c.mu.Unlock()
	if b == nil {
		return
	}

	if err := wire.Msgpack.Post(context.Background(), b.addr+"/replica/apply", wire.ApplyRequest{Mutations: muts}, nil); err != nil {
		log.Printf("replica[%s]: dropping backup %s: %v", c.cfg.Name, b.addr, err)
		c.mu.Lock()
		if c.backup == b {
			c.backup = nil
		}
		c.mu.Unlock()
	}
}

// RegisterBackup attaches the server at addr as backup. It receives the
// whole state in one batch, taken in the same critical section that starts
// incremental mirroring.
func (c *Coordinator) RegisterBackup(ctx context.Context, id, addr string) error {
	if id == "" || addr == "" {
		return fmt.Errorf("%w: missing backup id/addr", tuple.ErrMalformed)
	}
	if c.Role() != RolePrimary {
		return ErrNotPrimary
	}

	return c.engine.Snapshot(func(tuples []tuple.Tuple, regs []space.Registration) error {
		muts := make([]space.Mutation, 0, 1+len(tuples)+len(regs))
		muts = append(muts, space.Mutation{Op: space.OpReset})
		for _, t := range tuples {
			muts = append(muts, space.Mutation{Op: space.OpInsert, Tuple: t})
		}
		for _, r := range regs {
			muts = append(muts, space.RegisterOf(r))
		}
		muts = append(muts, c.hub.fired()...)

		if err := wire.Msgpack.Post(ctx, addr+"/replica/apply", wire.ApplyRequest{Mutations: muts}, nil); err != nil {
			return fmt.Errorf("send state to %s: %w", addr, err)
		}

		c.mu.Lock()
		prev := c.backup
		c.backup = &peer{id: id, addr: addr}
		c.mu.Unlock()
		if prev != nil && prev.id != id {
			log.Printf("replica[%s]: backup %s replaced by %s", c.cfg.Name, prev.addr, addr)
		}
		log.Printf("replica[%s]: backup %s attached (%d tuples, %d registrations)", c.cfg.Name, addr, len(tuples), len(regs))
		return nil
	})
}

// KeepAlive answers a backup's poll with whether it is still attached
func (c *Coordinator) KeepAlive(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RolePrimary {
		return false, ErrNotPrimary
	}
	return c.backup != nil && c.backup.id == id, nil
}

// Apply replays a batch mirrored by the primary
func (c *Coordinator) Apply(muts []space.Mutation) error {
	if c.Role() != RoleBackup {
		return ErrNotBackup
	}
	c.hub.observe(muts)
	return c.engine.Apply(muts, c.hub.callback)
}

// Engine returns the engine if this server may serve clients
func (c *Coordinator) Engine() (*space.Engine, error) {
	if c.Role() != RolePrimary {
		return nil, ErrNotPrimary
	}
	return c.engine, nil
}

// Event registers the remote registration id, unless it already exists, and
// waits for its delivery. A caller that gives up can come back with the same
// id, on this server or on the backup that replaced it.
func (c *Coordinator) Event(ctx context.Context, id string, mode space.Mode, timing space.Timing, tmpl tuple.Tuple) (tuple.Tuple, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty registration id", tuple.ErrMalformed)
	}
	e, err := c.Engine()
	if err != nil {
		return nil, err
	}

	if _, existed := c.hub.open(id); !existed {
		err := e.Register(id, mode, timing, tmpl, c.hub.callback(id))
		if err != nil && !errors.Is(err, space.ErrDuplicateID) {
			c.hub.remove(id)
			return nil, err
		}
	}
	return c.hub.Wait(ctx, id)
}

// Release discards the delivery of id once its owner has it
func (c *Coordinator) Release(id string) error {
	e, err := c.Engine()
	if err != nil {
		return err
	}
	e.Note(space.Mutation{Op: space.OpRelease, ID: id})
	return nil
}

func (c *Coordinator) setRole(r Role) {
	c.mu.Lock()
	c.role = r
	c.mu.Unlock()
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// ID is this server's instance id, fresh on every start
func (c *Coordinator) ID() string { return c.id }

// Info describes this server for operators
func (c *Coordinator) Info() wire.Info {
	c.mu.Lock()
	info := wire.Info{
		ID:      c.id,
		Name:    c.cfg.Name,
		Addr:    c.cfg.Addr,
		Role:    c.role.String(),
		Primary: c.primary,
	}
	if c.backup != nil {
		info.Backup = c.backup.addr
	}
	if c.role == RoleBackup && c.monitor != nil {
		info.MissedKeepAlives = c.monitor.Failures()
	}
	c.mu.Unlock()
	info.Stats = c.engine.Stats()
	return info
}

// Close stops failure detection and any pending takeover of the name
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	m := c.monitor
	c.monitor = nil
	c.mu.Unlock()
	if m != nil {
		m.Stop()
	}
}
