package space

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/tuplespace/internal/persist"
	"github.com/dreamware/tuplespace/internal/tuple"
)

// ErrDuplicateID is returned when a registration ID is already pending
var ErrDuplicateID = errors.New("registration id already pending")

// Engine is an in-process tuple space. One mutex serializes every access to
// the tuple multiset and the pending registrations.
type Engine struct {
	mu      sync.Mutex
	tuples  []tuple.Tuple   // stored tuples, insertion order
	reads   []*Registration // pending READ registrations, registration order
	takes   []*Registration // pending TAKE registrations, registration order
	journal Journal

	stats OperationStats
}

// OperationStats counts engine operations
type OperationStats struct {
	Writes atomic.Uint64
	Reads  atomic.Uint64
	Takes  atomic.Uint64
	Events atomic.Uint64
	Fired  atomic.Uint64
}

// Stats is a point-in-time view of an engine
type Stats struct {
	Tuples        int    `json:"tuples" msgpack:"tuples"`
	PendingReads  int    `json:"pending_reads" msgpack:"pending_reads"`
	PendingTakes  int    `json:"pending_takes" msgpack:"pending_takes"`
	Writes        uint64 `json:"writes" msgpack:"writes"`
	Reads         uint64 `json:"reads" msgpack:"reads"`
	Takes         uint64 `json:"takes" msgpack:"takes"`
	Registrations uint64 `json:"registrations" msgpack:"registrations"`
	Fired         uint64 `json:"fired" msgpack:"fired"`
}

// New returns an empty engine
func New() *Engine {
	return &Engine{}
}

// SetJournal installs (or with nil removes) the mutation journal
func (e *Engine) SetJournal(j Journal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = j
}

// emit must be called with e.mu held
func (e *Engine) emit(muts []Mutation) {
	if e.journal != nil && len(muts) > 0 {
		e.journal(muts)
	}
}

// Write delivers t to pending registrations, then stores it unless a TAKE
// registration consumed it. Every matching READ registration fires; at most
// one TAKE registration fires, the oldest matching one.
func (e *Engine) Write(t tuple.Tuple) error {
	if err := t.ValidateConcrete(); err != nil {
		return err
	}
	t = t.Clone()
	e.stats.Writes.Add(1)

	e.mu.Lock()
	fs, muts := e.deliver(t)
	e.emit(muts)
	e.mu.Unlock()

	dispatch(fs)
	return nil
}

// deliver must be called with e.mu held
func (e *Engine) deliver(t tuple.Tuple) ([]firing, []Mutation) {
	var (
		fs   []firing
		muts []Mutation
	)
	fire := func(r *Registration) {
		fs = append(fs, firing{cb: r.callback, t: t})
		if r.shared {
			muts = append(muts, fireOf(r.ID, t))
		}
	}

	e.reads = slices.DeleteFunc(e.reads, func(r *Registration) bool {
		if !tuple.Matches(t, r.Template) {
			return false
		}
		fire(r)
		return true
	})

	if i := slices.IndexFunc(e.takes, func(r *Registration) bool { return tuple.Matches(t, r.Template) }); i >= 0 {
		fire(e.takes[i])
		e.takes = slices.Delete(e.takes, i, i+1)
		e.stats.Fired.Add(uint64(len(fs)))
		return fs, muts
	}

	e.tuples = append(e.tuples, t)
	muts = append(muts, insertOf(t))
	e.stats.Fired.Add(uint64(len(fs)))
	return fs, muts
}

// Note journals mutations that describe state kept outside the engine,
// such as claimed deliveries, in order with the engine's own mutations.
func (e *Engine) Note(muts ...Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit(muts)
}

// WriteMirror stores t without evaluating pending registrations. Backups use
// it so only the primary's firings are observable.
func (e *Engine) WriteMirror(t tuple.Tuple) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeMirror(t)
}

// writeMirror must be called with e.mu held
func (e *Engine) writeMirror(t tuple.Tuple) error {
	if err := t.ValidateConcrete(); err != nil {
		return err
	}
	e.tuples = append(e.tuples, t.Clone())
	return nil
}

// find must be called with e.mu held
func (e *Engine) find(tmpl tuple.Tuple) int {
	return slices.IndexFunc(e.tuples, func(t tuple.Tuple) bool { return tuple.Matches(t, tmpl) })
}

// removeAt must be called with e.mu held
func (e *Engine) removeAt(i int) tuple.Tuple {
	t := e.tuples[i]
	e.tuples = slices.Delete(e.tuples, i, i+1)
	return t
}

// TryTake removes and returns a matching tuple. ok is false when none exists.
func (e *Engine) TryTake(tmpl tuple.Tuple) (t tuple.Tuple, ok bool, err error) {
	if err := tmpl.Validate(); err != nil {
		return nil, false, err
	}
	e.stats.Takes.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.find(tmpl)
	if i < 0 {
		return nil, false, nil
	}
	t = e.removeAt(i)
	e.emit([]Mutation{removeOf(t)})
	return t.Clone(), true, nil
}

// TryRead returns a copy of a matching tuple. ok is false when none exists.
func (e *Engine) TryRead(tmpl tuple.Tuple) (t tuple.Tuple, ok bool, err error) {
	if err := tmpl.Validate(); err != nil {
		return nil, false, err
	}
	e.stats.Reads.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.find(tmpl)
	if i < 0 {
		return nil, false, nil
	}
	return e.tuples[i].Clone(), true, nil
}

// Take blocks until a matching tuple can be removed and returns it.
// There is no timeout: the caller stays parked until a tuple arrives.
func (e *Engine) Take(tmpl tuple.Tuple) (tuple.Tuple, error) {
	return e.await(ModeTake, tmpl)
}

// Read blocks until a matching tuple exists and returns a copy
func (e *Engine) Read(tmpl tuple.Tuple) (tuple.Tuple, error) {
	return e.await(ModeRead, tmpl)
}

func (e *Engine) await(mode Mode, tmpl tuple.Tuple) (tuple.Tuple, error) {
	g := newGate()
	if err := e.EventRegister(mode, TimingImmediate, tmpl, g.signal); err != nil {
		return nil, err
	}
	return g.wait(), nil
}

// TakeAll removes and returns every matching tuple. Concurrent TakeAll calls
// with overlapping templates may split the matches between them.
func (e *Engine) TakeAll(tmpl tuple.Tuple) ([]tuple.Tuple, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	e.stats.Takes.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		out  []tuple.Tuple
		muts []Mutation
	)
	e.tuples = slices.DeleteFunc(e.tuples, func(t tuple.Tuple) bool {
		if !tuple.Matches(t, tmpl) {
			return false
		}
		out = append(out, t.Clone())
		muts = append(muts, removeOf(t))
		return true
	})
	e.emit(muts)
	return out, nil
}

// ReadAll returns copies of every matching tuple. Writes racing with the
// call may or may not be observed.
func (e *Engine) ReadAll(tmpl tuple.Tuple) ([]tuple.Tuple, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	e.stats.Reads.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []tuple.Tuple
	for _, t := range e.tuples {
		if tuple.Matches(t, tmpl) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// EventRegister registers a local callback under a generated ID. Local
// registrations are not journaled; only their effect on tuples is.
func (e *Engine) EventRegister(mode Mode, timing Timing, tmpl tuple.Tuple, cb Callback) error {
	return e.register(&Registration{
		ID:       uuid.NewString(),
		Mode:     mode,
		Timing:   timing,
		Template: tmpl.Clone(),
		callback: cb,
	})
}

// Register registers a callback under a caller-chosen ID. The registration
// and its firing are journaled so a backup can carry it across failover.
func (e *Engine) Register(id string, mode Mode, timing Timing, tmpl tuple.Tuple, cb Callback) error {
	if id == "" {
		return fmt.Errorf("%w: empty registration id", tuple.ErrMalformed)
	}
	return e.register(&Registration{
		ID:       id,
		Mode:     mode,
		Timing:   timing,
		Template: tmpl.Clone(),
		callback: cb,
		shared:   true,
	})
}

func (e *Engine) register(r *Registration) error {
	if err := r.validate(); err != nil {
		return err
	}
	e.stats.Events.Add(1)

	e.mu.Lock()
	if e.pending(r.ID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}

	var muts []Mutation
	if r.Timing == TimingImmediate {
		if i := e.find(r.Template); i >= 0 {
			t := e.tuples[i]
			if r.Mode == ModeTake {
				e.removeAt(i)
				muts = append(muts, removeOf(t))
			}
			if r.shared {
				muts = append(muts, fireOf(r.ID, t))
			}
			e.stats.Fired.Add(1)
			e.emit(muts)
			e.mu.Unlock()

			dispatch([]firing{{cb: r.callback, t: t}})
			return nil
		}
	}

	if r.Mode == ModeRead {
		e.reads = append(e.reads, r)
	} else {
		e.takes = append(e.takes, r)
	}
	if r.shared {
		muts = append(muts, RegisterOf(*r))
	}
	e.emit(muts)
	e.mu.Unlock()
	return nil
}

// pending must be called with e.mu held
func (e *Engine) pending(id string) bool {
	byID := func(r *Registration) bool { return r.ID == id }
	return slices.ContainsFunc(e.reads, byID) || slices.ContainsFunc(e.takes, byID)
}

// Pending reports whether a registration with this ID is waiting to fire
func (e *Engine) Pending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending(id)
}

// Apply replays mutations journaled by another engine. Registrations get
// their callback from bind. Apply itself journals nothing.
func (e *Engine) Apply(muts []Mutation, bind Binder) error {
	var fs []firing

	e.mu.Lock()
	for _, m := range muts {
		switch m.Op {
		case OpInsert:
			if err := e.writeMirror(m.Tuple); err != nil {
				e.mu.Unlock()
				return fmt.Errorf("apply %v: %w", m.Op, err)
			}
		case OpRemove:
			if i := slices.IndexFunc(e.tuples, m.Tuple.Equal); i >= 0 {
				e.removeAt(i)
			}
		case OpReplace:
			e.tuples = cloneAll(m.Tuples)
		case OpReset:
			e.tuples, e.reads, e.takes = nil, nil, nil
		case OpRegister:
			r := &Registration{
				ID:       m.ID,
				Mode:     m.Mode,
				Timing:   m.Timing,
				Template: m.Template.Clone(),
				callback: bind.callback(m.ID),
				shared:   true,
			}
			if err := r.validate(); err != nil {
				e.mu.Unlock()
				return fmt.Errorf("apply %v: %w", m.Op, err)
			}
			if r.Mode == ModeRead {
				e.reads = append(e.reads, r)
			} else {
				e.takes = append(e.takes, r)
			}
		case OpFire:
			cb := e.unregister(m.ID)
			if cb == nil {
				cb = bind.callback(m.ID)
			}
			if cb != nil {
				fs = append(fs, firing{cb: cb, t: m.Tuple})
			}
		case OpRelease:
			// deliveries live outside the engine
		default:
			e.mu.Unlock()
			return fmt.Errorf("apply: unknown op %v", m.Op)
		}
	}
	e.mu.Unlock()

	dispatch(fs)
	return nil
}

// unregister must be called with e.mu held
func (e *Engine) unregister(id string) Callback {
	for _, list := range []*[]*Registration{&e.reads, &e.takes} {
		if i := slices.IndexFunc(*list, func(r *Registration) bool { return r.ID == id }); i >= 0 {
			cb := (*list)[i].callback
			*list = slices.Delete(*list, i, i+1)
			return cb
		}
	}
	return nil
}

// Snapshot calls fn with every stored tuple and every shared pending
// registration while holding the engine lock, so nothing can be journaled
// between the snapshot and the end of fn.
func (e *Engine) Snapshot(fn func(tuples []tuple.Tuple, regs []Registration) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var regs []Registration
	for _, list := range [][]*Registration{e.reads, e.takes} {
		for _, r := range list {
			if r.shared {
				regs = append(regs, *r)
			}
		}
	}
	return fn(slices.Clone(e.tuples), regs)
}

// Save writes the current tuple set to path. The format follows the file
// extension, see package persist.
func (e *Engine) Save(path string) error {
	e.mu.Lock()
	tuples := slices.Clone(e.tuples)
	e.mu.Unlock()

	if err := persist.Save(path, tuples); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Load replaces the tuple set with the contents of path. Pending
// registrations are kept and are not evaluated against the loaded tuples.
// On error the engine is left untouched.
func (e *Engine) Load(path string) error {
	tuples, err := persist.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tuples = tuples
	e.emit([]Mutation{{Op: OpReplace, Tuples: tuples}})
	return nil
}

// Debug logs and returns a dump of the tuples and pending registrations
func (e *Engine) Debug(label string) string {
	e.mu.Lock()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d tuples\n", label, len(e.tuples))
	for _, t := range e.tuples {
		fmt.Fprintf(&b, "  %s\n", t)
	}
	fmt.Fprintf(&b, "%s: %d pending registrations\n", label, len(e.reads)+len(e.takes))
	for _, list := range [][]*Registration{e.reads, e.takes} {
		for _, r := range list {
			fmt.Fprintf(&b, "  %s %s/%s %s\n", r.ID, r.Mode, r.Timing, r.Template)
		}
	}
	e.mu.Unlock()

	dump := b.String()
	log.Printf("[debug] %s", dump)
	return dump
}

// Stats returns counts of stored tuples, pending registrations and operations
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Tuples:       len(e.tuples),
		PendingReads: len(e.reads),
		PendingTakes: len(e.takes),
	}
	e.mu.Unlock()

	s.Writes = e.stats.Writes.Load()
	s.Reads = e.stats.Reads.Load()
	s.Takes = e.stats.Takes.Load()
	s.Registrations = e.stats.Events.Load()
	s.Fired = e.stats.Fired.Load()
	return s
}

func cloneAll(ts []tuple.Tuple) []tuple.Tuple {
	out := make([]tuple.Tuple, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}
