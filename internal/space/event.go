package space

import (
	"fmt"
	"strings"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// Mode selects whether a firing registration consumes the tuple
type Mode uint8

const (
	// ModeRead fires with a copy and leaves the tuple in the space
	ModeRead Mode = iota
	// ModeTake fires with the tuple and removes it from the space
	ModeTake
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeTake:
		return "take"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode accepts "read" or "take" in any case
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "read":
		return ModeRead, nil
	case "take":
		return ModeTake, nil
	}
	return 0, fmt.Errorf("%w: unknown event mode %q", tuple.ErrMalformed, s)
}

// Timing selects whether tuples already present can fire a registration
type Timing uint8

const (
	// TimingImmediate fires at registration time if a tuple already matches
	TimingImmediate Timing = iota
	// TimingFuture ignores present tuples and waits for the next write
	TimingFuture
)

func (t Timing) String() string {
	switch t {
	case TimingImmediate:
		return "immediate"
	case TimingFuture:
		return "future"
	}
	return fmt.Sprintf("timing(%d)", uint8(t))
}

// ParseTiming accepts "immediate" or "future" in any case
func ParseTiming(s string) (Timing, error) {
	switch strings.ToLower(s) {
	case "immediate":
		return TimingImmediate, nil
	case "future":
		return TimingFuture, nil
	}
	return 0, fmt.Errorf("%w: unknown event timing %q", tuple.ErrMalformed, s)
}

// Callback receives the tuple that fired a registration. It runs on its own
// goroutine and may call back into the engine.
type Callback func(tuple.Tuple)

// Registration is a pending event: fired at most once, then dropped
type Registration struct {
	ID       string
	Mode     Mode
	Timing   Timing
	Template tuple.Tuple

	callback Callback
	// shared registrations are journaled so a backup can carry them over
	shared bool
}

func (r *Registration) validate() error {
	if r.Mode != ModeRead && r.Mode != ModeTake {
		return fmt.Errorf("%w: unknown event mode %d", tuple.ErrMalformed, r.Mode)
	}
	if r.Timing != TimingImmediate && r.Timing != TimingFuture {
		return fmt.Errorf("%w: unknown event timing %d", tuple.ErrMalformed, r.Timing)
	}
	if r.callback == nil {
		return fmt.Errorf("%w: nil callback", tuple.ErrMalformed)
	}
	return r.Template.Validate()
}

// firing is a callback invocation deferred until the engine lock is released
type firing struct {
	cb Callback
	t  tuple.Tuple
}

func dispatch(fs []firing) {
	for _, f := range fs {
		go f.cb(f.t.Clone())
	}
}

// gate is a single-use rendezvous holding one tuple slot
type gate chan tuple.Tuple

func newGate() gate { return make(gate, 1) }

func (g gate) signal(t tuple.Tuple) { g <- t }

func (g gate) wait() tuple.Tuple { return <-g }
