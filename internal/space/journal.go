package space

import (
	"fmt"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// Op is the kind of a journaled mutation
type Op uint8

const (
	OpInsert   Op = iota + 1 // tuple stored
	OpRemove                 // stored tuple equal to Tuple removed
	OpRegister               // shared registration became pending
	OpFire                   // shared registration fired with Tuple
	OpReplace                // whole tuple set replaced by Tuples (load)
	OpReset                  // tuples and registrations cleared
	OpRelease                // fired delivery claimed by its owner
)

var opNames = map[Op]string{
	OpInsert:   "insert",
	OpRemove:   "remove",
	OpRegister: "register",
	OpFire:     "fire",
	OpReplace:  "replace",
	OpReset:    "reset",
	OpRelease:  "release",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Mutation is one net state change of an engine, in application order.
// Mutations travel between servers, hence the wire tags.
type Mutation struct {
	Op       Op            `msgpack:"op"`
	ID       string        `msgpack:"id,omitempty"`
	Mode     Mode          `msgpack:"mode,omitempty"`
	Timing   Timing        `msgpack:"timing,omitempty"`
	Tuple    tuple.Tuple   `msgpack:"tuple,omitempty"`
	Template tuple.Tuple   `msgpack:"template,omitempty"`
	Tuples   []tuple.Tuple `msgpack:"tuples,omitempty"`
}

// Journal receives the mutations of each operation while the engine lock is
// held. It must not call back into the engine.
type Journal func(muts []Mutation)

func insertOf(t tuple.Tuple) Mutation { return Mutation{Op: OpInsert, Tuple: t} }
func removeOf(t tuple.Tuple) Mutation { return Mutation{Op: OpRemove, Tuple: t} }

func fireOf(id string, t tuple.Tuple) Mutation {
	return Mutation{Op: OpFire, ID: id, Tuple: t}
}

// RegisterOf describes a pending registration as a mutation
func RegisterOf(r Registration) Mutation {
	return Mutation{Op: OpRegister, ID: r.ID, Mode: r.Mode, Timing: r.Timing, Template: r.Template}
}

// Binder supplies the callback for a registration replayed by Apply
type Binder func(id string) Callback

func (b Binder) callback(id string) Callback {
	if b == nil {
		return nil
	}
	return b(id)
}
