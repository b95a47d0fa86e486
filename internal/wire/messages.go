package wire

import (
	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
)

// TupleRequest carries a tuple to write or a template to match
type TupleRequest struct {
	Tuple tuple.Tuple `msgpack:"tuple"`
}

type TupleResponse struct {
	Tuple tuple.Tuple `msgpack:"tuple,omitempty"`
	Found bool        `msgpack:"found"`
}

type TuplesResponse struct {
	Tuples []tuple.Tuple `msgpack:"tuples"`
}

// EventRequest registers (or re-attaches to) the remote registration ID.
// Blocking take and read are events whose caller waits for the answer.
type EventRequest struct {
	ID       string       `msgpack:"id"`
	Mode     space.Mode   `msgpack:"mode"`
	Timing   space.Timing `msgpack:"timing"`
	Template tuple.Tuple  `msgpack:"template"`
}

type EventResponse struct {
	Tuple tuple.Tuple `msgpack:"tuple"`
}

// PathRequest names a server-side file for save and load
type PathRequest struct {
	Path string `msgpack:"path"`
}

type DebugRequest struct {
	Label string `msgpack:"label"`
}

type DebugResponse struct {
	Dump string `msgpack:"dump"`
}

// RegisterBackupRequest is sent by a server that wants to mirror the primary
type RegisterBackupRequest struct {
	ID   string `msgpack:"id"`
	Addr string `msgpack:"addr"`
}

type ApplyRequest struct {
	Mutations []space.Mutation `msgpack:"mutations"`
}

type KeepAliveRequest struct {
	ID string `msgpack:"id"`
}

type KeepAliveResponse struct {
	// Attached is false once the primary dropped the caller as its backup
	Attached bool `msgpack:"attached"`
}

type ReleaseRequest struct {
	ID string `msgpack:"id"`
}

// Info describes a server; served as JSON on /info
type Info struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Addr    string      `json:"addr"`
	Role    string      `json:"role"`
	Primary string      `json:"primary,omitempty"`
	Backup  string      `json:"backup,omitempty"`
	Stats   space.Stats `json:"stats"`

	// MissedKeepAlives counts consecutive unanswered polls of the primary
	MissedKeepAlives int `json:"missed_keep_alives,omitempty"`
}

// Binding is one name registry entry
type Binding struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

type NamesResponse struct {
	Bindings []Binding `json:"bindings"`
}
