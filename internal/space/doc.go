// Package space implements the in-process tuple space engine: a multiset of
// tuples, the pending event registrations, and the write/take/read/event
// algorithms built on the tuple matcher.
//
// # Overview
//
// The engine is the single source of truth for one logical space. Servers
// wrap it with replication (package replication) and expose it over HTTP
// (package server); tests and embedded users can call it directly.
//
//	┌────────────────────────────────────────┐
//	│                Engine                  │
//	├────────────────────────────────────────┤
//	│  tuples  []Tuple         insertion     │
//	│  reads   []*Registration registration  │
//	│  takes   []*Registration registration  │
//	│  mu      sync.Mutex      one domain    │
//	│  journal func([]Mutation)              │
//	└────────────────────────────────────────┘
//
// # Write Delivery
//
// Write delivers before it stores:
//
//  1. every pending READ registration whose template matches fires once
//     and is dropped;
//  2. the oldest matching TAKE registration (registration order) fires and
//     consumes the tuple, which is then never stored;
//  3. otherwise the tuple is appended to the store.
//
// This is what turns a Write racing a blocked Take into a rendezvous.
//
// # Blocking Calls
//
// Take and Read register an IMMEDIATE event whose callback signals a
// one-slot channel; the caller parks on it. Nothing polls. There is no
// timeout and no way to withdraw a pending registration.
//
// # Callbacks
//
// Callbacks are collected while the lock is held and started on their own
// goroutines after it is released. A slow callback cannot stall Write and a
// callback may call back into the engine, including re-registering itself.
//
// # Journal
//
// When a journal is installed, every operation reports its net mutations
// (insert, remove, register, fire, replace) in application order while still
// holding the lock. The replication coordinator mirrors them to a backup,
// which replays them with Apply. Registrations made through EventRegister
// are local and only their effect on tuples is journaled; registrations made
// through Register carry a caller-chosen ID and are journaled in full.
//
// # Consistency
//
// Each operation is atomic with respect to the others. TakeAll and ReadAll
// are atomic per call, but nothing orders them against concurrent writers:
// two overlapping TakeAll calls may split the matches, and a ReadAll may see
// any subset of concurrent writes.
package space
