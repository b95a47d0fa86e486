// Package replication keeps a hot backup of a space server and fails over
// to it when the primary stops answering.
//
// # Roles
//
//	UNPARENTED ──Bind ok──────────────────────▶ PRIMARY
//	     │
//	     ├──name taken, register-backup ok───▶ BACKUP ──primary down──▶ PRIMARY
//	     │
//	     └──name taken, holder silent─Rebind─▶ PRIMARY
//
// Nothing leaves PRIMARY. A primary that dies is replaced, it never rejoins
// as itself; a restarted process comes back as a fresh server.
//
// # Mirroring
//
// The coordinator is the engine's journal. Each batch of mutations is POSTed
// to the backup's /replica/apply before the engine releases its lock, so the
// backup sees mutations in the order the primary applied them. A failed
// mirror drops the backup; it never fails the client's operation.
//
// A new backup receives Reset, the stored tuples, the pending remote
// registrations and the unclaimed deliveries in one batch, sent from inside
// Engine.Snapshot. Incremental mirroring starts in that same critical
// section.
//
// # Failure Detection
//
// The backup polls /replica/keep-alive every PollInterval. After
// FailureThreshold consecutive failures it rebinds the service name to
// itself and becomes primary. If the primary answers but no longer lists it
// as backup, it registers again and receives a fresh snapshot.
//
// # Remote Registrations
//
// A remote client names its registration with a handle it chooses. When the
// registration fires, the tuple is parked in a mailbox in the Hub until the
// client claims it with Release. Mailboxes follow the journal, so a client
// that lost its primary mid-wait asks the new primary for the same handle
// and finds either the pending registration or the parked tuple.
//
// # Limitations
//
// One backup, no quorum, no split-brain protection. A partitioned backup
// promotes itself while the old primary keeps serving the clients that can
// still reach it.
package replication
