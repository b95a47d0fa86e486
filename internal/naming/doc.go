// Package naming resolves a logical service name to the address of the
// server currently answering for it.
//
// A space server binds its name when it becomes primary. A second server
// started under the same name finds it taken and attaches as backup; on
// failover the backup rebinds the name to itself and clients that look the
// name up again find the new primary.
//
//	client ──Lookup("space")──▶ Registry ──▶ "http://10.0.0.5:9000"
//
// Memory keeps bindings in process. Handler serves a Memory as JSON over
// HTTP (the registry binary) and HTTPClient talks to it.
package naming
