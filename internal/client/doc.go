// Package client is the remote access layer: the tuple space operations of
// package space, performed over HTTP against whichever server currently
// holds a service name.
//
// Every call is synchronous except EventRegister. A call that reaches a dead
// server, or one that is not primary, pauses for the backoff, looks the name
// up again and tries again, for as long as its context allows. Malformed
// input fails at once and is never retried.
//
// Blocking Take and Read are remote registrations with a handle the client
// chooses. If the server is lost mid-wait the client asks the new primary
// for the same handle; the registration, or the tuple it already fired
// with, was mirrored there.
package client
