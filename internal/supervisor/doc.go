// Package supervisor owns the per-camera workers.
//
// A Worker runs one device's receive loop: it opens a session, registers the
// device's relay path, forwards frames in order, and walks the state machine
// in state.go when anything fails. The Supervisor keeps the name to Worker
// map behind a single lock and drives add/remove/shutdown. The Router
// serializes commands per device while letting different devices proceed in
// parallel.
//
// Backoff is a pure function of the consecutive failure count so it can be
// tested without sleeping.
package supervisor
