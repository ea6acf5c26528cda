// Package daemon coordinates the long-running camrelay process.
//
// It wires configuration, the device directory, the stream supervisor, the
// relay adapter, the snapshot scheduler, the pruner and the state journal
// into a single lifecycle with flock-based locking to prevent multiple
// instances. Every worker transition fans out to the journal, the ntfy
// watcher, the NATS control bus and the websocket event feed. The HTTP API
// lives here as well; IPC wraps the same Daemon methods.
//
// Keep orchestration here: stream lifecycle rules live in the supervisor
// package while the daemon focuses on startup, shutdown and the seams
// between components.
package daemon
