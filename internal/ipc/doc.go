// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// The server registers a single "Camrelay" service whose methods wrap the
// daemon: status, camera listing and inspection, camera commands, log
// tailing, test notifications and stop. Request and response types reuse the
// HTTP API DTOs so both surfaces report the same shapes.
package ipc
