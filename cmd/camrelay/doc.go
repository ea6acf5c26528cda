// Command camrelay is the command line front end for the camrelay daemon.
//
// It launches and stops the daemon process, reports fleet status, sends
// start/stop/restart/control commands to cameras, and streams daemon logs.
// Everything except configuration handling talks to the daemon over its
// Unix socket; log streaming prefers the HTTP API when api_bind is set.
package main
