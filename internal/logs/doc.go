// Package logs provides log viewing helpers shared by the CLI and the daemon.
//
// Tail reads the daemon log file with bounded memory, supports a negative
// offset for "last N lines", and polls for new lines in follow mode; the IPC
// LogTail call is built on it. StreamClient reads structured events from the
// HTTP /api/logs endpoint with camera and level filters.
package logs
