// Package logging assembles structured slog loggers and formatting helpers used
// across camrelay services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and router code can tag
// log lines with device names and correlation IDs. A StreamHub can be attached
// to a logger so the daemon API and IPC surfaces can tail recent events.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
