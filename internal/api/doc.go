// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates supervisor status, router results and log events
// into transport-friendly DTOs that the CLI and dashboards can render without
// coupling to internal types.
//
// # Key Types
//
// CameraStatus: one worker's state, error, counters and connection age.
//
// FleetSummary: per-state counts across every supervised camera.
//
// DaemonStatus: aggregated runtime information including relay liveness,
// process health and dependencies.
//
// CommandResult: outcome of a routed command for one camera.
//
// LogEvent/LogStreamResponse: structured log payloads for live tailing.
//
// StateEvent: a worker transition pushed over the websocket feed.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Worker
// states are exposed as lowercase strings. Timestamps use RFC3339 with
// milliseconds; durations are reported in whole seconds.
package api
