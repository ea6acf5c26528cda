// Package preflight provides readiness checks for the relay, the control bus,
// external binaries and filesystem paths that camrelay depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failing check. A
//     failure never blocks startup because workers recover on their own once
//     the relay or network comes back.
//   - The CLI "camrelay status" and "camrelay config validate" commands use
//     the individual check functions to display health.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
