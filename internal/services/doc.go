// Package services defines shared utilities consumed by the supervisor,
// router and the outer daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp device names and correlation identifiers for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper, and KindOf/Retryable so
//     IPC, HTTP and the control bus report failures with one vocabulary.
package services
