// Package store persists the daemon's history in SQLite: the journal of
// worker state transitions and the index of captured snapshots that the
// pruner trims.
//
// The schema is embedded and versioned. A database written by a different
// schema version is rejected with ErrSchemaMismatch instead of migrated; the
// data is history only, so deleting the file is always safe.
package store
