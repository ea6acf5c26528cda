package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"camrelay/internal/config"
)

// Store is the SQLite-backed history of transitions and captures.
type Store struct {
	db   *sql.DB
	path string
}

// StateEvent is one journaled worker transition.
type StateEvent struct {
	ID        int64         `json:"id"`
	Device    string        `json:"device"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Attempts  int           `json:"attempts"`
	Backoff   time.Duration `json:"backoff"`
	At        time.Time     `json:"at"`
}

// Capture is one indexed snapshot file.
type Capture struct {
	ID         int64     `json:"id"`
	Device     string    `json:"device"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	CapturedAt time.Time `json:"captured_at"`
}

// Open initializes or connects to the database at cfg.DatabasePath().
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database file at path, creating the schema when new.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// RecordTransition appends ev to the state journal.
func (s *Store) RecordTransition(ctx context.Context, ev StateEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_events (device, from_state, to_state, error, error_kind, attempts, backoff_ms, at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Device,
		ev.From,
		ev.To,
		nullableString(ev.Error),
		nullableString(ev.ErrorKind),
		ev.Attempts,
		ev.Backoff.Milliseconds(),
		ev.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert state event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit journal entries, newest first. An empty
// device returns entries for every device.
func (s *Store) RecentEvents(ctx context.Context, device string, limit int) ([]StateEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, device, from_state, to_state, error, error_kind, attempts, backoff_ms, at
        FROM state_events`
	args := []any{}
	if device = strings.TrimSpace(device); device != "" {
		query += " WHERE device = ?"
		args = append(args, device)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query state events: %w", err)
	}
	defer rows.Close()

	var events []StateEvent
	for rows.Next() {
		var (
			ev        StateEvent
			errText   sql.NullString
			errKind   sql.NullString
			backoffMS int64
			at        string
		)
		if err := rows.Scan(&ev.ID, &ev.Device, &ev.From, &ev.To, &errText, &errKind, &ev.Attempts, &backoffMS, &at); err != nil {
			return nil, fmt.Errorf("scan state event: %w", err)
		}
		ev.Error = errText.String
		ev.ErrorKind = errKind.String
		ev.Backoff = time.Duration(backoffMS) * time.Millisecond
		ev.At = parseTime(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TrimEvents deletes journal entries older than cutoff and returns how many
// were removed.
func (s *Store) TrimEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM state_events WHERE at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("trim state events: %w", err)
	}
	return res.RowsAffected()
}

// RecordCapture indexes a snapshot file. Re-recording a path updates it.
func (s *Store) RecordCapture(ctx context.Context, c Capture) error {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (device, path, size_bytes, captured_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET size_bytes = excluded.size_bytes, captured_at = excluded.captured_at`,
		c.Device,
		c.Path,
		c.SizeBytes,
		c.CapturedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// LatestCapture returns the newest capture for device, or nil when none.
func (s *Store) LatestCapture(ctx context.Context, device string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device, path, size_bytes, captured_at FROM captures
         WHERE device = ? ORDER BY captured_at DESC, id DESC LIMIT 1`, device)
	var (
		c  Capture
		at string
	)
	if err := row.Scan(&c.ID, &c.Device, &c.Path, &c.SizeBytes, &at); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest capture: %w", err)
	}
	c.CapturedAt = parseTime(at)
	return &c, nil
}

// CountCaptures returns the number of indexed captures for device.
func (s *Store) CountCaptures(ctx context.Context, device string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM captures WHERE device = ?", device).Scan(&n); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}
	return n, nil
}

// DeleteCaptures drops index rows for the given paths.
func (s *Store) DeleteCaptures(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM captures WHERE path = ?")
	if err != nil {
		return 0, fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, path := range paths {
		res, err := stmt.ExecContext(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("delete capture %s: %w", path, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return total, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
