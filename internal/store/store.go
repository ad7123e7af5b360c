// Package store persists canonical alerts in an embedded WAL-mode SQLite
// database with bounded retention. WAL mode lets the HTTP handlers read
// while the pipeline worker writes; the connection pool is capped at one
// connection so concurrent writers serialize instead of hitting
// "database is locked".
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/alert"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

const ddl = `
CREATE TABLE IF NOT EXISTS alerts (
    id        TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    level     TEXT NOT NULL,
    category  TEXT NOT NULL,
    data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts (timestamp);
`

// Store is a WAL-mode SQLite-backed alert log. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at path, creating missing parent
// directories. ":memory:" yields an in-memory database for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory for %q: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// One writer at a time; extra connections only cause lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	// NORMAL synchronous: committed rows survive a process crash.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("store opened")
	return &Store{db: db, log: log}, nil
}

// Append inserts one alert row. The write is durable on return.
func (s *Store) Append(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("store: marshal alert %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, timestamp, level, category, data) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp, a.Level, a.Category, string(data))
	if err != nil {
		return fmt.Errorf("store: append %s: %w", a.ID, err)
	}
	return nil
}

// RecentN returns the n alerts with the greatest timestamps, in ascending
// timestamp order so callers can replay chronologically. Insertion order
// breaks timestamp ties.
func (s *Store) RecentN(ctx context.Context, n int) ([]alert.Alert, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM alerts ORDER BY timestamp DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent query: %w", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		var a alert.Alert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			// One corrupt row must not hide the rest.
			s.log.Warn().Err(err).Msg("skipping undecodable alert row")
			continue
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}

	// Newest-first from the query; reverse to oldest-first.
	for i, j := 0, len(alerts)-1; i < j; i, j = i+1, j-1 {
		alerts[i], alerts[j] = alerts[j], alerts[i]
	}
	return alerts, nil
}

// Prune deletes every row outside the top-limit rows by descending
// timestamp. It is idempotent and returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE rowid NOT IN (
		    SELECT rowid FROM alerts ORDER BY timestamp DESC, rowid DESC LIMIT ?
		 )`, limit)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.log.Info().Msg("closing store")
	return s.db.Close()
}
