// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/lib/sqlitepool"
)

// Sentinel errors for the admission and read paths. Callers classify
// with errors.Is.
var (
	// ErrNotFound is returned by Get for an event ID the store has
	// never seen.
	ErrNotFound = errors.New("event not found")

	// ErrPoisoned is returned by Append when the event's ID already
	// exists with different content. Event IDs are content-derived,
	// so this can only happen through corruption or a forged ID; it
	// is surfaced as a hard error and the stored event is kept.
	ErrPoisoned = errors.New("event id held by different content")
)

const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id      TEXT PRIMARY KEY,
		room_version TEXT NOT NULL,
		stream_pos   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		event_id         TEXT PRIMARY KEY,
		room_id          TEXT NOT NULL,
		sender           TEXT NOT NULL,
		event_type       TEXT NOT NULL,
		state_key        TEXT,
		json             TEXT NOT NULL,
		depth            INTEGER NOT NULL,
		origin_server_ts INTEGER NOT NULL,
		stream_pos       INTEGER NOT NULL,
		soft_failed      INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_stream
		ON events(room_id, stream_pos);
	CREATE INDEX IF NOT EXISTS idx_events_state
		ON events(room_id, event_type, state_key, stream_pos);

	CREATE TABLE IF NOT EXISTS room_state (
		room_id    TEXT NOT NULL,
		event_type TEXT NOT NULL,
		state_key  TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		PRIMARY KEY (room_id, event_type, state_key)
	);

	CREATE TABLE IF NOT EXISTS extremities (
		room_id  TEXT NOT NULL,
		event_id TEXT NOT NULL,
		PRIMARY KEY (room_id, event_id)
	);

	CREATE TABLE IF NOT EXISTS redactions (
		room_id            TEXT NOT NULL,
		target_event_id    TEXT NOT NULL,
		redaction_event_id TEXT NOT NULL,
		PRIMARY KEY (room_id, target_event_id)
	);

	CREATE TABLE IF NOT EXISTS gaps (
		room_id    TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		PRIMARY KEY (room_id, event_id)
	);

	CREATE TABLE IF NOT EXISTS cursors (
		device_id  TEXT NOT NULL,
		room_id    TEXT NOT NULL,
		stream_pos INTEGER NOT NULL,
		PRIMARY KEY (device_id, room_id)
	);
`

// Config holds the parameters for opening an event store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the SQLite-backed event graph. Safe for concurrent use;
// per-room write serialization is the room actor's responsibility, not
// the store's.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open creates or opens the event store at cfg.Path, applying the
// schema on every connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("event store: Logger is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}
	return &Store{pool: pool, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}
