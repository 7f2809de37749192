// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/lib/ref"
)

// MarkGaps records event IDs that are referenced by the room's graph
// but not held locally and for which backfill has given up. The
// markers are diagnostic and idempotent; an appended event clears its
// own marker.
func (s *Store) MarkGaps(ctx context.Context, roomID ref.RoomID, ids []ref.EventID, firstSeen int64) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event store: mark gaps: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("event store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, id := range ids {
		err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO gaps
			(room_id, event_id, first_seen) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{roomID.String(), id.String(), firstSeen}})
		if err != nil {
			return fmt.Errorf("event store: marking gap %s: %w", id, err)
		}
	}
	return nil
}

// Gaps returns the room's outstanding gap markers, ordered by event ID.
func (s *Store) Gaps(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: gaps: %w", err)
	}
	defer s.pool.Put(conn)

	var out []ref.EventID
	err = sqlitex.Execute(conn,
		"SELECT event_id FROM gaps WHERE room_id = ? ORDER BY event_id",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := ref.ParseEventID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				out = append(out, id)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: gaps of %s: %w", roomID, err)
	}
	return out, nil
}
