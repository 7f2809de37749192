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

// Cursors returns the device's last-delivered stream position per
// room. Rooms the device has never synced are absent (position zero).
func (s *Store) Cursors(ctx context.Context, deviceID ref.DeviceID) (map[ref.RoomID]int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: cursors: %w", err)
	}
	defer s.pool.Put(conn)

	out := make(map[ref.RoomID]int64)
	err = sqlitex.Execute(conn,
		"SELECT room_id, stream_pos FROM cursors WHERE device_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{deviceID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				out[roomID] = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: cursors of %s: %w", deviceID, err)
	}
	return out, nil
}

// SetCursors records the device's delivered positions. Positions only
// move forward: a stored cursor past the given one is kept, so a stale
// retry cannot rewind delivery tracking.
func (s *Store) SetCursors(ctx context.Context, deviceID ref.DeviceID, positions map[ref.RoomID]int64) error {
	if len(positions) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event store: set cursors: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("event store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for roomID, pos := range positions {
		err := sqlitex.Execute(conn, `INSERT INTO cursors
			(device_id, room_id, stream_pos) VALUES (?, ?, ?)
			ON CONFLICT (device_id, room_id) DO UPDATE
			SET stream_pos = MAX(stream_pos, excluded.stream_pos)`,
			&sqlitex.ExecOptions{Args: []any{deviceID.String(), roomID.String(), pos}})
		if err != nil {
			return fmt.Errorf("event store: cursor (%s, %s): %w", deviceID, roomID, err)
		}
	}
	return nil
}
