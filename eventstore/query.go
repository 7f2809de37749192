// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/authrules"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// StreamEvent pairs an event with its stream position. Events on read
// paths arrive with redactions already applied.
type StreamEvent struct {
	Pos   int64
	Event *event.Event
}

// Get returns the stored event with the given ID, or ErrNotFound. The
// admission path uses Get, so the event is returned as stored, without
// redaction applied.
func (s *Store) Get(ctx context.Context, id ref.EventID) (*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: get: %w", err)
	}
	defer s.pool.Put(conn)

	e, _, err := s.lookupByID(conn, id.String())
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("event store: %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// lookupByID returns the decoded event and its stream position, or
// (nil, 0, nil) when absent.
func (s *Store) lookupByID(conn *sqlite.Conn, id string) (*event.Event, int64, error) {
	var raw string
	var pos int64
	found := false
	err := sqlitex.Execute(conn,
		"SELECT json, stream_pos FROM events WHERE event_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw = stmt.ColumnText(0)
				pos = stmt.ColumnInt64(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("event store: looking up %s: %w", id, err)
	}
	if !found {
		return nil, 0, nil
	}
	e, err := decodeEvent(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("event store: decoding %s: %w", id, err)
	}
	return e, pos, nil
}

// GetServed returns the event as it is served to clients: with
// redaction applied when an admitted redaction targets it. Returns
// ErrNotFound for unknown IDs.
func (s *Store) GetServed(ctx context.Context, id ref.EventID) (*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: get served: %w", err)
	}
	defer s.pool.Put(conn)

	var served *event.Event
	err = sqlitex.Execute(conn, `SELECT e.json, r.redaction_event_id
		FROM events e LEFT JOIN redactions r
		  ON r.room_id = e.room_id AND r.target_event_id = e.event_id
		WHERE e.event_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := decodeEvent(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				if !stmt.ColumnIsNull(1) {
					e = event.Redact(e)
				}
				served = e
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: serving %s: %w", id, err)
	}
	if served == nil {
		return nil, fmt.Errorf("event store: %s: %w", id, ErrNotFound)
	}
	return served, nil
}

// MissingEvents returns the subset of ids the store does not hold, in
// the order given. The room actor uses this to detect graph gaps
// before admission.
func (s *Store) MissingEvents(ctx context.Context, ids []ref.EventID) ([]ref.EventID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: missing events: %w", err)
	}
	defer s.pool.Put(conn)

	var missing []ref.EventID
	for _, id := range ids {
		found := false
		err := sqlitex.Execute(conn,
			"SELECT 1 FROM events WHERE event_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id.String()},
				ResultFunc: func(*sqlite.Stmt) error {
					found = true
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("event store: checking %s: %w", id, err)
		}
		if !found {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ForwardExtremities returns the room's current frontier: stored
// events with no stored children.
func (s *Store) ForwardExtremities(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: extremities: %w", err)
	}
	defer s.pool.Put(conn)

	var out []ref.EventID
	err = sqlitex.Execute(conn,
		"SELECT event_id FROM extremities WHERE room_id = ? ORDER BY event_id",
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
		return nil, fmt.Errorf("event store: extremities of %s: %w", roomID, err)
	}
	return out, nil
}

// CurrentState returns the room's resolved state mapping. An unknown
// room yields an empty snapshot.
func (s *Store) CurrentState(ctx context.Context, roomID ref.RoomID) (authrules.Snapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: current state: %w", err)
	}
	defer s.pool.Put(conn)

	snapshot := authrules.Snapshot{}
	err = sqlitex.Execute(conn, `SELECT rs.event_type, rs.state_key, ev.json
		FROM room_state rs JOIN events ev ON ev.event_id = rs.event_id
		WHERE rs.room_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := decodeEvent(stmt.ColumnText(2))
				if err != nil {
					return err
				}
				tuple := event.StateTuple{Type: stmt.ColumnText(0), StateKey: stmt.ColumnText(1)}
				snapshot[tuple] = e
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: state of %s: %w", roomID, err)
	}
	return snapshot, nil
}

// StateAt reconstructs the state view at a past stream position: for
// each (type, state_key) pair, the latest admitted state event at or
// before the position. Soft-failed events never contribute.
func (s *Store) StateAt(ctx context.Context, roomID ref.RoomID, pos int64) (authrules.Snapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: state at: %w", err)
	}
	defer s.pool.Put(conn)

	snapshot := authrules.Snapshot{}
	err = sqlitex.Execute(conn, `SELECT e.json FROM events e
		WHERE e.room_id = ? AND e.state_key IS NOT NULL
		  AND e.soft_failed = 0 AND e.stream_pos <= ?
		  AND e.stream_pos = (
			SELECT MAX(stream_pos) FROM events
			WHERE room_id = e.room_id AND event_type = e.event_type
			  AND state_key = e.state_key AND soft_failed = 0
			  AND stream_pos <= ?)`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String(), pos, pos},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := decodeEvent(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				snapshot[e.Tuple()] = e
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: state of %s at %d: %w", roomID, pos, err)
	}
	return snapshot, nil
}

// EventsAfter returns up to limit events with stream position strictly
// greater than after, in ascending order, redactions applied and
// soft-failed events excluded. This is the sync delta read.
func (s *Store) EventsAfter(ctx context.Context, roomID ref.RoomID, after int64, limit int) ([]StreamEvent, error) {
	return s.streamQuery(ctx, roomID, `SELECT e.json, e.stream_pos, r.redaction_event_id
		FROM events e LEFT JOIN redactions r
		  ON r.room_id = e.room_id AND r.target_event_id = e.event_id
		WHERE e.room_id = ? AND e.soft_failed = 0 AND e.stream_pos > ?
		ORDER BY e.stream_pos ASC LIMIT ?`, after, limit)
}

// EventsBefore returns up to limit events with stream position
// strictly less than before, in descending order. This is the backward
// pagination read; before <= 0 means "from the room's end".
func (s *Store) EventsBefore(ctx context.Context, roomID ref.RoomID, before int64, limit int) ([]StreamEvent, error) {
	if before <= 0 {
		pos, err := s.StreamPosition(ctx, roomID)
		if err != nil {
			return nil, err
		}
		before = pos + 1
	}
	return s.streamQuery(ctx, roomID, `SELECT e.json, e.stream_pos, r.redaction_event_id
		FROM events e LEFT JOIN redactions r
		  ON r.room_id = e.room_id AND r.target_event_id = e.event_id
		WHERE e.room_id = ? AND e.soft_failed = 0 AND e.stream_pos < ?
		ORDER BY e.stream_pos DESC LIMIT ?`, before, limit)
}

func (s *Store) streamQuery(ctx context.Context, roomID ref.RoomID, query string, pos int64, limit int) ([]StreamEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: stream query: %w", err)
	}
	defer s.pool.Put(conn)

	var out []StreamEvent
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{roomID.String(), pos, limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e, err := decodeEvent(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			if !stmt.ColumnIsNull(2) {
				e = event.Redact(e)
			}
			out = append(out, StreamEvent{Pos: stmt.ColumnInt64(1), Event: e})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("event store: stream query for %s: %w", roomID, err)
	}
	return out, nil
}

// Rooms returns every room the store holds events for, in no
// particular order.
func (s *Store) Rooms(ctx context.Context) ([]ref.RoomID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: rooms: %w", err)
	}
	defer s.pool.Put(conn)

	var out []ref.RoomID
	err = sqlitex.Execute(conn, "SELECT room_id FROM rooms", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			out = append(out, roomID)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("event store: listing rooms: %w", err)
	}
	return out, nil
}

// StreamPosition returns the room's latest assigned stream position,
// zero for an unknown room.
func (s *Store) StreamPosition(ctx context.Context, roomID ref.RoomID) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("event store: stream position: %w", err)
	}
	defer s.pool.Put(conn)

	var pos int64
	err = sqlitex.Execute(conn,
		"SELECT stream_pos FROM rooms WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pos = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("event store: stream position of %s: %w", roomID, err)
	}
	return pos, nil
}

// JoinedRooms returns the rooms where the user's current membership is
// join, ordered by room ID.
func (s *Store) JoinedRooms(ctx context.Context, userID ref.UserID) ([]ref.RoomID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: joined rooms: %w", err)
	}
	defer s.pool.Put(conn)

	var out []ref.RoomID
	err = sqlitex.Execute(conn, `SELECT rs.room_id, ev.json
		FROM room_state rs JOIN events ev ON ev.event_id = rs.event_id
		WHERE rs.event_type = ? AND rs.state_key = ?
		ORDER BY rs.room_id`,
		&sqlitex.ExecOptions{
			Args: []any{event.TypeMember, userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := decodeEvent(stmt.ColumnText(1))
				if err != nil {
					return err
				}
				content, err := event.ParseMember(e.Content)
				if err != nil || content.Membership != event.MembershipJoin {
					return nil
				}
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				out = append(out, roomID)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: joined rooms of %s: %w", userID, err)
	}
	return out, nil
}

func decodeEvent(raw string) (*event.Event, error) {
	var e event.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
