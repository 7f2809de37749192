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
)

// Outcome says what an Append call did.
type Outcome int

const (
	// OutcomeStored means the event was new and is now persisted.
	OutcomeStored Outcome = iota

	// OutcomeDuplicate means an identical event was already stored;
	// nothing changed. Not an error.
	OutcomeDuplicate
)

// AppendOptions control the side effects committed with an event.
type AppendOptions struct {
	// SoftFail stores the event for graph connectivity but withholds
	// all effect: no extremity update, no state change, excluded from
	// timeline and sync reads. Used for federation-sourced events
	// that fail authorization.
	SoftFail bool

	// ResolvedState, when non-nil, atomically replaces the room's
	// entire current-state mapping. The room actor passes the output
	// of state resolution here so the new event and the merged state
	// land in one transaction. When nil and the event is a state
	// event, only the event's own tuple is updated.
	ResolvedState authrules.Snapshot
}

// AppendResult reports the outcome and the event's stream position
// (the previously assigned one for duplicates).
type AppendResult struct {
	Outcome   Outcome
	StreamPos int64
}

// Append persists an event and its admission side effects in a single
// transaction. Duplicate IDs with identical content are idempotent;
// a duplicate ID with different content returns ErrPoisoned.
func (s *Store) Append(ctx context.Context, e *event.Event, opts AppendOptions) (result AppendResult, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return AppendResult{}, fmt.Errorf("event store: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return AppendResult{}, fmt.Errorf("event store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Duplicate or poison check by content address.
	existing, existingPos, err := s.lookupByID(conn, e.ID.String())
	if err != nil {
		return AppendResult{}, err
	}
	if existing != nil {
		same, err := sameCanonicalContent(existing, e)
		if err != nil {
			return AppendResult{}, fmt.Errorf("event store: comparing duplicate %s: %w", e.ID, err)
		}
		if !same {
			return AppendResult{}, fmt.Errorf("event store: %s: %w", e.ID, ErrPoisoned)
		}
		return AppendResult{Outcome: OutcomeDuplicate, StreamPos: existingPos}, nil
	}

	if err := s.ensureRoom(conn, e); err != nil {
		return AppendResult{}, err
	}
	pos, err := s.nextStreamPos(conn, e.RoomID.String())
	if err != nil {
		return AppendResult{}, err
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return AppendResult{}, fmt.Errorf("event store: encoding %s: %w", e.ID, err)
	}
	var stateKey any
	if e.StateKey != nil {
		stateKey = *e.StateKey
	}
	softFailed := 0
	if opts.SoftFail {
		softFailed = 1
	}
	err = sqlitex.Execute(conn, `INSERT INTO events
		(event_id, room_id, sender, event_type, state_key, json,
		 depth, origin_server_ts, stream_pos, soft_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			e.ID.String(),
			e.RoomID.String(),
			e.Sender.String(),
			e.Type,
			stateKey,
			string(raw),
			e.Depth,
			e.OriginServerTS,
			pos,
			softFailed,
		},
	})
	if err != nil {
		return AppendResult{}, fmt.Errorf("event store: inserting %s: %w", e.ID, err)
	}

	// An arriving event closes any gap marker that was waiting on it,
	// soft-failed or not: the graph hole is filled either way.
	err = sqlitex.Execute(conn,
		"DELETE FROM gaps WHERE room_id = ? AND event_id = ?",
		&sqlitex.ExecOptions{Args: []any{e.RoomID.String(), e.ID.String()}})
	if err != nil {
		return AppendResult{}, fmt.Errorf("event store: clearing gap marker for %s: %w", e.ID, err)
	}

	if opts.SoftFail {
		return AppendResult{Outcome: OutcomeStored, StreamPos: pos}, nil
	}

	if err := s.advanceExtremities(conn, e); err != nil {
		return AppendResult{}, err
	}
	if err := s.applyState(conn, e, opts.ResolvedState); err != nil {
		return AppendResult{}, err
	}
	if e.Type == event.TypeRedaction && !e.Redacts.IsZero() {
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO redactions
			(room_id, target_event_id, redaction_event_id) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{e.RoomID.String(), e.Redacts.String(), e.ID.String()}})
		if err != nil {
			return AppendResult{}, fmt.Errorf("event store: recording redaction %s: %w", e.ID, err)
		}
	}
	return AppendResult{Outcome: OutcomeStored, StreamPos: pos}, nil
}

// ensureRoom creates the room's counter row if this is the first event
// for the room. Create events record the room version.
func (s *Store) ensureRoom(conn *sqlite.Conn, e *event.Event) error {
	version := ""
	if e.Type == event.TypeCreate {
		if content, err := event.ParseCreate(e.Content); err == nil {
			version = content.RoomVersion
		}
	}
	err := sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO rooms (room_id, room_version, stream_pos) VALUES (?, ?, 0)",
		&sqlitex.ExecOptions{Args: []any{e.RoomID.String(), version}})
	if err != nil {
		return fmt.Errorf("event store: ensuring room %s: %w", e.RoomID, err)
	}
	return nil
}

// nextStreamPos advances the room's arrival-order counter and returns
// the new position.
func (s *Store) nextStreamPos(conn *sqlite.Conn, roomID string) (int64, error) {
	err := sqlitex.Execute(conn,
		"UPDATE rooms SET stream_pos = stream_pos + 1 WHERE room_id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID}})
	if err != nil {
		return 0, fmt.Errorf("event store: advancing stream position: %w", err)
	}
	var pos int64
	err = sqlitex.Execute(conn,
		"SELECT stream_pos FROM rooms WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pos = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("event store: reading stream position: %w", err)
	}
	return pos, nil
}

// advanceExtremities removes the event's parents from the frontier and
// installs the event itself.
func (s *Store) advanceExtremities(conn *sqlite.Conn, e *event.Event) error {
	for _, parent := range e.PrevEvents {
		err := sqlitex.Execute(conn,
			"DELETE FROM extremities WHERE room_id = ? AND event_id = ?",
			&sqlitex.ExecOptions{Args: []any{e.RoomID.String(), parent.String()}})
		if err != nil {
			return fmt.Errorf("event store: retiring extremity %s: %w", parent, err)
		}
	}
	err := sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO extremities (room_id, event_id) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{e.RoomID.String(), e.ID.String()}})
	if err != nil {
		return fmt.Errorf("event store: adding extremity %s: %w", e.ID, err)
	}
	return nil
}

// applyState updates the room's current-state mapping: a full replace
// when resolution produced one, otherwise the event's own tuple if it
// is a state event.
func (s *Store) applyState(conn *sqlite.Conn, e *event.Event, resolved authrules.Snapshot) error {
	if resolved != nil {
		err := sqlitex.Execute(conn,
			"DELETE FROM room_state WHERE room_id = ?",
			&sqlitex.ExecOptions{Args: []any{e.RoomID.String()}})
		if err != nil {
			return fmt.Errorf("event store: clearing state of %s: %w", e.RoomID, err)
		}
		for tuple, stateEvent := range resolved {
			err := sqlitex.Execute(conn, `INSERT INTO room_state
				(room_id, event_type, state_key, event_id) VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					e.RoomID.String(), tuple.Type, tuple.StateKey, stateEvent.ID.String(),
				}})
			if err != nil {
				return fmt.Errorf("event store: writing state tuple (%s, %q): %w", tuple.Type, tuple.StateKey, err)
			}
		}
		return nil
	}

	if !e.IsState() {
		return nil
	}
	err := sqlitex.Execute(conn, `INSERT INTO room_state
		(room_id, event_type, state_key, event_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, event_type, state_key) DO UPDATE SET event_id = excluded.event_id`,
		&sqlitex.ExecOptions{Args: []any{
			e.RoomID.String(), e.Type, e.StateKeyValue(), e.ID.String(),
		}})
	if err != nil {
		return fmt.Errorf("event store: updating state tuple (%s, %q): %w", e.Type, e.StateKeyValue(), err)
	}
	return nil
}

// sameCanonicalContent reports whether two events carrying the same ID
// have the same canonical form, by recomputing both reference hashes.
func sameCanonicalContent(a, b *event.Event) (bool, error) {
	hashA, err := a.ReferenceHash()
	if err != nil {
		return false, err
	}
	hashB, err := b.ReferenceHash()
	if err != nil {
		return false, err
	}
	return hashA == hashB, nil
}
