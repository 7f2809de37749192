// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bureau-foundation/hearth/lib/codec"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// ErrInvalidToken reports a since token that did not round-trip from
// a previous response. It is the only client-caused sync error.
var ErrInvalidToken = errors.New("invalid sync token")

// cursor is one room's read position inside a sync token.
type cursor struct {
	// Pos is the last delivered stream position.
	Pos int64 `cbor:"1,keyasint"`

	// Ephemeral is the version of the room's ephemeral signals the
	// device last saw.
	Ephemeral uint64 `cbor:"2,keyasint,omitempty"`
}

type tokenWire struct {
	Rooms map[string]cursor `cbor:"1,keyasint"`
}

// encodeToken serializes per-room cursors into an opaque token.
func encodeToken(cursors map[ref.RoomID]cursor) (string, error) {
	wire := tokenWire{Rooms: make(map[string]cursor, len(cursors))}
	for roomID, c := range cursors {
		wire.Rooms[roomID.String()] = c
	}
	raw, err := codec.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("sync token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeToken parses a token previously produced by encodeToken. An
// empty token means "from the beginning".
func decodeToken(s string) (map[ref.RoomID]cursor, error) {
	cursors := make(map[ref.RoomID]cursor)
	if s == "" {
		return cursors, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var wire tokenWire
	if err := codec.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	for rawRoom, c := range wire.Rooms {
		roomID, err := ref.ParseRoomID(rawRoom)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if c.Pos < 0 {
			return nil, fmt.Errorf("%w: negative position for %s", ErrInvalidToken, roomID)
		}
		cursors[roomID] = c
	}
	return cursors, nil
}
