// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/hearth/lib/codec"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Token is an opaque continuation point in one room's timeline. It
// binds the room it was minted for; presenting it against another
// room is rejected.
type Token struct {
	room ref.RoomID
	pos  int64
}

type tokenWire struct {
	Room string `cbor:"1,keyasint"`
	Pos  int64  `cbor:"2,keyasint"`
}

// TokenAt mints a token positioned just after the given stream
// position: paging with it returns events at or below pos.
func TokenAt(room ref.RoomID, pos int64) Token {
	return Token{room: room, pos: pos}
}

// Pos returns the stream position the token points at.
func (t Token) Pos() int64 { return t.pos }

// Encode serializes the token to its wire form.
func (t Token) Encode() (string, error) {
	raw, err := codec.Marshal(tokenWire{Room: t.room.String(), Pos: t.pos})
	if err != nil {
		return "", fmt.Errorf("timeline token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token previously produced by Encode.
func DecodeToken(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("timeline token: %w", err)
	}
	var wire tokenWire
	if err := codec.Unmarshal(raw, &wire); err != nil {
		return Token{}, fmt.Errorf("timeline token: %w", err)
	}
	room, err := ref.ParseRoomID(wire.Room)
	if err != nil {
		return Token{}, fmt.Errorf("timeline token: %w", err)
	}
	if wire.Pos < 0 {
		return Token{}, fmt.Errorf("timeline token: negative position %d", wire.Pos)
	}
	return Token{room: room, pos: wire.Pos}, nil
}
