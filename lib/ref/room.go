// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// RoomID is a validated Matrix room ID (e.g., "!abc123:hearth.local").
//
// Room IDs start with '!' and carry a ':server' suffix naming the
// homeserver that minted them. Hearth mints room IDs at room creation
// (MintRoomID) and parses every other occurrence — request paths,
// event payloads, sync tokens, database rows — through ParseRoomID at
// the boundary.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
// Returns an error if the string is empty, doesn't start with '!',
// or is missing the ':server' suffix.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parsePrefixedID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// MintRoomID generates a fresh room ID on this server: '!' + 18 random
// bytes in unpadded base64url + ':' + server name. 18 bytes (144 bits)
// makes collisions unobservable while keeping the opaque part at 24
// characters.
func MintRoomID(server ServerName) RoomID {
	var opaque [18]byte
	if _, err := rand.Read(opaque[:]); err != nil {
		// crypto/rand never fails on supported platforms; a failure
		// means the process cannot safely mint identifiers at all.
		panic(fmt.Sprintf("ref.MintRoomID: reading random bytes: %v", err))
	}
	localpart := base64.RawURLEncoding.EncodeToString(opaque[:])
	return RoomID{id: "!" + localpart + ":" + server.name}
}

// String returns the full room ID string (e.g., "!abc123:hearth.local").
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Server returns the name of the homeserver that minted this room ID.
// Panics if called on a zero-value RoomID.
func (r RoomID) Server() ServerName {
	if r.id == "" {
		panic("ref.RoomID: Server called on zero value")
	}
	colonIndex := strings.IndexByte(r.id, ':')
	return ServerName{name: r.id[colonIndex+1:]}
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return []byte{}, nil
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// room ID format. An empty input produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
