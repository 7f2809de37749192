// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/base64"
	"fmt"
)

// EventID is a validated Matrix event ID (e.g., "$Zm9vYmFyYmF6...").
//
// Event IDs are content-derived: '$' followed by the unpadded
// base64url encoding of the event's reference hash. Hearth computes
// its own event IDs with EventIDFromHash; IDs arriving in prev_events,
// auth_events, and request paths are treated as opaque — the only
// structural validation is the '$' sigil and a non-empty, bounded
// remainder.
//
// EventID is an immutable value type. The zero value is not valid;
// use IsZero to check. EventID is comparable and usable as a map key,
// which the event graph relies on throughout.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
// Returns an error if the string is empty, doesn't start with '$',
// has nothing after the sigil, or exceeds the identifier size limit.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	if len(raw) > maxIdentifierLength {
		return EventID{}, fmt.Errorf("event ID: %d bytes exceeds the %d byte limit", len(raw), maxIdentifierLength)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// EventIDFromHash constructs an event ID from a 32-byte reference
// hash: '$' + unpadded base64url of the hash. This is the only way
// hearth mints event IDs — the ID is a pure function of event content,
// which is what makes concurrent admission of the same event from two
// paths converge on one row.
func EventIDFromHash(hash [32]byte) EventID {
	return EventID{id: "$" + base64.RawURLEncoding.EncodeToString(hash[:])}
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value (uninitialized).
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (e EventID) MarshalText() ([]byte, error) {
	if e.id == "" {
		return []byte{}, nil
	}
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// event ID format. An empty input produces the zero value.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
