// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/hearth/lib/ref"
)

// Standard Matrix event types the server interprets. All other types
// are opaque payloads relayed to clients unmodified.
const (
	TypeCreate            = "m.room.create"
	TypeMember            = "m.room.member"
	TypePowerLevels       = "m.room.power_levels"
	TypeJoinRules         = "m.room.join_rules"
	TypeHistoryVisibility = "m.room.history_visibility"
	TypeRedaction         = "m.room.redaction"
	TypeMessage           = "m.room.message"
	TypeName              = "m.room.name"
	TypeTopic             = "m.room.topic"
)

// Membership values for m.room.member state events.
const (
	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// maxEventBytes caps the canonical encoding of a single event. The
// Matrix federation format uses 65535; an event over the limit is
// malformed, never stored.
const maxEventBytes = 65535

// Event is the immutable unit of room history. Field order and names
// follow the Matrix PDU wire format; the canonical form hashed for the
// event ID is defined in hash.go, not by this struct's JSON encoding.
type Event struct {
	// ID is the content-derived event identifier. Zero until sealed
	// by Builder.Build or populated from the wire; never part of the
	// hashed content.
	ID ref.EventID `json:"event_id,omitempty"`

	RoomID ref.RoomID `json:"room_id"`
	Sender ref.UserID `json:"sender"`
	Type   string     `json:"type"`

	// StateKey is present only for state events. A nil pointer means
	// a timeline-only event; a pointer to "" is a valid state key
	// (the common case for room-scoped state like m.room.create).
	StateKey *string `json:"state_key,omitempty"`

	// Content is the opaque application payload, interpreted only by
	// the auth rule engine for the types it knows.
	Content json.RawMessage `json:"content"`

	// PrevEvents are the parent event IDs — the graph's edges. More
	// than one parent means this event merged concurrent branches.
	PrevEvents []ref.EventID `json:"prev_events"`

	// AuthEvents reference the state events (create, sender
	// membership, power levels, join rules) that authorized this
	// event.
	AuthEvents []ref.EventID `json:"auth_events"`

	// Depth is 1 + max(depth of prev_events). A tie-break hint only;
	// never an ordering authority.
	Depth int64 `json:"depth"`

	// OriginServerTS is the sender-claimed wall-clock timestamp in
	// milliseconds. Untrusted for ordering; used for display and as
	// a resolution tie-break.
	OriginServerTS int64 `json:"origin_server_ts"`

	// Redacts names the target event for m.room.redaction events.
	Redacts ref.EventID `json:"redacts,omitempty"`

	// Hashes carries the content hash in wire form so remote servers
	// can verify integrity without recomputing our canonical form
	// incorrectly.
	Hashes Hashes `json:"hashes,omitempty"`

	// Signatures maps server name → key ID → base64 signature over
	// the canonical form.
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// Hashes is the integrity field of the wire format.
type Hashes struct {
	// Blake3 is the unpadded base64url of the canonical-form digest.
	Blake3 string `json:"blake3,omitempty"`
}

// IsState reports whether the event carries a state key (including the
// empty state key).
func (e *Event) IsState() bool { return e.StateKey != nil }

// StateKeyValue returns the state key, or "" for timeline events. Use
// IsState to distinguish "no state key" from "empty state key".
func (e *Event) StateKeyValue() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// StateTuple identifies one slot of room state: exactly one event may
// occupy each tuple in a resolved state mapping.
type StateTuple struct {
	Type     string
	StateKey string
}

// Tuple returns the event's state tuple. Only meaningful for state
// events.
func (e *Event) Tuple() StateTuple {
	return StateTuple{Type: e.Type, StateKey: e.StateKeyValue()}
}

// Validate checks structural well-formedness: the fields every event
// must carry, graph shape constraints, and the size cap. A Validate
// failure is a MalformedEvent in the admission taxonomy — the event is
// rejected before touching storage.
func (e *Event) Validate() error {
	if e.RoomID.IsZero() {
		return fmt.Errorf("event missing room_id")
	}
	if e.Sender.IsZero() {
		return fmt.Errorf("event missing sender")
	}
	if e.Type == "" {
		return fmt.Errorf("event missing type")
	}
	if len(e.Content) == 0 {
		return fmt.Errorf("event missing content")
	}
	if !json.Valid(e.Content) {
		return fmt.Errorf("event content is not valid JSON")
	}

	if e.Type == TypeCreate {
		if len(e.PrevEvents) != 0 {
			return fmt.Errorf("m.room.create must have no prev_events, got %d", len(e.PrevEvents))
		}
		if e.StateKey == nil || *e.StateKey != "" {
			return fmt.Errorf("m.room.create must have an empty state key")
		}
		if e.Depth != 1 {
			return fmt.Errorf("m.room.create must have depth 1, got %d", e.Depth)
		}
	} else {
		if len(e.PrevEvents) == 0 {
			return fmt.Errorf("non-create event must have at least one prev_event")
		}
		if e.Depth < 2 {
			return fmt.Errorf("non-create event must have depth >= 2, got %d", e.Depth)
		}
	}

	if e.Type == TypeRedaction && e.Redacts.IsZero() {
		return fmt.Errorf("m.room.redaction missing redacts")
	}

	seen := make(map[ref.EventID]struct{}, len(e.PrevEvents))
	for _, prev := range e.PrevEvents {
		if prev.IsZero() {
			return fmt.Errorf("event has empty prev_event entry")
		}
		if _, dup := seen[prev]; dup {
			return fmt.Errorf("event lists prev_event %s twice", prev)
		}
		seen[prev] = struct{}{}
	}
	for _, auth := range e.AuthEvents {
		if auth.IsZero() {
			return fmt.Errorf("event has empty auth_event entry")
		}
	}

	canonical, err := e.canonicalBytes()
	if err != nil {
		return fmt.Errorf("encoding canonical form: %w", err)
	}
	if len(canonical) > maxEventBytes {
		return fmt.Errorf("event canonical form is %d bytes, maximum is %d", len(canonical), maxEventBytes)
	}
	return nil
}
