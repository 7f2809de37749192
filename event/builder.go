// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/hearth/lib/ref"
)

// Builder assembles a local event: the room actor supplies the graph
// position (prev_events, auth_events, depth), the handler supplies
// sender/type/content, and Build seals identity and signs.
//
// A Builder is single-use. The zero value is not usable; start with
// NewBuilder.
type Builder struct {
	event Event
	err   error
}

// NewBuilder starts an event for the given room and sender.
func NewBuilder(roomID ref.RoomID, sender ref.UserID, eventType string) *Builder {
	return &Builder{event: Event{
		RoomID: roomID,
		Sender: sender,
		Type:   eventType,
	}}
}

// WithStateKey marks the event as a state event with the given key.
// Pass "" for room-scoped state (create, power levels, join rules).
func (b *Builder) WithStateKey(stateKey string) *Builder {
	key := stateKey
	b.event.StateKey = &key
	return b
}

// WithContent sets the content payload. Any JSON-marshalable value is
// accepted; a json.RawMessage is used verbatim.
func (b *Builder) WithContent(content any) *Builder {
	if raw, ok := content.(json.RawMessage); ok {
		b.event.Content = raw
		return b
	}
	data, err := json.Marshal(content)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("marshaling event content: %w", err)
	}
	b.event.Content = data
	return b
}

// WithParents sets the graph position: prev_events and depth, where
// maxParentDepth is the maximum depth among the parents. For the
// create event (no parents) this step is skipped and depth is 1.
func (b *Builder) WithParents(prevEvents []ref.EventID, maxParentDepth int64) *Builder {
	b.event.PrevEvents = prevEvents
	b.event.Depth = maxParentDepth + 1
	return b
}

// WithAuthEvents records the state event IDs that authorize this
// event.
func (b *Builder) WithAuthEvents(authEvents []ref.EventID) *Builder {
	b.event.AuthEvents = authEvents
	return b
}

// WithRedacts sets the redaction target for m.room.redaction events.
func (b *Builder) WithRedacts(target ref.EventID) *Builder {
	b.event.Redacts = target
	return b
}

// Build stamps the event with the given origin timestamp, validates
// it, seals its content-derived identity, and signs it with the
// server's key. The returned event is complete and immutable.
func (b *Builder) Build(originTS time.Time, server ref.ServerName, keyID string, key ed25519.PrivateKey) (*Event, error) {
	if b.err != nil {
		return nil, b.err
	}
	e := b.event

	if e.Type == TypeCreate {
		e.Depth = 1
	}
	e.OriginServerTS = originTS.UnixMilli()
	if e.PrevEvents == nil {
		e.PrevEvents = []ref.EventID{}
	}
	if e.AuthEvents == nil {
		e.AuthEvents = []ref.EventID{}
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("building %s event: %w", e.Type, err)
	}
	if err := e.Seal(); err != nil {
		return nil, fmt.Errorf("sealing %s event: %w", e.Type, err)
	}
	if err := e.Sign(server, keyID, key); err != nil {
		return nil, fmt.Errorf("signing %s event: %w", e.Type, err)
	}
	return &e, nil
}
