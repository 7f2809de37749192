// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Payload is one ephemeral signal as delivered in a sync response.
type Payload struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
}

const (
	// TypeTyping carries the set of users currently typing.
	TypeTyping = "m.typing"

	// TypeReceipt carries per-user read positions.
	TypeReceipt = "m.receipt"
)

type receipt struct {
	eventID ref.EventID
	ts      time.Time
}

type roomEphemeral struct {
	version  uint64
	typing   map[ref.UserID]time.Time
	receipts map[ref.UserID]receipt
	watchers map[uint64]chan struct{}
	nextID   uint64
}

// Ephemeral tracks the not-persisted, best-effort signals of every
// room: typing notices with expiry and read receipts. Nothing here
// survives a restart and nothing is ever written to the event graph.
type Ephemeral struct {
	clock clock.Clock

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomEphemeral
}

// NewEphemeral creates an Ephemeral tracker. A nil clock means wall
// time.
func NewEphemeral(clk clock.Clock) *Ephemeral {
	if clk == nil {
		clk = clock.Real()
	}
	return &Ephemeral{
		clock: clk,
		rooms: make(map[ref.RoomID]*roomEphemeral),
	}
}

func (e *Ephemeral) room(roomID ref.RoomID) *roomEphemeral {
	r, ok := e.rooms[roomID]
	if !ok {
		r = &roomEphemeral{
			typing:   make(map[ref.UserID]time.Time),
			receipts: make(map[ref.UserID]receipt),
			watchers: make(map[uint64]chan struct{}),
		}
		e.rooms[roomID] = r
	}
	return r
}

// SetTyping records that the user is typing for the given duration.
// A zero or negative duration clears the notice.
func (e *Ephemeral) SetTyping(roomID ref.RoomID, userID ref.UserID, d time.Duration) {
	e.mu.Lock()
	r := e.room(roomID)
	if d <= 0 {
		delete(r.typing, userID)
	} else {
		r.typing[userID] = e.clock.Now().Add(d)
	}
	e.bump(r)
	e.mu.Unlock()
}

// SetReceipt records the user's read position in the room.
func (e *Ephemeral) SetReceipt(roomID ref.RoomID, userID ref.UserID, eventID ref.EventID) {
	e.mu.Lock()
	r := e.room(roomID)
	r.receipts[userID] = receipt{eventID: eventID, ts: e.clock.Now()}
	e.bump(r)
	e.mu.Unlock()
}

// bump advances the room's version and pokes every watcher. Callers
// hold e.mu.
func (e *Ephemeral) bump(r *roomEphemeral) {
	r.version++
	for _, ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns the room's live ephemeral payloads and the version
// they represent. Expired typing notices are dropped on read.
func (e *Ephemeral) Snapshot(roomID ref.RoomID) ([]Payload, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[roomID]
	if !ok {
		return nil, 0
	}

	now := e.clock.Now()
	var payloads []Payload

	var typing []string
	for userID, deadline := range r.typing {
		if deadline.After(now) {
			typing = append(typing, userID.String())
		}
	}
	if len(typing) > 0 {
		sort.Strings(typing)
		payloads = append(payloads, Payload{
			Type:    TypeTyping,
			Content: map[string]any{"user_ids": typing},
		})
	}

	if len(r.receipts) > 0 {
		read := make(map[string]any, len(r.receipts))
		for userID, rec := range r.receipts {
			read[userID.String()] = map[string]any{
				"event_id": rec.eventID.String(),
				"ts":       rec.ts.UnixMilli(),
			}
		}
		payloads = append(payloads, Payload{
			Type:    TypeReceipt,
			Content: map[string]any{"read": read},
		})
	}
	return payloads, r.version
}

// watch registers a coalescing wake channel for the room. The
// returned func unregisters it.
func (e *Ephemeral) watch(roomID ref.RoomID) (<-chan struct{}, func()) {
	e.mu.Lock()
	r := e.room(roomID)
	id := r.nextID
	r.nextID++
	ch := make(chan struct{}, 1)
	r.watchers[id] = ch
	e.mu.Unlock()
	return ch, func() {
		e.mu.Lock()
		delete(r.watchers, id)
		e.mu.Unlock()
	}
}
