// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Entry is one timeline position: the event as served (redactions
// applied) and whether a discontinuity precedes it.
type Entry struct {
	Pos   int64
	Event *event.Event

	// GapBefore marks an entry whose parents are not all held
	// locally: history between this entry and the previous page may
	// be missing until backfill fills it.
	GapBefore bool
}

// Page is one bounded backward step through a room's timeline.
// Entries are in ascending stream order within the page.
type Page struct {
	Entries []Entry

	// Next continues pagination further into the past. Meaningless
	// when AtStart is set.
	Next Token

	// AtStart reports that the page reached the room's first stored
	// event.
	AtStart bool
}

// Config carries the dependencies of a Builder.
type Config struct {
	// Store is the event store to page over. Required.
	Store *eventstore.Store

	// Logger receives pagination logging. If nil, logging is
	// discarded.
	Logger *slog.Logger
}

// Builder pages a room's events in stream order. It holds read-only
// snapshots: admissions may land between calls, which only ever moves
// the timeline forward.
type Builder struct {
	store  *eventstore.Store
	logger *slog.Logger
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("timeline: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{store: cfg.Store, logger: logger}, nil
}

// End returns a token at the room's current live position. Paging
// backward from it yields the most recent events first.
func (b *Builder) End(ctx context.Context, roomID ref.RoomID) (Token, error) {
	pos, err := b.store.StreamPosition(ctx, roomID)
	if err != nil {
		return Token{}, fmt.Errorf("timeline: %w", err)
	}
	return TokenAt(roomID, pos), nil
}

// PageBefore returns up to limit events at or before the token's
// position, newest page first, plus the continuation token for the
// next older page. The same token over the same stored events yields
// the same page.
func (b *Builder) PageBefore(ctx context.Context, roomID ref.RoomID, token Token, limit int) (Page, error) {
	if token.room != roomID {
		return Page{}, fmt.Errorf("timeline: token minted for %s presented against %s", token.room, roomID)
	}
	if limit <= 0 {
		limit = 50
	}

	// EventsBefore returns newest-first; the page is served oldest-
	// first.
	descending, err := b.store.EventsBefore(ctx, roomID, token.pos+1, limit)
	if err != nil {
		return Page{}, fmt.Errorf("timeline: %w", err)
	}
	entries := make([]Entry, len(descending))
	for i, se := range descending {
		entries[len(descending)-1-i] = Entry{Pos: se.Pos, Event: se.Event}
	}

	if err := b.labelGaps(ctx, entries); err != nil {
		return Page{}, err
	}

	page := Page{Entries: entries}
	if len(entries) == 0 || entries[0].Event.Type == event.TypeCreate {
		page.AtStart = true
		return page, nil
	}
	page.Next = TokenAt(roomID, entries[0].Pos-1)
	return page, nil
}

// labelGaps marks entries whose parents are not all stored. One
// missing-reference query covers the whole page.
func (b *Builder) labelGaps(ctx context.Context, entries []Entry) error {
	var parents []ref.EventID
	for _, e := range entries {
		parents = append(parents, e.Event.PrevEvents...)
	}
	if len(parents) == 0 {
		return nil
	}
	missing, err := b.store.MissingEvents(ctx, parents)
	if err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	absent := make(map[ref.EventID]struct{}, len(missing))
	for _, id := range missing {
		absent[id] = struct{}{}
	}
	for i := range entries {
		for _, parent := range entries[i].Event.PrevEvents {
			if _, ok := absent[parent]; ok {
				entries[i].GapBefore = true
				break
			}
		}
	}
	return nil
}
