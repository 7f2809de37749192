// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/room"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultTimelineLimit = 100
)

// Config carries the dependencies of a Syncer.
type Config struct {
	// Store is the event store. Required.
	Store *eventstore.Store

	// Rooms is the room manager whose subscriptions wake suspended
	// syncs. Required.
	Rooms *room.Manager

	// Clock drives long-poll timeouts. If nil, wall time.
	Clock clock.Clock

	// DefaultTimeout is the long-poll wait applied when a request does
	// not name one. Defaults to 30s if zero.
	DefaultTimeout time.Duration

	// TimelineLimit caps timeline events per room per response when a
	// request does not name a limit. Defaults to 100 if zero.
	TimelineLimit int

	// Logger receives sync logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// Request is one sync call.
type Request struct {
	DeviceID ref.DeviceID
	UserID   ref.UserID

	// Since is the token from the previous response. Empty means an
	// initial sync from the beginning of every joined room.
	Since string

	// Timeout bounds the long-poll wait. Zero means the default.
	Timeout time.Duration

	// TimelineLimit caps events per room per response. Zero means
	// the default.
	TimelineLimit int
}

// RoomDelta is one room's news since the request's token.
type RoomDelta struct {
	Timeline   []*event.Event
	StateDelta []*event.Event
	Ephemeral  []Payload
}

// Response is a sync result. An empty Rooms map with NextSince equal
// to the request's token is the timeout shape.
type Response struct {
	NextSince string
	Rooms     map[ref.RoomID]RoomDelta
}

// Syncer computes incremental deltas and suspends callers until there
// is something to deliver.
type Syncer struct {
	store          *eventstore.Store
	rooms          *room.Manager
	clock          clock.Clock
	defaultTimeout time.Duration
	timelineLimit  int
	logger         *slog.Logger
	ephemeral      *Ephemeral
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncer: Store is required")
	}
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("syncer: Rooms is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.TimelineLimit
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	return &Syncer{
		store:          cfg.Store,
		rooms:          cfg.Rooms,
		clock:          clk,
		defaultTimeout: timeout,
		timelineLimit:  limit,
		logger:         logger,
		ephemeral:      NewEphemeral(clk),
	}, nil
}

// Ephemeral exposes the tracker so transport handlers can feed typing
// notices and receipts into it.
func (s *Syncer) Ephemeral() *Ephemeral { return s.ephemeral }

// Sync returns the device's delta since the token, suspending until
// data arrives or the timeout elapses. A timeout is a success: empty
// deltas, token unchanged. The only errors are malformed requests and
// store failures.
func (s *Syncer) Sync(ctx context.Context, req Request) (*Response, error) {
	cursors, err := decodeToken(req.Since)
	if err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	limit := req.TimelineLimit
	if limit <= 0 {
		limit = s.timelineLimit
	}

	wait := newWaitSet()
	defer wait.close()
	expired := s.clock.After(timeout)

	for {
		joined, err := s.store.JoinedRooms(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("syncer: %w", err)
		}
		// Watch before reading, so an admission between the read and
		// the suspension still wakes us.
		if err := wait.watch(s, joined); err != nil {
			return nil, err
		}

		response, changed, err := s.collect(ctx, req, joined, cursors, limit)
		if err != nil {
			return nil, err
		}
		if changed {
			if err := s.persistCursors(ctx, req.DeviceID, cursors); err != nil {
				return nil, err
			}
			return response, nil
		}

		select {
		case <-wait.wake:
			wait.drain()
		case <-expired:
			return &Response{NextSince: req.Since, Rooms: map[ref.RoomID]RoomDelta{}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// collect computes the delta for every joined room, advancing cursors
// in place. changed reports whether anything is worth delivering.
func (s *Syncer) collect(ctx context.Context, req Request, joined []ref.RoomID, cursors map[ref.RoomID]cursor, limit int) (*Response, bool, error) {
	response := &Response{Rooms: make(map[ref.RoomID]RoomDelta)}
	changed := false

	for _, roomID := range joined {
		c := cursors[roomID]
		delta, next, err := s.roomDelta(ctx, roomID, c, limit)
		if err != nil {
			return nil, false, err
		}
		if next != c {
			cursors[roomID] = next
			changed = true
		}
		if len(delta.Timeline) > 0 || len(delta.StateDelta) > 0 || len(delta.Ephemeral) > 0 {
			response.Rooms[roomID] = delta
		}
	}

	if !changed {
		return nil, false, nil
	}
	token, err := encodeToken(cursors)
	if err != nil {
		return nil, false, err
	}
	response.NextSince = token
	return response, true, nil
}

func (s *Syncer) roomDelta(ctx context.Context, roomID ref.RoomID, c cursor, limit int) (RoomDelta, cursor, error) {
	var delta RoomDelta
	events, err := s.store.EventsAfter(ctx, roomID, c.Pos, limit)
	if err != nil {
		return delta, c, fmt.Errorf("syncer: %w", err)
	}
	next := c
	for _, se := range events {
		delta.Timeline = append(delta.Timeline, se.Event)
		next.Pos = se.Pos
	}

	if next.Pos > c.Pos {
		stateDelta, err := s.stateDelta(ctx, roomID, c.Pos, next.Pos)
		if err != nil {
			return delta, c, err
		}
		delta.StateDelta = stateDelta
	}

	payloads, version := s.ephemeral.Snapshot(roomID)
	if version != c.Ephemeral {
		delta.Ephemeral = payloads
		next.Ephemeral = version
	}
	return delta, next, nil
}

// stateDelta returns the occupants of every state tuple that changed
// between the two positions, ordered by type then state key.
// Resolution can reinstate an older event as a tuple's occupant, so
// this is a snapshot diff rather than a filter over the new timeline
// events.
func (s *Syncer) stateDelta(ctx context.Context, roomID ref.RoomID, from, to int64) ([]*event.Event, error) {
	before, err := s.stateView(ctx, roomID, from)
	if err != nil {
		return nil, err
	}
	after, err := s.stateView(ctx, roomID, to)
	if err != nil {
		return nil, err
	}
	var delta []*event.Event
	for tuple, e := range after {
		if prior := before[tuple]; prior == nil || prior.ID != e.ID {
			delta = append(delta, e)
		}
	}
	sort.Slice(delta, func(i, j int) bool {
		a, b := delta[i].Tuple(), delta[j].Tuple()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.StateKey < b.StateKey
	})
	return delta, nil
}

// stateView reads the state as of a position, using the live resolved
// mapping when the position is the room's current tip.
func (s *Syncer) stateView(ctx context.Context, roomID ref.RoomID, pos int64) (map[event.StateTuple]*event.Event, error) {
	tip, err := s.store.StreamPosition(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}
	if pos >= tip {
		state, err := s.store.CurrentState(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("syncer: %w", err)
		}
		return state, nil
	}
	state, err := s.store.StateAt(ctx, roomID, pos)
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}
	return state, nil
}

func (s *Syncer) persistCursors(ctx context.Context, deviceID ref.DeviceID, cursors map[ref.RoomID]cursor) error {
	positions := make(map[ref.RoomID]int64, len(cursors))
	for roomID, c := range cursors {
		positions[roomID] = c.Pos
	}
	if err := s.store.SetCursors(ctx, deviceID, positions); err != nil {
		return fmt.Errorf("syncer: %w", err)
	}
	return nil
}

// waitSet merges the wake signals the device's delta can depend on:
// every admission anywhere on the server (the joined-room set itself
// changes through admissions, so per-room watching alone would miss a
// room joined mid-wait) and the ephemeral channels of watched rooms.
type waitSet struct {
	wake    chan struct{}
	stop    chan struct{}
	global  bool
	watched map[ref.RoomID]struct{}
	cleanup []func()
}

func newWaitSet() *waitSet {
	return &waitSet{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		watched: make(map[ref.RoomID]struct{}),
	}
}

// watch covers the admission signal once and adds ephemeral
// forwarders for rooms not yet covered.
func (w *waitSet) watch(s *Syncer, joined []ref.RoomID) error {
	if !w.global {
		w.global = true
		admissions, unwatch := s.rooms.WatchAdmissions()
		w.cleanup = append(w.cleanup, unwatch)
		go w.forward(admissions)
	}
	for _, roomID := range joined {
		if _, ok := w.watched[roomID]; ok {
			continue
		}
		w.watched[roomID] = struct{}{}

		ephemeralCh, unwatch := s.ephemeral.watch(roomID)
		w.cleanup = append(w.cleanup, unwatch)
		go w.forward(ephemeralCh)
	}
	return nil
}

func (w *waitSet) forward(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case <-w.stop:
			return
		}
	}
}

func (w *waitSet) drain() {
	for {
		select {
		case <-w.wake:
		default:
			return
		}
	}
}

func (w *waitSet) close() {
	close(w.stop)
	for _, f := range w.cleanup {
		f()
	}
}
