// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hearth/authrules"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Config carries the dependencies of a Manager.
type Config struct {
	// Store is the event store backing every room. Required.
	Store *eventstore.Store

	// Logger receives admission logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// Manager routes events to per-room actors, creating each actor on
// first use. One Manager owns all rooms on the server.
type Manager struct {
	store  *eventstore.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	actors map[ref.RoomID]*actor
	closed bool

	watchMu     sync.Mutex
	watchers    map[uint64]chan struct{}
	nextWatcher uint64
}

// NewManager creates a Manager. It holds no resources beyond the
// actors it spawns; Close stops them.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("room manager: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    cfg.Store,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[ref.RoomID]*actor),
		watchers: make(map[uint64]chan struct{}),
	}, nil
}

// Submit queues an event for admission on its room's actor and waits
// for the outcome. Submissions to the same room are processed strictly
// in the order they were queued. When Submit returns without error,
// every subscriber has already been handed the event.
func (m *Manager) Submit(ctx context.Context, e *event.Event, origin Origin) (SubmitResult, error) {
	a, err := m.actorFor(e.RoomID)
	if err != nil {
		return SubmitResult{}, err
	}
	req := &submitRequest{
		event:  e,
		origin: origin,
		reply:  make(chan submitReply, 1),
	}
	select {
	case a.requests <- req:
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-m.ctx.Done():
		return SubmitResult{}, fmt.Errorf("room manager: closed")
	}
	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-m.ctx.Done():
		return SubmitResult{}, fmt.Errorf("room manager: closed")
	}
}

// CurrentState returns the room's resolved state, one event per tuple.
func (m *Manager) CurrentState(ctx context.Context, roomID ref.RoomID) (authrules.Snapshot, error) {
	return m.store.CurrentState(ctx, roomID)
}

// Subscribe attaches a subscription to the room's admission stream.
// Close the subscription to detach.
func (m *Manager) Subscribe(roomID ref.RoomID) (*Subscription, error) {
	a, err := m.actorFor(roomID)
	if err != nil {
		return nil, err
	}
	return a.subscribe(), nil
}

// WatchAdmissions returns a coalescing channel signalled after every
// admission in any room, and a cancel function detaching it. Waiters
// whose room set can grow mid-wait (a sync picking up a room the user
// just joined) watch this alongside their per-room subscriptions.
func (m *Manager) WatchAdmissions() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.watchMu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch
	m.watchMu.Unlock()
	return ch, func() {
		m.watchMu.Lock()
		delete(m.watchers, id)
		m.watchMu.Unlock()
	}
}

func (m *Manager) signalAdmission() {
	m.watchMu.Lock()
	for _, ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.watchMu.Unlock()
}

func (m *Manager) actorFor(roomID ref.RoomID) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("room manager: closed")
	}
	a, ok := m.actors[roomID]
	if !ok {
		a = newActor(roomID, m.store, m.logger, m.signalAdmission)
		m.actors[roomID] = a
		go a.run(m.ctx)
	}
	return a, nil
}

// Close stops all actors. Admissions in flight complete; queued but
// unstarted submissions are abandoned.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	actors := make([]*actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	m.cancel()
	for _, a := range actors {
		a.subMu.Lock()
		subs := make([]*Subscription, 0, len(a.subs))
		for _, sub := range a.subs {
			subs = append(subs, sub)
		}
		a.subMu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
	}
}
