// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/hearth/event"
)

// Notification is one committed admission as seen by subscribers.
type Notification struct {
	// Pos is the stream position assigned to the event.
	Pos int64

	// Event is the admitted event, as stored.
	Event *event.Event

	// StateDelta holds the state events whose tuples changed in this
	// admission: the event itself for an uncontested state change,
	// or every changed tuple's new occupant after resolution. Empty
	// for timeline events.
	StateDelta []*event.Event
}

// Subscription is an ordered, unbounded queue of a room's committed
// admissions. The publisher never blocks on a slow subscriber; the
// queue grows until drained or the subscription is closed.
type Subscription struct {
	mu     sync.Mutex
	queue  []Notification
	ready  chan struct{}
	closed bool

	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{
		ready:  make(chan struct{}, 1),
		cancel: cancel,
	}
}

// publish appends a notification and signals readiness.
func (s *Subscription) publish(n Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, n)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a signal whenever the queue
// may be non-empty. Signals coalesce; after a receive, drain with Next
// until it reports nothing pending.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Next pops the oldest pending notification. The second return is
// false when the queue is currently empty.
func (s *Subscription) Next() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Notification{}, false
	}
	n := s.queue[0]
	s.queue = s.queue[1:]
	return n, true
}

// Wait blocks until a notification is pending, then pops it. Returns
// the context's error on cancellation.
func (s *Subscription) Wait(ctx context.Context) (Notification, error) {
	for {
		if n, ok := s.Next(); ok {
			return n, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Notification{}, fmt.Errorf("subscription closed")
		}
		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-s.ready:
		}
	}
}

// Close detaches the subscription from its room. Pending
// notifications are discarded. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
