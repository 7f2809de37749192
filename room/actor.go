// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/hearth/authrules"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/stateres"
)

// Origin says which path an event arrived on. It decides the
// rejection semantics: hard errors locally, soft-fail for federation.
type Origin int

const (
	OriginLocal Origin = iota
	OriginFederation
)

// Outcome of a successful Submit call.
type Outcome int

const (
	// OutcomeAdmitted means the event was stored with full effect.
	OutcomeAdmitted Outcome = iota

	// OutcomeDuplicate means an identical event was already stored.
	OutcomeDuplicate

	// OutcomeSoftFailed means a federation-sourced event failed
	// authorization and was stored without effect.
	OutcomeSoftFailed
)

// SubmitResult reports the outcome and the event's stream position.
type SubmitResult struct {
	Outcome   Outcome
	StreamPos int64
}

// submitRequest is one queued admission.
type submitRequest struct {
	event  *event.Event
	origin Origin
	reply  chan submitReply
}

type submitReply struct {
	result SubmitResult
	err    error
}

// actor is the single writer for one room. All mutating operations
// funnel through its request channel and execute one at a time.
type actor struct {
	roomID  ref.RoomID
	store   *eventstore.Store
	logger  *slog.Logger
	onAdmit func()

	requests chan *submitRequest

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
}

func newActor(roomID ref.RoomID, store *eventstore.Store, logger *slog.Logger, onAdmit func()) *actor {
	return &actor{
		roomID:   roomID,
		store:    store,
		logger:   logger.With("room", roomID.String()),
		onAdmit:  onAdmit,
		requests: make(chan *submitRequest, 64),
		subs:     make(map[uint64]*Subscription),
	}
}

// run processes admissions until the manager's context is cancelled.
// An admission in flight always completes; cancellation only stops
// the intake of new requests.
func (a *actor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			a.handle(req)
		}
	}
}

func (a *actor) handle(req *submitRequest) {
	result, delta, err := a.admit(req.event, req.origin)
	if err == nil && result.Outcome == OutcomeAdmitted {
		// Publish before replying: by the time the submitter hears
		// "admitted", every subscriber already holds the event.
		a.publish(Notification{
			Pos:        result.StreamPos,
			Event:      req.event,
			StateDelta: delta,
		})
		a.onAdmit()
	}
	req.reply <- submitReply{result: result, err: err}
}

// admit runs the full admission pipeline for one event. It returns
// the state delta to publish along with the result.
func (a *actor) admit(e *event.Event, origin Origin) (SubmitResult, []*event.Event, error) {
	ctx := context.Background()

	if err := e.Validate(); err != nil {
		return SubmitResult{}, nil, &MalformedError{Reason: err}
	}
	if err := e.VerifyHash(); err != nil {
		return SubmitResult{}, nil, &MalformedError{Reason: err}
	}

	// Gap detection: every referenced parent and auth event must be
	// held locally before the event can be judged. A redaction also
	// needs its target in hand, since the sender's right to prune it
	// depends on who authored it.
	referenced := append(append([]ref.EventID{}, e.PrevEvents...), e.AuthEvents...)
	if e.Type == event.TypeRedaction && !e.Redacts.IsZero() {
		referenced = append(referenced, e.Redacts)
	}
	missing, err := a.store.MissingEvents(ctx, referenced)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	if len(missing) > 0 {
		return SubmitResult{}, nil, &GapError{RoomID: a.roomID, Missing: missing}
	}

	state, err := a.store.CurrentState(ctx, a.roomID)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	extremities, err := a.store.ForwardExtremities(ctx, a.roomID)
	if err != nil {
		return SubmitResult{}, nil, err
	}

	authState, err := a.authSnapshot(ctx, e, origin, state, extremities)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	authErr := authrules.Authorize(e, authState)
	if authErr == nil && e.Type == event.TypeRedaction && !e.Redacts.IsZero() {
		target, err := a.store.Get(ctx, e.Redacts)
		if err != nil {
			return SubmitResult{}, nil, err
		}
		// Judged against current resolved state: the sender's power
		// in an old branch does not grant prune rights here.
		authErr = authrules.AuthorizeRedactionTarget(e, target, state)
	}
	if authErr != nil {
		if origin == OriginLocal {
			return SubmitResult{}, nil, &RejectedError{EventID: e.ID, Reason: authErr}
		}
		// Soft-fail: keep the graph connected, withhold all effect.
		a.logger.Warn("federation event soft-failed",
			"event", e.ID.String(),
			"type", e.Type,
			"sender", e.Sender.String(),
			"reason", authErr,
		)
		appended, err := a.store.Append(ctx, e, eventstore.AppendOptions{SoftFail: true})
		if err != nil {
			return SubmitResult{}, nil, err
		}
		outcome := OutcomeSoftFailed
		if appended.Outcome == eventstore.OutcomeDuplicate {
			outcome = OutcomeDuplicate
		}
		return SubmitResult{Outcome: outcome, StreamPos: appended.StreamPos}, nil, nil
	}

	opts := eventstore.AppendOptions{}
	var delta []*event.Event
	if contested(e, state, extremities) {
		resolved, err := a.resolveContested(ctx, e, state)
		if err != nil {
			return SubmitResult{}, nil, fmt.Errorf("room %s: state resolution: %w", a.roomID, err)
		}
		opts.ResolvedState = resolved
		delta = stateDelta(state, resolved)
	} else if e.IsState() {
		delta = []*event.Event{e}
	}

	appended, err := a.store.Append(ctx, e, opts)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	if appended.Outcome == eventstore.OutcomeDuplicate {
		return SubmitResult{Outcome: OutcomeDuplicate, StreamPos: appended.StreamPos}, nil, nil
	}
	a.logger.Debug("event admitted",
		"event", e.ID.String(),
		"type", e.Type,
		"stream_pos", appended.StreamPos,
	)
	return SubmitResult{Outcome: OutcomeAdmitted, StreamPos: appended.StreamPos}, delta, nil
}

// authSnapshot picks the state the event is judged against. Events
// extending the current frontier are judged against current resolved
// state. A federation event branching from an older point is judged
// against the state its auth_events describe — the current mapping may
// postdate the branch it extends.
func (a *actor) authSnapshot(ctx context.Context, e *event.Event, origin Origin, state authrules.Snapshot, extremities []ref.EventID) (authrules.Snapshot, error) {
	if origin == OriginLocal || e.Type == event.TypeCreate || withinFrontier(e.PrevEvents, extremities) {
		return state, nil
	}
	snapshot := authrules.Snapshot{}
	for _, id := range e.AuthEvents {
		auth, err := a.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if auth.IsState() {
			snapshot[auth.Tuple()] = auth
		}
	}
	return snapshot, nil
}

// contested reports whether the event is a state event whose tuple is
// already occupied and which does not linearly extend the frontier —
// the case where diverged branches disagree and resolution must run.
func contested(e *event.Event, state authrules.Snapshot, extremities []ref.EventID) bool {
	if !e.IsState() || e.Type == event.TypeCreate {
		return false
	}
	if state.Get(e.Type, e.StateKeyValue()) == nil {
		return false
	}
	return !coversFrontier(e.PrevEvents, extremities)
}

// resolveContested merges the current state with the branch the
// candidate represents: identical everywhere except the contested
// tuple, which resolution decides.
func (a *actor) resolveContested(ctx context.Context, e *event.Event, state authrules.Snapshot) (authrules.Snapshot, error) {
	branch := state.Clone()
	branch[e.Tuple()] = e
	return stateres.Resolve(
		[]authrules.Snapshot{state, branch},
		func(id ref.EventID) (*event.Event, error) {
			return a.store.Get(ctx, id)
		},
	)
}

// stateDelta returns the new occupants of every tuple that changed
// between two snapshots, ordered deterministically by tuple.
func stateDelta(before, after authrules.Snapshot) []*event.Event {
	var delta []*event.Event
	for tuple, e := range after {
		if prior := before[tuple]; prior == nil || prior.ID != e.ID {
			delta = append(delta, e)
		}
	}
	sortByTuple(delta)
	return delta
}

// sortByTuple orders state events by type, then state key.
func sortByTuple(events []*event.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i].Tuple(), events[j].Tuple()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.StateKey < b.StateKey
	})
}

// coversFrontier reports whether prev includes every current
// extremity: the event merges or linearly extends the whole frontier.
func coversFrontier(prev []ref.EventID, extremities []ref.EventID) bool {
	if len(extremities) == 0 {
		return false
	}
	set := make(map[ref.EventID]struct{}, len(prev))
	for _, id := range prev {
		set[id] = struct{}{}
	}
	for _, id := range extremities {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// withinFrontier reports whether every parent is a current extremity.
func withinFrontier(prev []ref.EventID, extremities []ref.EventID) bool {
	set := make(map[ref.EventID]struct{}, len(extremities))
	for _, id := range extremities {
		set[id] = struct{}{}
	}
	for _, id := range prev {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// subscribe registers a new subscription with the actor.
func (a *actor) subscribe() *Subscription {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.nextSub
	a.nextSub++
	sub := newSubscription(func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	})
	a.subs[id] = sub
	return sub
}

// publish delivers a committed admission to every subscriber.
func (a *actor) publish(n Notification) {
	a.subMu.Lock()
	subs := make([]*Subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	a.subMu.Unlock()
	for _, sub := range subs {
		sub.publish(n)
	}
}
