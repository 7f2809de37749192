// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/hearth/authrules"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// compose builds and signs a local event at the room's current
// frontier: prev_events are the forward extremities, depth is one past
// the deepest parent, and auth_events are selected from the current
// resolved state. The returned event is sealed and ready for
// submission.
func (a *API) compose(ctx context.Context, roomID ref.RoomID, sender ref.UserID, eventType string, stateKey *string, content any, redacts ref.EventID) (*event.Event, error) {
	extremities, err := a.store.ForwardExtremities(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(extremities) == 0 {
		return nil, Errorf(http.StatusNotFound, CodeNotFound, "room %s not found", roomID)
	}
	var maxDepth int64
	for _, id := range extremities {
		parent, err := a.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading extremity %s: %w", id, err)
		}
		if parent.Depth > maxDepth {
			maxDepth = parent.Depth
		}
	}

	state, err := a.rooms.CurrentState(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// AuthEventsFor inspects only type, sender, and state key, so a
	// shell of the final event is enough to select its auth chain.
	shell := &event.Event{RoomID: roomID, Sender: sender, Type: eventType, StateKey: stateKey}
	authEvents := authrules.AuthEventsFor(shell, state)

	builder := event.NewBuilder(roomID, sender, eventType).
		WithContent(content).
		WithParents(extremities, maxDepth).
		WithAuthEvents(authEvents)
	if stateKey != nil {
		builder = builder.WithStateKey(*stateKey)
	}
	if !redacts.IsZero() {
		builder = builder.WithRedacts(redacts)
	}
	return builder.Build(a.clock.Now(), a.keys.ServerName(), a.keys.KeyID(), a.keys.PrivateKey())
}

// composeCreate builds the create event for a new room. Unlike
// compose, there is no frontier or state to consult yet.
func (a *API) composeCreate(roomID ref.RoomID, creator ref.UserID) (*event.Event, error) {
	return event.NewBuilder(roomID, creator, event.TypeCreate).
		WithStateKey("").
		WithContent(event.CreateContent{Creator: creator.String(), RoomVersion: "hearth.1"}).
		Build(a.clock.Now(), a.keys.ServerName(), a.keys.KeyID(), a.keys.PrivateKey())
}
