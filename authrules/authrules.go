// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"fmt"

	"github.com/bureau-foundation/hearth/event"
)

// Snapshot is a resolved room state mapping: one authoritative event
// per (type, state_key) pair. The zero-length map is the state of a
// room that does not exist yet, which only an m.room.create may enter.
//
// Snapshots are treated as immutable by Authorize. State resolution
// builds cumulative snapshots by copying and inserting.
type Snapshot map[event.StateTuple]*event.Event

// Clone returns a shallow copy of the snapshot. The events themselves
// are immutable and shared.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for tuple, e := range s {
		out[tuple] = e
	}
	return out
}

// Get returns the state event occupying the given (type, state_key)
// pair, or nil.
func (s Snapshot) Get(eventType, stateKey string) *event.Event {
	return s[event.StateTuple{Type: eventType, StateKey: stateKey}]
}

// ruleFunc checks one event type against the snapshot. A non-nil
// error is a rejection reason.
type ruleFunc func(candidate *event.Event, state Snapshot) error

// rules dispatches by event type. Types absent from this table are
// denied by Authorize — there is no generic "anything goes" rule.
var rules = map[string]ruleFunc{
	event.TypeMember:            authorizeMember,
	event.TypePowerLevels:       authorizePowerLevels,
	event.TypeJoinRules:         authorizeStateChange,
	event.TypeHistoryVisibility: authorizeStateChange,
	event.TypeName:              authorizeStateChange,
	event.TypeTopic:             authorizeStateChange,
	event.TypeRedaction:         authorizeRedaction,
	event.TypeMessage:           authorizeTimeline,
}

// Authorize checks a candidate event against a resolved state
// snapshot. A nil return means the event is allowed; any error is the
// rejection reason. Authorize never mutates the snapshot.
func Authorize(candidate *event.Event, state Snapshot) error {
	if candidate.Type == event.TypeCreate {
		return authorizeCreate(candidate, state)
	}

	create := state.Get(event.TypeCreate, "")
	if create == nil {
		return fmt.Errorf("room has no m.room.create in state")
	}

	rule, known := rules[candidate.Type]
	if !known {
		return fmt.Errorf("no auth rule for event type %q", candidate.Type)
	}
	return rule(candidate, state)
}

// authorizeCreate admits the unique graph root. The room must not
// already exist in the snapshot, the creator named in content must be
// the sender, and the room must live on the sender's server.
func authorizeCreate(candidate *event.Event, state Snapshot) error {
	if len(state) != 0 {
		return fmt.Errorf("m.room.create in a room that already has state")
	}
	if len(candidate.PrevEvents) != 0 {
		return fmt.Errorf("m.room.create must be the graph root")
	}
	content, err := event.ParseCreate(candidate.Content)
	if err != nil {
		return fmt.Errorf("m.room.create content: %w", err)
	}
	if content.Creator != candidate.Sender.String() {
		return fmt.Errorf("m.room.create creator %q is not the sender %s", content.Creator, candidate.Sender)
	}
	if candidate.RoomID.Server() != candidate.Sender.Server() {
		return fmt.Errorf("room %s is not on the creator's server %s", candidate.RoomID, candidate.Sender.Server())
	}
	return nil
}

// authorizeStateChange is the generic rule for known state types
// without their own state machine: the sender must be joined and meet
// the type's power threshold.
func authorizeStateChange(candidate *event.Event, state Snapshot) error {
	if err := requireJoined(candidate, state); err != nil {
		return err
	}
	return requireEventLevel(candidate, state)
}

// authorizeTimeline is the rule for known timeline (non-state) types.
func authorizeTimeline(candidate *event.Event, state Snapshot) error {
	if err := requireJoined(candidate, state); err != nil {
		return err
	}
	return requireEventLevel(candidate, state)
}

// authorizeRedaction admits a redaction into the graph on the same
// terms as any timeline event. Whether the sender may actually prune
// the target is a separate judgement, AuthorizeRedactionTarget, made
// at the admission point once the target event is in hand.
func authorizeRedaction(candidate *event.Event, state Snapshot) error {
	if err := requireJoined(candidate, state); err != nil {
		return err
	}
	return requireEventLevel(candidate, state)
}

// AuthorizeRedactionTarget judges whether a redaction's sender may
// prune its target: the sender must have authored the target, or hold
// power at or above the room's redact threshold. It is not part of
// the dispatch table because the target event is not in the state
// snapshot; the caller fetches it and supplies both.
func AuthorizeRedactionTarget(candidate, target *event.Event, state Snapshot) error {
	if target.RoomID != candidate.RoomID {
		return fmt.Errorf("redaction target %s belongs to another room", target.ID)
	}
	if candidate.Sender == target.Sender {
		return nil
	}
	levels, err := state.powerLevels()
	if err != nil {
		return err
	}
	senderLevel := state.userLevel(candidate.Sender.String())
	required := levels.RedactLevel()
	if senderLevel < required {
		return fmt.Errorf("sender %s has power %d, redacting another user's event requires %d", candidate.Sender, senderLevel, required)
	}
	return nil
}

// requireJoined rejects unless the sender's current membership in the
// snapshot is join.
func requireJoined(candidate *event.Event, state Snapshot) error {
	membership := state.membership(candidate.Sender.String())
	if membership != event.MembershipJoin {
		return fmt.Errorf("sender %s is not joined (membership %q)", candidate.Sender, membership)
	}
	return nil
}

// requireEventLevel rejects unless the sender's power level meets the
// threshold for the candidate's type.
func requireEventLevel(candidate *event.Event, state Snapshot) error {
	levels, err := state.powerLevels()
	if err != nil {
		return err
	}
	senderLevel := state.userLevel(candidate.Sender.String())
	required := levels.EventLevel(candidate.Type, candidate.IsState())
	if senderLevel < required {
		return fmt.Errorf("sender %s has power %d, %s requires %d", candidate.Sender, senderLevel, candidate.Type, required)
	}
	return nil
}
