// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"fmt"

	"github.com/bureau-foundation/hearth/event"
)

// authorizePowerLevels gates changes to m.room.power_levels. Beyond
// the generic state threshold, the change itself is constrained: the
// sender cannot hand out power above their own level, and cannot
// touch the level of a user at or above their own level — except to
// lower themselves.
func authorizePowerLevels(candidate *event.Event, state Snapshot) error {
	if err := requireJoined(candidate, state); err != nil {
		return err
	}
	if err := requireEventLevel(candidate, state); err != nil {
		return err
	}

	proposed, err := event.ParsePowerLevels(candidate.Content)
	if err != nil {
		return fmt.Errorf("m.room.power_levels content: %w", err)
	}

	// The room's first power-levels event establishes the structure;
	// there are no prior assignments to protect.
	if state.Get(event.TypePowerLevels, "") == nil {
		return nil
	}

	current, err := state.powerLevels()
	if err != nil {
		return err
	}
	sender := candidate.Sender.String()
	senderLevel := state.userLevel(sender)

	// No assignment in the proposed event may exceed the sender's own
	// level: user levels, the defaults, per-type thresholds, or the
	// action thresholds.
	for userID, level := range proposed.Users {
		if level > senderLevel {
			return fmt.Errorf("cannot set %s to power %d above own level %d", userID, level, senderLevel)
		}
	}
	for eventType, level := range proposed.Events {
		if level > senderLevel {
			return fmt.Errorf("cannot set threshold for %s to %d above own level %d", eventType, level, senderLevel)
		}
	}
	thresholds := []struct {
		name  string
		level int64
	}{
		{"users_default", proposed.UsersDefault},
		{"events_default", proposed.EventsDefault},
		{"state_default", derefOr(proposed.StateDefault, event.ModerationDefaultPower)},
		{"invite", derefOr(proposed.Invite, 0)},
		{"kick", derefOr(proposed.Kick, event.ModerationDefaultPower)},
		{"ban", derefOr(proposed.Ban, event.ModerationDefaultPower)},
		{"redact", derefOr(proposed.Redact, event.ModerationDefaultPower)},
	}
	for _, t := range thresholds {
		if t.level > senderLevel {
			return fmt.Errorf("cannot set %s to %d above own level %d", t.name, t.level, senderLevel)
		}
	}

	// Changing an existing user's level requires outranking them. The
	// sender may always lower (never raise) their own level.
	touched := make(map[string]struct{}, len(current.Users)+len(proposed.Users))
	for userID := range current.Users {
		touched[userID] = struct{}{}
	}
	for userID := range proposed.Users {
		touched[userID] = struct{}{}
	}
	for userID := range touched {
		before := current.UserLevel(userID)
		after := proposed.UserLevel(userID)
		if before == after {
			continue
		}
		if userID == sender {
			if after > before {
				return fmt.Errorf("sender %s cannot raise their own level from %d to %d", sender, before, after)
			}
			continue
		}
		if before >= senderLevel {
			return fmt.Errorf("cannot change level of %s (power %d) without outranking them", userID, before)
		}
	}
	return nil
}

func derefOr(p *int64, fallback int64) int64 {
	if p != nil {
		return *p
	}
	return fallback
}
