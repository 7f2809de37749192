// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"fmt"

	"github.com/bureau-foundation/hearth/event"
)

// membership returns the user's current membership in the snapshot,
// or leave if no member event exists for them.
func (s Snapshot) membership(userID string) string {
	member := s.Get(event.TypeMember, userID)
	if member == nil {
		return event.MembershipLeave
	}
	content, err := event.ParseMember(member.Content)
	if err != nil {
		// A member event with unparsable content was admitted by an
		// earlier rule pass; treat the user as absent rather than
		// letting one bad event wedge the room.
		return event.MembershipLeave
	}
	return content.Membership
}

// powerLevels returns the room's power-levels content, or the zero
// value (all thresholds at their documented defaults) when the room
// has no m.room.power_levels yet.
func (s Snapshot) powerLevels() (event.PowerLevelsContent, error) {
	levels := s.Get(event.TypePowerLevels, "")
	if levels == nil {
		return event.PowerLevelsContent{}, nil
	}
	content, err := event.ParsePowerLevels(levels.Content)
	if err != nil {
		return event.PowerLevelsContent{}, fmt.Errorf("m.room.power_levels content: %w", err)
	}
	return content, nil
}

// userLevel returns a user's effective power level. Before the room
// has a power-levels event, the creator holds the default creator
// power and everyone else is at zero.
func (s Snapshot) userLevel(userID string) int64 {
	if levels := s.Get(event.TypePowerLevels, ""); levels != nil {
		content, err := event.ParsePowerLevels(levels.Content)
		if err != nil {
			return 0
		}
		return content.UserLevel(userID)
	}
	if create := s.Get(event.TypeCreate, ""); create != nil {
		if content, err := event.ParseCreate(create.Content); err == nil && content.Creator == userID {
			return event.CreatorDefaultPower
		}
	}
	return 0
}

// joinRule returns the room's join rule, defaulting to invite. Rules
// hearth does not implement (knock, restricted) also gate as invite.
func (s Snapshot) joinRule() string {
	rules := s.Get(event.TypeJoinRules, "")
	if rules == nil {
		return event.JoinRuleInvite
	}
	content, err := event.ParseJoinRules(rules.Content)
	if err != nil || content.JoinRule != event.JoinRulePublic {
		return event.JoinRuleInvite
	}
	return event.JoinRulePublic
}
