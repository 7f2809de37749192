// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
)

// CreateContent is the content of m.room.create.
type CreateContent struct {
	// Creator is the user ID of the room creator. Kept as a string
	// because it is read back out of stored JSON; the auth engine
	// compares it against sender strings.
	Creator string `json:"creator"`

	// RoomVersion pins which auth-rule and resolution variant
	// applies. Hearth implements one version; the field is recorded
	// and served but only "hearth.1" is accepted for local creation.
	RoomVersion string `json:"room_version,omitempty"`
}

// MemberContent is the content of m.room.member.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// PowerLevelsContent is the content of m.room.power_levels. All
// thresholds default per defaultPowerLevels when the field is absent;
// pointer fields distinguish "absent" from "zero".
type PowerLevelsContent struct {
	// Users maps user ID → power level. Absent users get UsersDefault.
	Users map[string]int64 `json:"users,omitempty"`

	UsersDefault  int64 `json:"users_default,omitempty"`
	EventsDefault int64 `json:"events_default,omitempty"`

	// StateDefault is the threshold for state events whose type has
	// no entry in Events. Defaults to 50 when the field is absent —
	// the pointer distinguishes an explicit 0 from absence.
	StateDefault *int64 `json:"state_default,omitempty"`

	// Events maps event type → required level, overriding
	// EventsDefault/StateDefault for that type.
	Events map[string]int64 `json:"events,omitempty"`

	Invite *int64 `json:"invite,omitempty"`
	Kick   *int64 `json:"kick,omitempty"`
	Ban    *int64 `json:"ban,omitempty"`
	Redact *int64 `json:"redact,omitempty"`
}

// Join rule values for m.room.join_rules content.
const (
	JoinRulePublic = "public"
	JoinRuleInvite = "invite"
)

// JoinRulesContent is the content of m.room.join_rules.
type JoinRulesContent struct {
	// JoinRule is "public" (anyone may join) or "invite" (membership
	// must be preceded by an invite). Other published rules
	// (knock, restricted) are stored verbatim but treated as invite.
	JoinRule string `json:"join_rule"`
}

// HistoryVisibilityContent is the content of m.room.history_visibility.
type HistoryVisibilityContent struct {
	HistoryVisibility string `json:"history_visibility"`
}

// ParseCreate decodes an m.room.create content payload.
func ParseCreate(content json.RawMessage) (CreateContent, error) {
	var c CreateContent
	if err := json.Unmarshal(content, &c); err != nil {
		return c, fmt.Errorf("parsing m.room.create content: %w", err)
	}
	return c, nil
}

// ParseMember decodes an m.room.member content payload and checks the
// membership value is one the state machine knows.
func ParseMember(content json.RawMessage) (MemberContent, error) {
	var c MemberContent
	if err := json.Unmarshal(content, &c); err != nil {
		return c, fmt.Errorf("parsing m.room.member content: %w", err)
	}
	switch c.Membership {
	case MembershipInvite, MembershipJoin, MembershipLeave, MembershipBan, MembershipKnock:
		return c, nil
	case "":
		return c, fmt.Errorf("m.room.member content missing membership")
	default:
		return c, fmt.Errorf("unknown membership %q", c.Membership)
	}
}

// ParsePowerLevels decodes an m.room.power_levels content payload.
func ParsePowerLevels(content json.RawMessage) (PowerLevelsContent, error) {
	var c PowerLevelsContent
	if err := json.Unmarshal(content, &c); err != nil {
		return c, fmt.Errorf("parsing m.room.power_levels content: %w", err)
	}
	return c, nil
}

// ParseJoinRules decodes an m.room.join_rules content payload.
func ParseJoinRules(content json.RawMessage) (JoinRulesContent, error) {
	var c JoinRulesContent
	if err := json.Unmarshal(content, &c); err != nil {
		return c, fmt.Errorf("parsing m.room.join_rules content: %w", err)
	}
	if c.JoinRule == "" {
		return c, fmt.Errorf("m.room.join_rules content missing join_rule")
	}
	return c, nil
}

// Threshold levels when no power_levels event exists yet (only the
// creator acts in that window) and defaults for absent fields.
const (
	// CreatorDefaultPower is the level the creator holds before the
	// first power_levels event, and the default granted in the first
	// power_levels event hearth builds for a new room.
	CreatorDefaultPower int64 = 100

	// ModerationDefaultPower is the default threshold for invite-,
	// kick-, ban-, redact-, and state-changing operations.
	ModerationDefaultPower int64 = 50
)

// UserLevel returns the effective power level for a user.
func (c *PowerLevelsContent) UserLevel(userID string) int64 {
	if level, ok := c.Users[userID]; ok {
		return level
	}
	return c.UsersDefault
}

// EventLevel returns the threshold required to send an event of the
// given type, honoring per-type overrides and the state/timeline
// defaults.
func (c *PowerLevelsContent) EventLevel(eventType string, isState bool) int64 {
	if level, ok := c.Events[eventType]; ok {
		return level
	}
	if isState {
		if c.StateDefault != nil {
			return *c.StateDefault
		}
		return ModerationDefaultPower
	}
	return c.EventsDefault
}

// InviteLevel returns the threshold to invite a user.
func (c *PowerLevelsContent) InviteLevel() int64 {
	if c.Invite != nil {
		return *c.Invite
	}
	return 0
}

// KickLevel returns the threshold to kick a user.
func (c *PowerLevelsContent) KickLevel() int64 {
	if c.Kick != nil {
		return *c.Kick
	}
	return ModerationDefaultPower
}

// BanLevel returns the threshold to ban a user.
func (c *PowerLevelsContent) BanLevel() int64 {
	if c.Ban != nil {
		return *c.Ban
	}
	return ModerationDefaultPower
}

// RedactLevel returns the threshold to redact another user's events.
func (c *PowerLevelsContent) RedactLevel() int64 {
	if c.Redact != nil {
		return *c.Redact
	}
	return ModerationDefaultPower
}
