// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"fmt"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// authorizeMember implements the membership state machine. The state
// key names the target user; the sender is the actor performing the
// transition. Which transitions are legal depends on the actor's own
// membership, the target's current membership, the room's join rule,
// and the power thresholds for invite/kick/ban.
func authorizeMember(candidate *event.Event, state Snapshot) error {
	target, err := ref.ParseUserID(candidate.StateKeyValue())
	if err != nil {
		return fmt.Errorf("m.room.member state key: %w", err)
	}
	content, err := event.ParseMember(candidate.Content)
	if err != nil {
		return fmt.Errorf("m.room.member content: %w", err)
	}

	sender := candidate.Sender.String()
	senderMembership := state.membership(sender)
	targetMembership := state.membership(target.String())
	levels, err := state.powerLevels()
	if err != nil {
		return err
	}
	senderLevel := state.userLevel(sender)
	targetLevel := state.userLevel(target.String())

	switch content.Membership {
	case event.MembershipJoin:
		if sender != target.String() {
			return fmt.Errorf("join must be sent by the joining user, not %s", candidate.Sender)
		}
		if targetMembership == event.MembershipBan {
			return fmt.Errorf("%s is banned from the room", target)
		}
		// The creator's first join follows the create event directly;
		// at that point there is no invite to have received.
		if isCreatorFirstJoin(candidate, state) {
			return nil
		}
		switch {
		case targetMembership == event.MembershipJoin:
			// Profile update; already a member.
			return nil
		case targetMembership == event.MembershipInvite:
			return nil
		case state.joinRule() == event.JoinRulePublic:
			return nil
		default:
			return fmt.Errorf("%s cannot join: room is invite-only and no invite is pending", target)
		}

	case event.MembershipInvite:
		if senderMembership != event.MembershipJoin {
			return fmt.Errorf("inviter %s is not joined", candidate.Sender)
		}
		switch targetMembership {
		case event.MembershipJoin:
			return fmt.Errorf("%s is already joined", target)
		case event.MembershipBan:
			return fmt.Errorf("%s is banned from the room", target)
		}
		if senderLevel < levels.InviteLevel() {
			return fmt.Errorf("inviter %s has power %d, invite requires %d", candidate.Sender, senderLevel, levels.InviteLevel())
		}
		return nil

	case event.MembershipLeave:
		if sender == target.String() {
			// Voluntary leave, invite decline, or knock withdrawal.
			switch senderMembership {
			case event.MembershipJoin, event.MembershipInvite, event.MembershipKnock:
				return nil
			case event.MembershipBan:
				return fmt.Errorf("%s is banned and cannot remove their own ban", target)
			default:
				return fmt.Errorf("%s is not in the room", target)
			}
		}
		// Kick, or lifting a ban.
		if senderMembership != event.MembershipJoin {
			return fmt.Errorf("sender %s is not joined", candidate.Sender)
		}
		if targetMembership == event.MembershipBan {
			if senderLevel < levels.BanLevel() {
				return fmt.Errorf("unban requires power %d, sender %s has %d", levels.BanLevel(), candidate.Sender, senderLevel)
			}
			return nil
		}
		if senderLevel < levels.KickLevel() {
			return fmt.Errorf("kick requires power %d, sender %s has %d", levels.KickLevel(), candidate.Sender, senderLevel)
		}
		if senderLevel <= targetLevel {
			return fmt.Errorf("sender %s (power %d) cannot kick %s (power %d)", candidate.Sender, senderLevel, target, targetLevel)
		}
		return nil

	case event.MembershipBan:
		if senderMembership != event.MembershipJoin {
			return fmt.Errorf("sender %s is not joined", candidate.Sender)
		}
		if senderLevel < levels.BanLevel() {
			return fmt.Errorf("ban requires power %d, sender %s has %d", levels.BanLevel(), candidate.Sender, senderLevel)
		}
		if senderLevel <= targetLevel {
			return fmt.Errorf("sender %s (power %d) cannot ban %s (power %d)", candidate.Sender, senderLevel, target, targetLevel)
		}
		return nil

	case event.MembershipKnock:
		if sender != target.String() {
			return fmt.Errorf("knock must be sent by the knocking user, not %s", candidate.Sender)
		}
		switch targetMembership {
		case event.MembershipBan:
			return fmt.Errorf("%s is banned from the room", target)
		case event.MembershipJoin:
			return fmt.Errorf("%s is already joined", target)
		case event.MembershipInvite:
			return fmt.Errorf("%s already holds an invite", target)
		}
		if state.joinRule() == event.JoinRulePublic {
			return fmt.Errorf("room is public; join directly instead of knocking")
		}
		return nil

	default:
		return fmt.Errorf("unknown membership %q", content.Membership)
	}
}

// isCreatorFirstJoin reports whether the candidate is the room
// creator joining directly after the create event: the only parent is
// the create root and the joining user is the creator.
func isCreatorFirstJoin(candidate *event.Event, state Snapshot) bool {
	create := state.Get(event.TypeCreate, "")
	if create == nil || len(candidate.PrevEvents) != 1 || candidate.PrevEvents[0] != create.ID {
		return false
	}
	content, err := event.ParseCreate(create.Content)
	if err != nil {
		return false
	}
	return content.Creator == candidate.Sender.String()
}
