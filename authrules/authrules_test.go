// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"encoding/json"
	"testing"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

var (
	room  = ref.MustParseRoomID("!room:hearth.local")
	alice = ref.MustParseUserID("@alice:hearth.local")
	bob   = ref.MustParseUserID("@bob:hearth.local")
	carol = ref.MustParseUserID("@carol:hearth.local")
)

// stateEvent constructs a state event for snapshot fixtures. The ID is
// assigned, not content-derived; auth rules treat IDs as opaque.
func stateEvent(t *testing.T, id string, eventType string, stateKey string, sender ref.UserID, content any) *event.Event {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshaling fixture content: %v", err)
	}
	return &event.Event{
		ID:       ref.MustParseEventID(id),
		RoomID:   room,
		Sender:   sender,
		Type:     eventType,
		StateKey: &stateKey,
		Content:  raw,
	}
}

// roomFixture returns the state of a room created by alice, with bob
// joined: create, power levels (alice 100), join rules invite, and
// both member events.
func roomFixture(t *testing.T) Snapshot {
	t.Helper()
	s := Snapshot{}
	for _, e := range []*event.Event{
		stateEvent(t, "$create", event.TypeCreate, "", alice, event.CreateContent{Creator: alice.String(), RoomVersion: "hearth.1"}),
		stateEvent(t, "$power", event.TypePowerLevels, "", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 100}}),
		stateEvent(t, "$joinrules", event.TypeJoinRules, "", alice, event.JoinRulesContent{JoinRule: event.JoinRuleInvite}),
		stateEvent(t, "$alicejoin", event.TypeMember, alice.String(), alice, event.MemberContent{Membership: event.MembershipJoin}),
		stateEvent(t, "$bobjoin", event.TypeMember, bob.String(), bob, event.MemberContent{Membership: event.MembershipJoin}),
	} {
		s[e.Tuple()] = e
	}
	return s
}

// withMember returns a copy of the snapshot with the user's
// membership replaced.
func withMember(t *testing.T, s Snapshot, user ref.UserID, membership string) Snapshot {
	t.Helper()
	out := s.Clone()
	e := stateEvent(t, "$member-"+user.Localpart(), event.TypeMember, user.String(), user, event.MemberContent{Membership: membership})
	out[e.Tuple()] = e
	return out
}

// withoutMember returns a copy of the snapshot with the user's member
// event removed entirely.
func withoutMember(s Snapshot, user ref.UserID) Snapshot {
	out := s.Clone()
	delete(out, event.StateTuple{Type: event.TypeMember, StateKey: user.String()})
	return out
}

// memberEvent constructs a candidate membership transition.
func memberEvent(t *testing.T, sender ref.UserID, target ref.UserID, membership string) *event.Event {
	t.Helper()
	e := stateEvent(t, "$candidate", event.TypeMember, target.String(), sender, event.MemberContent{Membership: membership})
	e.PrevEvents = []ref.EventID{ref.MustParseEventID("$parent")}
	return e
}

// --- Room creation ---

func TestAuthorizeCreate(t *testing.T) {
	valid := stateEvent(t, "$c", event.TypeCreate, "", alice, event.CreateContent{Creator: alice.String()})
	if err := Authorize(valid, Snapshot{}); err != nil {
		t.Errorf("valid create rejected: %v", err)
	}

	if err := Authorize(valid, roomFixture(t)); err == nil {
		t.Error("create accepted in a room that already has state")
	}

	wrongCreator := stateEvent(t, "$c", event.TypeCreate, "", alice, event.CreateContent{Creator: bob.String()})
	if err := Authorize(wrongCreator, Snapshot{}); err == nil {
		t.Error("create accepted with creator != sender")
	}

	remote := ref.MustParseUserID("@eve:elsewhere.example")
	wrongServer := stateEvent(t, "$c", event.TypeCreate, "", remote, event.CreateContent{Creator: remote.String()})
	if err := Authorize(wrongServer, Snapshot{}); err == nil {
		t.Error("create accepted for a room on another creator's server")
	}
}

func TestNoCreateNoEntry(t *testing.T) {
	message := stateEvent(t, "$m", event.TypeMessage, "", alice, map[string]any{"body": "hi"})
	message.StateKey = nil
	if err := Authorize(message, Snapshot{}); err == nil {
		t.Error("event accepted in a room with no create event")
	}
}

func TestCreatorFirstJoin(t *testing.T) {
	create := stateEvent(t, "$create", event.TypeCreate, "", alice, event.CreateContent{Creator: alice.String()})
	state := Snapshot{create.Tuple(): create}

	join := memberEvent(t, alice, alice, event.MembershipJoin)
	join.PrevEvents = []ref.EventID{create.ID}
	if err := Authorize(join, state); err != nil {
		t.Errorf("creator's first join rejected: %v", err)
	}

	intruder := memberEvent(t, bob, bob, event.MembershipJoin)
	intruder.PrevEvents = []ref.EventID{create.ID}
	if err := Authorize(intruder, state); err == nil {
		t.Error("non-creator joined an invite-only room directly after create")
	}
}

// --- Membership state machine ---

func TestMembershipTransitions(t *testing.T) {
	base := roomFixture(t)
	fifty := int64(50)

	tests := []struct {
		name      string
		state     Snapshot
		candidate *event.Event
		wantAllow bool
	}{
		{"join without invite in invite room", withoutMember(base, bob), memberEvent(t, bob, bob, event.MembershipJoin), false},
		{"join with pending invite", withMember(t, base, bob, event.MembershipInvite), memberEvent(t, bob, bob, event.MembershipJoin), true},
		{"join public room", func() Snapshot {
			s := withoutMember(base, bob).Clone()
			jr := stateEvent(t, "$jr2", event.TypeJoinRules, "", alice, event.JoinRulesContent{JoinRule: event.JoinRulePublic})
			s[jr.Tuple()] = jr
			return s
		}(), memberEvent(t, bob, bob, event.MembershipJoin), true},
		{"banned user joins", withMember(t, base, bob, event.MembershipBan), memberEvent(t, bob, bob, event.MembershipJoin), false},
		{"join on someone else's behalf", base, memberEvent(t, alice, carol, event.MembershipJoin), false},
		{"rejoin while joined", base, memberEvent(t, bob, bob, event.MembershipJoin), true},

		{"invite by joined member", base, memberEvent(t, alice, carol, event.MembershipInvite), true},
		{"invite by outsider", base, memberEvent(t, carol, carol, event.MembershipInvite), false},
		{"invite of banned user", withMember(t, base, carol, event.MembershipBan), memberEvent(t, alice, carol, event.MembershipInvite), false},
		{"invite below threshold", func() Snapshot {
			s := base.Clone()
			p := stateEvent(t, "$p2", event.TypePowerLevels, "", alice, event.PowerLevelsContent{
				Users: map[string]int64{alice.String(): 100}, Invite: &fifty,
			})
			s[p.Tuple()] = p
			return s
		}(), memberEvent(t, bob, carol, event.MembershipInvite), false},

		{"voluntary leave", base, memberEvent(t, bob, bob, event.MembershipLeave), true},
		{"decline invite", withMember(t, base, carol, event.MembershipInvite), memberEvent(t, carol, carol, event.MembershipLeave), true},
		{"self-unban", withMember(t, base, bob, event.MembershipBan), memberEvent(t, bob, bob, event.MembershipLeave), false},
		{"kick by admin", base, memberEvent(t, alice, bob, event.MembershipLeave), true},
		{"kick upward", base, memberEvent(t, bob, alice, event.MembershipLeave), false},
		{"unban by admin", withMember(t, base, bob, event.MembershipBan), memberEvent(t, alice, bob, event.MembershipLeave), true},
		{"unban below threshold", withMember(t, base, carol, event.MembershipBan), memberEvent(t, bob, carol, event.MembershipLeave), false},

		{"ban by admin", base, memberEvent(t, alice, bob, event.MembershipBan), true},
		{"ban below threshold", base, memberEvent(t, bob, carol, event.MembershipBan), false},

		{"knock on invite room", withoutMember(base, bob), memberEvent(t, bob, bob, event.MembershipKnock), true},
		{"knock on public room", func() Snapshot {
			s := withoutMember(base, bob).Clone()
			jr := stateEvent(t, "$jr3", event.TypeJoinRules, "", alice, event.JoinRulesContent{JoinRule: event.JoinRulePublic})
			s[jr.Tuple()] = jr
			return s
		}(), memberEvent(t, bob, bob, event.MembershipKnock), false},
		{"knock while banned", withMember(t, base, bob, event.MembershipBan), memberEvent(t, bob, bob, event.MembershipKnock), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.candidate, tt.state)
			if tt.wantAllow && err != nil {
				t.Errorf("rejected: %v", err)
			}
			if !tt.wantAllow && err == nil {
				t.Error("allowed, want rejection")
			}
		})
	}
}

// --- Generic rules ---

func TestTimelineEventRequiresJoin(t *testing.T) {
	state := roomFixture(t)
	message := stateEvent(t, "$m", event.TypeMessage, "", bob, map[string]any{"msgtype": "m.text", "body": "hi"})
	message.StateKey = nil

	if err := Authorize(message, state); err != nil {
		t.Errorf("message from joined member rejected: %v", err)
	}

	message.Sender = carol
	if err := Authorize(message, state); err == nil {
		t.Error("message from outsider allowed")
	}
}

func TestStateChangeRequiresPower(t *testing.T) {
	state := roomFixture(t)
	name := stateEvent(t, "$n", event.TypeName, "", bob, map[string]any{"name": "Ops"})

	// state_default is 50; bob is at 0.
	if err := Authorize(name, state); err == nil {
		t.Error("state change below threshold allowed")
	}
	name.Sender = alice
	if err := Authorize(name, state); err != nil {
		t.Errorf("state change by admin rejected: %v", err)
	}
}

func TestUnknownTypeDenied(t *testing.T) {
	state := roomFixture(t)
	custom := stateEvent(t, "$x", "com.example.widget", "", alice, map[string]any{})
	if err := Authorize(custom, state); err == nil {
		t.Error("unknown event type allowed")
	}
}

func TestRedactionAdmitted(t *testing.T) {
	state := roomFixture(t)
	redaction := stateEvent(t, "$r", event.TypeRedaction, "", bob, map[string]any{"reason": "spam"})
	redaction.StateKey = nil
	redaction.Redacts = ref.MustParseEventID("$target")
	if err := Authorize(redaction, state); err != nil {
		t.Errorf("redaction from joined member rejected: %v", err)
	}
}

// --- Power level changes ---

func TestPowerLevelChanges(t *testing.T) {
	state := roomFixture(t)
	fixtureState := func(users map[string]int64) *event.Event {
		return stateEvent(t, "$pnew", event.TypePowerLevels, "", alice, event.PowerLevelsContent{Users: users})
	}

	tests := []struct {
		name      string
		sender    ref.UserID
		content   event.PowerLevelsContent
		wantAllow bool
	}{
		{"promote within own level", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 100, bob.String(): 50}}, true},
		{"grant above own level", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 100, bob.String(): 101}}, false},
		{"demote self", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 50}}, true},
		{"raise threshold above own level", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 100}, EventsDefault: 150}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := stateEvent(t, "$pnew", event.TypePowerLevels, "", tt.sender, tt.content)
			err := Authorize(candidate, state)
			if tt.wantAllow && err != nil {
				t.Errorf("rejected: %v", err)
			}
			if !tt.wantAllow && err == nil {
				t.Error("allowed, want rejection")
			}
		})
	}

	// A moderator at 50 cannot touch the admin's level.
	mod := state.Clone()
	p := fixtureState(map[string]int64{alice.String(): 100, bob.String(): 50})
	mod[p.Tuple()] = p
	demoteAdmin := stateEvent(t, "$pnew", event.TypePowerLevels, "", bob, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 0, bob.String(): 50}})
	if err := Authorize(demoteAdmin, mod); err == nil {
		t.Error("moderator demoted the admin")
	}

	// The room's first power-levels event is unconstrained by prior
	// assignments.
	fresh := Snapshot{}
	create := stateEvent(t, "$create", event.TypeCreate, "", alice, event.CreateContent{Creator: alice.String()})
	join := stateEvent(t, "$aj", event.TypeMember, alice.String(), alice, event.MemberContent{Membership: event.MembershipJoin})
	fresh[create.Tuple()] = create
	fresh[join.Tuple()] = join
	first := stateEvent(t, "$p1", event.TypePowerLevels, "", alice, event.PowerLevelsContent{Users: map[string]int64{alice.String(): 100}})
	if err := Authorize(first, fresh); err != nil {
		t.Errorf("first power-levels event rejected: %v", err)
	}
}

// --- Auth event selection ---

func TestAuthEventsFor(t *testing.T) {
	state := roomFixture(t)

	message := stateEvent(t, "$m", event.TypeMessage, "", bob, map[string]any{"body": "hi"})
	message.StateKey = nil
	got := AuthEventsFor(message, state)
	want := map[string]bool{"$create": true, "$power": true, "$bobjoin": true}
	if len(got) != len(want) {
		t.Fatalf("AuthEventsFor(message) = %v, want %d events", got, len(want))
	}
	for _, id := range got {
		if !want[id.String()] {
			t.Errorf("unexpected auth event %s", id)
		}
	}

	invite := memberEvent(t, alice, bob, event.MembershipInvite)
	got = AuthEventsFor(invite, state)
	wantMember := map[string]bool{"$create": true, "$power": true, "$alicejoin": true, "$bobjoin": true, "$joinrules": true}
	if len(got) != len(wantMember) {
		t.Fatalf("AuthEventsFor(member) = %v, want %d events", got, len(wantMember))
	}

	create := stateEvent(t, "$c", event.TypeCreate, "", alice, event.CreateContent{Creator: alice.String()})
	if got := AuthEventsFor(create, Snapshot{}); got != nil {
		t.Errorf("AuthEventsFor(create) = %v, want nil", got)
	}
}
