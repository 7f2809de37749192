// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

var (
	testServer = ref.MustParseServerName("hearth.local")
	testRoom   = ref.MustParseRoomID("!room:hearth.local")
	testAlice  = ref.MustParseUserID("@alice:hearth.local")
	testBob    = ref.MustParseUserID("@bob:hearth.local")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "events.db"),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fixture builds sealed, signed events forming a linear chain.
type fixture struct {
	t     *testing.T
	key   ed25519.PrivateKey
	tip   []ref.EventID
	depth int64
	ts    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	return &fixture{
		t:   t,
		key: ed25519.NewKeyFromSeed(seed),
		ts:  time.UnixMilli(1700000000000),
	}
}

func (f *fixture) build(b *event.Builder) *event.Event {
	f.t.Helper()
	f.ts = f.ts.Add(time.Second)
	e, err := b.Build(f.ts, testServer, "ed25519:test", f.key)
	if err != nil {
		f.t.Fatalf("building event: %v", err)
	}
	return e
}

// next builds an event chained onto the current tip and advances it.
func (f *fixture) next(b *event.Builder) *event.Event {
	f.t.Helper()
	e := f.build(b.WithParents(f.tip, f.depth))
	f.tip = []ref.EventID{e.ID}
	f.depth = e.Depth
	return e
}

func (f *fixture) create() *event.Event {
	f.t.Helper()
	e := f.build(event.NewBuilder(testRoom, testAlice, event.TypeCreate).
		WithStateKey("").
		WithContent(event.CreateContent{Creator: testAlice.String(), RoomVersion: "hearth.1"}))
	f.tip = []ref.EventID{e.ID}
	f.depth = e.Depth
	return e
}

func (f *fixture) message(body string) *event.Event {
	f.t.Helper()
	return f.next(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": body}))
}

func (f *fixture) member(target ref.UserID, membership string) *event.Event {
	f.t.Helper()
	return f.next(event.NewBuilder(testRoom, target, event.TypeMember).
		WithStateKey(target.String()).
		WithContent(event.MemberContent{Membership: membership}))
}

func mustAppend(t *testing.T, s *Store, e *event.Event, opts AppendOptions) AppendResult {
	t.Helper()
	result, err := s.Append(context.Background(), e, opts)
	if err != nil {
		t.Fatalf("appending %s: %v", e.ID, err)
	}
	return result
}

func TestAppendAndGet(t *testing.T) {
	store := openTestStore(t)
	f := newFixture(t)
	create := f.create()

	result := mustAppend(t, store, create, AppendOptions{})
	if result.Outcome != OutcomeStored || result.StreamPos != 1 {
		t.Fatalf("append = %+v, want stored at position 1", result)
	}

	got, err := store.Get(context.Background(), create.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != create.ID || got.Type != event.TypeCreate || got.Depth != create.Depth {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := store.Get(context.Background(), ref.MustParseEventID("$unknown")); !errors.Is(err, ErrNotFound) {
		t.Errorf("get of unknown event = %v, want ErrNotFound", err)
	}
}

func TestAppendIdempotent(t *testing.T) {
	store := openTestStore(t)
	f := newFixture(t)
	create := f.create()

	first := mustAppend(t, store, create, AppendOptions{})
	second := mustAppend(t, store, create, AppendOptions{})
	if second.Outcome != OutcomeDuplicate {
		t.Errorf("second append outcome = %v, want duplicate", second.Outcome)
	}
	if second.StreamPos != first.StreamPos {
		t.Errorf("duplicate returned position %d, want %d", second.StreamPos, first.StreamPos)
	}

	// The duplicate consumed no position.
	pos, err := store.StreamPosition(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("stream position: %v", err)
	}
	if pos != first.StreamPos {
		t.Errorf("stream position = %d after duplicate, want %d", pos, first.StreamPos)
	}
}

func TestAppendPoison(t *testing.T) {
	store := openTestStore(t)
	f := newFixture(t)
	create := f.create()
	mustAppend(t, store, create, AppendOptions{})

	forged := *create
	forged.Content = []byte(`{"creator":"@eve:hearth.local"}`)
	if _, err := store.Append(context.Background(), &forged, AppendOptions{}); !errors.Is(err, ErrPoisoned) {
		t.Errorf("append of forged duplicate = %v, want ErrPoisoned", err)
	}
}

func TestExtremities(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	create := f.create()
	mustAppend(t, store, create, AppendOptions{})
	got, err := store.ForwardExtremities(ctx, testRoom)
	if err != nil {
		t.Fatalf("extremities: %v", err)
	}
	if len(got) != 1 || got[0] != create.ID {
		t.Fatalf("extremities after create = %v, want [%s]", got, create.ID)
	}

	first := f.message("one")
	mustAppend(t, store, first, AppendOptions{})

	// A sibling of first, also a child of create only.
	sibling := f.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "two"}).
		WithParents([]ref.EventID{create.ID}, create.Depth))
	mustAppend(t, store, sibling, AppendOptions{})

	got, err = store.ForwardExtremities(ctx, testRoom)
	if err != nil {
		t.Fatalf("extremities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("extremities after siblings = %v, want both branches", got)
	}

	// A merge child retires both.
	merge := f.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "merge"}).
		WithParents([]ref.EventID{first.ID, sibling.ID}, first.Depth))
	mustAppend(t, store, merge, AppendOptions{})

	got, err = store.ForwardExtremities(ctx, testRoom)
	if err != nil {
		t.Fatalf("extremities: %v", err)
	}
	if len(got) != 1 || got[0] != merge.ID {
		t.Errorf("extremities after merge = %v, want [%s]", got, merge.ID)
	}
}

func TestStateTracking(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	create := f.create()
	mustAppend(t, store, create, AppendOptions{})
	join := f.member(testAlice, event.MembershipJoin)
	mustAppend(t, store, join, AppendOptions{})

	state, err := store.CurrentState(ctx, testRoom)
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	if e := state.Get(event.TypeMember, testAlice.String()); e == nil || e.ID != join.ID {
		t.Errorf("membership tuple = %v, want %s", e, join.ID)
	}
	if e := state.Get(event.TypeCreate, ""); e == nil || e.ID != create.ID {
		t.Errorf("create tuple = %v, want %s", e, create.ID)
	}

	// A later member event replaces the tuple; StateAt still sees the
	// old view at the old position.
	leaveResult := mustAppend(t, store, f.member(testAlice, event.MembershipLeave), AppendOptions{})

	state, err = store.CurrentState(ctx, testRoom)
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	content, err := event.ParseMember(state.Get(event.TypeMember, testAlice.String()).Content)
	if err != nil || content.Membership != event.MembershipLeave {
		t.Errorf("membership after leave = %+v (%v)", content, err)
	}

	old, err := store.StateAt(ctx, testRoom, leaveResult.StreamPos-1)
	if err != nil {
		t.Fatalf("state at: %v", err)
	}
	if e := old.Get(event.TypeMember, testAlice.String()); e == nil || e.ID != join.ID {
		t.Errorf("historical membership = %v, want %s", e, join.ID)
	}
}

func TestSoftFailHasNoEffect(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	create := f.create()
	mustAppend(t, store, create, AppendOptions{})
	rejected := f.member(testBob, event.MembershipJoin)
	mustAppend(t, store, rejected, AppendOptions{SoftFail: true})

	// Stored and fetchable.
	if _, err := store.Get(ctx, rejected.ID); err != nil {
		t.Fatalf("soft-failed event not stored: %v", err)
	}
	// No state effect.
	state, err := store.CurrentState(ctx, testRoom)
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	if e := state.Get(event.TypeMember, testBob.String()); e != nil {
		t.Errorf("soft-failed event reached state: %s", e.ID)
	}
	// Not an extremity.
	extremities, err := store.ForwardExtremities(ctx, testRoom)
	if err != nil {
		t.Fatalf("extremities: %v", err)
	}
	for _, id := range extremities {
		if id == rejected.ID {
			t.Error("soft-failed event became a forward extremity")
		}
	}
	// Invisible to stream reads.
	events, err := store.EventsAfter(ctx, testRoom, 0, 100)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	for _, se := range events {
		if se.Event.ID == rejected.ID {
			t.Error("soft-failed event visible in stream reads")
		}
	}
}

func TestStreamReads(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	mustAppend(t, store, f.create(), AppendOptions{})
	var positions []int64
	for _, body := range []string{"a", "b", "c", "d"} {
		result := mustAppend(t, store, f.message(body), AppendOptions{})
		positions = append(positions, result.StreamPos)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			t.Fatalf("stream positions not strictly increasing: %v", positions)
		}
	}

	after, err := store.EventsAfter(ctx, testRoom, positions[1], 100)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("EventsAfter(%d) returned %d events, want 2", positions[1], len(after))
	}
	if after[0].Pos >= after[1].Pos {
		t.Error("EventsAfter not in ascending order")
	}

	before, err := store.EventsBefore(ctx, testRoom, positions[2], 100)
	if err != nil {
		t.Fatalf("events before: %v", err)
	}
	if len(before) != 3 { // create, "a", "b"
		t.Fatalf("EventsBefore(%d) returned %d events, want 3", positions[2], len(before))
	}
	if before[0].Pos <= before[1].Pos {
		t.Error("EventsBefore not in descending order")
	}
}

func TestRedactionAppliedOnRead(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	mustAppend(t, store, f.create(), AppendOptions{})
	target := f.message("secret")
	mustAppend(t, store, target, AppendOptions{})
	redaction := f.next(event.NewBuilder(testRoom, testAlice, event.TypeRedaction).
		WithContent(map[string]any{"reason": "mistake"}).
		WithRedacts(target.ID))
	mustAppend(t, store, redaction, AppendOptions{})

	events, err := store.EventsAfter(ctx, testRoom, 0, 100)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	for _, se := range events {
		if se.Event.ID == target.ID && string(se.Event.Content) != "{}" {
			t.Errorf("redacted event served with content %s", se.Event.Content)
		}
	}

	// The admission-path read still returns the original.
	stored, err := store.Get(ctx, target.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored.Content) == "{}" {
		t.Error("redaction mutated the stored event")
	}
}

func TestMissingEvents(t *testing.T) {
	store := openTestStore(t)
	f := newFixture(t)
	create := f.create()
	mustAppend(t, store, create, AppendOptions{})

	ghost := ref.MustParseEventID("$ghost")
	missing, err := store.MissingEvents(context.Background(), []ref.EventID{create.ID, ghost})
	if err != nil {
		t.Fatalf("missing events: %v", err)
	}
	if len(missing) != 1 || missing[0] != ghost {
		t.Errorf("missing = %v, want [%s]", missing, ghost)
	}
}

func TestGapMarkers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)
	create := f.create()
	mustAppend(t, store, create, AppendOptions{})

	orphanParent := f.message("later arrival")
	if err := store.MarkGaps(ctx, testRoom, []ref.EventID{orphanParent.ID}, 1700000000); err != nil {
		t.Fatalf("mark gaps: %v", err)
	}
	gaps, err := store.Gaps(ctx, testRoom)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps) != 1 || gaps[0] != orphanParent.ID {
		t.Fatalf("gaps = %v, want [%s]", gaps, orphanParent.ID)
	}

	// Backfill eventually delivers the event; its marker clears.
	mustAppend(t, store, orphanParent, AppendOptions{})
	gaps, err = store.Gaps(ctx, testRoom)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps) != 0 {
		t.Errorf("gap marker survived the event's arrival: %v", gaps)
	}
}

func TestCursors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	device := ref.MustParseDeviceID("HEARTHDEV")

	if err := store.SetCursors(ctx, device, map[ref.RoomID]int64{testRoom: 5}); err != nil {
		t.Fatalf("set cursors: %v", err)
	}
	cursors, err := store.Cursors(ctx, device)
	if err != nil {
		t.Fatalf("cursors: %v", err)
	}
	if cursors[testRoom] != 5 {
		t.Errorf("cursor = %d, want 5", cursors[testRoom])
	}

	// Rewinds are ignored, advances take.
	if err := store.SetCursors(ctx, device, map[ref.RoomID]int64{testRoom: 3}); err != nil {
		t.Fatalf("set cursors: %v", err)
	}
	if err := store.SetCursors(ctx, device, map[ref.RoomID]int64{testRoom: 8}); err != nil {
		t.Fatalf("set cursors: %v", err)
	}
	cursors, err = store.Cursors(ctx, device)
	if err != nil {
		t.Fatalf("cursors: %v", err)
	}
	if cursors[testRoom] != 8 {
		t.Errorf("cursor = %d, want 8 (no rewind, advance applied)", cursors[testRoom])
	}
}

func TestJoinedRooms(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t)

	mustAppend(t, store, f.create(), AppendOptions{})
	mustAppend(t, store, f.member(testAlice, event.MembershipJoin), AppendOptions{})
	mustAppend(t, store, f.member(testBob, event.MembershipInvite), AppendOptions{})

	rooms, err := store.JoinedRooms(ctx, testAlice)
	if err != nil {
		t.Fatalf("joined rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != testRoom {
		t.Errorf("alice's joined rooms = %v, want [%s]", rooms, testRoom)
	}

	rooms, err = store.JoinedRooms(ctx, testBob)
	if err != nil {
		t.Fatalf("joined rooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("bob (invited, not joined) in joined rooms: %v", rooms)
	}
}
