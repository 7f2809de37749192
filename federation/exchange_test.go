// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/lib/testutil"
	"github.com/bureau-foundation/hearth/room"
)

var (
	testServer   = ref.MustParseServerName("hearth.local")
	remoteServer = ref.MustParseServerName("remote.example")
	testRoom     = ref.MustParseRoomID("!room:hearth.local")
	testAlice    = ref.MustParseUserID("@alice:hearth.local")
	remoteBob    = ref.MustParseUserID("@bob:remote.example")
)

type sentPDU struct {
	destination ref.ServerName
	event       *event.Event
}

type fakeTransport struct {
	mu            sync.Mutex
	available     map[ref.EventID]*event.Event
	backfillCalls int
	backfillErr   error
	sent          chan sentPDU
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		available: make(map[ref.EventID]*event.Event),
		sent:      make(chan sentPDU, 64),
	}
}

func (f *fakeTransport) Backfill(ctx context.Context, roomID ref.RoomID, ids []ref.EventID) ([]*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfillCalls++
	if f.backfillErr != nil {
		return nil, f.backfillErr
	}
	var out []*event.Event
	for _, id := range ids {
		if e, ok := f.available[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTransport) SendPDU(ctx context.Context, destination ref.ServerName, e *event.Event) error {
	f.sent <- sentPDU{destination: destination, event: e}
	return nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backfillCalls
}

type harness struct {
	t         *testing.T
	store     *eventstore.Store
	manager   *room.Manager
	transport *fakeTransport
	exchange  *Exchange
	clock     *clock.FakeClock
	key       ed25519.PrivateKey
	tip       []ref.EventID
	depth     int64
	ts        time.Time

	createID ref.EventID
	powerID  ref.EventID
	joins    map[ref.UserID]ref.EventID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := eventstore.Open(eventstore.Config{
		Path:   filepath.Join(t.TempDir(), "events.db"),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	manager, err := room.NewManager(room.Config{Store: store, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("creating manager: %v", err)
	}
	t.Cleanup(manager.Close)
	transport := newFakeTransport()
	fake := clock.Fake(time.UnixMilli(1700000000000))
	exchange, err := New(Config{
		Rooms:       manager,
		Store:       store,
		Transport:   transport,
		LocalServer: testServer,
		Clock:       fake,
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("creating exchange: %v", err)
	}
	seed := make([]byte, ed25519.SeedSize)
	return &harness{
		t:         t,
		store:     store,
		manager:   manager,
		transport: transport,
		exchange:  exchange,
		clock:     fake,
		key:       ed25519.NewKeyFromSeed(seed),
		ts:        time.UnixMilli(1700000000000),
		joins:     make(map[ref.UserID]ref.EventID),
	}
}

// build seals an event without submitting it.
func (h *harness) build(b *event.Builder, auth []ref.EventID) *event.Event {
	h.t.Helper()
	h.ts = h.ts.Add(time.Second)
	e, err := b.WithParents(h.tip, h.depth).WithAuthEvents(auth).Build(h.ts, testServer, "ed25519:test", h.key)
	if err != nil {
		h.t.Fatalf("building event: %v", err)
	}
	h.tip = []ref.EventID{e.ID}
	h.depth = e.Depth
	return e
}

func (h *harness) submit(b *event.Builder, auth []ref.EventID) *event.Event {
	h.t.Helper()
	e := h.build(b, auth)
	if _, err := h.manager.Submit(context.Background(), e, room.OriginLocal); err != nil {
		h.t.Fatalf("submitting %s: %v", e.ID, err)
	}
	return e
}

func (h *harness) setupRoom() {
	h.t.Helper()
	h.ts = h.ts.Add(time.Second)
	create, err := event.NewBuilder(testRoom, testAlice, event.TypeCreate).
		WithStateKey("").
		WithContent(event.CreateContent{Creator: testAlice.String(), RoomVersion: "hearth.1"}).
		Build(h.ts, testServer, "ed25519:test", h.key)
	if err != nil {
		h.t.Fatalf("building create: %v", err)
	}
	h.tip = []ref.EventID{create.ID}
	h.depth = create.Depth
	h.createID = create.ID
	if _, err := h.manager.Submit(context.Background(), create, room.OriginLocal); err != nil {
		h.t.Fatalf("submitting create: %v", err)
	}

	join := h.submit(event.NewBuilder(testRoom, testAlice, event.TypeMember).
		WithStateKey(testAlice.String()).
		WithContent(event.MemberContent{Membership: event.MembershipJoin}),
		[]ref.EventID{h.createID})
	h.joins[testAlice] = join.ID

	power := h.submit(event.NewBuilder(testRoom, testAlice, event.TypePowerLevels).
		WithStateKey("").
		WithContent(event.PowerLevelsContent{
			Users: map[string]int64{testAlice.String(): 100},
		}),
		[]ref.EventID{h.createID, join.ID})
	h.powerID = power.ID
}

func (h *harness) aliceAuth() []ref.EventID {
	return []ref.EventID{h.createID, h.powerID, h.joins[testAlice]}
}

func TestReceiveAdmitsConnectedEvent(t *testing.T) {
	h := newHarness(t)
	h.setupRoom()

	e := h.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "remote hello"}),
		h.aliceAuth())
	result, err := h.exchange.ReceivePDU(context.Background(), e)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.Outcome != room.OutcomeAdmitted {
		t.Errorf("outcome = %v, want admitted", result.Outcome)
	}
	if h.transport.calls() != 0 {
		t.Errorf("connected event triggered %d backfill calls", h.transport.calls())
	}
}

func TestReceiveBackfillsMissingHistory(t *testing.T) {
	h := newHarness(t)
	h.setupRoom()

	// Two remote events; only the child is delivered, the parent must
	// be backfilled.
	parent := h.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "withheld"}),
		h.aliceAuth())
	child := h.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "delivered"}),
		h.aliceAuth())
	h.transport.available[parent.ID] = parent

	result, err := h.exchange.ReceivePDU(context.Background(), child)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.Outcome != room.OutcomeAdmitted {
		t.Errorf("outcome = %v, want admitted", result.Outcome)
	}
	if h.transport.calls() != 1 {
		t.Errorf("backfill called %d times, want 1", h.transport.calls())
	}
	for _, e := range []*event.Event{parent, child} {
		if _, err := h.store.Get(context.Background(), e.ID); err != nil {
			t.Errorf("%s not stored after backfill: %v", e.ID, err)
		}
	}
}

func TestReceivePersistsGapOnExhaustion(t *testing.T) {
	h := newHarness(t)
	h.setupRoom()
	h.transport.backfillErr = fmt.Errorf("remote unreachable")

	ghost := ref.MustParseEventID("$unobtainable")
	orphan := h.build(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "disconnected"}).
		WithParents([]ref.EventID{ghost}, 10),
		h.aliceAuth())

	done := make(chan error, 1)
	go func() {
		_, err := h.exchange.ReceivePDU(context.Background(), orphan)
		done <- err
	}()
	// Two backoff waits separate the three attempts.
	for i := 0; i < 2; i++ {
		h.clock.WaitForTimers(1)
		h.clock.Advance(2 * time.Second)
	}

	err := <-done
	var gap *room.GapError
	if !errors.As(err, &gap) {
		t.Fatalf("receive = %v, want GapError", err)
	}
	if h.transport.calls() != 3 {
		t.Errorf("backfill attempted %d times, want 3", h.transport.calls())
	}
	gaps, err := h.store.Gaps(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps) != 1 || gaps[0] != ghost {
		t.Errorf("persisted gaps = %v, want [%s]", gaps, ghost)
	}
}

func TestRelayForwardsToRemoteServers(t *testing.T) {
	h := newHarness(t)
	h.setupRoom()

	// Bob joins from a remote server.
	invite := h.submit(event.NewBuilder(testRoom, testAlice, event.TypeMember).
		WithStateKey(remoteBob.String()).
		WithContent(event.MemberContent{Membership: event.MembershipInvite}),
		h.aliceAuth())
	h.submit(event.NewBuilder(testRoom, remoteBob, event.TypeMember).
		WithStateKey(remoteBob.String()).
		WithContent(event.MemberContent{Membership: event.MembershipJoin}),
		[]ref.EventID{h.createID, h.powerID, invite.ID})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.manager.Subscribe(testRoom)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	relayDone := make(chan error, 1)
	go func() { relayDone <- h.exchange.Relay(ctx, testRoom, sub) }()

	msg := h.submit(event.NewBuilder(testRoom, testAlice, event.TypeMessage).
		WithContent(map[string]any{"msgtype": "m.text", "body": "fan out"}),
		h.aliceAuth())

	sent := testutil.RequireReceive(t, h.transport.sent, 5*time.Second, "relay never forwarded the event")
	if sent.destination != remoteServer {
		t.Errorf("delivered to %s, want %s", sent.destination, remoteServer)
	}
	if sent.event.ID != msg.ID {
		t.Errorf("delivered %s, want %s", sent.event.ID, msg.ID)
	}

	cancel()
	if err := <-relayDone; !errors.Is(err, context.Canceled) {
		t.Errorf("relay returned %v, want context.Canceled", err)
	}
}
