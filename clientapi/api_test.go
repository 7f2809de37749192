// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/federation"
	"github.com/bureau-foundation/hearth/keyring"
	"github.com/bureau-foundation/hearth/lib/config"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/mediastore"
	"github.com/bureau-foundation/hearth/room"
	"github.com/bureau-foundation/hearth/syncer"
	"github.com/bureau-foundation/hearth/timeline"
)

var (
	testServer = ref.MustParseServerName("hearth.test")
	testAlice  = ref.MustParseUserID("@alice:hearth.test")
	testBob    = ref.MustParseUserID("@bob:hearth.test")
)

// fakeValidator resolves tokens from a fixed map.
type fakeValidator struct {
	identities map[string]Identity
}

func (f *fakeValidator) Validate(_ context.Context, token string) (Identity, error) {
	identity, ok := f.identities[token]
	if !ok {
		return Identity{}, ErrUnknownToken
	}
	return identity, nil
}

// nullTransport satisfies the federation transport without reaching
// anywhere.
type nullTransport struct{}

func (nullTransport) Backfill(context.Context, ref.RoomID, []ref.EventID) ([]*event.Event, error) {
	return nil, nil
}

func (nullTransport) SendPDU(context.Context, ref.ServerName, *event.Event) error {
	return nil
}

type fixture struct {
	t      *testing.T
	server *httptest.Server
	store  *eventstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	dir := t.TempDir()

	keys, err := keyring.Open(keyring.Config{Path: filepath.Join(dir, "keys"), ServerName: testServer, Logger: logger})
	if err != nil {
		t.Fatalf("keyring.Open: %v", err)
	}
	store, err := eventstore.Open(eventstore.Config{Path: filepath.Join(dir, "events.db"), Logger: logger})
	if err != nil {
		t.Fatalf("eventstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager, err := room.NewManager(room.Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("room.NewManager: %v", err)
	}
	t.Cleanup(manager.Close)

	sync, err := syncer.New(syncer.Config{Store: store, Rooms: manager, Logger: logger})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	pages, err := timeline.New(timeline.Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("timeline.New: %v", err)
	}
	media, err := mediastore.Open(mediastore.Config{Path: filepath.Join(dir, "media"), Logger: logger})
	if err != nil {
		t.Fatalf("mediastore.Open: %v", err)
	}
	t.Cleanup(func() { media.Close() })

	exchange, err := federation.New(federation.Config{
		Rooms:       manager,
		Store:       store,
		Transport:   nullTransport{},
		LocalServer: testServer,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("federation.New: %v", err)
	}

	presets, err := config.LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}

	api, err := New(Config{
		Store:    store,
		Rooms:    manager,
		Sync:     sync,
		Timeline: pages,
		Keys:     keys,
		Media:    media,
		Exchange: exchange,
		Presets:  presets,
		Tokens: &fakeValidator{identities: map[string]Identity{
			"alice-token": {UserID: testAlice, DeviceID: ref.MustParseDeviceID("ALICEDEV")},
			"bob-token":   {UserID: testBob, DeviceID: ref.MustParseDeviceID("BOBDEV")},
		}},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &fixture{t: t, server: server, store: store}
}

// call performs a request and decodes the JSON response body.
func (f *fixture) call(method, path, token string, body any) (int, map[string]any) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			f.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		f.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		f.t.Fatalf("%s %s: decoding response: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

// createRoom creates a room as alice and returns its ID.
func (f *fixture) createRoom(body map[string]any) string {
	f.t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	status, response := f.call("POST", "/_matrix/client/v3/createRoom", "alice-token", body)
	if status != http.StatusOK {
		f.t.Fatalf("createRoom: status %d, response %v", status, response)
	}
	roomID, _ := response["room_id"].(string)
	if roomID == "" {
		f.t.Fatal("createRoom: no room_id in response")
	}
	return roomID
}

func (f *fixture) sendMessage(roomID, token, body string) string {
	f.t.Helper()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/txn1", roomID)
	status, response := f.call("PUT", path, token, map[string]any{"msgtype": "m.text", "body": body})
	if status != http.StatusOK {
		f.t.Fatalf("send: status %d, response %v", status, response)
	}
	eventID, _ := response["event_id"].(string)
	return eventID
}

func TestCreateRoomBuildsInitialState(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(map[string]any{"preset": "public_chat", "name": "ops"})

	status, response := f.call("GET",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/m.room.join_rules", roomID),
		"alice-token", nil)
	if status != http.StatusOK {
		t.Fatalf("state read: status %d, response %v", status, response)
	}
	if response["join_rule"] != "public" {
		t.Errorf("join_rule = %v, want public", response["join_rule"])
	}

	status, response = f.call("GET",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/m.room.name", roomID),
		"alice-token", nil)
	if status != http.StatusOK {
		t.Fatalf("name read: status %d", status)
	}
	if response["name"] != "ops" {
		t.Errorf("name = %v, want ops", response["name"])
	}
}

func TestCreateRoomRejectsUnknownPreset(t *testing.T) {
	f := newFixture(t)
	status, response := f.call("POST", "/_matrix/client/v3/createRoom", "alice-token",
		map[string]any{"preset": "no_such_preset"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if response["errcode"] != CodeInvalidParam {
		t.Errorf("errcode = %v, want %s", response["errcode"], CodeInvalidParam)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	status, response := f.call("POST", "/_matrix/client/v3/createRoom", "", map[string]any{})
	if status != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", status)
	}
	if response["errcode"] != CodeMissingToken {
		t.Errorf("errcode = %v, want %s", response["errcode"], CodeMissingToken)
	}

	status, response = f.call("POST", "/_matrix/client/v3/createRoom", "forged", map[string]any{})
	if status != http.StatusUnauthorized {
		t.Fatalf("forged token: status = %d, want 401", status)
	}
	if response["errcode"] != CodeUnknownToken {
		t.Errorf("errcode = %v, want %s", response["errcode"], CodeUnknownToken)
	}
}

func TestSendRequiresMembership(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)

	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/txn1", roomID)
	status, response := f.call("PUT", path, "bob-token", map[string]any{"msgtype": "m.text", "body": "hi"})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, response %v", status, response)
	}
	if response["errcode"] != CodeForbidden {
		t.Errorf("errcode = %v, want %s", response["errcode"], CodeForbidden)
	}
}

func TestStateReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)

	status, response := f.call("GET",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", roomID), "bob-token", nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, response %v", status, response)
	}
}

func TestInviteJoinSendFlow(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)

	status, response := f.call("POST",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/invite", roomID),
		"alice-token", map[string]any{"user_id": testBob.String()})
	if status != http.StatusOK {
		t.Fatalf("invite: status %d, response %v", status, response)
	}

	status, response = f.call("POST",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/join", roomID), "bob-token", nil)
	if status != http.StatusOK {
		t.Fatalf("join: status %d, response %v", status, response)
	}
	if response["room_id"] != roomID {
		t.Errorf("join room_id = %v", response["room_id"])
	}

	if id := f.sendMessage(roomID, "bob-token", "hello from bob"); id == "" {
		t.Fatal("bob's message got no event ID")
	}
}

func TestMessagesPagination(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)
	for i := range 5 {
		f.sendMessage(roomID, "alice-token", fmt.Sprintf("message %d", i))
	}

	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages?dir=b&limit=3", roomID)
	status, response := f.call("GET", path, "alice-token", nil)
	if status != http.StatusOK {
		t.Fatalf("messages: status %d, response %v", status, response)
	}
	chunk, _ := response["chunk"].([]any)
	if len(chunk) != 3 {
		t.Fatalf("chunk has %d events, want 3", len(chunk))
	}
	// Newest first.
	first, _ := chunk[0].(map[string]any)
	content, _ := first["content"].(map[string]any)
	if content["body"] != "message 4" {
		t.Errorf("first entry body = %v, want message 4", content["body"])
	}
	end, _ := response["end"].(string)
	if end == "" {
		t.Fatal("no continuation token")
	}

	// Page on until the start of the room.
	seen := len(chunk)
	for end != "" {
		status, response = f.call("GET",
			fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages?dir=b&limit=3&from=%s", roomID, end),
			"alice-token", nil)
		if status != http.StatusOK {
			t.Fatalf("messages page: status %d", status)
		}
		chunk, _ = response["chunk"].([]any)
		seen += len(chunk)
		end, _ = response["end"].(string)
	}
	// 5 messages plus the creation-time state events.
	if seen < 9 {
		t.Errorf("paged through %d events, want the full room history", seen)
	}
}

func TestSyncRejectsMalformedToken(t *testing.T) {
	f := newFixture(t)
	f.createRoom(nil)

	status, response := f.call("GET", "/_matrix/client/v3/sync?since=**garbage**", "alice-token", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("sync with bad token: status %d, response %v", status, response)
	}
	if response["errcode"] != CodeInvalidParam {
		t.Errorf("errcode = %v, want %s", response["errcode"], CodeInvalidParam)
	}
}

func TestInitialSyncIncludesRoom(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)
	f.sendMessage(roomID, "alice-token", "first")

	status, response := f.call("GET", "/_matrix/client/v3/sync", "alice-token", nil)
	if status != http.StatusOK {
		t.Fatalf("sync: status %d, response %v", status, response)
	}
	if response["next_batch"] == "" {
		t.Error("no next_batch token")
	}
	rooms, _ := response["rooms"].(map[string]any)
	join, _ := rooms["join"].(map[string]any)
	section, ok := join[roomID].(map[string]any)
	if !ok {
		t.Fatalf("room %s missing from sync response", roomID)
	}
	tl, _ := section["timeline"].(map[string]any)
	events, _ := tl["events"].([]any)
	if len(events) == 0 {
		t.Error("sync timeline is empty")
	}
}

func TestRedactionAppliedOnRead(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)
	target := f.sendMessage(roomID, "alice-token", "take this back")

	status, response := f.call("PUT",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/txn2", roomID, target),
		"alice-token", map[string]any{"reason": "typo"})
	if status != http.StatusOK {
		t.Fatalf("redact: status %d, response %v", status, response)
	}

	status, response = f.call("GET",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/event/%s", roomID, target),
		"alice-token", nil)
	if status != http.StatusOK {
		t.Fatalf("event read: status %d, response %v", status, response)
	}
	content, _ := response["content"].(map[string]any)
	if _, present := content["body"]; present {
		t.Error("redacted event still serves its body")
	}
}

func TestTypingEndpoint(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)

	status, _ := f.call("PUT",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s", roomID, testAlice),
		"alice-token", map[string]any{"typing": true, "timeout": 10000})
	if status != http.StatusOK {
		t.Fatalf("typing: status %d", status)
	}

	// Another user's typing state is off limits.
	status, response := f.call("PUT",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s", roomID, testBob),
		"alice-token", map[string]any{"typing": true})
	if status != http.StatusForbidden {
		t.Fatalf("typing for other user: status %d, response %v", status, response)
	}
}

func TestReceiptEndpoint(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)
	target := f.sendMessage(roomID, "alice-token", "read me")

	status, response := f.call("POST",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s", roomID, target),
		"alice-token", map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("receipt: status %d, response %v", status, response)
	}

	status, _ = f.call("POST",
		fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.fully_read/%s", roomID, target),
		"alice-token", map[string]any{})
	if status != http.StatusBadRequest {
		t.Fatalf("unsupported receipt type: status %d, want 400", status)
	}
}

func TestMediaUploadDownload(t *testing.T) {
	f := newFixture(t)
	payload := strings.Repeat("media payload\n", 100)

	req, err := http.NewRequest("POST", f.server.URL+"/_matrix/media/v3/upload", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer alice-token")
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	var uploaded struct {
		ContentURI string `json:"content_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatal(err)
	}
	mediaID, ok := strings.CutPrefix(uploaded.ContentURI, "mxc://"+testServer.String()+"/")
	if !ok {
		t.Fatalf("content_uri %q has unexpected shape", uploaded.ContentURI)
	}

	download, err := http.Get(f.server.URL +
		fmt.Sprintf("/_matrix/media/v3/download/%s/%s?access_token=alice-token", testServer, mediaID))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer download.Body.Close()
	if download.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d", download.StatusCode)
	}
	if got := download.Header.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q", got)
	}
	body, _ := io.ReadAll(download.Body)
	if string(body) != payload {
		t.Error("downloaded bytes differ from upload")
	}
}

func TestFederationBackfillServesStoredEvents(t *testing.T) {
	f := newFixture(t)
	roomID := f.createRoom(nil)
	eventID := f.sendMessage(roomID, "alice-token", "for the peers")

	status, response := f.call("GET",
		fmt.Sprintf("/_matrix/federation/v1/backfill/%s?id=%s", roomID, eventID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("backfill: status %d, response %v", status, response)
	}
	pdus, _ := response["pdus"].([]any)
	if len(pdus) != 1 {
		t.Fatalf("backfill served %d PDUs, want 1", len(pdus))
	}
	pdu, _ := pdus[0].(map[string]any)
	if pdu["event_id"] != eventID {
		t.Errorf("served event %v, want %s", pdu["event_id"], eventID)
	}
}

func TestServerKeyEndpoint(t *testing.T) {
	f := newFixture(t)
	status, response := f.call("GET", "/_matrix/key/v2/server", "", nil)
	if status != http.StatusOK {
		t.Fatalf("key: status %d", status)
	}
	if response["server_name"] != testServer.String() {
		t.Errorf("server_name = %v", response["server_name"])
	}
	keys, _ := response["verify_keys"].(map[string]any)
	if len(keys) != 1 {
		t.Fatalf("verify_keys has %d entries, want 1", len(keys))
	}
	for keyID := range keys {
		if !strings.HasPrefix(keyID, "ed25519:") {
			t.Errorf("key ID %q missing algorithm prefix", keyID)
		}
	}
}

func TestTokenStoreIssueValidateRevoke(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store, err := OpenTokenStore(TokenStoreConfig{
		Path:   filepath.Join(t.TempDir(), "tokens.db"),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("OpenTokenStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	token, issued, err := store.Issue(ctx, testAlice)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.UserID != testAlice || issued.DeviceID.IsZero() {
		t.Fatalf("issued identity = %+v", issued)
	}

	identity, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if identity != issued {
		t.Errorf("Validate returned %+v, want %+v", identity, issued)
	}

	if _, err := store.Validate(ctx, "hea_never-issued"); err != ErrUnknownToken {
		t.Errorf("unknown token: err = %v, want ErrUnknownToken", err)
	}

	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Validate(ctx, token); err != ErrUnknownToken {
		t.Errorf("revoked token: err = %v, want ErrUnknownToken", err)
	}
}
