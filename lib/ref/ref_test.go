// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

// --- UserID ---

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "@alice:hearth.local", false},
		{"valid with port", "@alice:hearth.local:8448", false},
		{"hierarchical localpart", "@svc/relay:hearth.local", false},
		{"empty", "", true},
		{"missing sigil", "alice:hearth.local", true},
		{"wrong sigil", "!alice:hearth.local", true},
		{"missing server", "@alice", true},
		{"empty localpart", "@:hearth.local", true},
		{"empty server", "@alice:", true},
		{"uppercase localpart", "@Alice:hearth.local", true},
		{"space in server", "@alice:hearth local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUserID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestUserIDParts(t *testing.T) {
	u := MustParseUserID("@alice:hearth.local")
	if u.Localpart() != "alice" {
		t.Errorf("Localpart() = %q, want %q", u.Localpart(), "alice")
	}
	if u.Server().String() != "hearth.local" {
		t.Errorf("Server() = %q, want %q", u.Server(), "hearth.local")
	}
}

func TestLocalUserID(t *testing.T) {
	server := MustParseServerName("hearth.local")
	u := LocalUserID("bob", server)
	if u.String() != "@bob:hearth.local" {
		t.Errorf("LocalUserID = %q, want %q", u.String(), "@bob:hearth.local")
	}
}

// --- RoomID ---

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "!abc123:hearth.local", false},
		{"empty", "", true},
		{"missing sigil", "abc123:hearth.local", true},
		{"missing server", "!abc123", true},
		{"empty local part", "!:hearth.local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoomID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRoomID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestMintRoomID(t *testing.T) {
	server := MustParseServerName("hearth.local")
	first := MintRoomID(server)
	second := MintRoomID(server)

	if first.String() == second.String() {
		t.Fatal("two minted room IDs are identical")
	}
	if !strings.HasSuffix(first.String(), ":hearth.local") {
		t.Errorf("minted room ID %q missing server suffix", first)
	}
	// A minted ID must survive its own parse boundary.
	reparsed, err := ParseRoomID(first.String())
	if err != nil {
		t.Fatalf("reparsing minted room ID: %v", err)
	}
	if reparsed.Server().String() != "hearth.local" {
		t.Errorf("Server() = %q, want %q", reparsed.Server(), "hearth.local")
	}
}

// --- EventID ---

func TestParseEventID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "$Zm9vYmFy", false},
		{"empty", "", true},
		{"missing sigil", "Zm9vYmFy", true},
		{"sigil only", "$", true},
		{"oversized", "$" + strings.Repeat("a", 300), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEventID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEventID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestEventIDFromHash(t *testing.T) {
	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	id := EventIDFromHash(hash)
	if id.String()[0] != '$' {
		t.Fatalf("event ID %q missing '$' sigil", id)
	}
	// 32 bytes in unpadded base64url is 43 characters.
	if len(id.String()) != 44 {
		t.Errorf("event ID length = %d, want 44", len(id.String()))
	}
	if EventIDFromHash(hash) != id {
		t.Error("same hash produced different event IDs")
	}
}

// --- JSON round-trips ---

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		User   UserID   `json:"user"`
		Room   RoomID   `json:"room"`
		Event  EventID  `json:"event"`
		Device DeviceID `json:"device"`
	}
	original := payload{
		User:   MustParseUserID("@alice:hearth.local"),
		Room:   MustParseRoomID("!room:hearth.local"),
		Event:  MustParseEventID("$abcdef"),
		Device: MustParseDeviceID("HEARTHDEV1"),
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestRoomIDAsJSONMapKey(t *testing.T) {
	rooms := map[RoomID]int{
		MustParseRoomID("!a:hearth.local"): 1,
		MustParseRoomID("!b:hearth.local"): 2,
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		t.Fatalf("marshal map: %v", err)
	}
	var decoded map[RoomID]int
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if len(decoded) != 2 || decoded[MustParseRoomID("!a:hearth.local")] != 1 {
		t.Errorf("map round trip mismatch: %v", decoded)
	}
}

// --- DeviceID ---

func TestMintDeviceID(t *testing.T) {
	first := MintDeviceID()
	second := MintDeviceID()
	if first == second {
		t.Fatal("two minted device IDs are identical")
	}
	if len(first.String()) != 8 {
		t.Errorf("device ID length = %d, want 8", len(first.String()))
	}
}
