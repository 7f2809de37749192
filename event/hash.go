// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hearth/lib/codec"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// eventDomainKey is the BLAKE3 key for event reference hashing. Domain
// separation keeps event IDs from ever colliding with hashes computed
// over the same bytes in another context (media blobs use their own
// key). The byte value is the ASCII domain name zero-padded to 32
// bytes, readable in hex dumps without weakening the keyed mode.
var eventDomainKey = [32]byte{
	'h', 'e', 'a', 'r', 't', 'h', '.', 'e', 'v', 'e', 'n', 't', '.',
	'r', 'e', 'f', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// canonicalPayload is the hashed and signed portion of an event. The
// derived ID, the hashes field, and signatures are excluded — they
// depend on this encoding and cannot be part of it. Fields are CBOR
// map entries with fixed string keys; Core Deterministic Encoding
// sorts them, so struct order here is documentation only.
type canonicalPayload struct {
	RoomID         ref.RoomID     `cbor:"room_id"`
	Sender         ref.UserID     `cbor:"sender"`
	Type           string         `cbor:"type"`
	StateKey       *string        `cbor:"state_key,omitempty"`
	Content        map[string]any `cbor:"content"`
	PrevEvents     []ref.EventID  `cbor:"prev_events"`
	AuthEvents     []ref.EventID  `cbor:"auth_events"`
	Depth          int64          `cbor:"depth"`
	OriginServerTS int64          `cbor:"origin_server_ts"`
	Redacts        ref.EventID    `cbor:"redacts,omitempty"`
}

// canonicalBytes returns the deterministic encoding of the event's
// identity-bearing fields. Content is decoded from its JSON form into
// a map so that equivalent JSON (whitespace, key order) canonicalizes
// to identical bytes.
func (e *Event) canonicalBytes() ([]byte, error) {
	var content map[string]any
	if err := json.Unmarshal(e.Content, &content); err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}
	payload := canonicalPayload{
		RoomID:         e.RoomID,
		Sender:         e.Sender,
		Type:           e.Type,
		StateKey:       e.StateKey,
		Content:        content,
		PrevEvents:     sortedIDs(e.PrevEvents),
		AuthEvents:     sortedIDs(e.AuthEvents),
		Depth:          e.Depth,
		OriginServerTS: e.OriginServerTS,
		Redacts:        e.Redacts,
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding canonical payload: %w", err)
	}
	return data, nil
}

// sortedIDs returns a lexicographically sorted copy of ids. The wire
// order of prev_events and auth_events is not identity-bearing; two
// events listing the same parents in different order are the same
// event.
func sortedIDs(ids []ref.EventID) []ref.EventID {
	if len(ids) == 0 {
		return []ref.EventID{}
	}
	sorted := make([]ref.EventID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	return sorted
}

// ReferenceHash computes the domain-keyed BLAKE3 digest of the event's
// canonical form. The event ID is this hash; so is the integrity
// value carried in the hashes field.
func (e *Event) ReferenceHash() ([32]byte, error) {
	var digest [32]byte
	canonical, err := e.canonicalBytes()
	if err != nil {
		return digest, err
	}
	hasher, err := blake3.NewKeyed(eventDomainKey[:])
	if err != nil {
		// The key is a compile-time 32-byte constant; NewKeyed only
		// fails on wrong key length.
		panic(fmt.Sprintf("event: BLAKE3 keyed hasher: %v", err))
	}
	hasher.Write(canonical)
	hasher.Digest().Read(digest[:])
	return digest, nil
}

// Seal computes the event's reference hash and fills in the derived
// fields: ID and Hashes. Called by Builder.Build after all
// identity-bearing fields are set. Sealing twice is an error — the
// event already has an identity.
func (e *Event) Seal() error {
	if !e.ID.IsZero() {
		return fmt.Errorf("event %s is already sealed", e.ID)
	}
	digest, err := e.ReferenceHash()
	if err != nil {
		return err
	}
	e.ID = ref.EventIDFromHash(digest)
	e.Hashes = Hashes{Blake3: base64.RawURLEncoding.EncodeToString(digest[:])}
	return nil
}

// VerifyHash recomputes the reference hash and checks it against both
// the event ID and the hashes field. This is the admission-time
// integrity check for events that arrived over the wire: a mismatch
// means the event was tampered with or malformed in transit.
func (e *Event) VerifyHash() error {
	digest, err := e.ReferenceHash()
	if err != nil {
		return err
	}
	if want := ref.EventIDFromHash(digest); e.ID != want {
		return fmt.Errorf("event ID %s does not match content hash %s", e.ID, want)
	}
	if encoded := base64.RawURLEncoding.EncodeToString(digest[:]); e.Hashes.Blake3 != encoded {
		return fmt.Errorf("event %s hashes.blake3 does not match canonical form", e.ID)
	}
	return nil
}
