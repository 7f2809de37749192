// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/hearth/lib/ref"
)

// Sign adds this server's Ed25519 signature over the event's canonical
// form. keyID names the key version (e.g., "ed25519:a1b2") so key
// rotation does not invalidate old events. Sign may be called on a
// sealed or unsealed event — the signature covers the canonical form,
// which does not include the ID.
func (e *Event) Sign(server ref.ServerName, keyID string, key ed25519.PrivateKey) error {
	canonical, err := e.canonicalBytes()
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	signature := ed25519.Sign(key, canonical)
	if e.Signatures == nil {
		e.Signatures = make(map[string]map[string]string, 1)
	}
	if e.Signatures[server.String()] == nil {
		e.Signatures[server.String()] = make(map[string]string, 1)
	}
	e.Signatures[server.String()][keyID] = base64.RawStdEncoding.EncodeToString(signature)
	return nil
}

// VerifySignature checks that the event carries a valid signature from
// the given server under the given key. Used at admission for
// federation-sourced events (with the remote server's published key)
// and in tests round-tripping locally built events.
func (e *Event) VerifySignature(server ref.ServerName, keyID string, key ed25519.PublicKey) error {
	serverSigs, ok := e.Signatures[server.String()]
	if !ok {
		return fmt.Errorf("event %s has no signature from %s", e.ID, server)
	}
	encoded, ok := serverSigs[keyID]
	if !ok {
		return fmt.Errorf("event %s has no signature from %s under key %s", e.ID, server, keyID)
	}
	signature, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("event %s: decoding signature: %w", e.ID, err)
	}
	canonical, err := e.canonicalBytes()
	if err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	if !ed25519.Verify(key, canonical, signature) {
		return fmt.Errorf("event %s: signature from %s key %s does not verify", e.ID, server, keyID)
	}
	return nil
}
