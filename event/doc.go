// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the immutable unit of room history and the
// operations that establish its identity: canonical encoding, content
// hashing, signing, and read-time redaction.
//
// An [Event] is content-addressed. Its ID is not assigned — it is
// derived: the canonical CBOR encoding of the event (excluding the ID
// itself, the hashes field, and signatures) is hashed with a
// domain-keyed BLAKE3, and the ID is '$' + base64url of that digest.
// Because prev_events is part of the hashed content, the ID pins the
// event's position in the room graph: the same message sent after
// different predecessors is a different event.
//
// Events are constructed through [Builder] (local submissions, which
// hearth timestamps, hashes, and signs) or decoded from wire JSON and
// checked with [Event.VerifyHash] and [Event.VerifySignature]
// (federation-sourced PDUs). After either path, an Event is never
// mutated. Redaction does not touch the stored event: [Redact] returns
// the content-pruned view that read paths serve once a redaction for
// the event has been admitted.
//
// The typed content accessors (MemberContent, PowerLevelsContent,
// CreateContent, JoinRulesContent) decode the opaque content payload
// for the only consumers that interpret it: the auth rule engine and
// state resolution.
package event
