// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides hearth's deterministic CBOR encoding.
//
// Two parts of the server depend on byte-level determinism, not just
// round-trip correctness:
//
//   - Event identity. An event ID is a keyed hash of the event's
//     canonical encoding. Two servers (or two admission paths on one
//     server) that decode the same event JSON must produce identical
//     bytes to hash, or content addressing falls apart.
//   - Sync and pagination tokens. Tokens are encoded cursor maps
//     handed to clients as opaque strings; deterministic encoding
//     means an unchanged cursor re-encodes to the identical token,
//     which is the documented contract for empty sync deltas.
//
// The encoder uses CBOR Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes.
//
// Types implementing encoding.TextMarshaler (ref.RoomID, ref.EventID,
// ref.UserID, ...) serialize as CBOR text strings, so ref types work
// unchanged as CBOR map keys and values.
package codec
