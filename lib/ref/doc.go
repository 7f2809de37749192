// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifiers for the
// Matrix protocol surface of hearth: user IDs, room IDs, event IDs,
// device IDs, and server names.
//
// Every identifier that crosses a package boundary is a validated value
// type, parsed once at the edge (HTTP handler, database row, config
// file) and passed through as a typed value. Handlers never juggle raw
// strings, and a room ID can never be passed where an event ID is
// expected.
//
// Unlike a client, a homeserver is also the minting authority for two
// of these identifiers: room IDs are generated at room creation
// (MintRoomID) and event IDs are derived from event content hashes
// (EventIDFromHash). Minted values are valid by construction and never
// re-validated.
//
// All types serialize as their canonical Matrix string form via
// encoding.TextMarshaler, so they work directly as JSON values, JSON
// map keys, and CBOR text strings.
package ref
