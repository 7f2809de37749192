// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientapi is the HTTP surface of the server: the Matrix
// client endpoints (room creation, event submission, state and
// timeline reads, long-poll sync, typing and receipts, media), and
// the inbound federation endpoints (transaction ingestion, backfill
// serving, key publication).
//
// Handlers translate between HTTP and the domain layers: access
// tokens resolve to an [Identity] through the [TokenValidator]
// interface, local events are composed at the room frontier and
// submitted through the room manager, and domain errors map onto
// Matrix errcodes via [MatrixError]. The package owns no room
// semantics of its own; a request that reaches a handler either
// becomes a call on a collaborator or a protocol error.
package clientapi
