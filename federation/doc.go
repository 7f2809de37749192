// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package federation adapts the exchange of events with remote
// servers to the room admission pipeline.
//
// Inbound, ReceivePDU submits a remote event with federation origin
// semantics (authorization failures soft-fail instead of erroring).
// When the event references history the server does not hold, the
// exchange backfills the missing events from the remote side, admits
// them oldest-first, and retries, bounded by a backoff policy; if the
// gap cannot be closed the missing IDs are recorded as persistent gap
// markers rather than blocking the room.
//
// Outbound, Relay follows a room's admission stream and forwards each
// committed event to every remote server with a joined user, retrying
// transient delivery failures with backoff and logging permanent ones.
// Delivery is at-least-once; remote admission is idempotent by event
// ID, so duplicates are harmless.
package federation
