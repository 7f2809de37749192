// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstore persists the room event graph in SQLite.
//
// Events are content-addressed and append-only: the event ID is the
// primary key, a duplicate append with identical content is an
// idempotent no-op, and a duplicate ID carrying different content is a
// poison input surfaced as ErrPoisoned — never silently resolved. An
// admitted event also receives a per-room stream position, a strictly
// monotonic arrival-order counter that the timeline and sync layers
// page over; it is distinct from the event's graph depth.
//
// Alongside the event table the store keeps, per room, the current
// resolved state mapping, the forward-extremity set, persistent gap
// markers for parents that backfill could not produce, and per-device
// sync cursors. Every mutation made by one Append call commits in a
// single transaction, so readers see either the room before an
// admission or after it, never a partial one.
//
// The store itself does not decide anything: authorization, soft-fail
// classification, and state resolution happen in the room actor, which
// is the only writer for a given room.
package eventstore
