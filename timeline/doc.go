// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline presents a room's event graph as a totally ordered,
// pageable sequence for client display.
//
// The order is stream position: the server-local arrival order, which
// is stable and strictly monotonic per room. Graph structure (depth,
// prev_events) does not reorder anything; it is consulted only to
// detect discontinuities — entries whose parents the server does not
// hold are labelled as sitting after a gap so clients can show a
// "history may be missing" marker and the federation layer knows where
// to backfill.
//
// Pagination walks backward from a position carried in an opaque
// continuation token. The same token over the same stored events
// yields the same page.
package timeline
