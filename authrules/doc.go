// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authrules decides whether a candidate event is permitted
// given a resolved room state snapshot.
//
// Authorize is a pure function: its only inputs are the candidate
// event and the Snapshot, and a non-nil error always means the event
// is rejected by the rules, never that something failed operationally.
// It performs no I/O and never consults the clock, which is what lets
// state resolution replay the same events against cumulative state and
// reach the same answer on every server.
//
// Rules are dispatched by event type through a fixed table. Room
// creation must be the unique graph root. Membership changes follow a
// state machine gated by the actor's own membership, the room's join
// rule, and power-level thresholds. Other known types require the
// sender to be joined and to meet the type's power threshold. Event
// types the table does not know are denied outright.
//
// Structural validity (required fields, graph shape, size) is the
// event package's job; Authorize assumes a well-formed event.
package authrules
