// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package room serializes all writes to a room through one actor.
//
// Every room gets one goroutine that owns the room's admission
// pipeline: structural validation, gap detection, authorization
// against current state, the store append, and state resolution when a
// state event contests a key across diverged branches. Requests queue
// FIFO behind the in-flight admission; two admissions for the same
// room never interleave, which is what makes resolution's determinism
// guarantee sound. Different rooms run fully in parallel.
//
// The Manager routes by room ID and creates actors on demand. Reads
// (CurrentState) go straight to the store and see the last committed
// admission, never a partial one. Subscriptions receive every
// committed admission in stream-position order; publication happens
// before the submitter gets its reply, so an observer can never be
// told about an event later than its sender.
//
// Rejection semantics depend on origin: a locally-submitted event that
// fails authorization is a hard error to the submitter, while a
// federation-sourced one is stored soft-failed — kept for graph
// connectivity, logged, and excluded from state and timeline effect.
package room
