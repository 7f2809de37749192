// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer implements incremental long-poll synchronization.
//
// A sync call carries an opaque token recording, per joined room, the
// last stream position the device has seen. The call returns every
// newer event, the state changes since that position, and any pending
// ephemeral signals; when nothing is pending it suspends until a
// watched room publishes or the timeout elapses, and a timeout is an
// empty delta with the token unchanged, never an error.
//
// Waits are cooperative: a suspended sync holds room subscriptions and
// a timer, never the rooms' write paths. Cancelling the context
// releases both immediately and has no effect on committed state.
package syncer
