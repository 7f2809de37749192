// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock operations behind an injectable
// interface so that time-dependent behavior — sync long-poll timeouts
// and backfill retry backoff — is deterministic under test.
//
// Production code constructs components with Real(). Tests construct
// them with Fake(initial) and drive time explicitly:
//
//	fakeClock := clock.Fake(time.Unix(1700000000, 0))
//	go func() { done <- manager.Sync(ctx, request) }()
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(30 * time.Second)
//
// WaitForTimers closes the race between the code under test
// registering its timer and the test advancing the clock; without it,
// Advance could run before the timer exists and the long-poll would
// hang.
package clock
