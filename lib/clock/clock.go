// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() with deterministic time control.
//
// Hearth touches the wall clock in exactly three places: stamping
// admitted events (Now), holding sync long-polls open (After), and
// pacing backfill retry backoff (After, Sleep). All three go through
// this interface so that long-poll and backoff tests run in
// microseconds instead of wall-clock seconds.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine. Returns a Timer whose Stop cancels the pending call.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Timer represents a scheduled AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
