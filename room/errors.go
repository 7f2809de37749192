// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/hearth/lib/ref"
)

// RejectedError is the hard failure returned to local submitters whose
// event fails authorization. Reason carries the auth engine's verdict.
type RejectedError struct {
	EventID ref.EventID
	Reason  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("event %s rejected: %v", e.EventID, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Reason }

// MalformedError is returned for events that fail structural
// validation or integrity checks. Malformed events are never stored.
type MalformedError struct {
	Reason error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed event: %v", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Reason }

// GapError is returned when an event references parents or auth
// events the store does not hold. The event is not stored; the caller
// (the federation exchange) is expected to backfill the missing IDs
// and resubmit.
type GapError struct {
	RoomID  ref.RoomID
	Missing []ref.EventID
}

func (e *GapError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = id.String()
	}
	return fmt.Sprintf("room %s: missing referenced events: %s", e.RoomID, strings.Join(ids, ", "))
}
