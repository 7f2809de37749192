// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// AuthEventsFor selects from the snapshot the state events a
// candidate's auth_events field must reference: the events Authorize
// would consult to decide it. The room actor calls this when building
// locally-submitted events. Create events reference nothing.
func AuthEventsFor(candidate *event.Event, state Snapshot) []ref.EventID {
	if candidate.Type == event.TypeCreate {
		return nil
	}

	var out []ref.EventID
	seen := make(map[ref.EventID]struct{}, 5)
	add := func(e *event.Event) {
		if e == nil {
			return
		}
		if _, dup := seen[e.ID]; dup {
			return
		}
		seen[e.ID] = struct{}{}
		out = append(out, e.ID)
	}

	add(state.Get(event.TypeCreate, ""))
	add(state.Get(event.TypePowerLevels, ""))
	add(state.Get(event.TypeMember, candidate.Sender.String()))

	if candidate.Type == event.TypeMember {
		add(state.Get(event.TypeMember, candidate.StateKeyValue()))
		add(state.Get(event.TypeJoinRules, ""))
	}
	return out
}
