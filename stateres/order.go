// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stateres

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/hearth/event"
)

// powerOrder sorts events by the power level their sender held when
// the event was made (higher first), then by origin_server_ts (earlier
// first), then by event ID. The ordering is total because IDs are
// unique, which is what makes the replay deterministic.
func powerOrder(events []*event.Event, fetch Fetch) ([]*event.Event, error) {
	type entry struct {
		e     *event.Event
		power int64
	}
	entries := make([]entry, 0, len(events))
	for _, e := range events {
		power, err := senderPowerAt(e, fetch)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{e: e, power: power})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.power != b.power {
			return a.power > b.power
		}
		if a.e.OriginServerTS != b.e.OriginServerTS {
			return a.e.OriginServerTS < b.e.OriginServerTS
		}
		return a.e.ID.String() < b.e.ID.String()
	})
	ordered := make([]*event.Event, len(entries))
	for i, ent := range entries {
		ordered[i] = ent.e
	}
	return ordered, nil
}

// senderPowerAt returns the power level the sender held at the time of
// the event, read from the event's own auth_events: the referenced
// power-levels event if there is one, otherwise the creator default if
// the sender created the room.
func senderPowerAt(e *event.Event, fetch Fetch) (int64, error) {
	if e.Type == event.TypeCreate {
		return event.CreatorDefaultPower, nil
	}

	var create *event.Event
	for _, id := range e.AuthEvents {
		auth, err := fetch(id)
		if err != nil {
			return 0, fmt.Errorf("power of %s: fetching auth event %s: %w", e.ID, id, err)
		}
		switch {
		case auth.Type == event.TypePowerLevels && auth.StateKeyValue() == "":
			content, err := event.ParsePowerLevels(auth.Content)
			if err != nil {
				return 0, fmt.Errorf("power of %s: %w", e.ID, err)
			}
			return content.UserLevel(e.Sender.String()), nil
		case auth.Type == event.TypeCreate:
			create = auth
		}
	}
	if create != nil {
		content, err := event.ParseCreate(create.Content)
		if err == nil && content.Creator == e.Sender.String() {
			return event.CreatorDefaultPower, nil
		}
	}
	return 0, nil
}
