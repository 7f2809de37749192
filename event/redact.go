// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "encoding/json"

// preservedContentKeys lists, per event type, the content keys that
// survive redaction. The surviving keys are exactly the ones the auth
// rule engine and state resolution read — redacting an event must not
// change what it authorized.
var preservedContentKeys = map[string][]string{
	TypeCreate:            {"creator", "room_version"},
	TypeMember:            {"membership"},
	TypePowerLevels:       {"users", "users_default", "events", "events_default", "state_default", "invite", "kick", "ban", "redact"},
	TypeJoinRules:         {"join_rule"},
	TypeHistoryVisibility: {"history_visibility"},
}

// Redact returns the content-pruned view of an event. The stored event
// is untouched — redaction is a read-time transformation applied when
// serving an event whose redaction has been admitted.
//
// For types with auth-relevant content, the protected keys are kept;
// for everything else the content becomes empty. Graph fields
// (prev_events, auth_events, depth) always survive: redaction removes
// what a user said, never where the event sits in the room's history.
func Redact(e *Event) *Event {
	redacted := *e

	keep := preservedContentKeys[e.Type]
	if len(keep) == 0 {
		redacted.Content = json.RawMessage("{}")
		return &redacted
	}

	var content map[string]json.RawMessage
	if err := json.Unmarshal(e.Content, &content); err != nil {
		// Stored events passed Validate at admission; unparseable
		// content here should be impossible, but serving an empty
		// object is safer than serving the original.
		redacted.Content = json.RawMessage("{}")
		return &redacted
	}

	pruned := make(map[string]json.RawMessage, len(keep))
	for _, key := range keep {
		if value, ok := content[key]; ok {
			pruned[key] = value
		}
	}
	data, err := json.Marshal(pruned)
	if err != nil {
		redacted.Content = json.RawMessage("{}")
		return &redacted
	}
	redacted.Content = data
	return &redacted
}
