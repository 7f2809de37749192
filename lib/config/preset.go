// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/hearth/event"
)

// Preset describes the initial state of a newly created room beyond
// the create event itself: the join rule and the starting power
// levels. Presets are stored as JSONC files so deployments can
// annotate them with comments.
type Preset struct {
	// Description is shown by tooling; not part of any event.
	Description string `json:"description,omitempty"`

	// JoinRule is the initial m.room.join_rules value, "public" or
	// "invite".
	JoinRule string `json:"join_rule"`

	// HistoryVisibility is the initial m.room.history_visibility
	// value. Empty means no history visibility event is created.
	HistoryVisibility string `json:"history_visibility,omitempty"`

	// PowerLevels is the initial m.room.power_levels content. The
	// room creator is always added to Users at level 100 on top of
	// whatever the preset specifies.
	PowerLevels *event.PowerLevelsContent `json:"power_levels,omitempty"`
}

// builtinPresets are always available, matching the presets clients
// expect from room creation. File-based presets with the same name
// override them.
var builtinPresets = map[string]Preset{
	"private_chat": {
		Description: "Invite-only room",
		JoinRule:    "invite",
		PowerLevels: &event.PowerLevelsContent{
			EventsDefault: 0,
			UsersDefault:  0,
		},
	},
	"public_chat": {
		Description: "Anyone can join",
		JoinRule:    "public",
		PowerLevels: &event.PowerLevelsContent{
			EventsDefault: 0,
			UsersDefault:  0,
		},
	},
}

// ParsePreset strips JSONC comments and trailing commas from data,
// then unmarshals the result. The input format is plain JSON extended
// with // line comments, /* block comments */, and trailing commas.
func ParsePreset(data []byte) (*Preset, error) {
	stripped := jsonc.ToJSON(data)

	var preset Preset
	if err := json.Unmarshal(stripped, &preset); err != nil {
		return nil, fmt.Errorf("parsing preset: %w", err)
	}
	switch preset.JoinRule {
	case "public", "invite":
	default:
		return nil, fmt.Errorf("parsing preset: join_rule must be public or invite, got %q", preset.JoinRule)
	}
	return &preset, nil
}

// LoadPresets returns the built-in presets merged with every .jsonc
// file under dir, keyed by file name without extension. A file named
// like a built-in preset replaces it. An empty dir returns only the
// built-ins.
func LoadPresets(dir string) (map[string]Preset, error) {
	presets := make(map[string]Preset, len(builtinPresets))
	for name, preset := range builtinPresets {
		presets[name] = preset
	}
	if dir == "" {
		return presets, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonc") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading preset %s: %w", path, err)
		}
		preset, err := ParsePreset(data)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", path, err)
		}
		name := strings.TrimSuffix(entry.Name(), ".jsonc")
		presets[name] = *preset
	}
	return presets, nil
}
