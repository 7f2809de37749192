// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hearth.yaml", `
server_name: hearth.example
listen:
  address: 0.0.0.0:8448
paths:
  root: /var/lib/hearth
sync:
  timeout: 10s
  timeline_limit: 25
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ServerName != "hearth.example" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
	if cfg.Listen.Address != "0.0.0.0:8448" {
		t.Errorf("Listen.Address = %q", cfg.Listen.Address)
	}
	if cfg.Sync.Timeout != 10*time.Second {
		t.Errorf("Sync.Timeout = %v", cfg.Sync.Timeout)
	}
	if cfg.Sync.TimelineLimit != 25 {
		t.Errorf("Sync.TimelineLimit = %d", cfg.Sync.TimelineLimit)
	}
	// Unspecified fields keep their defaults.
	if !cfg.Federation.Enabled {
		t.Error("Federation.Enabled default lost")
	}
	if cfg.Media.MaxUploadBytes != 50<<20 {
		t.Errorf("Media.MaxUploadBytes = %d", cfg.Media.MaxUploadBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileExpandsRoot(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hearth.yaml", `
server_name: hearth.example
paths:
  root: /srv/hearth
  state: ${HEARTH_ROOT}/state
  events: ${HEARTH_ROOT}/events.db
  media: ${HEARTH_ROOT}/media
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.State != "/srv/hearth/state" {
		t.Errorf("Paths.State = %q", cfg.Paths.State)
	}
	if cfg.Paths.Events != "/srv/hearth/events.db" {
		t.Errorf("Paths.Events = %q", cfg.Paths.Events)
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("HEARTH_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without HEARTH_CONFIG")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing server name", func(c *Config) { c.ServerName = "" }, "server_name"},
		{"zero sync timeout", func(c *Config) { c.Sync.Timeout = 0 }, "sync.timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "logfmt" }, "log.format"},
		{"zero upload cap", func(c *Config) { c.Media.MaxUploadBytes = 0 }, "media.max_upload_bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.ServerName = "hearth.example"
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParsePreset(t *testing.T) {
	preset, err := ParsePreset([]byte(`{
		// Team rooms are invite-only.
		"description": "team room",
		"join_rule": "invite",
		"power_levels": {
			"events_default": 0,
			"users_default": 0, // trailing comma below is fine
		},
	}`))
	if err != nil {
		t.Fatalf("ParsePreset: %v", err)
	}
	if preset.JoinRule != "invite" {
		t.Errorf("JoinRule = %q", preset.JoinRule)
	}
	if preset.PowerLevels == nil {
		t.Fatal("PowerLevels not parsed")
	}
}

func TestParsePresetRejectsUnknownJoinRule(t *testing.T) {
	if _, err := ParsePreset([]byte(`{"join_rule": "knockish"}`)); err == nil {
		t.Fatal("ParsePreset accepted an unknown join rule")
	}
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "announcements.jsonc", `{
		"description": "read-only broadcast room",
		"join_rule": "public",
		"power_levels": {"events_default": 50},
	}`)
	// A file named like a built-in overrides it.
	writeFile(t, dir, "private_chat.jsonc", `{
		"join_rule": "invite",
		"power_levels": {"events_default": 10},
	}`)
	writeFile(t, dir, "notes.txt", "ignored")

	presets, err := LoadPresets(dir)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if _, ok := presets["public_chat"]; !ok {
		t.Error("built-in public_chat missing")
	}
	got, ok := presets["announcements"]
	if !ok {
		t.Fatal("file preset announcements missing")
	}
	if got.PowerLevels.EventsDefault != 50 {
		t.Errorf("announcements events_default = %d", got.PowerLevels.EventsDefault)
	}
	if presets["private_chat"].PowerLevels.EventsDefault != 10 {
		t.Error("file preset did not override built-in private_chat")
	}
	if _, ok := presets["notes"]; ok {
		t.Error("non-jsonc file loaded as preset")
	}
}

func TestLoadPresetsEmptyDir(t *testing.T) {
	presets, err := LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if len(presets) != len(builtinPresets) {
		t.Errorf("got %d presets, want the %d built-ins", len(presets), len(builtinPresets))
	}
}
