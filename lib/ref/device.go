// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// DeviceID is a Matrix device identifier. Device IDs are opaque
// server-assigned strings with no internal structure — unlike UserID
// and RoomID there is no localpart:server format to validate. The type
// exists to prevent accidental confusion with other string values
// (user IDs, access tokens, sync tokens) at compile time, and because
// the sync cursor table is keyed by (device, room).
type DeviceID struct {
	id string
}

// ParseDeviceID constructs a DeviceID from a raw string. Returns an
// error if the string is empty or oversized.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("device ID is empty")
	}
	if len(raw) > maxIdentifierLength {
		return DeviceID{}, fmt.Errorf("device ID: %d bytes exceeds the %d byte limit", len(raw), maxIdentifierLength)
	}
	return DeviceID{id: raw}, nil
}

// MustParseDeviceID is like ParseDeviceID but panics on error. Use in
// tests where the input is known-valid.
func MustParseDeviceID(raw string) DeviceID {
	d, err := ParseDeviceID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseDeviceID(%q): %v", raw, err))
	}
	return d
}

// MintDeviceID generates a fresh device ID: 8 uppercase base32
// characters, matching the shape clients expect from homeserver-
// assigned device IDs.
func MintDeviceID() DeviceID {
	var opaque [5]byte
	if _, err := rand.Read(opaque[:]); err != nil {
		panic(fmt.Sprintf("ref.MintDeviceID: reading random bytes: %v", err))
	}
	return DeviceID{id: base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(opaque[:])}
}

// String returns the device ID string.
func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is the zero value (uninitialized).
func (d DeviceID) IsZero() bool { return d.id == "" }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (d DeviceID) MarshalText() ([]byte, error) {
	if d.id == "" {
		return []byte{}, nil
	}
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = DeviceID{}
		return nil
	}
	parsed, err := ParseDeviceID(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
