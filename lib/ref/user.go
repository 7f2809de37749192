// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@alice:hearth.local").
//
// A Matrix user ID always starts with '@' and contains a ':'
// separating the localpart from the server name. User IDs arrive from
// three directions: access-token lookup (local users), event senders
// in remote PDUs (any federated user), and request bodies (invite
// targets). All three are parsed through this type at the boundary.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	localpart, _, err := parsePrefixedID(raw, '@', "user ID")
	if err != nil {
		return UserID{}, err
	}
	if err := validateLocalpart(localpart); err != nil {
		return UserID{}, fmt.Errorf("invalid user ID %q: %w", raw, err)
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// LocalUserID constructs a user ID (@localpart:server) for an account
// on this homeserver. The localpart must already satisfy registration
// validation; the result is valid by construction.
func LocalUserID(localpart string, server ServerName) UserID {
	return UserID{id: "@" + localpart + ":" + server.name}
}

// String returns the full user ID string (e.g., "@alice:hearth.local").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Panics if called on a zero-value
// UserID.
func (u UserID) Localpart() string {
	localpart, _ := u.split()
	return localpart
}

// Server returns the server name portion of the user ID (after the
// ':'). Used to distinguish local users from federated ones. Panics if
// called on a zero-value UserID.
func (u UserID) Server() ServerName {
	_, server := u.split()
	return ServerName{name: server}
}

func (u UserID) split() (localpart, server string) {
	if u.id == "" {
		panic("ref.UserID: split called on zero value")
	}
	localpart, server, err := parsePrefixedID(u.id, '@', "user ID")
	if err != nil {
		// UserID was validated at construction — this is unreachable.
		panic(fmt.Sprintf("ref.UserID: internal error parsing %q: %v", u.id, err))
	}
	return localpart, server
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// user ID format. An empty input produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
