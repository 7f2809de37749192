// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// localpartChars is the set of characters permitted in Matrix user
// localparts (per the Matrix spec: a-z, 0-9, and the symbols . _ = - /).
var localpartChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		localpartChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		localpartChars[c] = true
	}
	localpartChars['.'] = true
	localpartChars['_'] = true
	localpartChars['='] = true
	localpartChars['-'] = true
	localpartChars['/'] = true
}

// maxIdentifierLength bounds every Matrix identifier hearth will
// accept. The Matrix spec caps event-carrying identifiers at 255
// bytes; anything longer is rejected at the parse boundary so that
// storage and log lines never see oversized IDs.
const maxIdentifierLength = 255

// validateLocalpart checks a user ID localpart: non-empty and drawn
// from the permitted character set.
func validateLocalpart(localpart string) error {
	if localpart == "" {
		return fmt.Errorf("localpart is empty")
	}
	for i := 0; i < len(localpart); i++ {
		if !localpartChars[localpart[i]] {
			return fmt.Errorf("localpart %q: invalid character at position %d (allowed: a-z, 0-9, ., _, =, -, /)", localpart, i)
		}
	}
	return nil
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters or whitespace, no Matrix sigils.
// Hostname syntax beyond that is deliberately not enforced — server
// names from remote events are opaque routing labels.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' || c == '$' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parsePrefixedID extracts localpart and server from a Matrix
// identifier with the given sigil prefix (@ for user IDs, ! for room
// IDs, # for room aliases).
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) > maxIdentifierLength {
		return "", "", fmt.Errorf("invalid %s: %d bytes exceeds the %d byte limit", kind, len(identifier), maxIdentifierLength)
	}
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.Index(identifier[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("invalid %s %q: %w", kind, identifier, err)
	}
	return localpart, server, nil
}
