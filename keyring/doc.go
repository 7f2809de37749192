// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyring manages the server's Ed25519 event-signing key.
//
// The key lives in a directory as two files: an age x25519 identity
// (the directory's unlock key, mode 0600) and the Ed25519 seed sealed
// to that identity. Open loads the pair, generating both on first run.
// The signing key never touches disk unencrypted.
//
// Key IDs follow the Matrix convention "ed25519:<fingerprint>" where
// the fingerprint is derived from the public key, so rotated keys get
// distinct IDs and signatures name the key that made them.
package keyring
