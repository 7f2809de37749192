// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediastore is a content-addressed blob store for uploaded
// media.
//
// Media IDs are derived from a keyed BLAKE3 hash of the plaintext, so
// an identical upload lands on the existing blob and the download path
// can verify integrity end to end. Blobs live as files sharded by
// hash prefix; a SQLite index carries the serving metadata (content
// type, size, compression tag, whether the blob is sealed).
//
// Compression is chosen by content type: zstd for text-like payloads,
// LZ4 for unknown binary, none for formats that are already
// compressed. When the store is opened with a master key, every blob
// is sealed at rest with XChaCha20-Poly1305 under a per-blob key
// derived via HKDF from the master key and the plaintext hash, with
// the hash as authenticated data so a swapped blob fails to open.
//
// There is no transcoding and no thumbnailing here; this is storage
// only.
package mediastore
