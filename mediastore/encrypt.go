// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of the store's master key and every derived
// per-blob key.
const KeySize = 32

// sealedBlobVersion is prepended to every sealed blob and carried as
// AAD, so a tampered version byte fails authentication.
const sealedBlobVersion byte = 0x01

// hkdfInfoBlob is the HKDF info prefix for per-blob key derivation.
// Changing it invalidates every sealed blob.
var hkdfInfoBlob = []byte("hearth.media.blob.enc.v1")

// deriveBlobKey derives the per-blob encryption key from the master
// key and the plaintext hash. The same plaintext always derives the
// same key, preserving deduplication.
func deriveBlobKey(masterKey []byte, hash [32]byte) ([]byte, error) {
	info := make([]byte, 0, len(hkdfInfoBlob)+len(hash))
	info = append(info, hkdfInfoBlob...)
	info = append(info, hash[:]...)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("deriving blob key: %w", err)
	}
	return key, nil
}

// sealBlob encrypts a compressed blob with XChaCha20-Poly1305:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// The version byte and plaintext hash are AAD, binding the
// ciphertext to the media it belongs to.
func sealBlob(plaintext, key []byte, hash [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealing blob: %w", err)
	}
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = sealedBlobVersion
	nonce := out[1 : 1+aead.NonceSize()]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealing blob: %w", err)
	}
	aad := append([]byte{sealedBlobVersion}, hash[:]...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// openBlob reverses sealBlob.
func openBlob(sealed, key []byte, hash [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	if len(sealed) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(sealed))
	}
	if sealed[0] != sealedBlobVersion {
		return nil, fmt.Errorf("unknown sealed blob version: %d", sealed[0])
	}
	nonce := sealed[1 : 1+aead.NonceSize()]
	aad := append([]byte{sealedBlobVersion}, hash[:]...)
	plaintext, err := aead.Open(nil, nonce, sealed[1+aead.NonceSize():], aad)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return plaintext, nil
}
