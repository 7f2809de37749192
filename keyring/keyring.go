// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

const (
	identityFile = "identity.age"
	signingFile  = "signing.key.sealed"
)

// Config carries the dependencies of a Keyring.
type Config struct {
	// Path is the directory holding the key material. Created with
	// mode 0700 if absent. Required.
	Path string

	// ServerName is the name signatures are published under.
	// Required.
	ServerName ref.ServerName

	// Logger receives key lifecycle logging. If nil, logging is
	// discarded.
	Logger *slog.Logger
}

// Keyring holds the server's signing key in memory for the life of
// the process.
type Keyring struct {
	serverName ref.ServerName
	keyID      string
	private    ed25519.PrivateKey
	public     ed25519.PublicKey
}

// Open loads the server key from the directory, generating and
// sealing a fresh one on first run.
func Open(cfg Config) (*Keyring, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("keyring: Path is required")
	}
	if cfg.ServerName.IsZero() {
		return nil, fmt.Errorf("keyring: ServerName is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("keyring: creating %s: %w", cfg.Path, err)
	}

	seed, generated, err := loadOrGenerateSeed(cfg.Path)
	if err != nil {
		return nil, err
	}
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	k := &Keyring{
		serverName: cfg.ServerName,
		keyID:      keyID(public),
		private:    private,
		public:     public,
	}
	if generated {
		logger.Info("generated server signing key", "key_id", k.keyID, "server", cfg.ServerName.String())
	} else {
		logger.Info("loaded server signing key", "key_id", k.keyID, "server", cfg.ServerName.String())
	}
	return k, nil
}

// keyID derives the Matrix-style key identifier from the public key.
func keyID(public ed25519.PublicKey) string {
	fingerprint := base64.RawURLEncoding.EncodeToString(public)[:8]
	return "ed25519:" + fingerprint
}

// KeyID returns the identifier signatures are filed under.
func (k *Keyring) KeyID() string { return k.keyID }

// ServerName returns the name this keyring signs for.
func (k *Keyring) ServerName() ref.ServerName { return k.serverName }

// PublicKey returns the verification key. Safe to publish.
func (k *Keyring) PublicKey() ed25519.PublicKey { return k.public }

// PrivateKey returns the signing key for use with event.Builder.
func (k *Keyring) PrivateKey() ed25519.PrivateKey { return k.private }

// Sign attaches this server's signature to an already-sealed event.
func (k *Keyring) Sign(e *event.Event) error {
	return e.Sign(k.serverName, k.keyID, k.private)
}

// Verify checks this server's signature on an event.
func (k *Keyring) Verify(e *event.Event) error {
	return e.VerifySignature(k.serverName, k.keyID, k.public)
}

// loadOrGenerateSeed returns the Ed25519 seed, unsealing the stored
// copy or minting and sealing a new one.
func loadOrGenerateSeed(dir string) (seed []byte, generated bool, err error) {
	identityPath := filepath.Join(dir, identityFile)
	signingPath := filepath.Join(dir, signingFile)

	rawIdentity, err := os.ReadFile(identityPath)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(rawIdentity)))
		if err != nil {
			return nil, false, fmt.Errorf("keyring: parsing %s: %w", identityPath, err)
		}
		seed, err := unsealSeed(signingPath, identity)
		if err != nil {
			return nil, false, err
		}
		return seed, false, nil
	case os.IsNotExist(err):
		// First run: fresh identity, fresh key.
	default:
		return nil, false, fmt.Errorf("keyring: reading %s: %w", identityPath, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, false, fmt.Errorf("keyring: generating identity: %w", err)
	}
	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, false, fmt.Errorf("keyring: generating seed: %w", err)
	}
	if err := sealSeed(signingPath, identity.Recipient(), seed); err != nil {
		return nil, false, err
	}
	// The identity is written after the sealed seed: a crash between
	// the writes leaves a sealed file that the next run overwrites,
	// never an identity without its key.
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, false, fmt.Errorf("keyring: writing %s: %w", identityPath, err)
	}
	return seed, true, nil
}

func sealSeed(path string, recipient age.Recipient, seed []byte) error {
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("keyring: sealing key: %w", err)
	}
	if _, err := w.Write(seed); err != nil {
		return fmt.Errorf("keyring: sealing key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("keyring: sealing key: %w", err)
	}
	if err := os.WriteFile(path, sealed.Bytes(), 0o600); err != nil {
		return fmt.Errorf("keyring: writing %s: %w", path, err)
	}
	return nil
}

func unsealSeed(path string, identity *age.X25519Identity) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: reading %s: %w", path, err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("keyring: unsealing %s: %w", path, err)
	}
	seed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("keyring: unsealing %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyring: sealed key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}
