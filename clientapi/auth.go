// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/lib/sqlitepool"
)

// Identity is an authenticated caller: the user the access token was
// issued to, and the device the token identifies.
type Identity struct {
	UserID   ref.UserID
	DeviceID ref.DeviceID
}

// TokenValidator resolves a bearer token to the identity it was
// issued to. The API depends on this narrow interface; [TokenStore]
// is the SQLite-backed default, tests use an in-memory fake.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// ErrUnknownToken is returned by Validate for a token the store never
// issued or has revoked.
var ErrUnknownToken = errors.New("unknown access token")

const tokenSchema = `
	CREATE TABLE IF NOT EXISTS access_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		device_id  TEXT NOT NULL,
		created_ts INTEGER NOT NULL
	);
`

// TokenStoreConfig holds the parameters for opening a token store.
type TokenStoreConfig struct {
	// Path is the filesystem path of the token database file.
	Path string

	// Clock supplies issue timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// TokenStore is the SQLite-backed access token table.
type TokenStore struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// OpenTokenStore creates or opens the token store at cfg.Path.
func OpenTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("token store: Logger is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: 2,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, tokenSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	return &TokenStore{pool: pool, clock: clk}, nil
}

// Close closes the underlying pool.
func (t *TokenStore) Close() error {
	return t.pool.Close()
}

// Issue mints an access token and a fresh device ID for the user.
func (t *TokenStore) Issue(ctx context.Context, userID ref.UserID) (string, Identity, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", Identity{}, fmt.Errorf("token store: minting token: %w", err)
	}
	token := "hea_" + base64.RawURLEncoding.EncodeToString(raw)
	identity := Identity{UserID: userID, DeviceID: ref.MintDeviceID()}

	conn, err := t.pool.Take(ctx)
	if err != nil {
		return "", Identity{}, fmt.Errorf("token store: issue: %w", err)
	}
	defer t.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO access_tokens (token, user_id, device_id, created_ts) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{token, userID.String(), identity.DeviceID.String(), t.clock.Now().UnixMilli()},
		})
	if err != nil {
		return "", Identity{}, fmt.Errorf("token store: recording token: %w", err)
	}
	return token, identity, nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (t *TokenStore) Revoke(ctx context.Context, token string) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("token store: revoke: %w", err)
	}
	defer t.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM access_tokens WHERE token = ?",
		&sqlitex.ExecOptions{Args: []any{token}})
	if err != nil {
		return fmt.Errorf("token store: revoking token: %w", err)
	}
	return nil
}

// Validate implements [TokenValidator].
func (t *TokenStore) Validate(ctx context.Context, token string) (Identity, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("token store: validate: %w", err)
	}
	defer t.pool.Put(conn)

	var userRaw, deviceRaw string
	found := false
	err = sqlitex.Execute(conn,
		"SELECT user_id, device_id FROM access_tokens WHERE token = ?",
		&sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				userRaw = stmt.ColumnText(0)
				deviceRaw = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return Identity{}, fmt.Errorf("token store: looking up token: %w", err)
	}
	if !found {
		return Identity{}, ErrUnknownToken
	}

	userID, err := ref.ParseUserID(userRaw)
	if err != nil {
		return Identity{}, fmt.Errorf("token store: stored user ID: %w", err)
	}
	deviceID, err := ref.ParseDeviceID(deviceRaw)
	if err != nil {
		return Identity{}, fmt.Errorf("token store: stored device ID: %w", err)
	}
	return Identity{UserID: userID, DeviceID: deviceID}, nil
}

// authenticate resolves the request's bearer token. Matrix clients
// send it in the Authorization header; the access_token query
// parameter is accepted for compatibility.
func (a *API) authenticate(r *http.Request) (Identity, *MatrixError) {
	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return Identity{}, Errorf(http.StatusUnauthorized, CodeMissingToken, "malformed Authorization header")
		}
		token = bearer
	} else {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return Identity{}, Errorf(http.StatusUnauthorized, CodeMissingToken, "missing access token")
	}

	identity, err := a.tokens.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrUnknownToken) {
			return Identity{}, Errorf(http.StatusUnauthorized, CodeUnknownToken, "unknown access token")
		}
		a.logger.Error("token validation failed", "error", err)
		return Identity{}, Errorf(http.StatusInternalServerError, CodeUnknown, "internal error")
	}
	return identity, nil
}
