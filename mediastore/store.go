// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/sqlitepool"
)

// ErrNotFound is returned by Get and Stat for a media ID the store has
// never seen.
var ErrNotFound = errors.New("media not found")

// mediaDomainKey is the BLAKE3 key for media content hashing. Distinct
// from the event reference key so a media blob and an event encoding
// over the same bytes can never share an identifier. ASCII domain name
// zero-padded to 32 bytes.
var mediaDomainKey = [32]byte{
	'h', 'e', 'a', 'r', 't', 'h', '.', 'm', 'e', 'd', 'i', 'a', '.',
	'r', 'e', 'f', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const schema = `
	CREATE TABLE IF NOT EXISTS media (
		media_id     TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		size         INTEGER NOT NULL,
		stored_size  INTEGER NOT NULL,
		compression  INTEGER NOT NULL,
		sealed       INTEGER NOT NULL,
		created_ts   INTEGER NOT NULL
	);
`

// Info describes a stored media blob.
type Info struct {
	// ID is the content-derived media identifier: the unpadded
	// URL-safe base64 of the keyed BLAKE3 digest of the plaintext.
	ID string

	// ContentType is the MIME type recorded at upload.
	ContentType string

	// Size is the plaintext size in bytes.
	Size int64

	// StoredSize is the on-disk blob size after compression and
	// sealing.
	StoredSize int64

	// Compression is how the blob is stored on disk.
	Compression CompressionTag

	// Sealed reports whether the blob is encrypted at rest.
	Sealed bool

	// CreatedTS is the upload time in milliseconds since the Unix
	// epoch.
	CreatedTS int64
}

// Config holds the parameters for opening a media store.
type Config struct {
	// Path is the store's root directory. Created if absent. The
	// index database and blob shards live under it.
	Path string

	// PoolSize is the number of index connections. Defaults to 4 if
	// zero or negative.
	PoolSize int

	// Key is an optional 32-byte master key. When set, every blob is
	// sealed at rest with a key derived per blob; when nil, blobs are
	// stored in the clear.
	Key []byte

	// Clock supplies upload timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is a content-addressed media blob store. Blobs are compressed
// by content type, optionally sealed, and written once; uploading the
// same bytes twice yields the same media ID and a single blob on disk.
type Store struct {
	root   string
	pool   *sqlitepool.Pool
	key    []byte
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates or opens the media store rooted at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("media store: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("media store: Logger is required")
	}
	if cfg.Key != nil && len(cfg.Key) != KeySize {
		return nil, fmt.Errorf("media store: Key must be %d bytes, got %d", KeySize, len(cfg.Key))
	}
	if err := os.MkdirAll(filepath.Join(cfg.Path, "blobs"), 0o700); err != nil {
		return nil, fmt.Errorf("media store: creating blob directory: %w", err)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(cfg.Path, "index.db"),
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}
	return &Store{
		root:   cfg.Path,
		pool:   pool,
		key:    cfg.Key,
		clock:  clk,
		logger: cfg.Logger,
	}, nil
}

// Close closes the index pool. Blob files need no teardown.
func (s *Store) Close() error {
	return s.pool.Close()
}

// hashContent computes the domain-keyed BLAKE3 digest of the
// plaintext.
func hashContent(data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(mediaDomainKey[:])
	if err != nil {
		// The key is a compile-time 32-byte constant; NewKeyed only
		// fails on wrong key length.
		panic(fmt.Sprintf("mediastore: BLAKE3 keyed hasher: %v", err))
	}
	hasher.Write(data)
	var digest [32]byte
	hasher.Digest().Read(digest[:])
	return digest
}

// blobPath returns the sharded filesystem path for a digest:
// <root>/blobs/<hex[:2]>/<hex[2:4]>/<hex>
func (s *Store) blobPath(digest [32]byte) string {
	h := hex.EncodeToString(digest[:])
	return filepath.Join(s.root, "blobs", h[:2], h[2:4], h)
}

// Put stores data under its content-derived media ID. Uploading bytes
// the store already holds returns the existing record without touching
// disk; the recorded content type is the one from the first upload.
func (s *Store) Put(ctx context.Context, contentType string, data []byte) (Info, error) {
	digest := hashContent(data)
	id := base64.RawURLEncoding.EncodeToString(digest[:])

	if existing, err := s.Stat(ctx, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}

	tag := tagForContentType(contentType)
	blob, err := compress(data, tag)
	if err != nil {
		return Info{}, fmt.Errorf("media store: %w", err)
	}
	if tag == CompressionLZ4 && len(blob) == len(data) {
		// Incompressible block stored raw; record it as such so the
		// read path does not need the length heuristic.
		tag = CompressionNone
	}

	sealed := s.key != nil
	if sealed {
		blobKey, err := deriveBlobKey(s.key, digest)
		if err != nil {
			return Info{}, fmt.Errorf("media store: %w", err)
		}
		blob, err = sealBlob(blob, blobKey, digest)
		if err != nil {
			return Info{}, fmt.Errorf("media store: %w", err)
		}
	}

	if err := s.writeBlob(digest, blob); err != nil {
		return Info{}, err
	}

	info := Info{
		ID:          id,
		ContentType: contentType,
		Size:        int64(len(data)),
		StoredSize:  int64(len(blob)),
		Compression: tag,
		Sealed:      sealed,
		CreatedTS:   s.clock.Now().UnixMilli(),
	}
	if err := s.insertInfo(ctx, info); err != nil {
		return Info{}, err
	}
	s.logger.Debug("media stored",
		"media_id", id,
		"content_type", contentType,
		"size", info.Size,
		"stored_size", info.StoredSize,
		"compression", tag.String(),
		"sealed", sealed)
	return info, nil
}

// writeBlob writes the blob atomically: temp file in the shard
// directory, then rename.
func (s *Store) writeBlob(digest [32]byte, blob []byte) error {
	finalPath := s.blobPath(digest)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("media store: creating shard directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("media store: creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("media store: writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("media store: closing temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("media store: renaming blob: %w", err)
	}
	return nil
}

func (s *Store) insertInfo(ctx context.Context, info Info) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("media store: put: %w", err)
	}
	defer s.pool.Put(conn)

	sealed := 0
	if info.Sealed {
		sealed = 1
	}
	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO media
			(media_id, content_type, size, stored_size, compression, sealed, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				info.ID, info.ContentType, info.Size, info.StoredSize,
				int64(info.Compression), sealed, info.CreatedTS,
			},
		})
	if err != nil {
		return fmt.Errorf("media store: indexing %s: %w", info.ID, err)
	}
	return nil
}

// Stat returns the record for a media ID without reading the blob.
func (s *Store) Stat(ctx context.Context, id string) (Info, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("media store: stat: %w", err)
	}
	defer s.pool.Put(conn)

	var info Info
	found := false
	err = sqlitex.Execute(conn,
		`SELECT content_type, size, stored_size, compression, sealed, created_ts
			FROM media WHERE media_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info = Info{
					ID:          id,
					ContentType: stmt.ColumnText(0),
					Size:        stmt.ColumnInt64(1),
					StoredSize:  stmt.ColumnInt64(2),
					Compression: CompressionTag(stmt.ColumnInt64(3)),
					Sealed:      stmt.ColumnInt64(4) != 0,
					CreatedTS:   stmt.ColumnInt64(5),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return Info{}, fmt.Errorf("media store: looking up %s: %w", id, err)
	}
	if !found {
		return Info{}, fmt.Errorf("media store: %s: %w", id, ErrNotFound)
	}
	return info, nil
}

// Get returns the plaintext bytes and record for a media ID. The
// returned bytes are verified against the ID; a blob that unseals or
// decompresses to different content is an integrity error, not a
// result.
func (s *Store) Get(ctx context.Context, id string) ([]byte, Info, error) {
	info, err := s.Stat(ctx, id)
	if err != nil {
		return nil, Info{}, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) != 32 {
		return nil, Info{}, fmt.Errorf("media store: malformed media ID %q", id)
	}
	var digest [32]byte
	copy(digest[:], raw)

	blob, err := os.ReadFile(s.blobPath(digest))
	if err != nil {
		return nil, Info{}, fmt.Errorf("media store: reading blob %s: %w", id, err)
	}

	if info.Sealed {
		if s.key == nil {
			return nil, Info{}, fmt.Errorf("media store: %s is sealed but no key is configured", id)
		}
		blobKey, err := deriveBlobKey(s.key, digest)
		if err != nil {
			return nil, Info{}, fmt.Errorf("media store: %w", err)
		}
		blob, err = openBlob(blob, blobKey, digest)
		if err != nil {
			return nil, Info{}, fmt.Errorf("media store: unsealing %s: %w", id, err)
		}
	}

	data, err := decompress(blob, info.Compression, int(info.Size))
	if err != nil {
		return nil, Info{}, fmt.Errorf("media store: decompressing %s: %w", id, err)
	}
	if hashContent(data) != digest {
		return nil, Info{}, fmt.Errorf("media store: %s: stored content does not match its ID", id)
	}
	return data, info, nil
}
