// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a blob is compressed on disk. The
// values are storage-format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the blob as-is. Chosen for content
	// types that are already compressed.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is the fast default for binary content.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is used for text-like content where the
	// better ratio pays for the CPU.
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// tagForContentType picks a compression tag from the declared MIME
// type. Unknown types get LZ4: cheap, and never worse than storing
// high-entropy data under zstd.
func tagForContentType(contentType string) CompressionTag {
	mime := contentType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(strings.ToLower(mime))

	switch {
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "application/xml",
		mime == "image/svg+xml",
		strings.HasSuffix(mime, "+json"),
		strings.HasSuffix(mime, "+xml"):
		return CompressionZstd
	case strings.HasPrefix(mime, "image/"),
		strings.HasPrefix(mime, "video/"),
		strings.HasPrefix(mime, "audio/"),
		mime == "application/zip",
		mime == "application/gzip",
		mime == "application/zstd",
		mime == "application/pdf":
		return CompressionNone
	default:
		return CompressionLZ4
	}
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible; lz4 signals this with a zero length.
			return data, nil
		}
		return buf[:n], nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(data []byte, tag CompressionTag, plainSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != plainSize {
			return nil, fmt.Errorf("stored blob is %d bytes, index says %d", len(data), plainSize)
		}
		return data, nil
	case CompressionLZ4:
		if len(data) == plainSize {
			// Stored raw because the block was incompressible.
			return data, nil
		}
		out := make([]byte, plainSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != plainSize {
			return nil, fmt.Errorf("lz4 decompressed to %d bytes, index says %d", n, plainSize)
		}
		return out, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		out, err := decoder.DecodeAll(data, make([]byte, 0, plainSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != plainSize {
			return nil, fmt.Errorf("zstd decompressed to %d bytes, index says %d", len(out), plainSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
