package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Chunker splits byte streams into fixed-size chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured chunk size in bytes
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Split reads the stream in chunkSize slices and hands each one to fn with a
// dense index starting at 0. Only the final slice may be shorter than chunkSize.
// The slice passed to fn is reused for the next chunk, so fn must not retain it.
// Returns the total number of bytes consumed.
func (c *Chunker) Split(ctx context.Context, reader io.Reader, fn func(index int64, data []byte) error) (int64, error) {
	if c.chunkSize <= 0 {
		return 0, fmt.Errorf("invalid chunk size %d", c.chunkSize)
	}

	buffer := make([]byte, c.chunkSize)
	var totalSize int64
	var index int64

	for {
		if err := ctx.Err(); err != nil {
			return totalSize, err
		}

		n, err := io.ReadFull(reader, buffer)
		if n > 0 {
			if ferr := fn(index, buffer[:n]); ferr != nil {
				return totalSize, ferr
			}
			totalSize += int64(n)
			index++
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return totalSize, nil
		} else if err != nil {
			return totalSize, fmt.Errorf("error reading chunk %d: %w", index, err)
		}
	}
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	actualHash := ComputeHash(data)
	return actualHash == expectedHash
}
