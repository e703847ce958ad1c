package storage

import (
	"context"

	"github.com/maneesh/mediastream/internal/models"
)

// ChunkStore persists write-once chunks keyed by (fileID, index)
type ChunkStore interface {
	Put(ctx context.Context, fileID string, index int64, data []byte) error
	Get(ctx context.Context, fileID string, index int64) ([]byte, error)
	// GetRange yields chunks first..last in ascending order, one at a time.
	GetRange(ctx context.Context, fileID string, first, last int64) ChunkIterator
	DeleteAll(ctx context.Context, fileID string) (int64, error)
	Ping(ctx context.Context) error
}

// ChunkIterator is a single-use cursor over a chunk range.
// Callers must Close it, also after an error.
type ChunkIterator interface {
	Next() bool
	Chunk() models.Chunk
	Err() error
	Close() error
}

// Catalog owns FileRecords. Records are invisible to readers until finalized.
type Catalog interface {
	Create(ctx context.Context, fileID, contentType string, chunkSize int64) (*models.FileRecord, error)
	Finalize(ctx context.Context, fileID string, length int64) error
	Get(ctx context.Context, fileID string) (*models.FileRecord, error)
	Delete(ctx context.Context, fileID string) error
	Ping(ctx context.Context) error
}

// ViewCounter increments a media view count using the store's atomic update
type ViewCounter interface {
	Increment(ctx context.Context, mediaID string) (int64, error)
}

// MediaStore keeps the minimal media rows the view counter updates
type MediaStore interface {
	ViewCounter
	Register(ctx context.Context, mediaID, fileID string) error
	Get(ctx context.Context, mediaID string) (*models.MediaRecord, error)
	Delete(ctx context.Context, mediaID string) error
}
