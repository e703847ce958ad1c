package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maneesh/mediastream/internal/models"
)

// MemoryChunkStore keeps chunks in process memory.
// Used for local runs (STORAGE_BACKEND=memory) and tests.
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]map[int64][]byte
}

// NewMemoryChunkStore creates an empty in-memory chunk store
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: make(map[string]map[int64][]byte)}
}

func (m *MemoryChunkStore) Put(ctx context.Context, fileID string, index int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.chunks[fileID]
	if !ok {
		file = make(map[int64][]byte)
		m.chunks[fileID] = file
	}
	if _, exists := file[index]; exists {
		return fmt.Errorf("%w: %s/%d", models.ErrChunkExists, fileID, index)
	}

	file[index] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryChunkStore) Get(ctx context.Context, fileID string, index int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.chunks[fileID][index]
	if !ok {
		return nil, fmt.Errorf("chunk %s/%d: %w", fileID, index, models.ErrNotFound)
	}
	return data, nil
}

func (m *MemoryChunkStore) GetRange(ctx context.Context, fileID string, first, last int64) ChunkIterator {
	return newRangeIterator(ctx, fileID, first, last, func(ctx context.Context, index int64) ([]byte, error) {
		return m.Get(ctx, fileID, index)
	})
}

func (m *MemoryChunkStore) DeleteAll(ctx context.Context, fileID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.chunks[fileID]))
	delete(m.chunks, fileID)
	return n, nil
}

// Count reports how many chunks are stored for a file
func (m *MemoryChunkStore) Count(fileID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[fileID])
}

func (m *MemoryChunkStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// MemoryCatalog is the in-memory FileRecord catalog
type MemoryCatalog struct {
	mu    sync.RWMutex
	files map[string]models.FileRecord
}

// NewMemoryCatalog creates an empty in-memory catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{files: make(map[string]models.FileRecord)}
}

func (m *MemoryCatalog) Create(ctx context.Context, fileID, contentType string, chunkSize int64) (*models.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[fileID]; exists {
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrAlreadyExists)
	}
	rec := models.FileRecord{
		ID:          fileID,
		ContentType: contentType,
		ChunkSize:   chunkSize,
		CreatedAt:   time.Now().UTC(),
	}
	m.files[fileID] = rec
	return &rec, nil
}

func (m *MemoryCatalog) Finalize(ctx context.Context, fileID string, length int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.files[fileID]
	if !ok || rec.Finalized {
		return fmt.Errorf("no pending upload %s: %w", fileID, models.ErrNotFound)
	}
	rec.Length = length
	rec.Finalized = true
	m.files[fileID] = rec
	return nil
}

func (m *MemoryCatalog) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	return &rec, nil
}

func (m *MemoryCatalog) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; !ok {
		return fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	delete(m.files, fileID)
	return nil
}

func (m *MemoryCatalog) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryMedia struct {
	fileID    string
	createdAt time.Time
	views     atomic.Int64
}

// MemoryMediaStore keeps media view counters in memory
type MemoryMediaStore struct {
	mu    sync.RWMutex
	media map[string]*memoryMedia
}

// NewMemoryMediaStore creates an empty in-memory media store
func NewMemoryMediaStore() *MemoryMediaStore {
	return &MemoryMediaStore{media: make(map[string]*memoryMedia)}
}

// Register adds a media row with zero views; registering an existing id is a no-op
func (m *MemoryMediaStore) Register(ctx context.Context, mediaID, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.media[mediaID]; !ok {
		m.media[mediaID] = &memoryMedia{fileID: fileID, createdAt: time.Now().UTC()}
	}
	return nil
}

// Increment bumps the counter with an atomic add; the map lock is only read-held
func (m *MemoryMediaStore) Increment(ctx context.Context, mediaID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	entry, ok := m.media[mediaID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	}
	return entry.views.Add(1), nil
}

func (m *MemoryMediaStore) Get(ctx context.Context, mediaID string) (*models.MediaRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.media[mediaID]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	}
	return &models.MediaRecord{
		ID:        mediaID,
		FileID:    entry.fileID,
		Views:     entry.views.Load(),
		CreatedAt: entry.createdAt,
	}, nil
}

func (m *MemoryMediaStore) Delete(ctx context.Context, mediaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.media[mediaID]; !ok {
		return fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	}
	delete(m.media, mediaID)
	return nil
}
