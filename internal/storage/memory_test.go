package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/maneesh/mediastream/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChunkStoreWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore()

	data := []byte("first")
	require.NoError(t, store.Put(ctx, "f", 0, data))
	data[0] = 'X'

	err := store.Put(ctx, "f", 0, []byte("second"))
	require.ErrorIs(t, err, models.ErrChunkExists)

	got, err := store.Get(ctx, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	_, err = store.Get(ctx, "f", 1)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryChunkStoreDeleteAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore()

	n, err := store.DeleteAll(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, store.Put(ctx, "f", i, []byte{byte(i)}))
	}
	require.NoError(t, store.Put(ctx, "other", 0, []byte{1}))

	n, err = store.DeleteAll(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 0, store.Count("f"))
	assert.Equal(t, 1, store.Count("other"))

	n, err = store.DeleteAll(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryGetRangeIsOrderedAndLazy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore()
	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.Put(ctx, "f", i, []byte{byte(i)}))
	}

	it := store.GetRange(ctx, "f", 1, 3)
	defer it.Close()

	var seen []int64
	for it.Next() {
		c := it.Chunk()
		assert.Equal(t, "f", c.FileID)
		assert.Equal(t, []byte{byte(c.Index)}, c.Data)
		seen = append(seen, c.Index)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestMemoryGetRangeReportsGapAsCorruption(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChunkStore()
	require.NoError(t, store.Put(ctx, "f", 0, []byte{0}))
	require.NoError(t, store.Put(ctx, "f", 2, []byte{2}))

	it := store.GetRange(ctx, "f", 0, 2)
	defer it.Close()

	require.True(t, it.Next())
	assert.False(t, it.Next())
	require.ErrorIs(t, it.Err(), models.ErrCorruption)
	require.ErrorIs(t, it.Err(), models.ErrStorage)
	assert.NotErrorIs(t, it.Err(), models.ErrNotFound)
}

func TestMemoryGetRangeCloseAndCancel(t *testing.T) {
	store := NewMemoryChunkStore()
	for i := int64(0); i < 3; i++ {
		require.NoError(t, store.Put(context.Background(), "f", i, []byte{byte(i)}))
	}

	it := store.GetRange(context.Background(), "f", 0, 2)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())

	ctx, cancel := context.WithCancel(context.Background())
	it = store.GetRange(ctx, "f", 0, 2)
	defer it.Close()
	require.True(t, it.Next())
	cancel()
	assert.False(t, it.Next())
	require.ErrorIs(t, it.Err(), context.Canceled)

	bad := store.GetRange(context.Background(), "f", 2, 1)
	assert.False(t, bad.Next())
	assert.Error(t, bad.Err())
}

func TestMemoryCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	rec, err := cat.Create(ctx, "f", "video/mp4", 1024)
	require.NoError(t, err)
	assert.False(t, rec.Finalized)
	assert.Equal(t, int64(0), rec.Length)

	_, err = cat.Create(ctx, "f", "video/mp4", 1024)
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	require.NoError(t, cat.Finalize(ctx, "f", 4096))
	require.ErrorIs(t, cat.Finalize(ctx, "f", 1), models.ErrNotFound)
	require.ErrorIs(t, cat.Finalize(ctx, "missing", 1), models.ErrNotFound)

	got, err := cat.Get(ctx, "f")
	require.NoError(t, err)
	assert.True(t, got.Finalized)
	assert.Equal(t, int64(4096), got.Length)
	assert.Equal(t, int64(4), got.ChunkCount())

	require.NoError(t, cat.Delete(ctx, "f"))
	require.ErrorIs(t, cat.Delete(ctx, "f"), models.ErrNotFound)
	_, err = cat.Get(ctx, "f")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryMediaParallelIncrements(t *testing.T) {
	ctx := context.Background()
	media := NewMemoryMediaStore()
	require.NoError(t, media.Register(ctx, "m", "f"))

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := media.Increment(ctx, "m")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := media.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.Views)

	require.NoError(t, media.Register(ctx, "m", "f"))
	rec, err = media.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.Views)

	_, err = media.Increment(ctx, "unknown")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, media.Delete(ctx, "m"))
	require.ErrorIs(t, media.Delete(ctx, "m"), models.ErrNotFound)
}
