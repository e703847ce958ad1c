package chunker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestSplitSizes(t *testing.T) {
	input := pattern(1_000_000)
	c := NewChunker(262144)

	var sizes []int
	var joined []byte
	var indexes []int64
	total, err := c.Split(context.Background(), bytes.NewReader(input), func(index int64, data []byte) error {
		indexes = append(indexes, index)
		sizes = append(sizes, len(data))
		joined = append(joined, data...)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), total)
	assert.Equal(t, []int{262144, 262144, 262144, 213568}, sizes)
	assert.Equal(t, []int64{0, 1, 2, 3}, indexes)
	assert.Equal(t, input, joined)
}

func TestSplitExactMultiple(t *testing.T) {
	c := NewChunker(4)
	var sizes []int
	total, err := c.Split(context.Background(), bytes.NewReader(pattern(12)), func(_ int64, data []byte) error {
		sizes = append(sizes, len(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Equal(t, []int{4, 4, 4}, sizes)
}

func TestSplitEmpty(t *testing.T) {
	c := NewChunker(16)
	calls := 0
	total, err := c.Split(context.Background(), bytes.NewReader(nil), func(int64, []byte) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, calls)
}

func TestSplitStopsOnCallbackError(t *testing.T) {
	c := NewChunker(4)
	boom := errors.New("boom")
	total, err := c.Split(context.Background(), bytes.NewReader(pattern(20)), func(index int64, _ []byte) error {
		if index == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(8), total)
}

type failingReader struct{ after int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	if n > f.after {
		n = f.after
	}
	f.after -= n
	return n, nil
}

func TestSplitReadError(t *testing.T) {
	c := NewChunker(4)
	_, err := c.Split(context.Background(), &failingReader{after: 10}, func(int64, []byte) error { return nil })
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestSplitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewChunker(4)
	_, err := c.Split(ctx, bytes.NewReader(pattern(64)), func(index int64, _ []byte) error {
		if index == 1 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifyChunkHash(t *testing.T) {
	data := []byte("chunk")
	h := ComputeHash(data)
	assert.True(t, VerifyChunkHash(data, h))
	assert.False(t, VerifyChunkHash([]byte("other"), h))
}
