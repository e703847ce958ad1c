package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/mediastream/internal/models"
)

type fetchFunc func(ctx context.Context, index int64) ([]byte, error)

// rangeIterator walks first..last fetching one chunk per Next call.
// A chunk missing inside the range is a gap and reported as corruption.
type rangeIterator struct {
	ctx    context.Context
	fileID string
	next   int64
	last   int64
	fetch  fetchFunc

	cur    models.Chunk
	err    error
	closed bool
}

func newRangeIterator(ctx context.Context, fileID string, first, last int64, fetch fetchFunc) *rangeIterator {
	it := &rangeIterator{ctx: ctx, fileID: fileID, next: first, last: last, fetch: fetch}
	if first < 0 || last < first {
		it.err = fmt.Errorf("invalid chunk range %d-%d", first, last)
	}
	return it
}

func (it *rangeIterator) Next() bool {
	if it.closed || it.err != nil || it.next > it.last {
		it.cur = models.Chunk{}
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	data, err := it.fetch(it.ctx, it.next)
	if errors.Is(err, models.ErrNotFound) {
		it.err = fmt.Errorf("%w: %w: chunk %d of %s missing", models.ErrStorage, models.ErrCorruption, it.next, it.fileID)
		return false
	}
	if err != nil {
		it.err = err
		return false
	}

	it.cur = models.Chunk{FileID: it.fileID, Index: it.next, Data: data}
	it.next++
	return true
}

func (it *rangeIterator) Chunk() models.Chunk { return it.cur }

func (it *rangeIterator) Err() error { return it.err }

func (it *rangeIterator) Close() error {
	it.closed = true
	it.cur = models.Chunk{}
	return nil
}
