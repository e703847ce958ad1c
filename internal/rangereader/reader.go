package rangereader

import (
	"context"
	"fmt"

	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/storage"
)

// Reader yields the plan's bytes one trimmed chunk at a time. Only the first
// and last chunk are cut; interior chunks pass through untouched. It holds a
// single chunk in memory and is not restartable.
type Reader struct {
	ctx    context.Context
	store  storage.ChunkStore
	fileID string
	plan   Plan

	it      storage.ChunkIterator
	next    int64
	emitted int64
	cur     []byte
	err     error
	done    bool
}

// Open prepares a Reader. No chunk is fetched until the first Next call.
func Open(ctx context.Context, store storage.ChunkStore, fileID string, plan Plan) *Reader {
	return &Reader{ctx: ctx, store: store, fileID: fileID, plan: plan, next: plan.FirstChunk}
}

// Next advances to the next slice of the window
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	if r.plan.Empty() {
		r.finish()
		return false
	}
	if r.it == nil {
		r.it = r.store.GetRange(r.ctx, r.fileID, r.plan.FirstChunk, r.plan.LastChunk)
	}

	if !r.it.Next() {
		if err := r.it.Err(); err != nil {
			r.fail(err)
			return false
		}
		if r.emitted != r.plan.ContentLength() {
			r.fail(r.corruption("served %d of %d bytes", r.emitted, r.plan.ContentLength()))
			return false
		}
		r.finish()
		return false
	}

	c := r.it.Chunk()
	if c.Index != r.next {
		r.fail(r.corruption("chunk %d out of order, want %d", c.Index, r.next))
		return false
	}

	data := c.Data
	size := int64(len(data))
	lo, hi := int64(0), size
	if c.Index == r.plan.LastChunk {
		if size <= r.plan.LastOffset {
			r.fail(r.corruption("chunk %d has %d bytes, need %d", c.Index, size, r.plan.LastOffset+1))
			return false
		}
		hi = r.plan.LastOffset + 1
	} else if size != r.plan.ChunkSize {
		r.fail(r.corruption("interior chunk %d has %d bytes, want %d", c.Index, size, r.plan.ChunkSize))
		return false
	}
	if c.Index == r.plan.FirstChunk {
		lo = r.plan.FirstOffset
	}

	r.cur = data[lo:hi]
	r.emitted += hi - lo
	r.next++
	return true
}

// Bytes returns the current slice; it is valid until the next call to Next
func (r *Reader) Bytes() []byte {
	return r.cur
}

func (r *Reader) Err() error {
	return r.err
}

// Close releases the underlying chunk cursor. Safe to call more than once.
func (r *Reader) Close() error {
	r.done = true
	r.cur = nil
	if r.it == nil {
		return nil
	}
	it := r.it
	r.it = nil
	return it.Close()
}

func (r *Reader) fail(err error) {
	r.err = err
	r.cur = nil
	r.Close()
}

func (r *Reader) finish() {
	r.cur = nil
	r.Close()
}

func (r *Reader) corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s: %s", models.ErrStorage, models.ErrCorruption, r.fileID, fmt.Sprintf(format, args...))
}
