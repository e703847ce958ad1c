// Package rangereader turns an HTTP Range header into a chunk-level read plan
// and produces the trimmed chunk sequence for it.
package rangereader

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maneesh/mediastream/internal/models"
)

// Plan maps a byte window [Start, End] of a file onto chunk indices.
// For an empty file the window is empty (End = Start-1) and no chunk is read.
type Plan struct {
	Status    int
	Start     int64
	End       int64
	Length    int64
	ChunkSize int64

	FirstChunk  int64
	FirstOffset int64
	LastChunk   int64
	LastOffset  int64
}

// NewPlan parses header against a file of the given length. An absent or
// malformed header yields a full 200 plan; an unsatisfiable range yields
// models.ErrRangeNotSatisfiable.
func NewPlan(header string, length, chunkSize int64) (Plan, error) {
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	start, end, ranged := parseRange(header, length)
	if !ranged {
		return newPlan(http.StatusOK, 0, length-1, length, chunkSize), nil
	}
	if start >= length || start > end {
		return Plan{Length: length, ChunkSize: chunkSize}, fmt.Errorf("bytes %d-%d of %d: %w", start, end, length, models.ErrRangeNotSatisfiable)
	}
	if end > length-1 {
		end = length - 1
	}
	return newPlan(http.StatusPartialContent, start, end, length, chunkSize), nil
}

func newPlan(status int, start, end, length, chunkSize int64) Plan {
	p := Plan{
		Status:    status,
		Start:     start,
		End:       end,
		Length:    length,
		ChunkSize: chunkSize,
	}
	if p.Empty() {
		p.LastChunk = -1
		return p
	}
	p.FirstChunk, p.FirstOffset = start/chunkSize, start%chunkSize
	p.LastChunk, p.LastOffset = end/chunkSize, end%chunkSize
	return p
}

// parseRange returns ranged=false when the header should be ignored.
// Suffix ranges resolve against length; end is returned unclamped.
func parseRange(header string, length int64) (start, end int64, ranged bool) {
	header = strings.TrimSpace(header)
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, false
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	switch {
	case first == "" && last == "":
		return 0, 0, false

	// bytes=-N: the last N bytes
	case first == "":
		n, err := parseOffset(last)
		if err != nil {
			return 0, 0, false
		}
		start = length - n
		if start < 0 {
			start = 0
		}
		return start, length - 1, true

	// bytes=A-: from A to the end
	case last == "":
		a, err := parseOffset(first)
		if err != nil {
			return 0, 0, false
		}
		return a, length - 1, true

	default:
		a, err := parseOffset(first)
		if err != nil {
			return 0, 0, false
		}
		b, err := parseOffset(last)
		if err != nil {
			return 0, 0, false
		}
		return a, b, true
	}
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return strconv.ParseInt(s, 10, 64)
}

// Partial reports whether the plan answers a range request
func (p Plan) Partial() bool {
	return p.Status == http.StatusPartialContent
}

// Empty reports whether no byte is served
func (p Plan) Empty() bool {
	return p.End < p.Start
}

// ContentLength is the size of the served window, not of the file
func (p Plan) ContentLength() int64 {
	if p.Empty() {
		return 0
	}
	return p.End - p.Start + 1
}

// ContentRange is the Content-Range value for a partial response
func (p Plan) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", p.Start, p.End, p.Length)
}

// UnsatisfiedRange is the Content-Range value sent with a 416
func UnsatisfiedRange(length int64) string {
	return fmt.Sprintf("bytes */%d", length)
}
