// Package ingest turns an upload stream into chunks plus a finalized file record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/maneesh/mediastream/internal/chunker"
	"github.com/maneesh/mediastream/internal/metrics"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/maneesh/mediastream/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("mediastream-ingest")

// DefaultCleanupTimeout bounds the abort path when none is configured
const DefaultCleanupTimeout = 30 * time.Second

// Ingestor writes uploads into a ChunkStore and registers them in a Catalog
type Ingestor struct {
	catalog        storage.Catalog
	chunks         storage.ChunkStore
	chunker        *chunker.Chunker
	log            *logrus.Entry
	cleanupTimeout time.Duration
}

// NewIngestor creates an ingestor. A non-positive cleanupTimeout uses DefaultCleanupTimeout.
func NewIngestor(catalog storage.Catalog, chunks storage.ChunkStore, c *chunker.Chunker, log *logrus.Entry, cleanupTimeout time.Duration) *Ingestor {
	if cleanupTimeout <= 0 {
		cleanupTimeout = DefaultCleanupTimeout
	}
	return &Ingestor{
		catalog:        catalog,
		chunks:         chunks,
		chunker:        c,
		log:            log,
		cleanupTimeout: cleanupTimeout,
	}
}

// Ingest stores body under fileID and finalizes the record once every chunk is written.
// On any failure after the placeholder exists, chunks and placeholder are removed
// before returning and the error wraps models.ErrIngestAborted.
func (in *Ingestor) Ingest(ctx context.Context, fileID, contentType string, body io.Reader) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	log := in.log.WithField("file_id", fileID)

	rec, err := in.catalog.Create(ctx, fileID, contentType, in.chunker.ChunkSize())
	if err != nil {
		span.RecordError(err)
		metrics.IngestOutcomes.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	total, err := in.chunker.Split(ctx, body, func(index int64, data []byte) error {
		if err := in.chunks.Put(ctx, fileID, index, data); err != nil {
			return fmt.Errorf("failed to store chunk %d: %w", index, err)
		}
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = in.catalog.Finalize(ctx, fileID, total)
		if err != nil {
			err = fmt.Errorf("failed to finalize: %w", err)
		}
	}
	if err != nil {
		span.RecordError(err)
		log.WithError(err).WithField("bytes_read", total).Warn("upload aborted, cleaning up")
		in.abort(ctx, fileID)
		metrics.IngestOutcomes.WithLabelValues("aborted").Inc()
		return nil, fmt.Errorf("%w: %w", models.ErrIngestAborted, err)
	}

	rec.Length = total
	rec.Finalized = true
	span.SetAttributes(
		attribute.Int64("file_size", total),
		attribute.Int64("chunk_count", rec.ChunkCount()),
	)
	metrics.IngestOutcomes.WithLabelValues("finalized").Inc()
	metrics.BytesIngested.Add(float64(total))
	log.WithFields(logrus.Fields{"length": total, "chunks": rec.ChunkCount()}).Info("upload finalized")
	return rec, nil
}

// abort runs the purge on a context that survives the caller's cancellation
func (in *Ingestor) abort(ctx context.Context, fileID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.cleanupTimeout)
	defer cancel()

	res, err := in.Purge(cleanupCtx, fileID)
	if err != nil {
		in.log.WithError(err).WithField("file_id", fileID).Error("cleanup after aborted upload failed")
		return
	}
	in.log.WithFields(logrus.Fields{"file_id": fileID, "chunks_deleted": res.ChunksDeleted}).Debug("aborted upload cleaned up")
}

// PurgeResult reports what a Purge removed
type PurgeResult struct {
	FileID        string `json:"fileId"`
	ChunksDeleted int64  `json:"chunksDeleted"`
	Deleted       bool   `json:"deleted"`
}

// Purge deletes chunks first, then the file record. Unknown ids are a no-op.
// If the record delete fails the file reads as corrupt until Purge is repeated.
func (in *Ingestor) Purge(ctx context.Context, fileID string) (PurgeResult, error) {
	ctx, span := tracer.Start(ctx, "purge")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	res := PurgeResult{FileID: fileID}
	removed, err := in.chunks.DeleteAll(ctx, fileID)
	res.ChunksDeleted = removed
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("failed to delete chunks: %w", err)
	}
	span.SetAttributes(attribute.Int64("chunks_deleted", removed))

	err = in.catalog.Delete(ctx, fileID)
	switch {
	case err == nil:
		res.Deleted = true
	case errors.Is(err, models.ErrNotFound):
		res.Deleted = removed > 0
	default:
		span.RecordError(err)
		return res, fmt.Errorf("failed to delete file record: %w", err)
	}
	return res, nil
}
