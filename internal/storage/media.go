package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/mediastream/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TiDBMediaStore owns the media.views counter
type TiDBMediaStore struct {
	db *sql.DB
}

func NewTiDBMediaStore(db *sql.DB) *TiDBMediaStore {
	return &TiDBMediaStore{db: db}
}

// Register inserts a media row with zero views; an existing row is left alone
func (ms *TiDBMediaStore) Register(ctx context.Context, mediaID, fileID string) error {
	ctx, span := tracer.Start(ctx, "tidb.register_media",
		trace.WithAttributes(
			attribute.String("media_id", mediaID),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `INSERT IGNORE INTO media (id, file_id, views, created_at) VALUES (?, ?, 0, ?)`

	if _, err := ms.db.ExecContext(ctx, query, mediaID, fileID, time.Now().UTC().Truncate(time.Microsecond)); err != nil {
		span.RecordError(err)
		return storageErr("failed to insert media", err)
	}
	return nil
}

// Increment adds one view with a single UPDATE and reads the new value inside
// the same transaction, so the returned count is the one this call produced.
func (ms *TiDBMediaStore) Increment(ctx context.Context, mediaID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "tidb.increment_views",
		trace.WithAttributes(
			attribute.String("media_id", mediaID),
		),
	)
	defer span.End()

	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE media SET views = views + 1 WHERE id = ?`, mediaID)
	if err != nil {
		span.RecordError(err)
		return 0, storageErr("failed to increment views", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return 0, storageErr("failed to read affected rows", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	}

	var views int64
	if err := tx.QueryRowContext(ctx, `SELECT views FROM media WHERE id = ?`, mediaID).Scan(&views); err != nil {
		span.RecordError(err)
		return 0, storageErr("failed to read views", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, storageErr("failed to commit views", err)
	}

	span.SetAttributes(attribute.Int64("views", views))
	return views, nil
}

func (ms *TiDBMediaStore) Get(ctx context.Context, mediaID string) (*models.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_media",
		trace.WithAttributes(
			attribute.String("media_id", mediaID),
		),
	)
	defer span.End()

	query := `SELECT id, file_id, views, created_at FROM media WHERE id = ?`

	var m models.MediaRecord
	err := ms.db.QueryRowContext(ctx, query, mediaID).Scan(&m.ID, &m.FileID, &m.Views, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, storageErr("failed to query media", err)
	}
	return &m, nil
}

func (ms *TiDBMediaStore) Delete(ctx context.Context, mediaID string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_media",
		trace.WithAttributes(
			attribute.String("media_id", mediaID),
		),
	)
	defer span.End()

	res, err := ms.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, mediaID)
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to delete media", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", mediaID, models.ErrNotFound)
	}
	return nil
}
