package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/mediastream/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached file metadata (5 minutes)
	CacheTTL = 5 * time.Minute
)

// RedisClient caches finalized FileRecords
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func fileCacheKey(fileID string) string {
	return fmt.Sprintf("file:%s", fileID)
}

// GetFileRecord returns the cached record, or nil on a miss
func (rc *RedisClient) GetFileRecord(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, fileCacheKey(fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var rec models.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &rec, nil
}

// SetFileRecord stores file metadata in cache
func (rc *RedisClient) SetFileRecord(ctx context.Context, rec *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_file_record",
		trace.WithAttributes(
			attribute.String("file_id", rec.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal file: %w", err)
	}

	if err := rc.client.Set(ctx, fileCacheKey(rec.ID), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// InvalidateFileRecord removes file metadata from cache
func (rc *RedisClient) InvalidateFileRecord(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, fileCacheKey(fileID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
