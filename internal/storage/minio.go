package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/mediastream/internal/chunker"
	"github.com/maneesh/mediastream/internal/metrics"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mediastream-storage")

const (
	chunkPrefix     = "chunks/"
	checksumMetaKey = "sha256"
)

// MinioChunkStore stores each chunk as its own object under chunks/<fileID>/
type MinioChunkStore struct {
	client     *minio.Client
	bucketName string
	log        *logrus.Entry
}

// NewMinioChunkStore initializes a new MinIO client and makes sure the bucket exists
func NewMinioChunkStore(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool, log *logrus.Entry) (*MinioChunkStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return newMinioChunkStore(ctx, client, bucketName, log)
}

func newMinioChunkStore(ctx context.Context, client *minio.Client, bucketName string, log *logrus.Entry) (*MinioChunkStore, error) {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.WithField("bucket", bucketName).Info("creating bucket")
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioChunkStore{
		client:     client,
		bucketName: bucketName,
		log:        log,
	}, nil
}

func chunkKey(fileID string, index int64) string {
	return fmt.Sprintf("%s%s/%010d", chunkPrefix, fileID, index)
}

func filePrefix(fileID string) string {
	return chunkPrefix + fileID + "/"
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}

// Put uploads a chunk; an existing object at the same key is refused
func (mc *MinioChunkStore) Put(ctx context.Context, fileID string, index int64, data []byte) error {
	key := chunkKey(fileID, index)
	ctx, span := tracer.Start(ctx, "minio.put_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	_, err := mc.client.StatObject(ctx, mc.bucketName, key, minio.StatObjectOptions{})
	if err == nil {
		span.RecordError(models.ErrChunkExists)
		return fmt.Errorf("%w: %s", models.ErrChunkExists, key)
	} else if !isNoSuchKey(err) {
		span.RecordError(err)
		return storageErr("failed to stat chunk", err)
	}

	_, err = mc.client.PutObject(ctx, mc.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{checksumMetaKey: chunker.ComputeHash(data)},
	})
	if err != nil {
		span.RecordError(err)
		return storageErr(fmt.Sprintf("failed to upload chunk %d", index), err)
	}

	return nil
}

// Get downloads a chunk and verifies it against the checksum stored at upload
func (mc *MinioChunkStore) Get(ctx context.Context, fileID string, index int64) ([]byte, error) {
	key := chunkKey(fileID, index)
	ctx, span := tracer.Start(ctx, "minio.get_chunk",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() { metrics.ChunkFetchSeconds.Observe(time.Since(start).Seconds()) }()

	object, err := mc.client.GetObject(ctx, mc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, storageErr("failed to get object", err)
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("chunk %s: %w", key, models.ErrNotFound)
		}
		span.RecordError(err)
		return nil, storageErr("failed to stat object", err)
	}

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, storageErr("failed to read object data", err)
	}

	if sum := checksumFromMetadata(info.UserMetadata); sum != "" && !chunker.VerifyChunkHash(data, sum) {
		err := fmt.Errorf("%w: %w: hash mismatch for %s", models.ErrStorage, models.ErrCorruption, key)
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return data, nil
}

// checksumFromMetadata finds the sha256 entry whatever casing or prefix the server returned
func checksumFromMetadata(meta map[string]string) string {
	for k, v := range meta {
		name := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if name == checksumMetaKey {
			return v
		}
	}
	return ""
}

func (mc *MinioChunkStore) GetRange(ctx context.Context, fileID string, first, last int64) ChunkIterator {
	return newRangeIterator(ctx, fileID, first, last, func(ctx context.Context, index int64) ([]byte, error) {
		return mc.Get(ctx, fileID, index)
	})
}

// DeleteAll removes every chunk object under the file's prefix
func (mc *MinioChunkStore) DeleteAll(ctx context.Context, fileID string) (int64, error) {
	prefix := filePrefix(fileID)
	ctx, span := tracer.Start(ctx, "minio.delete_chunks",
		trace.WithAttributes(
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	var listErr error
	var listed int64
	listDone := make(chan struct{})
	go func() {
		defer close(listDone)
		defer close(objects)
		for obj := range mc.client.ListObjects(listCtx, mc.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			if _, err := strconv.ParseInt(strings.TrimPrefix(obj.Key, prefix), 10, 64); err != nil {
				continue
			}
			select {
			case objects <- obj:
				listed++
			case <-listCtx.Done():
				return
			}
		}
	}()

	var failed int64
	var firstErr error
	for rerr := range mc.client.RemoveObjects(ctx, mc.bucketName, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = rerr.Err
		}
		mc.log.WithFields(logrus.Fields{"object_key": rerr.ObjectName, "error": rerr.Err}).Warn("failed to delete chunk")
	}
	cancel()
	<-listDone

	if listErr != nil {
		span.RecordError(listErr)
		return listed - failed, storageErr("failed to list chunks", listErr)
	}
	if firstErr != nil {
		span.RecordError(firstErr)
		return listed - failed, storageErr("failed to delete chunks", firstErr)
	}

	span.SetAttributes(attribute.Int64("chunks_deleted", listed))
	return listed, nil
}

func (mc *MinioChunkStore) Ping(ctx context.Context) error {
	_, err := mc.client.BucketExists(ctx, mc.bucketName)
	return err
}
