package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/maneesh/mediastream/internal/models"
	"github.com/sirupsen/logrus"
)

// RecordCache is the metadata cache consulted before the catalog
type RecordCache interface {
	GetFileRecord(ctx context.Context, fileID string) (*models.FileRecord, error)
	SetFileRecord(ctx context.Context, rec *models.FileRecord) error
	InvalidateFileRecord(ctx context.Context, fileID string) error
	Ping(ctx context.Context) error
}

// CachedCatalog is a read-through cache in front of a Catalog.
// Only finalized records are cached; cache failures fall back to the catalog.
type CachedCatalog struct {
	Catalog
	cache RecordCache
	log   *logrus.Entry

	// deletes is bumped after every row delete; a fill that saw an older
	// value may hold a deleted record and is dropped again.
	deletes atomic.Uint64
}

func NewCachedCatalog(inner Catalog, cache RecordCache, log *logrus.Entry) *CachedCatalog {
	return &CachedCatalog{Catalog: inner, cache: cache, log: log}
}

func (c *CachedCatalog) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	rec, err := c.cache.GetFileRecord(ctx, fileID)
	if err != nil {
		c.log.WithError(err).WithField("file_id", fileID).Warn("cache lookup failed")
	} else if rec != nil {
		return rec, nil
	}

	gen := c.deletes.Load()
	rec, err = c.Catalog.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if rec.Finalized {
		if err := c.cache.SetFileRecord(ctx, rec); err != nil {
			c.log.WithError(err).WithField("file_id", fileID).Warn("failed to update cache")
		} else if c.deletes.Load() != gen {
			c.invalidate(ctx, fileID)
		}
	}
	return rec, nil
}

func (c *CachedCatalog) Finalize(ctx context.Context, fileID string, length int64) error {
	if err := c.Catalog.Finalize(ctx, fileID, length); err != nil {
		return err
	}
	c.invalidate(ctx, fileID)
	return nil
}

// Delete drops the cache entry on both sides of the row delete. Fills from
// other processes sharing the cache are not fenced and can outlive the
// delete until CacheTTL.
func (c *CachedCatalog) Delete(ctx context.Context, fileID string) error {
	c.invalidate(ctx, fileID)
	err := c.Catalog.Delete(ctx, fileID)
	if err == nil || errors.Is(err, models.ErrNotFound) {
		c.deletes.Add(1)
		c.invalidate(ctx, fileID)
	}
	return err
}

func (c *CachedCatalog) Ping(ctx context.Context) error {
	if err := c.Catalog.Ping(ctx); err != nil {
		return err
	}
	return c.cache.Ping(ctx)
}

func (c *CachedCatalog) invalidate(ctx context.Context, fileID string) {
	if err := c.cache.InvalidateFileRecord(ctx, fileID); err != nil {
		c.log.WithError(err).WithField("file_id", fileID).Warn("failed to invalidate cache")
	}
}
