package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wmtsproxy/internal/metrics"
)

// TileCache wraps a Store for the tile path: every read is bounded by a
// short timeout and any store failure reads as a miss.
type TileCache struct {
	store        Store
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewTileCache(store Store, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *TileCache {
	return &TileCache{
		store:        store,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Get returns the object stored under key, or false on a miss. With
// checkExpiration an object whose lifecycle expiry date passed is a miss.
func (c *TileCache) Get(ctx context.Context, key, etag string, checkExpiration bool) (*Object, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	c.logger.Debug("Get tile from cache", zap.String("path", key))

	obj, err := c.store.Get(ctx, key, etag)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("No tile in cache", zap.String("path", key))
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if err != nil {
		c.logger.Error("Failed to retrieve tile from cache", zap.String("path", key), zap.Error(err))
		metrics.CacheErrors.WithLabelValues("get").Inc()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if checkExpiration && obj.Expiration != "" {
		expired, err := Expired(obj.Expiration, c.now())
		if err != nil {
			c.logger.Warn("Unreadable cache expiration", zap.String("path", key), zap.Error(err))
		} else if expired {
			c.logger.Info("Tile in cache has expired", zap.String("path", key), zap.String("expiration", obj.Expiration))
			metrics.CacheMisses.Inc()
			return nil, false
		}
	}

	metrics.CacheHits.Inc()
	return obj, true
}

// Put writes obj under key. The write is not cancelled with ctx, a client
// that went away does not abort it. Errors are logged and returned.
func (c *TileCache) Put(ctx context.Context, key string, obj *Object) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()

	c.logger.Debug("Adding tile to cache",
		zap.String("path", key),
		zap.String("cache_control", obj.CacheControl),
		zap.String("content_type", obj.ContentType),
	)

	if err := c.store.Put(ctx, key, obj); err != nil {
		c.logger.Error("Failed to save tile in cache", zap.String("path", key), zap.Error(err))
		metrics.CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	return nil
}
