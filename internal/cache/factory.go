package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	BackendHTTP     = "http"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendMemcache = "memcache"
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendDisabled = "disabled"
)

type StoreConfig struct {
	Backend string

	BucketName  string
	Region      string
	Endpoint    string
	HTTPTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MemcacheServers []string

	FileDir     string
	MemoryTiles int
}

// NewStore creates the object store selected by cfg.Backend.
func NewStore(cfg StoreConfig, log *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendHTTP:
		url := BucketURL(cfg.BucketName, cfg.Region, cfg.Endpoint)
		log.Info("Using http object store", zap.String("url", url))
		return NewHTTPStore(url, cfg.HTTPTimeout), nil
	case BackendS3:
		log.Info("Using s3 object store",
			zap.String("bucket", cfg.BucketName),
			zap.String("region", cfg.Region),
			zap.String("endpoint", cfg.Endpoint),
		)
		return NewS3Store(S3Options{
			BucketName: cfg.BucketName,
			Region:     cfg.Region,
			Endpoint:   cfg.Endpoint,
		})
	case BackendRedis:
		log.Info("Using redis object store", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case BackendMemcache:
		log.Info("Using memcache object store", zap.Strings("servers", cfg.MemcacheServers))
		return NewMemcacheStore(0, cfg.MemcacheServers...)
	case BackendFile:
		log.Info("Using file object store", zap.String("cache_dir", cfg.FileDir))
		return NewFileStore(cfg.FileDir)
	case BackendMemory:
		log.Info("Using memory object store", zap.Int("max_tiles", cfg.MemoryTiles))
		return NewMemoryStore(cfg.MemoryTiles)
	case BackendDisabled:
		log.Info("Object store disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: http, s3, redis, memcache, file, memory, disabled)", cfg.Backend)
	}
}
