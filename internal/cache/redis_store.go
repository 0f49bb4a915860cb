package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldContent      = "content"
	fieldContentType  = "content_type"
	fieldETag         = "etag"
	fieldCacheControl = "cache_control"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL expires objects, zero keeps them until overwritten.
	TTL time.Duration
}

// RedisStore keeps each object as a hash under "tile:{key}".
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
	}, nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) keyFor(key string) string {
	return "tile:" + key
}

func (s *RedisStore) Get(ctx context.Context, key, etag string) (*Object, error) {
	fields, err := s.client.HGetAll(ctx, s.keyFor(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return conditional(&Object{
		Content:      []byte(fields[fieldContent]),
		ContentType:  fields[fieldContentType],
		ETag:         fields[fieldETag],
		CacheControl: fields[fieldCacheControl],
	}, etag), nil
}

func (s *RedisStore) Put(ctx context.Context, key string, obj *Object) error {
	k := s.keyFor(key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldContent, obj.Content,
			fieldContentType, obj.ContentType,
			fieldETag, obj.ETag,
			fieldCacheControl, obj.CacheControl,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
