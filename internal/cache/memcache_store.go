package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nci/gomemcache/memcache"
)

// MemcacheStore keeps JSON encoded objects in memcached. Keys are hashed
// since WMTS paths can exceed the memcached key limits.
type MemcacheStore struct {
	client *memcache.Client
	// ttl in seconds, zero never expires
	ttl int32
}

func NewMemcacheStore(ttlSeconds int32, servers ...string) (*MemcacheStore, error) {
	if len(servers) == 0 {
		return nil, errors.New("no memcache servers configured")
	}
	return &MemcacheStore{
		client: memcache.New(servers...),
		ttl:    ttlSeconds,
	}, nil
}

func (s *MemcacheStore) keyFor(key string) string {
	sum := md5.Sum([]byte(key))
	return "tile:" + hex.EncodeToString(sum[:])
}

func (s *MemcacheStore) Get(_ context.Context, key, etag string) (*Object, error) {
	item, err := s.client.Get(s.keyFor(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memcache get error: %w", err)
	}

	var obj Object
	if err := json.Unmarshal(item.Value, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return conditional(&obj, etag), nil
}

func (s *MemcacheStore) Put(_ context.Context, key string, obj *Object) error {
	value, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	err = s.client.Set(&memcache.Item{
		Key:        s.keyFor(key),
		Value:      value,
		Expiration: s.ttl,
	})
	if err != nil {
		return fmt.Errorf("memcache set error: %w", err)
	}
	return nil
}
