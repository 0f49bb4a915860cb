package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryStore implements an in-process object store bounded to maxTiles
// entries, each tile costs 1.
type MemoryStore struct {
	cache *ristretto.Cache[string, *Object]
}

// NewMemoryStore creates a new in-memory store holding at most maxTiles tiles
func NewMemoryStore(maxTiles int) (*MemoryStore, error) {
	if maxTiles <= 0 {
		maxTiles = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Object]{
		NumCounters:        int64(maxTiles) * 10,
		MaxCost:            int64(maxTiles),
		BufferItems:        64,
		IgnoreInternalCost: true, // cost counts tiles, not bytes
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{cache: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, key, etag string) (*Object, error) {
	obj, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return conditional(cloneObject(obj), etag), nil
}

// Put stores a copy of obj. Admission is decided by the cache policy, a
// rejected tile is simply not kept.
func (s *MemoryStore) Put(_ context.Context, key string, obj *Object) error {
	s.cache.Set(key, cloneObject(obj), 1)
	s.cache.Wait()
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}
