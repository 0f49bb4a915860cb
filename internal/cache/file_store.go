package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileMeta struct {
	ContentType  string `json:"content_type"`
	ETag         string `json:"etag"`
	CacheControl string `json:"cache_control"`
}

// FileStore implements a file-based object store
// Structure: {cacheDir}/{wmts path} with the headers in {wmts path}.meta
type FileStore struct {
	mu       sync.RWMutex
	cacheDir string
}

func NewFileStore(cacheDir string) (*FileStore, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{
		cacheDir: cacheDir,
	}, nil
}

// buildFilePath maps a key below cacheDir, refusing keys that escape it
func (s *FileStore) buildFilePath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	path := filepath.Join(s.cacheDir, clean)
	if !strings.HasPrefix(path, filepath.Clean(s.cacheDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return path, nil
}

func (s *FileStore) Get(_ context.Context, key, etag string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.buildFilePath(key)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	rawMeta, err := os.ReadFile(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", path, err)
	}
	var meta fileMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", path, err)
	}

	return conditional(&Object{
		Content:      content,
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		CacheControl: meta.CacheControl,
	}, etag), nil
}

func (s *FileStore) Put(_ context.Context, key string, obj *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.buildFilePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	meta, err := json.Marshal(fileMeta{
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		CacheControl: obj.CacheControl,
	})
	if err != nil {
		return err
	}

	// metadata first, a reader never sees content without headers
	if err := writeAtomic(path+".meta", meta); err != nil {
		return err
	}
	return writeAtomic(path, obj.Content)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}
