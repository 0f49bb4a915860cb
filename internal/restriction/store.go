package restriction

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Source produces the full list of restrictions in one bulk read.
type Source interface {
	Load(ctx context.Context) ([]Restriction, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) ([]Restriction, error)

func (f SourceFunc) Load(ctx context.Context) ([]Restriction, error) {
	return f(ctx)
}

// Store serves lookups from the current Set. Reload builds a new Set and
// swaps it in whole, readers keep the Set they already hold.
type Store struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[Set]
}

// NewStore performs the initial load from source.
func NewStore(ctx context.Context, source Source, logger *zap.Logger) (*Store, error) {
	s := &Store{
		source: source,
		logger: logger,
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the source again. Invalid records are logged and skipped. On
// failure, or when no record is valid, the previous Set stays active.
func (s *Store) Reload(ctx context.Context) error {
	records, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load restrictions: %w", err)
	}

	set, err := NewSet(records)
	if err != nil {
		s.logger.Warn("Some restriction records were skipped", zap.Error(err))
	}
	if set.Len() == 0 && len(records) > 0 {
		return fmt.Errorf("none of the %d restriction records is valid", len(records))
	}

	s.current.Store(set)
	s.logger.Info("Restrictions loaded", zap.Int("layers", set.Len()))
	return nil
}

// Snapshot returns the active Set.
func (s *Store) Snapshot() *Set {
	return s.current.Load()
}

func (s *Store) Lookup(layerID string) (*Restriction, bool) {
	r, ok := s.Snapshot().Lookup(layerID)
	if !ok {
		s.logger.Error("No wmts configuration found for layer", zap.String("layer", layerID))
	}
	return r, ok
}
