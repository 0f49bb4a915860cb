package restriction

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Restriction is the serving policy of one layer.
type Restriction struct {
	LayerID       string   `yaml:"layer_id"`
	Timestamps    []string `yaml:"timestamps"`
	Formats       []string `yaml:"formats"`
	ResolutionMin float64  `yaml:"resolution_min"`
	ResolutionMax float64  `yaml:"resolution_max"`
	// CacheThreshold is the resolution at or above which tiles are written
	// to the object store.
	CacheThreshold float64 `yaml:"s3_resolution_max"`
	// CacheTTL in seconds, zero when unset.
	CacheTTL int `yaml:"cache_ttl"`
	Gutter   int `yaml:"wms_gutter"`
}

func (r *Restriction) AllowsTimestamp(ts string) bool {
	return slices.Contains(r.Timestamps, ts)
}

func (r *Restriction) AllowsFormat(format string) bool {
	return slices.Contains(r.Formats, format)
}

func (r *Restriction) validate() error {
	if r.LayerID == "" {
		return fmt.Errorf("restriction without layer id")
	}
	if len(r.Timestamps) == 0 {
		return fmt.Errorf("layer %s: no timestamps", r.LayerID)
	}
	if len(r.Formats) == 0 {
		return fmt.Errorf("layer %s: no formats", r.LayerID)
	}
	if r.Gutter < 0 {
		return fmt.Errorf("layer %s: negative gutter %d", r.LayerID, r.Gutter)
	}
	return nil
}

// Set is an immutable layer id index. It is never modified after NewSet.
type Set struct {
	byLayer map[string]*Restriction
	ordered []*Restriction
}

// NewSet copies records into a new Set. Invalid records are skipped and a
// later record for the same layer id replaces the earlier one. The returned
// error joins the reason of every skipped or replaced record; the Set is
// usable either way.
func NewSet(records []Restriction) (*Set, error) {
	s := &Set{
		byLayer: make(map[string]*Restriction, len(records)),
	}

	var errs []error
	for i := range records {
		r := records[i]
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d skipped: %w", i, err))
			continue
		}
		if _, ok := s.byLayer[r.LayerID]; ok {
			errs = append(errs, fmt.Errorf("record %d replaces duplicate restriction for layer %s", i, r.LayerID))
		}
		r.Timestamps = slices.Clone(r.Timestamps)
		r.Formats = slices.Clone(r.Formats)
		s.byLayer[r.LayerID] = &r
	}

	s.ordered = make([]*Restriction, 0, len(s.byLayer))
	for _, r := range s.byLayer {
		s.ordered = append(s.ordered, r)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return s.ordered[i].LayerID < s.ordered[j].LayerID
	})

	return s, errors.Join(errs...)
}

func (s *Set) Lookup(layerID string) (*Restriction, bool) {
	r, ok := s.byLayer[layerID]
	return r, ok
}

func (s *Set) Len() int {
	return len(s.ordered)
}

// Layers returns the restrictions ordered by layer id.
func (s *Set) Layers() []*Restriction {
	return slices.Clone(s.ordered)
}
