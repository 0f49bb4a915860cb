package restriction

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func inlinePoints() Restriction {
	return Restriction{
		LayerID:        "inline_points",
		Timestamps:     []string{"current", "20200101"},
		Formats:        []string{"png", "jpeg"},
		ResolutionMin:  4000,
		ResolutionMax:  0.5,
		CacheThreshold: 2.5,
		CacheTTL:       1800,
		Gutter:         30,
	}
}

func TestNewSet(t *testing.T) {
	set, err := NewSet([]Restriction{inlinePoints(), {LayerID: "a_layer", Timestamps: []string{"current"}, Formats: []string{"png"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	r, ok := set.Lookup("inline_points")
	require.True(t, ok)
	assert.True(t, r.AllowsTimestamp("20200101"))
	assert.False(t, r.AllowsTimestamp("default"))
	assert.True(t, r.AllowsFormat("jpeg"))
	assert.False(t, r.AllowsFormat("pngjpeg"))

	_, ok = set.Lookup("unknown")
	assert.False(t, ok)

	layers := set.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, "a_layer", layers[0].LayerID)
}

func TestNewSetSkipsInvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		record Restriction
	}{
		{"empty layer id", Restriction{Timestamps: []string{"current"}, Formats: []string{"png"}}},
		{"no timestamps", Restriction{LayerID: "x", Formats: []string{"png"}}},
		{"no formats", Restriction{LayerID: "x", Timestamps: []string{"current"}}},
		{"negative gutter", Restriction{LayerID: "x", Timestamps: []string{"current"}, Formats: []string{"png"}, Gutter: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewSet([]Restriction{inlinePoints(), tt.record})
			require.Error(t, err)
			require.NotNil(t, set)

			assert.Equal(t, 1, set.Len())
			_, ok := set.Lookup("inline_points")
			assert.True(t, ok)
			_, ok = set.Lookup("x")
			assert.False(t, ok)
		})
	}
}

func TestNewSetLastDuplicateWins(t *testing.T) {
	first := inlinePoints()
	second := inlinePoints()
	second.Timestamps = []string{"20240101"}

	set, err := NewSet([]Restriction{first, second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	require.Equal(t, 1, set.Len())
	r, ok := set.Lookup("inline_points")
	require.True(t, ok)
	assert.Equal(t, []string{"20240101"}, r.Timestamps)
	assert.Len(t, set.Layers(), 1)
}

func TestSetIsolatedFromSourceSlices(t *testing.T) {
	records := []Restriction{inlinePoints()}
	set, err := NewSet(records)
	require.NoError(t, err)

	records[0].Timestamps[0] = "mutated"

	r, ok := set.Lookup("inline_points")
	require.True(t, ok)
	assert.Equal(t, "current", r.Timestamps[0])
}

func TestStoreReloadSwapsWholeSet(t *testing.T) {
	calls := 0
	source := SourceFunc(func(ctx context.Context) ([]Restriction, error) {
		calls++
		if calls == 1 {
			return []Restriction{inlinePoints()}, nil
		}
		other := inlinePoints()
		other.LayerID = "other_layer"
		return []Restriction{other}, nil
	})

	store, err := NewStore(context.Background(), source, zap.NewNop())
	require.NoError(t, err)

	before := store.Snapshot()
	_, ok := store.Lookup("inline_points")
	require.True(t, ok)

	require.NoError(t, store.Reload(context.Background()))

	_, ok = store.Lookup("inline_points")
	assert.False(t, ok)
	_, ok = store.Lookup("other_layer")
	assert.True(t, ok)

	// a reader holding the old snapshot still sees the old data
	_, ok = before.Lookup("inline_points")
	assert.True(t, ok)
}

func TestStoreReloadFailureKeepsPreviousSet(t *testing.T) {
	fail := false
	source := SourceFunc(func(ctx context.Context) ([]Restriction, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return []Restriction{inlinePoints()}, nil
	})

	store, err := NewStore(context.Background(), source, zap.NewNop())
	require.NoError(t, err)

	fail = true
	require.Error(t, store.Reload(context.Background()))

	_, ok := store.Lookup("inline_points")
	assert.True(t, ok)
}

func TestStoreReloadSkipsBadRecord(t *testing.T) {
	bad := false
	source := SourceFunc(func(ctx context.Context) ([]Restriction, error) {
		other := inlinePoints()
		other.LayerID = "other_layer"
		if bad {
			other.Formats = nil
		}
		return []Restriction{inlinePoints(), other}, nil
	})

	store, err := NewStore(context.Background(), source, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, store.Snapshot().Len())

	bad = true
	require.NoError(t, store.Reload(context.Background()))

	_, ok := store.Lookup("inline_points")
	assert.True(t, ok)
	_, ok = store.Lookup("other_layer")
	assert.False(t, ok)
}

func TestStoreReloadWithoutValidRecordsKeepsPreviousSet(t *testing.T) {
	broken := false
	source := SourceFunc(func(ctx context.Context) ([]Restriction, error) {
		r := inlinePoints()
		if broken {
			r.Timestamps = nil
		}
		return []Restriction{r}, nil
	})

	store, err := NewStore(context.Background(), source, zap.NewNop())
	require.NoError(t, err)

	broken = true
	require.Error(t, store.Reload(context.Background()))

	_, ok := store.Lookup("inline_points")
	assert.True(t, ok)
}

func TestNewStoreFailsOnInitialLoad(t *testing.T) {
	source := SourceFunc(func(ctx context.Context) ([]Restriction, error) {
		return nil, errors.New("boom")
	})

	_, err := NewStore(context.Background(), source, zap.NewNop())
	require.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restrictions.yaml")
	doc := `
layers:
  - layer_id: inline_points
    timestamps: [current, "20200101"]
    formats: [png]
    resolution_min: 4000
    resolution_max: 0.5
    s3_resolution_max: 2.5
    cache_ttl: 1800
    wms_gutter: 30
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	records, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "inline_points", r.LayerID)
	assert.Equal(t, []string{"current", "20200101"}, r.Timestamps)
	assert.Equal(t, 0.5, r.ResolutionMax)
	assert.Equal(t, 2.5, r.CacheThreshold)
	assert.Equal(t, 30, r.Gutter)
}

func TestFileSourceRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restrictions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layers:\n  - layer: x\n"), 0644))

	_, err := NewFileSource(path).Load(context.Background())
	require.Error(t, err)
}

type fakeRow []any

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f[i].(string)
		case sql.Scanner:
			if err := v.Scan(f[i]); err != nil {
				return err
			}
		default:
			return errors.New("unexpected destination")
		}
	}
	return nil
}

func TestScanRestriction(t *testing.T) {
	row := fakeRow{
		"inline_points",
		[]byte(`{current,20200101}`),
		[]byte(`{png,jpeg}`),
		float64(4000),
		float64(0.5),
		float64(2.5),
		nil,
		int64(30),
	}

	r, err := scanRestriction(row)
	require.NoError(t, err)
	assert.Equal(t, "inline_points", r.LayerID)
	assert.Equal(t, []string{"current", "20200101"}, r.Timestamps)
	assert.Equal(t, []string{"png", "jpeg"}, r.Formats)
	assert.Equal(t, 0.5, r.ResolutionMax)
	assert.Equal(t, 0, r.CacheTTL)
	assert.Equal(t, 30, r.Gutter)
}
