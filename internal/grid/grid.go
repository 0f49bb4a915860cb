package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

const (
	TileSizePx = 256

	// OGC standardized rendering pixel size in meters.
	pixelSize = 0.00028

	earthRadius = 6378137.0
)

var (
	ErrUnsupportedSRID = errors.New("unsupported srid")
	ErrZoomOutOfRange  = errors.New("zoom level out of range")
)

// Grid describes a top-left origin tile matrix set for one spatial reference system.
type Grid struct {
	SRID          int
	Unit          string
	MetersPerUnit float64
	// Origin is the top-left corner of tile 0/0/0.
	Origin orb.Point
	// Extent is the area tiles are served for. It can be smaller than the
	// area covered by the matrix (global grids are restricted to Switzerland).
	Extent      orb.Bound
	Resolutions []float64
}

var swissResolutions = []float64{
	4000, 3750, 3500, 3250, 3000, 2750, 2500, 2250, 2000, 1750, 1500, 1250,
	1000, 750, 650, 500, 250, 100, 50, 20, 10, 5, 2.5, 2, 1.5, 1, 0.5, 0.25, 0.1,
}

// Swiss extent in WGS84 degrees, used to restrict the global grids.
var swissGeodeticExtent = orb.Bound{
	Min: orb.Point{5.140242, 45.398181},
	Max: orb.Point{11.47757, 48.230651},
}

var grids = map[int]*Grid{
	21781: {
		SRID:          21781,
		Unit:          "meters",
		MetersPerUnit: 1,
		Origin:        orb.Point{420000, 350000},
		Extent:        orb.Bound{Min: orb.Point{420000, 30000}, Max: orb.Point{900000, 350000}},
		Resolutions:   swissResolutions,
	},
	2056: {
		SRID:          2056,
		Unit:          "meters",
		MetersPerUnit: 1,
		Origin:        orb.Point{2420000, 1350000},
		Extent:        orb.Bound{Min: orb.Point{2420000, 1030000}, Max: orb.Point{2900000, 1350000}},
		Resolutions:   swissResolutions,
	},
	3857: {
		SRID:          3857,
		Unit:          "meters",
		MetersPerUnit: 1,
		Origin:        orb.Point{-math.Pi * earthRadius, math.Pi * earthRadius},
		Extent:        mercatorBound(swissGeodeticExtent),
		Resolutions:   halvingResolutions(2*math.Pi*earthRadius/TileSizePx, 21),
	},
	4326: {
		SRID:          4326,
		Unit:          "degrees",
		MetersPerUnit: 2 * math.Pi * earthRadius / 360,
		Origin:        orb.Point{-180, 90},
		Extent:        swissGeodeticExtent,
		Resolutions:   halvingResolutions(180.0/TileSizePx, 21),
	},
}

// ForSRID returns the grid registered for srid.
func ForSRID(srid int) (*Grid, error) {
	g, ok := grids[srid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSRID, srid)
	}
	return g, nil
}

// SupportedSRIDs lists the registered codes in ascending order.
func SupportedSRIDs() []int {
	srids := make([]int, 0, len(grids))
	for srid := range grids {
		srids = append(srids, srid)
	}
	sort.Ints(srids)
	return srids
}

func (g *Grid) MaxZoom() int {
	return len(g.Resolutions) - 1
}

func (g *Grid) validZoom(zoom int) bool {
	return zoom >= 0 && zoom < len(g.Resolutions)
}

// Resolution returns the size of one pixel in grid units at zoom.
func (g *Grid) Resolution(zoom int) (float64, error) {
	if !g.validZoom(zoom) {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrZoomOutOfRange, zoom, g.MaxZoom())
	}
	return g.Resolutions[zoom], nil
}

// TileSpan returns the width of one tile in grid units at zoom.
func (g *Grid) TileSpan(zoom int) (float64, error) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return 0, err
	}
	return res * TileSizePx, nil
}

// TileBounds computes the bounding box of the tile addressed by zoom, col and row.
func (g *Grid) TileBounds(zoom, col, row int) (orb.Bound, error) {
	span, err := g.TileSpan(zoom)
	if err != nil {
		return orb.Bound{}, err
	}

	minX := g.Origin.X() + float64(col)*span
	maxY := g.Origin.Y() - float64(row)*span

	return orb.Bound{
		Min: orb.Point{minX, maxY - span},
		Max: orb.Point{minX + span, maxY},
	}, nil
}

// Intersects reports whether b touches the served extent. Shared edges count.
func (g *Grid) Intersects(b orb.Bound) bool {
	return g.Extent.Intersects(b)
}

// ClosestZoom returns the zoom level whose resolution is nearest to the given
// resolution in meters. Ties resolve to the coarser level.
func (g *Grid) ClosestZoom(resolutionMeters float64) int {
	res := resolutionMeters / g.MetersPerUnit

	best := 0
	bestDelta := math.Inf(1)
	for zoom, r := range g.Resolutions {
		delta := math.Abs(r - res)
		if delta < bestDelta {
			best = zoom
			bestDelta = delta
		}
	}
	return best
}

// MatrixSize returns the number of tile columns and rows needed to cover the
// served extent from the origin at zoom.
func (g *Grid) MatrixSize(zoom int) (cols, rows int, err error) {
	span, err := g.TileSpan(zoom)
	if err != nil {
		return 0, 0, err
	}
	cols = int(math.Ceil((g.Extent.Max.X() - g.Origin.X()) / span))
	rows = int(math.Ceil((g.Origin.Y() - g.Extent.Min.Y()) / span))
	return cols, rows, nil
}

// ScaleDenominator returns the OGC scale denominator at zoom.
func (g *Grid) ScaleDenominator(zoom int) (float64, error) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return 0, err
	}
	return res * g.MetersPerUnit / pixelSize, nil
}

func halvingResolutions(initial float64, levels int) []float64 {
	res := make([]float64, levels)
	for z := range res {
		res[z] = initial / math.Pow(2, float64(z))
	}
	return res
}

func mercatorBound(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: mercator(b.Min),
		Max: mercator(b.Max),
	}
}

func mercator(p orb.Point) orb.Point {
	x := p.Lon() * math.Pi * earthRadius / 180
	y := math.Log(math.Tan(math.Pi/4+p.Lat()*math.Pi/360)) * earthRadius
	return orb.Point{x, y}
}
