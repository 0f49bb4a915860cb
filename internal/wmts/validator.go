package wmts

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"wmtsproxy/internal/grid"
	"wmtsproxy/internal/restriction"
)

// RestrictionLookup resolves a layer id to its restriction.
type RestrictionLookup interface {
	Lookup(layerID string) (*restriction.Restriction, bool)
}

type Validator struct {
	restrictions RestrictionLookup
	defaultMode  string
	logger       *zap.Logger
}

func NewValidator(restrictions RestrictionLookup, defaultMode string, logger *zap.Logger) *Validator {
	if defaultMode == "" {
		defaultMode = ModeDefault
	}
	return &Validator{
		restrictions: restrictions,
		defaultMode:  defaultMode,
		logger:       logger,
	}
}

// Validate checks req against the protocol rules and the layer restriction.
// All failures are *Error values with a 4xx status.
func (v *Validator) Validate(req TileRequest) (*ValidatedTile, error) {
	mode, err := v.validateMode(req.Mode)
	if err != nil {
		return nil, err
	}

	g, err := v.validateRequest(&req)
	if err != nil {
		return nil, err
	}

	col, row := req.Col, req.Row
	if req.SRID == swappedAxisSRID {
		col, row = row, col
	}

	bbox, err := g.TileBounds(req.Zoom, col, row)
	if err != nil {
		v.logger.Error("Unsupported zoom level", zap.Int("zoom", req.Zoom), zap.Int("srid", req.SRID), zap.Error(err))
		return nil, UnsupportedParameter("Unsupported zoom level %d for srid %d", req.Zoom, req.SRID)
	}

	if !g.Intersects(bbox) {
		v.logger.Error("Tile out of bbox",
			zap.Int("zoom", req.Zoom), zap.Int("row", row), zap.Int("col", col),
			zap.Float64s("bbox", []float64{bbox.Min.X(), bbox.Min.Y(), bbox.Max.X(), bbox.Max.Y()}),
		)
		return nil, OutOfBounds("Tile out of bounds %d/%d/%d", req.Zoom, row, col)
	}

	r, promote, err := v.validateRestriction(&req, g)
	if err != nil {
		return nil, err
	}

	gutter, err := v.resolveGutter(req.Gutter, r)
	if err != nil {
		return nil, err
	}

	return &ValidatedTile{
		Request:     req,
		Mode:        mode,
		Grid:        g,
		BBox:        bbox,
		Restriction: r,
		Gutter:      gutter,
		Promote:     promote,
	}, nil
}

func (v *Validator) validateMode(mode string) (string, error) {
	if mode == "" {
		mode = v.defaultMode
	}
	if !slices.Contains(SupportedModes, mode) {
		supported := strings.Join(SupportedModes, ", ")
		v.logger.Error("Unsupported mode", zap.String("mode", mode))
		return "", UnsupportedParameter(`Unsupported mode: %s. Only "%s" are supported.`, mode, supported)
	}
	return mode, nil
}

func (v *Validator) validateRequest(req *TileRequest) (*grid.Grid, error) {
	if req.Version != SupportedVersion {
		v.logger.Error("Unsupported version", zap.String("version", req.Version))
		return nil, UnsupportedParameter(`Unsupported version: %s. Only "%s" is supported.`, req.Version, SupportedVersion)
	}

	if !validTime(req.Time) {
		v.logger.Error("Invalid time format", zap.String("time", req.Time))
		return nil, InvalidFormat(`Invalid time format: %s. Must be "current", "default" or an integer`, req.Time)
	}

	if req.Style != DefaultStyle {
		v.logger.Error("Unsupported style name", zap.String("style", req.Style))
		return nil, UnsupportedParameter(`Unsupported style name: %s. Only "%s" is supported.`, req.Style, DefaultStyle)
	}

	if !slices.Contains(SupportedExtensions, req.Extension) {
		supported := strings.Join(SupportedExtensions, ", ")
		v.logger.Error("Unsupported image format", zap.String("extension", req.Extension))
		return nil, UnsupportedParameter(`Unsupported image format: %s. Only "%s" are supported.`, req.Extension, supported)
	}

	g, err := grid.ForSRID(req.SRID)
	if err != nil {
		v.logger.Error("Unsupported srid", zap.Int("srid", req.SRID), zap.Error(err))
		return nil, UnsupportedParameter("Unsupported srid %d", req.SRID)
	}
	return g, nil
}

func (v *Validator) validateRestriction(req *TileRequest, g *grid.Grid) (*restriction.Restriction, bool, error) {
	r, ok := v.restrictions.Lookup(req.LayerID)
	if !ok {
		return nil, false, UnknownLayer(req.LayerID)
	}

	if !r.AllowsTimestamp(req.Time) {
		supported := strings.Join(r.Timestamps, ", ")
		v.logger.Error("Unsupported timestamp", zap.String("time", req.Time), zap.String("supported", supported))
		return nil, false, UnsupportedParameter("Unsupported timestamp %s, supported timestamps are %s", req.Time, supported)
	}

	if !r.AllowsFormat(req.Extension) {
		v.logger.Error("Unsupported image format", zap.String("extension", req.Extension), zap.Strings("supported", r.Formats))
		return nil, false, UnsupportedParameter("Unsupported image format %s,supported format is %v", req.Extension, r.Formats)
	}

	res, err := g.Resolution(req.Zoom)
	if err != nil {
		return nil, false, UnsupportedParameter("Unsupported zoom level %d for srid %d", req.Zoom, req.SRID)
	}
	// restrictions are expressed in meters
	res *= g.MetersPerUnit

	if res < r.ResolutionMax {
		maxZoom := g.ClosestZoom(r.ResolutionMax)
		v.logger.Error("Unsupported zoom level",
			zap.Int("zoom", req.Zoom),
			zap.Float64("resolution", res),
			zap.Int("max_zoom", maxZoom),
		)
		return nil, false, UnsupportedParameter("Unsupported zoom level %d, maxzoom is: %d", req.Zoom, maxZoom)
	}

	return r, res >= r.CacheThreshold, nil
}

func (v *Validator) resolveGutter(raw string, r *restriction.Restriction) (int, error) {
	if raw == "" {
		return r.Gutter, nil
	}

	gutter, err := strconv.Atoi(raw)
	if err != nil {
		v.logger.Error("Invalid gutter value", zap.String("gutter", raw), zap.Error(err))
		return 0, InvalidFormat("Gutter value must be an integer")
	}
	if gutter < 0 {
		v.logger.Error("Negative gutter value", zap.Int("gutter", gutter))
		return 0, InvalidFormat("Gutter value must be a positive integer")
	}
	if gutter > MaxGutter {
		v.logger.Error("Gutter value too large", zap.Int("gutter", gutter), zap.Int("max", MaxGutter))
		return 0, InvalidFormat("Gutter value must not exceed %d", MaxGutter)
	}
	return gutter, nil
}

func validTime(t string) bool {
	if slices.Contains(TimeTokens, t) {
		return true
	}
	if t == "" {
		return false
	}
	for _, c := range t {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindUnsupportedParameter, KindInvalidFormat, KindOutOfBounds, KindUnknownLayer:
		return true
	}
	return false
}
