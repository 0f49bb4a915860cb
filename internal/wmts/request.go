package wmts

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"wmtsproxy/internal/grid"
	"wmtsproxy/internal/restriction"
)

const (
	SupportedVersion = "1.0.0"
	DefaultStyle     = "default"

	ModeDefault         = "default"
	ModePreview         = "preview"
	ModeCheckExpiration = "check-expiration"

	// swappedAxisSRID addresses tiles as row/col instead of col/row.
	swappedAxisSRID = 21781
	// geodeticSRID expects lat/lon axis order in WMS 1.3.0 requests.
	geodeticSRID = 4326

	// MaxGutter bounds the gutter a client may request, in pixels per side.
	MaxGutter = grid.TileSizePx
)

var (
	SupportedModes      = []string{ModeDefault, ModePreview, ModeCheckExpiration}
	SupportedExtensions = []string{"png", "jpeg", "pngjpeg"}
	TimeTokens          = []string{"current", "default"}
)

// TileRequest holds the raw parameters of one tile request.
type TileRequest struct {
	Version   string
	LayerID   string
	Style     string
	Time      string
	SRID      int
	Zoom      int
	Col       int
	Row       int
	Extension string
	// Mode is empty when the client did not pass one.
	Mode       string
	ClientETag string
	// Gutter is the raw query value, empty when absent.
	Gutter string
	NoData bool
}

// Path is the WMTS resource path of the tile without a leading slash. It is
// also the object store key.
func (r TileRequest) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d/%d/%d.%s",
		r.Version, r.LayerID, r.Style, r.Time, r.SRID, r.Zoom, r.Col, r.Row, r.Extension)
}

// ValidatedTile is a TileRequest that passed validation together with
// everything derived from it.
type ValidatedTile struct {
	Request     TileRequest
	Mode        string
	Grid        *grid.Grid
	BBox        orb.Bound
	Restriction *restriction.Restriction
	// Gutter is the query override if given, else the layer default.
	Gutter int
	// Promote tells whether the tile is coarse enough to be written to the object store.
	Promote bool
}

func (v *ValidatedTile) Path() string {
	return v.Request.Path()
}

// ImageFormat is the format requested from the render backend.
func (v *ValidatedTile) ImageFormat() string {
	if v.Request.Extension == "pngjpeg" {
		return "png"
	}
	return v.Request.Extension
}

// ContentType is the MIME type served for the requested extension.
func (v *ValidatedTile) ContentType() string {
	if v.Request.Extension == "jpeg" {
		return "image/jpeg"
	}
	return "image/png"
}

// RenderGutter is the border rendered around the tile. Only png tiles are
// rendered with a gutter since only they are cropped afterwards.
func (v *ValidatedTile) RenderGutter() int {
	if v.Request.Extension != "png" {
		return 0
	}
	return v.Gutter
}

// RenderBBox is the backend bounding box: the tile box grown by the gutter,
// in the axis order the backend expects for the srid.
func (v *ValidatedTile) RenderBBox() []float64 {
	res, _ := v.Grid.Resolution(v.Request.Zoom)
	b := v.BBox.Pad(res * float64(v.RenderGutter()))

	if v.Request.SRID == geodeticSRID {
		return []float64{b.Min.Y(), b.Min.X(), b.Max.Y(), b.Max.X()}
	}
	return []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

// UsesCache reports whether the object store is consulted for this request.
func (v *ValidatedTile) UsesCache() bool {
	return v.Mode != ModePreview
}

// CacheableContentType reports whether content of this type can be stored.
func CacheableContentType(contentType string) bool {
	return contentType == "image/png" || contentType == "image/jpeg"
}

// ShouldWrite decides whether a rendered tile of contentType goes to the object store.
func (v *ValidatedTile) ShouldWrite(contentType string) bool {
	return v.Promote && v.UsesCache() && CacheableContentType(contentType)
}

// NormalizeETag strips quotes and the weak prefix from an entity tag.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// QuoteETag returns etag in its quoted header form.
func QuoteETag(etag string) string {
	return `"` + NormalizeETag(etag) + `"`
}
