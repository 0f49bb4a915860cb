// Package capabilities renders the WMTS GetCapabilities document from the
// active layer restrictions.
package capabilities

import (
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"wmtsproxy/internal/grid"
	"wmtsproxy/internal/restriction"
	"wmtsproxy/internal/wmts"
)

const (
	DefaultEPSG = 21781
	DefaultLang = "de"

	ContentType = "text/xml; charset=UTF-8"
)

var Langs = []string{"de", "fr", "it", "rm", "en"}

//go:embed templates/capabilities.xml.tmpl
var templates embed.FS

var tpl = template.Must(
	template.New("capabilities.xml.tmpl").
		Funcs(template.FuncMap{"xml": escape}).
		ParseFS(templates, "templates/capabilities.xml.tmpl"),
)

// Params selects the capabilities variant.
type Params struct {
	EPSG    int
	Lang    string
	Version string
}

// ParseParams validates the raw route values. An empty epsg or lang falls
// back to the defaults.
func ParseParams(version, epsg, lang string) (Params, error) {
	p := Params{EPSG: DefaultEPSG, Lang: DefaultLang, Version: version}

	if version != wmts.SupportedVersion {
		return p, wmts.UnsupportedParameter(`Unsupported version: %s. Only "%s" is supported.`, version, wmts.SupportedVersion)
	}

	if epsg != "" {
		code, err := strconv.Atoi(epsg)
		if err != nil {
			return p, wmts.UnsupportedParameter(`Invalid epsg "%s", must be an integer`, epsg)
		}
		p.EPSG = code
	}
	if _, err := grid.ForSRID(p.EPSG); err != nil {
		return p, wmts.UnsupportedParameter("Unsupported epsg %d, must be on of %s", p.EPSG, formatInts(supportedEPSG()))
	}

	if lang != "" {
		p.Lang = lang
	}
	if !slices.Contains(Langs, p.Lang) {
		return p, wmts.UnsupportedParameter("Unsupported lang %s, must be on of [%s]", p.Lang, quoteAll(Langs))
	}
	return p, nil
}

// Swiss grids come first.
func supportedEPSG() []int {
	order := []int{21781, 2056, 3857, 4326}
	supported := grid.SupportedSRIDs()
	out := make([]int, 0, len(supported))
	for _, code := range order {
		if slices.Contains(supported, code) {
			out = append(out, code)
		}
	}
	for _, code := range supported {
		if !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}

// LayerSource provides the restrictions listed in the document.
type LayerSource interface {
	Snapshot() *restriction.Set
}

type Builder struct {
	layers  LayerSource
	baseURL string
}

// NewBuilder returns a Builder advertising tiles below baseURL.
func NewBuilder(layers LayerSource, baseURL string) *Builder {
	return &Builder{
		layers:  layers,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type document struct {
	Version     string
	EPSG        int
	Lang        string
	BaseURL     string
	TileAddress string
	WGS84Lower  string
	WGS84Upper  string
	Layers      []layer
	MatrixSets  []matrixSet
}

type format struct {
	Extension string
	MimeType  string
}

type layer struct {
	ID          string
	Formats     []format
	Timestamps  []string
	DefaultTime string
	MatrixSet   string
}

type matrixSet struct {
	ID       string
	Matrices []matrix
}

type matrix struct {
	Zoom             int
	ScaleDenominator string
	TopLeftCorner    string
	TileSize         int
	MatrixWidth      int
	MatrixHeight     int
}

// Render writes the capabilities document for p.
func (b *Builder) Render(p Params) ([]byte, error) {
	g, err := grid.ForSRID(p.EPSG)
	if err != nil {
		return nil, err
	}

	doc := document{
		Version:     p.Version,
		EPSG:        p.EPSG,
		Lang:        p.Lang,
		BaseURL:     b.baseURL,
		TileAddress: "{TileCol}/{TileRow}",
		WGS84Lower:  "5.140242 45.398181",
		WGS84Upper:  "11.47757 48.230651",
	}
	// LV03 tiles are addressed row first
	if p.EPSG == 21781 {
		doc.TileAddress = "{TileRow}/{TileCol}"
	}

	zooms := map[int]bool{}
	for _, r := range b.layers.Snapshot().Layers() {
		maxZoom := g.ClosestZoom(r.ResolutionMax)
		zooms[maxZoom] = true

		l := layer{
			ID:         r.LayerID,
			Timestamps: r.Timestamps,
			MatrixSet:  matrixSetID(p.EPSG, maxZoom),
		}
		if len(r.Timestamps) > 0 {
			l.DefaultTime = r.Timestamps[0]
		}
		for _, ext := range r.Formats {
			l.Formats = append(l.Formats, format{Extension: ext, MimeType: mimeType(ext)})
		}
		doc.Layers = append(doc.Layers, l)
	}

	levels := make([]int, 0, len(zooms))
	for z := range zooms {
		levels = append(levels, z)
	}
	slices.Sort(levels)

	for _, maxZoom := range levels {
		set := matrixSet{ID: matrixSetID(p.EPSG, maxZoom)}
		for z := 0; z <= maxZoom; z++ {
			m, err := tileMatrix(g, z)
			if err != nil {
				return nil, err
			}
			set.Matrices = append(set.Matrices, m)
		}
		doc.MatrixSets = append(doc.MatrixSets, set)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render capabilities: %w", err)
	}
	return buf.Bytes(), nil
}

func tileMatrix(g *grid.Grid, zoom int) (matrix, error) {
	scale, err := g.ScaleDenominator(zoom)
	if err != nil {
		return matrix{}, err
	}
	cols, rows, err := g.MatrixSize(zoom)
	if err != nil {
		return matrix{}, err
	}

	corner := fmt.Sprintf("%s %s", formatFloat(g.Origin.X()), formatFloat(g.Origin.Y()))
	if g.SRID == 4326 {
		corner = fmt.Sprintf("%s %s", formatFloat(g.Origin.Y()), formatFloat(g.Origin.X()))
	}

	return matrix{
		Zoom:             zoom,
		ScaleDenominator: formatFloat(scale),
		TopLeftCorner:    corner,
		TileSize:         grid.TileSizePx,
		MatrixWidth:      cols,
		MatrixHeight:     rows,
	}, nil
}

func matrixSetID(epsg, maxZoom int) string {
	return fmt.Sprintf("%d_%d", epsg, maxZoom)
}

func mimeType(ext string) string {
	if ext == "pngjpeg" {
		return "image/png"
	}
	return "image/" + ext
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatInts(codes []int) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func quoteAll(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = "'" + v + "'"
	}
	return strings.Join(parts, ", ")
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
