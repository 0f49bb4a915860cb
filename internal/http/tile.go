package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wmtsproxy/internal/cache"
	"wmtsproxy/internal/image_renderer"
	"wmtsproxy/internal/metrics"
	"wmtsproxy/internal/wms"
	"wmtsproxy/internal/wmts"
)

// tileResponse is everything needed to answer a tile request.
type tileResponse struct {
	status      int
	content     []byte
	contentType string
	etag        string
	cacheHit    bool
	wmsTime     time.Duration
}

func parseTileRequest(r *http.Request) (wmts.TileRequest, error) {
	vars := mux.Vars(r)

	ints := make(map[string]int, 4)
	for _, name := range []string{"srid", "zoom", "col", "row"} {
		v, err := strconv.Atoi(vars[name])
		if err != nil {
			return wmts.TileRequest{}, wmts.UnsupportedParameter("Invalid %s %s", name, vars[name])
		}
		ints[name] = v
	}

	query := r.URL.Query()
	return wmts.TileRequest{
		Version:    vars["version"],
		LayerID:    vars["layer"],
		Style:      vars["style"],
		Time:       vars["time"],
		SRID:       ints["srid"],
		Zoom:       ints["zoom"],
		Col:        ints["col"],
		Row:        ints["row"],
		Extension:  vars["ext"],
		Mode:       query.Get("mode"),
		ClientETag: wmts.NormalizeETag(r.Header.Get("If-None-Match")),
		Gutter:     query.Get("gutter"),
		NoData:     query.Get("nodata") == "true",
	}, nil
}

func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := parseTileRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tile, err := h.validator.Validate(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, ok := h.cachedTile(r.Context(), tile)
	if !ok {
		resp, err = h.renderTile(r.Context(), tile)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	h.writeTile(w, r, tile, resp, time.Since(start))
}

func (h *Handlers) cachedTile(ctx context.Context, tile *wmts.ValidatedTile) (*tileResponse, bool) {
	if h.tileCache == nil || !tile.UsesCache() {
		return nil, false
	}

	obj, ok := h.tileCache.Get(ctx, tile.Path(), tile.Request.ClientETag, tile.Mode == wmts.ModeCheckExpiration)
	if !ok {
		return nil, false
	}

	h.logger.Debug("Serving tile from cache", zap.String("path", tile.Path()))
	resp := &tileResponse{
		status:      http.StatusOK,
		content:     obj.Content,
		contentType: obj.ContentType,
		etag:        obj.ETag,
		cacheHit:    true,
	}
	if obj.NotModified {
		resp.status = http.StatusNotModified
		resp.content = nil
	}
	if resp.etag == "" {
		resp.etag = cache.Digest(obj.Content)
	}
	// conditional answers from object stores carry no Content-Type
	if resp.contentType == "" {
		resp.contentType = tile.ContentType()
	}
	return resp, true
}

// renderTile fetches the tile from the backend, crops the gutter and
// schedules the cache write.
func (h *Handlers) renderTile(ctx context.Context, tile *wmts.ValidatedTile) (*tileResponse, error) {
	start := time.Now()
	gutter := tile.RenderGutter()

	rendered, err := h.backend.Render(ctx, wms.RenderRequest{
		BBox:    tile.RenderBBox(),
		Format:  tile.ImageFormat(),
		SRID:    tile.Request.SRID,
		LayerID: tile.Request.LayerID,
		Gutter:  gutter,
		Time:    tile.Request.Time,
	})
	if err != nil {
		return nil, err
	}
	metrics.BackendLatency.Observe(rendered.Elapsed.Seconds())

	content := rendered.Content
	if rendered.StatusCode == http.StatusOK && len(content) > 0 &&
		image_renderer.ShouldCrop(rendered.ContentType, tile.Request.Extension, gutter) {
		content, err = h.cropper.CropGutter(content, gutter)
		if err != nil {
			return nil, fmt.Errorf("failed to crop tile %s: %w", tile.Path(), err)
		}
	}
	metrics.TileGenerationLatency.Observe(time.Since(start).Seconds())

	etag := rendered.ETag
	if etag == "" {
		etag = cache.Digest(content)
	}

	resp := &tileResponse{
		status:      rendered.StatusCode,
		content:     content,
		contentType: rendered.ContentType,
		etag:        etag,
		wmsTime:     rendered.Elapsed,
	}
	h.scheduleWrite(ctx, tile, resp)
	return resp, nil
}

func (h *Handlers) scheduleWrite(ctx context.Context, tile *wmts.ValidatedTile, resp *tileResponse) {
	if h.tileCache == nil {
		h.logger.Debug("Tile caching is disabled")
		return
	}
	if resp.status != http.StatusOK || !tile.ShouldWrite(resp.contentType) {
		h.logger.Debug("Skipping insert",
			zap.String("path", tile.Path()),
			zap.Int("status", resp.status),
			zap.Bool("promote", tile.Promote),
			zap.String("mode", tile.Mode),
			zap.String("content_type", resp.contentType),
		)
		return
	}

	path := tile.Path()
	obj := &cache.Object{
		Content:      resp.content,
		ContentType:  resp.contentType,
		ETag:         resp.etag,
		CacheControl: wmts.TileCacheControl(tile.Restriction.CacheTTL),
	}
	h.scheduler.Schedule(ctx, func(ctx context.Context) {
		h.tileCache.Put(ctx, path, obj)
	})
}

// writeTile is the response assembler shared by cached and rendered tiles.
func (h *Handlers) writeTile(w http.ResponseWriter, r *http.Request, tile *wmts.ValidatedTile, resp *tileResponse, elapsed time.Duration) {
	header := w.Header()
	if resp.contentType != "" {
		header.Set("Content-Type", resp.contentType)
	}
	header.Set("Etag", wmts.QuoteETag(resp.etag))
	header.Set("Cache-Control", wmts.TileCacheControl(tile.Restriction.CacheTTL))
	header.Set("X-Tile-Generation-Time", fmt.Sprintf("%.6f", elapsed.Seconds()))
	if resp.cacheHit {
		header.Set("X-Tiles-S3-Cache", "hit")
	} else {
		header.Set("X-Tiles-S3-Cache", "miss")
		header.Set("X-WMS-Time", fmt.Sprintf("%.6f", resp.wmsTime.Seconds()))
	}

	status := resp.status
	body := resp.content
	if tile.Request.ClientETag != "" && tile.Request.ClientETag == wmts.NormalizeETag(resp.etag) {
		status = http.StatusNotModified
	}
	if status == http.StatusNotModified {
		body = nil
	}

	if tile.Request.NoData {
		status = http.StatusOK
		body = []byte("OK")
		header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	if status != http.StatusNotModified {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead || len(body) == 0 {
		return
	}
	w.Write(body)
}
