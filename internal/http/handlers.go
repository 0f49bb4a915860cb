package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"runtime"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wmtsproxy/internal/cache"
	"wmtsproxy/internal/capabilities"
	"wmtsproxy/internal/config"
	"wmtsproxy/internal/restriction"
	"wmtsproxy/internal/wms"
	"wmtsproxy/internal/wmts"
)

const (
	tileRouteName = "tile"

	// wmsReadyAnswer is what mapserver returns for a request without query.
	wmsReadyAnswer = "No query information to decode. QUERY_STRING is set, but empty.\n"
)

// Backend renders tiles and answers the readiness check.
type Backend interface {
	Render(ctx context.Context, req wms.RenderRequest) (*wms.RenderedTile, error)
	Root(ctx context.Context) ([]byte, error)
}

// Cropper removes the rendering gutter from png tiles.
type Cropper interface {
	CropGutter(content []byte, gutter int) ([]byte, error)
}

type Handlers struct {
	config       *config.Config
	logger       *zap.Logger
	restrictions *restriction.Store
	validator    *wmts.Validator
	capabilities *capabilities.Builder
	backend      Backend
	cropper      Cropper
	// tileCache is nil when caching is disabled.
	tileCache *cache.TileCache
	scheduler cache.Scheduler
}

func New(
	config *config.Config,
	logger *zap.Logger,
	restrictions *restriction.Store,
	backend Backend,
	cropper Cropper,
	tileCache *cache.TileCache,
	scheduler cache.Scheduler,
) *Handlers {
	if scheduler == nil {
		scheduler = cache.SyncScheduler{}
	}
	return &Handlers{
		config:       config,
		logger:       logger,
		restrictions: restrictions,
		validator:    wmts.NewValidator(restrictions, config.DefaultMode, logger),
		capabilities: capabilities.NewBuilder(restrictions, config.PublicBaseURL),
		backend:      backend,
		cropper:      cropper,
		tileCache:    tileCache,
		scheduler:    scheduler,
	}
}

// Router registers every endpoint. Capabilities routes come before the tile
// route so that their literal segments win.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.CacheControlMiddleware)

	r.HandleFunc("/checker", h.HandleChecker).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/info.json", h.HandleInfo).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/wms_checker", h.HandleWMSChecker).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/reload", h.HandleReload).Methods(http.MethodPost)

	r.HandleFunc("/EPSG/{epsg}/{lang}/{version}/WMTSCapabilities.xml", h.HandleCapabilities).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/EPSG/{epsg}/{version}/WMTSCapabilities.xml", h.HandleCapabilities).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{version}/WMTSCapabilities.EPSG.{epsg:[0-9]+}.xml", h.HandleCapabilities).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{version}/WMTSCapabilities.xml", h.HandleCapabilities).Methods(http.MethodGet, http.MethodHead)

	r.Handle(
		"/{version}/{layer}/{style}/{time}/{srid:[0-9]+}/{zoom:[0-9]+}/{col:[0-9]+}/{row:[0-9]+}.{ext}",
		h.tileMetricsMiddleware(http.HandlerFunc(h.HandleTile)),
	).Methods(http.MethodGet, http.MethodHead).Name(tileRouteName)

	r.NotFoundHandler = h.CacheControlMiddleware(http.HandlerFunc(h.HandleNotFound))
	r.MethodNotAllowedHandler = h.CacheControlMiddleware(http.HandlerFunc(h.HandleMethodNotAllowed))
	return r
}

// Handler is the router wrapped in the global middleware chain.
func (h *Handlers) Handler() http.Handler {
	return h.RequestLoggingMiddleware(h.CORSMiddleware(h.RecoverMiddleware(h.PostResponseMiddleware(h.Router()))))
}

func (h *Handlers) HandleChecker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OK",
		"version": h.config.AppVersion,
	})
}

func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"go_version":  runtime.Version(),
		"app_version": h.config.AppVersion,
	})
}

func (h *Handlers) HandleWMSChecker(w http.ResponseWriter, r *http.Request) {
	content, err := h.backend.Root(r.Context())
	if err != nil {
		h.logger.Error("Cannot connect to backend WMS", zap.String("backend", h.config.WMSBackendURL()), zap.Error(err))
		h.writeError(w, r, wmts.Backend(wmts.KindBackendUnreachable, err, "Cannot connect to backend WMS"))
		return
	}

	if string(content) != wmsReadyAnswer {
		h.logger.Error("Incomprehensible WMS backend answer, WMS is probably not ready yet",
			zap.String("backend", h.config.WMSBackendURL()),
			zap.ByteString("answer", content),
		)
		h.writeError(w, r, wmts.ServiceUnavailable("Incomprehensible answer. WMS is probably not ready yet."))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	epsg, ok := vars["epsg"]
	if !ok {
		epsg = r.URL.Query().Get("epsg")
	}
	lang, ok := vars["lang"]
	if !ok {
		lang = r.URL.Query().Get("lang")
	}

	params, err := capabilities.ParseParams(vars["version"], epsg, lang)
	if err != nil {
		h.logger.Error("Invalid capabilities request", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, r, err)
		return
	}

	body, err := h.capabilities.Render(params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", capabilities.ContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

// HandleReload rebuilds the restriction set from its source. It only exists
// when a reload token is configured.
func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	if !h.config.IsReloadEnabled() {
		h.HandleNotFound(w, r)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.ReloadToken)) != 1 {
		h.writeError(w, r, wmts.Unauthorized("Unauthorized"))
		return
	}

	if err := h.restrictions.Reload(r.Context()); err != nil {
		h.logger.Error("Failed to reload restrictions", zap.Error(err))
		h.writeError(w, r, wmts.ServiceUnavailable("Failed to reload restrictions, previous configuration kept"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"layers":  h.restrictions.Snapshot().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
