package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wmtsproxy/internal/metrics"
	"wmtsproxy/internal/onclose"
	"wmtsproxy/internal/wmts"
)

const (
	corsAllowMethods = "GET, HEAD, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, x-requested-with, Origin, Accept"
)

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := wrapResponseWriter(w)
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)

		if r.Method == http.MethodOptions {
			w.Header().Set("Cache-Control", wmts.DefaultCacheControl(http.StatusOK, false))
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panicking handler into an internal error response.
func (h *Handlers) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrapResponseWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error("Panic while handling request",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.Stack("stack"),
			)
			if !wrapped.wroteHeader {
				// the router level Cache-Control middleware was unwound by the panic
				wrapped.Header().Set("Cache-Control", wmts.DefaultCacheControl(http.StatusInternalServerError, false))
				h.writeError(wrapped, r, wmts.AsError(nil))
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// PostResponseMiddleware gives handlers a place to register work that runs
// after the response was flushed to the client.
func (h *Handlers) PostResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, hooks := onclose.New(r.Context(), func(rec any) {
			h.logger.Error("Panic in post response hook", zap.Any("panic", rec), zap.String("path", r.URL.Path))
		})

		next.ServeHTTP(w, r.WithContext(ctx))

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		hooks.Run()
	})
}

// CacheControlMiddleware fills in Cache-Control when the handler did not
// choose one and forces no-cache on transient gateway errors.
func (h *Handlers) CacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tileRoute := false
		if route := mux.CurrentRoute(r); route != nil {
			tileRoute = route.GetName() == tileRouteName
		}

		wrapped := wrapResponseWriter(w)
		wrapped.beforeWriteHeader = func(status int) {
			header := wrapped.Header()
			if wmts.ForceNoCache(status) {
				header.Set("Cache-Control", wmts.NoCache)
				return
			}
			if header.Get("Cache-Control") == "" {
				header.Set("Cache-Control", wmts.DefaultCacheControl(status, tileRoute))
			}
		}

		next.ServeHTTP(wrapped, r)
	})
}

// tileMetricsMiddleware counts tile responses by status.
func (h *Handlers) tileMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)
		metrics.TileRequests.WithLabelValues(strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// Not for real production use due to potential spoofing
// but it's fine behind the CDN that sets X-Real-Ip
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
	// beforeWriteHeader can still modify the headers.
	beforeWriteHeader func(status int)
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	if rw.beforeWriteHeader != nil {
		rw.beforeWriteHeader(code)
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
