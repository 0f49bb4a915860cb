package http

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wmtsproxy/internal/wmts"
)

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError answers with the JSON error document, or a small HTML page
// when the client prefers HTML.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	werr := wmts.AsError(err)
	status := werr.Status()

	if werr.Kind == wmts.KindInternalError {
		h.logger.Error("Internal server error", zap.String("path", r.URL.Path), zap.Error(werr.Cause))
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<!doctype html>\n<html lang=en>\n<title>%d %s</title>\n<h1>%s</h1>\n<p>%s</p>\n",
			status, http.StatusText(status), http.StatusText(status), html.EscapeString(werr.Message))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Success: false,
		Error: errorDetail{
			Code:    status,
			Message: werr.Message,
		},
	})
}

func (h *Handlers) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, wmts.NotFound("The requested URL was not found on the server."))
}

func (h *Handlers) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, wmts.MethodNotAllowed("The method is not allowed for the requested URL."))
}
