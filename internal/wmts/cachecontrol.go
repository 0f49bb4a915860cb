package wmts

import (
	"fmt"
	"net/http"
)

const (
	// BrowserCacheMaxTTL caps the browser max-age of tiles, in seconds.
	BrowserCacheMaxTTL = 3600

	TileDefaultCache = "public, max-age=3600, s-maxage=5184000"
	TileErrorCache   = "public, max-age=3600"
	DefaultCache     = "public, max-age=1800"
	Error5xxCache    = "public, max-age=5"
	NoCache          = "no-cache"
)

// TileCacheControl builds the Cache-Control of a tile from the layer TTL.
// The CDN keeps the tile for ttl seconds, browsers for at most BrowserCacheMaxTTL.
func TileCacheControl(ttl int) string {
	if ttl <= 0 {
		return TileDefaultCache
	}
	return fmt.Sprintf("public, max-age=%d, s-maxage=%d", min(ttl, BrowserCacheMaxTTL), ttl)
}

// DefaultCacheControl is used when a handler did not choose a Cache-Control.
func DefaultCacheControl(status int, tileRoute bool) string {
	switch {
	case status >= http.StatusInternalServerError:
		return Error5xxCache
	case tileRoute && status == http.StatusOK:
		return TileDefaultCache
	case tileRoute:
		return TileErrorCache
	default:
		return DefaultCache
	}
}

// ForceNoCache reports statuses that are transient and must never be cached,
// whatever Cache-Control was chosen before.
func ForceNoCache(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusInsufficientStorage:
		return true
	}
	return false
}
