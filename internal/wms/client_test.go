package wms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wmtsproxy/internal/wmts"
)

func testRequest() RenderRequest {
	return RenderRequest{
		BBox:    []float64{2519400, 1142200, 2551000, 1173800.5},
		Format:  "png",
		SRID:    2056,
		LayerID: "inline_points",
		Gutter:  30,
		Time:    "current",
	}
}

func TestParams(t *testing.T) {
	params := Params(testRequest())

	assert.Equal(t, "WMS", params.Get("SERVICE"))
	assert.Equal(t, "1.3.0", params.Get("VERSION"))
	assert.Equal(t, "GetMap", params.Get("REQUEST"))
	assert.Equal(t, "image/png", params.Get("FORMAT"))
	assert.Equal(t, "true", params.Get("TRANSPARENT"))
	assert.Equal(t, "inline_points", params.Get("LAYERS"))
	assert.Equal(t, "316", params.Get("WIDTH"))
	assert.Equal(t, "316", params.Get("HEIGHT"))
	assert.Equal(t, "EPSG:2056", params.Get("CRS"))
	assert.Equal(t, "current", params.Get("TIME"))
	assert.Equal(t, "2519400,1142200,2551000,1173800.5", params.Get("BBOX"))

	_, ok := params["STYLES"]
	assert.True(t, ok)
	assert.Equal(t, "", params.Get("STYLES"))

	jpeg := testRequest()
	jpeg.Format = "jpeg"
	jpeg.Gutter = 0
	params = Params(jpeg)
	assert.Equal(t, "false", params.Get("TRANSPARENT"))
	assert.Equal(t, "256", params.Get("WIDTH"))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Config{
		BaseURL: srv.URL + "/mapserv",
		Referer: "https://proxywms.example.org",
		Timeout: timeout,
	}, zap.NewNop())
	return client, srv
}

func TestRender(t *testing.T) {
	var got url.Values
	var referer string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		referer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Etag", `"backend-etag"`)
		w.Write([]byte("png-bytes"))
	}, time.Second)

	tile, err := client.Render(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, tile.StatusCode)
	assert.Equal(t, []byte("png-bytes"), tile.Content)
	assert.Equal(t, "image/png", tile.ContentType)
	assert.Equal(t, "backend-etag", tile.ETag)
	assert.Equal(t, "GetMap", got.Get("REQUEST"))
	assert.Equal(t, "https://proxywms.example.org", referer)
}

func TestRenderTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
	}, 50*time.Millisecond)

	_, err := client.Render(context.Background(), testRequest())
	require.Error(t, err)

	e := wmts.AsError(err)
	assert.Equal(t, wmts.KindBackendTimeout, e.Kind)
	assert.Equal(t, http.StatusRequestTimeout, e.Status())
	assert.Contains(t, e.Message, "timed out")
}

func TestRenderProtocolError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=UTF-8")
		w.Write([]byte("<ServiceExceptionReport/>"))
	}, time.Second)

	_, err := client.Render(context.Background(), testRequest())
	require.Error(t, err)

	e := wmts.AsError(err)
	assert.Equal(t, wmts.KindBackendProtocolError, e.Kind)
	assert.Equal(t, http.StatusNotImplemented, e.Status())
	assert.Equal(t, "Unable to process the request: <ServiceExceptionReport/>", e.Message)
}

func TestRenderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := New(Config{BaseURL: base + "/mapserv", Timeout: time.Second}, zap.NewNop())

	_, err := client.Render(context.Background(), testRequest())
	require.Error(t, err)

	e := wmts.AsError(err)
	assert.Equal(t, wmts.KindBackendUnreachable, e.Kind)
	assert.Equal(t, http.StatusBadGateway, e.Status())
	assert.Equal(t, "Bad Gateway", e.Message)
}

func TestRenderTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	}))
	t.Cleanup(srv.Close)

	strict := New(Config{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())
	_, err := strict.Render(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, wmts.KindBackendTLSError, wmts.AsError(err).Kind)

	lenient := New(Config{BaseURL: srv.URL, Timeout: time.Second, InsecureSkipVerify: true}, zap.NewNop())
	_, err = lenient.Render(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestRoot(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte("No query information to decode. QUERY_STRING is set, but empty.\n"))
	}, time.Second)

	body, err := client.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No query information to decode. QUERY_STRING is set, but empty.\n", string(body))
}
