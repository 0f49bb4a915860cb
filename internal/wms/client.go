package wms

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wmtsproxy/internal/grid"
	"wmtsproxy/internal/wmts"
)

const defaultContentType = "text/xml"

type Config struct {
	// BaseURL is the GetMap endpoint, e.g. http://localhost/mapserv.
	BaseURL            string
	Referer            string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// RenderRequest describes one GetMap call.
type RenderRequest struct {
	BBox    []float64
	Format  string
	SRID    int
	LayerID string
	Gutter  int
	Time    string
}

// RenderedTile is the backend answer for a RenderRequest.
type RenderedTile struct {
	StatusCode  int
	Content     []byte
	ContentType string
	// ETag is the unquoted backend entity tag, empty when the backend sent none.
	ETag    string
	Elapsed time.Duration
}

// Client talks to the WMS render backend.
type Client struct {
	baseURL string
	referer string
	http    *http.Client
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	return &Client{
		baseURL: cfg.BaseURL,
		referer: cfg.Referer,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// Params maps a render request onto WMS 1.3.0 GetMap parameters.
func Params(req RenderRequest) url.Values {
	bbox := make([]string, len(req.BBox))
	for i, v := range req.BBox {
		bbox[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	transparent := "false"
	if req.Format == "png" {
		transparent = "true"
	}

	size := strconv.Itoa(grid.TileSizePx + 2*req.Gutter)

	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", "1.3.0")
	params.Set("REQUEST", "GetMap")
	params.Set("FORMAT", "image/"+req.Format)
	params.Set("TRANSPARENT", transparent)
	params.Set("LAYERS", req.LayerID)
	params.Set("WIDTH", size)
	params.Set("HEIGHT", size)
	params.Set("CRS", fmt.Sprintf("EPSG:%d", req.SRID))
	params.Set("STYLES", "")
	params.Set("TIME", req.Time)
	params.Set("BBOX", strings.Join(bbox, ","))
	return params
}

// Render issues the GetMap call. Transport failures and non image answers
// are returned as *wmts.Error with the matching kind.
func (c *Client) Render(ctx context.Context, req RenderRequest) (*RenderedTile, error) {
	target := c.baseURL + "?" + Params(req).Encode()
	c.logger.Info("Fetching", zap.String("url", target))

	start := time.Now()
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, c.classify(err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err)
	}
	elapsed := time.Since(start)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	c.logger.Debug("WMS response",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(content)),
		zap.Duration("elapsed", elapsed),
	)

	if !strings.HasPrefix(contentType, "image/") {
		c.logger.Error("Unable to process the request",
			zap.String("content_type", contentType),
			zap.ByteString("content", truncate(content, 512)),
		)
		return nil, wmts.Backend(wmts.KindBackendProtocolError, nil, "Unable to process the request: %s", content)
	}

	return &RenderedTile{
		StatusCode:  resp.StatusCode,
		Content:     content,
		ContentType: contentType,
		ETag:        wmts.NormalizeETag(resp.Header.Get("Etag")),
		Elapsed:     elapsed,
	}, nil
}

// Root fetches the backend endpoint without query. Mapserver answers it with
// a fixed message which readiness checks compare against.
func (c *Client) Root(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	return c.http.Do(req)
}

func (c *Client) classify(err error) error {
	c.logger.Error("WMS request failed", zap.Error(err))

	switch {
	case isTimeout(err):
		return wmts.Backend(wmts.KindBackendTimeout, err, "Proxied wms request timed out.")
	case isTLS(err):
		return wmts.Backend(wmts.KindBackendTLSError, err, "Unable to verify SSL certificate")
	default:
		return wmts.Backend(wmts.KindBackendUnreachable, err, "Bad Gateway")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLS(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
