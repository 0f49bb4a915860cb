package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStore talks plain HTTP to a bucket endpoint, the object URL being
// {baseURL}/{key}. Reads are anonymous, as the bucket serves tiles publicly.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BucketURL returns the endpoint of an AWS bucket, or endpoint when it is set.
func BucketURL(bucket, region, endpoint string) string {
	if endpoint != "" {
		return endpoint
	}
	return fmt.Sprintf("http://%s.s3-%s.amazonaws.com", bucket, region)
}

func (s *HTTPStore) objectURL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

func (s *HTTPStore) Get(ctx context.Context, key, etag string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", `"`+etag+`"`)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotModified:
	case http.StatusNotFound, http.StatusForbidden:
		// S3 answers 403 instead of 404 when listing is not allowed
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected status %d getting %s", resp.StatusCode, key)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	obj := &Object{
		Content:      content,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         strings.Trim(resp.Header.Get("Etag"), `"`),
		CacheControl: resp.Header.Get("Cache-Control"),
		NotModified:  resp.StatusCode == http.StatusNotModified,
		Expiration:   resp.Header.Get("X-Amz-Expiration"),
	}
	if obj.NotModified {
		obj.Content = nil
		if obj.ETag == "" {
			obj.ETag = etag
		}
	}
	return obj, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, obj *Object) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), bytes.NewReader(obj.Content))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(obj.Content))
	req.Header.Set("Content-Type", obj.ContentType)
	req.Header.Set("Content-Length", strconv.Itoa(len(obj.Content)))
	req.Header.Set("Content-MD5", ContentMD5(obj.Content))
	if obj.CacheControl != "" {
		req.Header.Set("Cache-Control", obj.CacheControl)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d putting %s", resp.StatusCode, key)
	}
	return nil
}
