package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "1.0.0/ch.swisstopo.pixelkarte-farbe/default/current/2056/17/4/7.png"

func testObject() *Object {
	content := []byte("\x89PNG fake tile")
	return &Object{
		Content:      content,
		ContentType:  "image/png",
		ETag:         Digest(content),
		CacheControl: "public, max-age=1800",
	}
}

// storeContract checks the behavior every Store shares.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, testKey, "")
	assert.ErrorIs(t, err, ErrNotFound)

	obj := testObject()
	require.NoError(t, store.Put(ctx, testKey, obj))

	got, err := store.Get(ctx, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, obj.Content, got.Content)
	assert.Equal(t, obj.ContentType, got.ContentType)
	assert.Equal(t, obj.ETag, got.ETag)
	assert.Equal(t, obj.CacheControl, got.CacheControl)
	assert.False(t, got.NotModified)

	got, err = store.Get(ctx, testKey, obj.ETag)
	require.NoError(t, err)
	assert.True(t, got.NotModified)
	assert.Empty(t, got.Content)

	got, err = store.Get(ctx, testKey, "other")
	require.NoError(t, err)
	assert.False(t, got.NotModified)

	replaced := &Object{Content: []byte("jpeg"), ContentType: "image/jpeg", ETag: Digest([]byte("jpeg"))}
	require.NoError(t, store.Put(ctx, testKey, replaced))
	got, err = store.Get(ctx, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got.Content)
	assert.Equal(t, "image/jpeg", got.ContentType)
}

func newMemoryStore(t *testing.T, maxTiles int) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(maxTiles)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, newMemoryStore(t, 10))
}

func TestMemoryStoreIsBounded(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, 10)

	for i := 0; i < 200; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("tile/%d.png", i), testObject()))
	}

	kept := 0
	for i := 0; i < 200; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("tile/%d.png", i), ""); err == nil {
			kept++
		}
	}
	assert.LessOrEqual(t, kept, 10)
	assert.Positive(t, kept)
}

func TestMemoryStoreCopiesContent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, 1)
	obj := testObject()
	require.NoError(t, store.Put(ctx, testKey, obj))

	obj.Content[0] = 'X'
	got, err := store.Get(ctx, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), got.Content[0])

	got.Content[0] = 'Y'
	again, err := store.Get(ctx, testKey, "")
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), again.Content[0])
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, store)
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.buildFilePath("../../etc/passwd")
	assert.NoError(t, err, "cleaned below the cache dir")

	_, err = store.buildFilePath("")
	assert.Error(t, err)
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	store := NewNoopStore()
	require.NoError(t, store.Put(ctx, testKey, testObject()))
	_, err := store.Get(ctx, testKey, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store)
	assert.True(t, mr.Exists("tile:"+testKey))
}

func TestRedisStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr(), TTL: 60e9})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), testKey, testObject()))
	mr.FastForward(61e9)

	_, err = store.Get(context.Background(), testKey, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestMemcacheStoreRequiresServers(t *testing.T) {
	_, err := NewMemcacheStore(0)
	assert.Error(t, err)

	store, err := NewMemcacheStore(0, "127.0.0.1:11211")
	require.NoError(t, err)
	key := store.keyFor(testKey)
	assert.True(t, strings.HasPrefix(key, "tile:"))
	assert.Len(t, key, len("tile:")+32)
}

// fakeBucket is an S3-like HTTP endpoint.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]*Object
	headers map[string]http.Header
	status  int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]*Object{}, headers: map[string]http.Header{}}
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != 0 {
		w.WriteHeader(b.status)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-MD5") != ContentMD5(body) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.headers[key] = r.Header.Clone()
		b.objects[key] = &Object{
			Content:      body,
			ContentType:  r.Header.Get("Content-Type"),
			ETag:         Digest(body),
			CacheControl: r.Header.Get("Cache-Control"),
		}
	case http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			// buckets without list permission answer 403
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Etag", `"`+obj.ETag+`"`)
		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("Cache-Control", obj.CacheControl)
		w.Header().Set("X-Amz-Expiration", `expiry-date="Fri, 23 Dec 2012 00:00:00 GMT", rule-id="picture"`)
		if r.Header.Get("If-None-Match") == `"`+obj.ETag+`"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write(obj.Content)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestHTTPStore(t *testing.T) {
	bucket := newFakeBucket()
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	store := NewHTTPStore(srv.URL+"/", 0)
	storeContract(t, store)

	h := bucket.headers[testKey]
	require.NotNil(t, h)
	assert.Equal(t, "image/jpeg", h.Get("Content-Type"))
	assert.Equal(t, ContentMD5([]byte("jpeg")), h.Get("Content-MD5"))
}

func TestHTTPStoreReadsExpiration(t *testing.T) {
	bucket := newFakeBucket()
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	store := NewHTTPStore(srv.URL, 0)
	require.NoError(t, store.Put(context.Background(), testKey, testObject()))

	got, err := store.Get(context.Background(), testKey, "")
	require.NoError(t, err)
	assert.Contains(t, got.Expiration, "23 Dec 2012")
}

func TestHTTPStoreErrors(t *testing.T) {
	bucket := newFakeBucket()
	srv := httptest.NewServer(bucket)
	defer srv.Close()
	store := NewHTTPStore(srv.URL, 0)

	bucket.status = http.StatusNotFound
	_, err := store.Get(context.Background(), testKey, "")
	assert.ErrorIs(t, err, ErrNotFound)

	bucket.status = http.StatusInternalServerError
	_, err = store.Get(context.Background(), testKey, "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = store.Put(context.Background(), testKey, testObject())
	assert.Error(t, err)
}

func TestBucketURL(t *testing.T) {
	assert.Equal(t, "http://tiles.s3-eu-west-1.amazonaws.com", BucketURL("tiles", "eu-west-1", ""))
	assert.Equal(t, "http://localhost:9000/tiles", BucketURL("tiles", "eu-west-1", "http://localhost:9000/tiles"))
}

// fakeS3 implements the two S3 calls the store makes.
type fakeS3 struct {
	s3iface.S3API
	objects map[string]*awss3.PutObjectInput
	bodies  map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*awss3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *awss3.PutObjectInput, _ ...request.Option) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if aws.StringValue(in.ContentMD5) != ContentMD5(body) {
		return nil, awserr.NewRequestFailure(awserr.New("BadDigest", "bad digest", nil), http.StatusBadRequest, "req")
	}
	key := aws.StringValue(in.Key)
	f.objects[key] = in
	f.bodies[key] = body
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *awss3.GetObjectInput, _ ...request.Option) (*awss3.GetObjectOutput, error) {
	key := aws.StringValue(in.Key)
	put, ok := f.objects[key]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New(awss3.ErrCodeNoSuchKey, "no such key", nil), http.StatusNotFound, "req")
	}
	etag := `"` + Digest(f.bodies[key]) + `"`
	if aws.StringValue(in.IfNoneMatch) == etag {
		return nil, awserr.NewRequestFailure(awserr.New("NotModified", "not modified", nil), http.StatusNotModified, "req")
	}
	return &awss3.GetObjectOutput{
		Body:         io.NopCloser(strings.NewReader(string(f.bodies[key]))),
		ContentType:  put.ContentType,
		CacheControl: put.CacheControl,
		ETag:         aws.String(etag),
	}, nil
}

func TestS3Store(t *testing.T) {
	storeContract(t, newS3StoreWithClient(newFakeS3(), "tiles"))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(S3Options{})
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	log := zap.NewNop()

	for _, backend := range []string{BackendHTTP, BackendFile, BackendMemory, BackendDisabled} {
		store, err := NewStore(StoreConfig{
			Backend:     backend,
			BucketName:  "tiles",
			Region:      "eu-west-1",
			FileDir:     t.TempDir(),
			MemoryTiles: 10,
		}, log)
		require.NoError(t, err, backend)
		assert.NotNil(t, store, backend)
	}

	_, err := NewStore(StoreConfig{Backend: "gcs"}, log)
	assert.EqualError(t, err, "unknown cache backend: gcs (supported: http, s3, redis, memcache, file, memory, disabled)")
}
