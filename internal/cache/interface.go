package cache

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned by a Store when no object exists for a key.
var ErrNotFound = errors.New("object not found")

// Object is a tile as kept in the object store.
type Object struct {
	Content     []byte
	ContentType string
	// ETag is unquoted.
	ETag         string
	CacheControl string
	// NotModified is set when the store answered a conditional read with
	// "not modified". Content is empty then.
	NotModified bool
	// Expiration is the raw x-amz-expiration header, if the store sent one.
	Expiration string
}

// Store is an object store keyed by WMTS path.
type Store interface {
	// Get reads key. A non-empty etag makes the read conditional.
	Get(ctx context.Context, key, etag string) (*Object, error)
	// Put creates or replaces key.
	Put(ctx context.Context, key string, obj *Object) error
}

// Digest returns the hex md5 of content, used as ETag for content without one.
func Digest(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// ContentMD5 returns the base64 md5 of content as sent in a Content-MD5 header.
func ContentMD5(content []byte) string {
	sum := md5.Sum(content)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// conditional applies If-None-Match semantics for stores without native support.
func conditional(obj *Object, etag string) *Object {
	if etag == "" || obj.ETag != etag {
		return obj
	}
	return &Object{
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		CacheControl: obj.CacheControl,
		NotModified:  true,
	}
}

func cloneObject(obj *Object) *Object {
	c := *obj
	c.Content = append([]byte(nil), obj.Content...)
	return &c
}
