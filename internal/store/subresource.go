package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/s3lite/s3lite/internal/errors"
	"github.com/s3lite/s3lite/internal/s3err"
)

// subresourceCacheSize bounds how many raw bucket-configuration
// documents (CORS, website, tagging, ACL) are kept hot; a deployment with
// more concurrently active buckets than this just pays a re-read cost,
// the same tradeoff restic's blob cache makes for pack metadata.
const subresourceCacheSize = 256

type subresourceCacheKey struct {
	bucket string
	kind   SubresourceKind
}

// subresourceCache avoids re-reading a bucket's CORS or website XML file on
// every single request; it holds the raw bytes, which callers still parse
// on each use. Those documents change rarely but
// are consulted on almost every request to the bucket (CORS on every
// cross-origin call, website config on every GET once hosting is on).
var subresourceCache, _ = lru.New[subresourceCacheKey, []byte](subresourceCacheSize)

// PutSubresource writes raw XML configuration for bucket, invalidating any
// cached copy.
func (s *Store) PutSubresource(_ context.Context, bucket string, kind SubresourceKind, data []byte) error {
	if err := writeAtomicBytes(s.subresourcePath(bucket, kind), data); err != nil {
		return err
	}
	subresourceCache.Add(subresourceCacheKey{bucket, kind}, data)
	return nil
}

// GetSubresource returns the raw XML configuration previously stored for
// bucket, or the matching NoSuch*Configuration error if none was set.
func (s *Store) GetSubresource(_ context.Context, bucket string, kind SubresourceKind) ([]byte, error) {
	key := subresourceCacheKey{bucket, kind}
	if data, ok := subresourceCache.Get(key); ok {
		return data, nil
	}

	data, err := os.ReadFile(s.subresourcePath(bucket, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, subresourceNotFound(kind)
		}
		return nil, errors.WithStack(err)
	}
	subresourceCache.Add(key, data)
	return data, nil
}

// DeleteSubresource removes a bucket's configuration document, if any.
func (s *Store) DeleteSubresource(_ context.Context, bucket string, kind SubresourceKind) error {
	subresourceCache.Remove(subresourceCacheKey{bucket, kind})
	if err := os.Remove(s.subresourcePath(bucket, kind)); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

func subresourceNotFound(kind SubresourceKind) error {
	switch kind {
	case SubresourceCORS:
		return s3err.NoSuchCORSConfiguration()
	case SubresourceWebsite:
		return s3err.NoSuchWebsiteConfiguration()
	case SubresourceTagging:
		return s3err.NoSuchTagSet()
	default:
		return s3err.New("NoSuchConfiguration", "The specified configuration does not exist")
	}
}

func writeAtomicBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	_, err := writeAtomic(path, bytes.NewReader(data))
	return err
}
