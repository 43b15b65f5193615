package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/s3lite/s3lite/internal/debug"
	"github.com/s3lite/s3lite/internal/errors"
	"github.com/s3lite/s3lite/internal/s3err"
)

// Store is a filesystem-backed implementation of the object store spec.md
// §4.3 describes: one directory per bucket under Root, object content and
// metadata written with the same create-temp-then-rename sequence
// internal/backend/local.Local.Save uses so a reader never observes a
// partially written object.
type Store struct {
	Root string

	buckets *lockTable // one RWMutex per bucket name
	uploads *lockTable // one Mutex (held as RWMutex) per upload id
}

// New returns a Store rooted at dir. The directory must already exist.
func New(dir string) *Store {
	return &Store{
		Root:    dir,
		buckets: newLockTable(),
		uploads: newLockTable(),
	}
}

func (s *Store) bucketDir(bucket string) string {
	return filepath.Join(s.Root, hexSegment(bucket))
}

// hexSegment encodes one path segment as hex so that object keys
// containing "..", "/", or other filesystem-meaningful sequences can never
// escape the bucket directory or collide with the store's own sidecar
// files.
func hexSegment(s string) string {
	return hex.EncodeToString([]byte(s))
}

func keyToSegments(key string) []string {
	parts := strings.Split(key, "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = hexSegment(p)
	}
	return out
}

func (s *Store) objectDataPath(bucket, key string) string {
	segs := append([]string{s.bucketDir(bucket), "objects"}, keyToSegments(key)...)
	return filepath.Join(segs...)
}

func (s *Store) objectMetaPath(bucket, key string) string {
	segs := append([]string{s.bucketDir(bucket), "meta"}, keyToSegments(key)...)
	return filepath.Join(segs...) + ".json"
}

func (s *Store) subresourcePath(bucket string, kind SubresourceKind) string {
	return filepath.Join(s.bucketDir(bucket), "config", string(kind)+".xml")
}

func (s *Store) uploadDir(bucket, uploadID string) string {
	return filepath.Join(s.bucketDir(bucket), "uploads", hexSegment(uploadID))
}

func (s *Store) bucketMetaPath(bucket string) string {
	return filepath.Join(s.bucketDir(bucket), "bucket.json")
}

// writeAtomic writes data from r to finalPath via a
// temp file in the same directory, syncing and renaming into place —
// mirroring internal/backend/local.Local.Save exactly, minus the
// preallocate-by-size step and the final read-only chmod, neither of which
// this store's semantics need (objects here are replaced wholesale by a
// later PutObject, unlike restic's content-addressed, write-once blobs).
func writeAtomic(finalPath string, r io.Reader) (written int64, err error) {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.WithStack(err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(finalPath)+"-tmp-")
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	written, err = io.Copy(f, r)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	syncErr := f.Sync()
	syncNotSupported := syncErr != nil && errors.Is(syncErr, syscall.ENOTSUP)
	if syncErr != nil && !syncNotSupported {
		return 0, errors.WithStack(syncErr)
	}

	if err = f.Close(); err != nil {
		return 0, errors.WithStack(err)
	}
	if err = os.Rename(f.Name(), finalPath); err != nil {
		return 0, errors.WithStack(err)
	}

	if !syncNotSupported {
		if d, derr := os.Open(dir); derr == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}

	return written, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = writeAtomic(path, strings.NewReader(string(data)))
	return err
}

func readJSON(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

// CreateBucket creates a new, empty bucket.
func (s *Store) CreateBucket(_ context.Context, name string) error {
	lock := s.buckets.get(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.bucketMetaPath(name)); err == nil {
		return errors.Errorf("bucket already exists")
	}

	if err := os.MkdirAll(s.bucketDir(name), 0o755); err != nil {
		return errors.WithStack(err)
	}
	b := Bucket{Name: name, CreatedAt: time.Now().UTC()}
	debug.Log("creating bucket %q", name)
	return writeJSONAtomic(s.bucketMetaPath(name), &b)
}

// HeadBucket reports whether bucket exists, returning its metadata.
func (s *Store) HeadBucket(_ context.Context, name string) (Bucket, error) {
	lock := s.buckets.get(name)
	lock.RLock()
	defer lock.RUnlock()

	var b Bucket
	if err := readJSON(s.bucketMetaPath(name), &b); err != nil {
		if os.IsNotExist(err) {
			return Bucket{}, s3err.NoSuchBucket(name)
		}
		return Bucket{}, errors.WithStack(err)
	}
	return b, nil
}

// ListBuckets returns every bucket the store holds, sorted by name.
func (s *Store) ListBuckets(_ context.Context) ([]Bucket, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	var out []Bucket
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nameBytes, decErr := hex.DecodeString(e.Name())
		if decErr != nil {
			continue
		}
		var b Bucket
		if err := readJSON(s.bucketMetaPath(string(nameBytes)), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// DeleteBucket removes an empty bucket.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	lock := s.buckets.get(name)
	lock.Lock()
	defer lock.Unlock()

	objs, err := s.listObjectKeysLocked(name, "", "")
	if err != nil {
		return err
	}
	if len(objs) > 0 {
		return s3err.BucketNotEmpty()
	}
	if err := os.RemoveAll(s.bucketDir(name)); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// PutObject stores obj's content (read from r) and metadata, replacing any
// previous version at the same key.
func (s *Store) PutObject(_ context.Context, bucket string, obj *Object, r io.Reader) error {
	lock := s.buckets.get(bucket)
	lock.Lock()
	defer lock.Unlock()

	hasher := md5.New()
	written, err := writeAtomic(s.objectDataPath(bucket, obj.Key), io.TeeReader(r, hasher))
	if err != nil {
		return err
	}

	obj.Bucket = bucket
	obj.Size = written
	if obj.ETag == "" {
		obj.ETag = hex.EncodeToString(hasher.Sum(nil))
	}
	obj.LastModified = time.Now().UTC()

	return writeJSONAtomic(s.objectMetaPath(bucket, obj.Key), obj)
}

// GetObject returns an object's metadata and a reader over its content.
// Callers must Close the returned reader.
func (s *Store) GetObject(_ context.Context, bucket, key string) (*Object, io.ReadCloser, error) {
	var obj Object
	if err := readJSON(s.objectMetaPath(bucket, key), &obj); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, s3err.NoSuchKey(key)
		}
		return nil, nil, errors.WithStack(err)
	}

	f, err := os.Open(s.objectDataPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, s3err.NoSuchKey(key)
		}
		return nil, nil, errors.WithStack(err)
	}
	return &obj, f, nil
}

// HeadObject returns an object's metadata without its content.
func (s *Store) HeadObject(_ context.Context, bucket, key string) (*Object, error) {
	var obj Object
	if err := readJSON(s.objectMetaPath(bucket, key), &obj); err != nil {
		if os.IsNotExist(err) {
			return nil, s3err.NoSuchKey(key)
		}
		return nil, errors.WithStack(err)
	}
	return &obj, nil
}

// DeleteObject removes an object. Deleting a key that does not exist is
// not an error, matching S3's DeleteObject semantics.
func (s *Store) DeleteObject(_ context.Context, bucket, key string) error {
	lock := s.buckets.get(bucket)
	lock.Lock()
	defer lock.Unlock()

	_ = os.Remove(s.objectDataPath(bucket, key))
	_ = os.Remove(s.objectMetaPath(bucket, key))
	return nil
}
