package store

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/s3lite/s3lite/internal/errors"
	"github.com/s3lite/s3lite/internal/s3err"
)

func newUploadID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) uploadMetaPath(bucket, uploadID string) string {
	return filepath.Join(s.uploadDir(bucket, uploadID), "meta.json")
}

func (s *Store) partDataPath(bucket, uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(bucket, uploadID), "parts", fmt.Sprintf("%05d.data", partNumber))
}

func (s *Store) partMetaPath(bucket, uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(bucket, uploadID), "parts", fmt.Sprintf("%05d.json", partNumber))
}

// CreateMultipartUpload starts a new upload and returns its id.
func (s *Store) CreateMultipartUpload(_ context.Context, u *Upload) (string, error) {
	id, err := newUploadID()
	if err != nil {
		return "", err
	}
	u.UploadID = id
	u.Initiated = time.Now().UTC()

	if err := os.MkdirAll(filepath.Join(s.uploadDir(u.Bucket, id), "parts"), 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	if err := writeJSONAtomic(s.uploadMetaPath(u.Bucket, id), u); err != nil {
		return "", err
	}
	return id, nil
}

// UploadPart stores part data for an in-progress upload and returns its ETag.
func (s *Store) UploadPart(_ context.Context, bucket, uploadID string, partNumber int, r io.Reader) (*Part, error) {
	lock := s.uploads.get(bucket + "/" + uploadID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.uploadMetaPath(bucket, uploadID)); err != nil {
		return nil, s3err.NoSuchUpload(uploadID)
	}

	hasher := md5.New()
	written, err := writeAtomic(s.partDataPath(bucket, uploadID, partNumber), io.TeeReader(r, hasher))
	if err != nil {
		return nil, err
	}

	p := &Part{
		PartNumber:   partNumber,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		Size:         written,
		LastModified: time.Now().UTC(),
	}
	if err := writeJSONAtomic(s.partMetaPath(bucket, uploadID, partNumber), p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadUpload reads back the metadata recorded at CreateMultipartUpload time,
// so a later CompleteMultipartUpload call can recover the ContentType and
// user metadata the client no longer repeats in its request.
func (s *Store) LoadUpload(_ context.Context, bucket, uploadID string) (*Upload, error) {
	var u Upload
	if err := readJSON(s.uploadMetaPath(bucket, uploadID), &u); err != nil {
		if os.IsNotExist(err) {
			return nil, s3err.NoSuchUpload(uploadID)
		}
		return nil, err
	}
	return &u, nil
}

// ListParts returns every part uploaded so far, ordered by part number.
func (s *Store) ListParts(_ context.Context, bucket, uploadID string) ([]Part, error) {
	dir := filepath.Join(s.uploadDir(bucket, uploadID), "parts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, s3err.NoSuchUpload(uploadID)
		}
		return nil, errors.WithStack(err)
	}

	var parts []Part
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var p Part
		if err := readJSON(filepath.Join(dir, e.Name()), &p); err != nil {
			continue
		}
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// CompletePart identifies one part the client listed in a
// CompleteMultipartUpload request, by number and the ETag the client
// believes that part has.
type CompletePart struct {
	PartNumber int
	ETag       string
}

// CompleteMultipartUpload assembles the named parts, in order, into a
// single object, computing S3's composite multipart ETag
// (md5-of-concatenated-part-md5s, suffixed with the part count) the way
// every S3-compatible implementation does, then removes the upload's
// working directory.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket string, u *Upload, wanted []CompletePart) (*Object, error) {
	stored, err := s.ListParts(ctx, bucket, u.UploadID)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]Part, len(stored))
	for _, p := range stored {
		byNumber[p.PartNumber] = p
	}

	prevNumber := 0
	var concatMD5 []byte
	var totalSize int64
	for _, w := range wanted {
		if w.PartNumber <= prevNumber {
			return nil, s3err.InvalidPartOrder()
		}
		prevNumber = w.PartNumber

		p, ok := byNumber[w.PartNumber]
		if !ok || `"`+p.ETag+`"` != w.ETag && p.ETag != w.ETag {
			return nil, s3err.InvalidPart()
		}
		if p.Size < 5<<20 && w.PartNumber != wanted[len(wanted)-1].PartNumber {
			return nil, s3err.EntityTooSmall()
		}
		raw, decErr := hex.DecodeString(p.ETag)
		if decErr != nil {
			return nil, s3err.InvalidPart()
		}
		concatMD5 = append(concatMD5, raw...)
		totalSize += p.Size
	}

	finalPath := s.objectDataPath(bucket, u.Key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	out, err := os.CreateTemp(filepath.Dir(finalPath), filepath.Base(finalPath)+"-tmp-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, w := range wanted {
		data, openErr := os.Open(s.partDataPath(bucket, u.UploadID, w.PartNumber))
		if openErr != nil {
			_ = out.Close()
			_ = os.Remove(out.Name())
			return nil, errors.WithStack(openErr)
		}
		_, copyErr := io.Copy(out, data)
		_ = data.Close()
		if copyErr != nil {
			_ = out.Close()
			_ = os.Remove(out.Name())
			return nil, errors.WithStack(copyErr)
		}
	}
	if err := out.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := os.Rename(out.Name(), finalPath); err != nil {
		return nil, errors.WithStack(err)
	}

	sum := md5.Sum(concatMD5)
	obj := &Object{
		Bucket:       bucket,
		Key:          u.Key,
		Size:         totalSize,
		ETag:         hex.EncodeToString(sum[:]) + "-" + itoa(len(wanted)),
		ContentType:  u.ContentType,
		UserMetadata: u.UserMetadata,
		LastModified: time.Now().UTC(),
	}
	if err := writeJSONAtomic(s.objectMetaPath(bucket, u.Key), obj); err != nil {
		return nil, err
	}

	_ = os.RemoveAll(s.uploadDir(bucket, u.UploadID))
	return obj, nil
}

// AbortMultipartUpload discards an in-progress upload and its parts.
func (s *Store) AbortMultipartUpload(_ context.Context, bucket, uploadID string) error {
	lock := s.uploads.get(bucket + "/" + uploadID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.uploadMetaPath(bucket, uploadID)); err != nil {
		return s3err.NoSuchUpload(uploadID)
	}
	return os.RemoveAll(s.uploadDir(bucket, uploadID))
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
