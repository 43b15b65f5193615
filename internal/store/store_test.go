package store_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/s3lite/s3lite/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(t.TempDir())
}

func TestCreateAndHeadBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateBucket(ctx, "my-bucket"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	b, err := s.HeadBucket(ctx, "my-bucket")
	if err != nil {
		t.Fatalf("HeadBucket: %v", err)
	}
	if b.Name != "my-bucket" {
		t.Fatalf("Name = %q, want my-bucket", b.Name)
	}
}

func TestHeadBucketMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.HeadBucket(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestPutAndGetObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")

	obj := &store.Object{Key: "dir/file.txt", ContentType: "text/plain"}
	if err := s.PutObject(ctx, "b", obj, bytes.NewReader([]byte("hello world"))); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if obj.Size != 11 {
		t.Fatalf("Size = %d, want 11", obj.Size)
	}

	got, rc, err := s.GetObject(ctx, "b", "dir/file.txt")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content = %q", data)
	}
	if got.ETag != obj.ETag {
		t.Fatalf("ETag mismatch: %q vs %q", got.ETag, obj.ETag)
	}
}

func TestGetObjectMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")
	if _, _, err := s.GetObject(ctx, "b", "nope"); err == nil {
		t.Fatal("expected NoSuchKey")
	}
}

func TestDeleteObjectIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")
	_ = s.PutObject(ctx, "b", &store.Object{Key: "k"}, bytes.NewReader(nil))

	if err := s.DeleteObject(ctx, "b", "k"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteObject(ctx, "b", "k"); err != nil {
		t.Fatalf("second delete on already-missing key should not error: %v", err)
	}
}

func TestDeleteBucketRequiresEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")
	_ = s.PutObject(ctx, "b", &store.Object{Key: "k"}, bytes.NewReader(nil))

	if err := s.DeleteBucket(ctx, "b"); err == nil {
		t.Fatal("expected BucketNotEmpty")
	}
	_ = s.DeleteObject(ctx, "b", "k")
	if err := s.DeleteBucket(ctx, "b"); err != nil {
		t.Fatalf("DeleteBucket on empty bucket: %v", err)
	}
}

func TestListObjectsV1WithDelimiter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")
	for _, k := range []string{"a/1.txt", "a/2.txt", "b.txt", "c/1.txt"} {
		_ = s.PutObject(ctx, "b", &store.Object{Key: k}, bytes.NewReader(nil))
	}

	res, err := s.ListObjectsV1(ctx, "b", "", "", "/", 100)
	if err != nil {
		t.Fatalf("ListObjectsV1: %v", err)
	}
	if len(res.Objects) != 1 || res.Objects[0].Key != "b.txt" {
		t.Fatalf("Objects = %+v, want just b.txt", res.Objects)
	}
	wantPrefixes := []string{"a/", "c/"}
	if !cmp.Equal(res.CommonPrefixes, wantPrefixes) {
		t.Fatalf("CommonPrefixes mismatch: %v", cmp.Diff(wantPrefixes, res.CommonPrefixes))
	}
}

func TestListObjectsV1Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")
	for i := 0; i < 5; i++ {
		_ = s.PutObject(ctx, "b", &store.Object{Key: string(rune('a' + i))}, bytes.NewReader(nil))
	}

	first, err := s.ListObjectsV1(ctx, "b", "", "", "", 2)
	if err != nil {
		t.Fatalf("ListObjectsV1: %v", err)
	}
	if !first.IsTruncated || len(first.Objects) != 2 {
		t.Fatalf("first page = %+v", first)
	}

	second, err := s.ListObjectsV1(ctx, "b", "", first.Objects[len(first.Objects)-1].Key, "", 2)
	if err != nil {
		t.Fatalf("ListObjectsV1 page 2: %v", err)
	}
	if len(second.Objects) != 2 {
		t.Fatalf("second page = %+v", second)
	}
	if second.Objects[0].Key == first.Objects[0].Key {
		t.Fatal("pagination returned overlapping keys")
	}
}

func TestMultipartUploadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")

	id, err := s.CreateMultipartUpload(ctx, &store.Upload{Bucket: "b", Key: "big.bin", ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}

	part1 := bytes.Repeat([]byte("x"), 5<<20)
	part2 := []byte("tail")

	p1, err := s.UploadPart(ctx, "b", id, 1, bytes.NewReader(part1))
	if err != nil {
		t.Fatalf("UploadPart 1: %v", err)
	}
	p2, err := s.UploadPart(ctx, "b", id, 2, bytes.NewReader(part2))
	if err != nil {
		t.Fatalf("UploadPart 2: %v", err)
	}

	obj, err := s.CompleteMultipartUpload(ctx, "b", &store.Upload{Bucket: "b", Key: "big.bin", UploadID: id, ContentType: "application/octet-stream"}, []store.CompletePart{
		{PartNumber: 1, ETag: p1.ETag},
		{PartNumber: 2, ETag: p2.ETag},
	})
	if err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}
	if obj.Size != int64(len(part1)+len(part2)) {
		t.Fatalf("Size = %d, want %d", obj.Size, len(part1)+len(part2))
	}

	_, rc, err := s.GetObject(ctx, "b", "big.bin")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, append(part1, part2...)) {
		t.Fatal("assembled object content mismatch")
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")

	id, err := s.CreateMultipartUpload(ctx, &store.Upload{Bucket: "b", Key: "k"})
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	if err := s.AbortMultipartUpload(ctx, "b", id); err != nil {
		t.Fatalf("AbortMultipartUpload: %v", err)
	}
	if err := s.AbortMultipartUpload(ctx, "b", id); err == nil {
		t.Fatal("expected NoSuchUpload on double abort")
	}
}

func TestSubresourceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateBucket(ctx, "b")

	xmlDoc := []byte(`<CORSConfiguration></CORSConfiguration>`)
	if err := s.PutSubresource(ctx, "b", store.SubresourceCORS, xmlDoc); err != nil {
		t.Fatalf("PutSubresource: %v", err)
	}
	got, err := s.GetSubresource(ctx, "b", store.SubresourceCORS)
	if err != nil {
		t.Fatalf("GetSubresource: %v", err)
	}
	if !bytes.Equal(got, xmlDoc) {
		t.Fatalf("got %q, want %q", got, xmlDoc)
	}

	if err := s.DeleteSubresource(ctx, "b", store.SubresourceCORS); err != nil {
		t.Fatalf("DeleteSubresource: %v", err)
	}
	if _, err := s.GetSubresource(ctx, "b", store.SubresourceCORS); err == nil {
		t.Fatal("expected NoSuchCORSConfiguration after delete")
	}
}
