package auth_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/s3lite/s3lite/internal/auth"
)

// buildChunkedBody assembles a STREAMING-AWS4-HMAC-SHA256-PAYLOAD body for
// the given plaintext chunks, returning the framed bytes and the seed
// signature the first chunk's signature chains from.
func buildChunkedBody(t *testing.T, key []byte, date, scope, seed string, chunks [][]byte) []byte {
	t.Helper()
	var body strings.Builder
	prevSig := seed

	sign := func(chunkHash string) string {
		sts := strings.Join([]string{
			"STREAMING-AWS4-HMAC-SHA256-PAYLOAD",
			date + "T000000Z",
			scope,
			prevSig,
			emptyHash(),
			chunkHash,
		}, "\n")
		h := hmac.New(sha256.New, key)
		h.Write([]byte(sts))
		return hex.EncodeToString(h.Sum(nil))
	}

	for _, c := range chunks {
		h := sha256.Sum256(c)
		chunkHash := hex.EncodeToString(h[:])
		sig := sign(chunkHash)
		prevSig = sig
		body.WriteString(strconv.FormatInt(int64(len(c)), 16))
		body.WriteString(";chunk-signature=")
		body.WriteString(sig)
		body.WriteString("\r\n")
		body.Write(c)
		body.WriteString("\r\n")
	}
	// terminal zero-length chunk
	sig := sign(emptyHash())
	body.WriteString("0;chunk-signature=")
	body.WriteString(sig)
	body.WriteString("\r\n\r\n")

	return []byte(body.String())
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return hex.EncodeToString(h[:])
}

func TestChunkedReaderDecodesValidBody(t *testing.T) {
	key := []byte("test-signing-key")
	payload := strings.Repeat("a", 9000) + strings.Repeat("b", 10)
	chunk1 := []byte(payload[:9000])
	chunk2 := []byte(payload[9000:])

	body := buildChunkedBody(t, key, "20240101", "20240101/us-east-1/s3/aws4_request", "seed-signature", [][]byte{chunk1, chunk2})

	r := auth.NewChunkedReader(strings.NewReader(string(body)), key, "20240101T000000Z", "20240101/us-east-1/s3/aws4_request", "seed-signature", int64(len(payload)))
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("decoded payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestChunkedReaderRejectsBadSignature(t *testing.T) {
	key := []byte("test-signing-key")
	chunk := []byte(strings.Repeat("x", 9000))
	body := buildChunkedBody(t, key, "20240101", "20240101/us-east-1/s3/aws4_request", "seed-signature", [][]byte{chunk})

	r := auth.NewChunkedReader(strings.NewReader(string(body)), []byte("different-key"), "20240101T000000Z", "20240101/us-east-1/s3/aws4_request", "seed-signature", int64(len(chunk)))
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected signature mismatch error")
	}
}

func TestChunkedReaderRejectsUndersizedNonFinalChunk(t *testing.T) {
	key := []byte("test-signing-key")
	chunk1 := []byte(strings.Repeat("x", 100)) // under the 8192 minimum
	chunk2 := []byte(strings.Repeat("y", 100))
	body := buildChunkedBody(t, key, "20240101", "20240101/us-east-1/s3/aws4_request", "seed-signature", [][]byte{chunk1, chunk2})

	r := auth.NewChunkedReader(strings.NewReader(string(body)), key, "20240101T000000Z", "20240101/us-east-1/s3/aws4_request", "seed-signature", 200)
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected InvalidChunkSizeError for undersized non-final chunk")
	}
}
