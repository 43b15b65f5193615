package auth

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"github.com/s3lite/s3lite/internal/s3err"
)

// minChunkSize is the smallest chunk size spec.md §4.2's chunked-upload
// rules allow for any chunk but the last one.
const minChunkSize = 8192

// ChunkedReader decodes an aws-chunked body signed with
// STREAMING-AWS4-HMAC-SHA256-PAYLOAD: each chunk is framed as
// "<hex-size>;chunk-signature=<hex-sig>\r\n<data>\r\n", and each chunk's
// signature is computed over a running chain seeded by the initial
// request signature, the same way each part of a multi-part upload chains
// off the previous one rather than being signed independently.
//
// Decoding happens eagerly on the first Read: the 8192-byte minimum rule
// only applies to non-final chunks, and the only reliable way to know a
// chunk is final is to have already seen the terminating zero-length
// chunk after it, so the whole frame is parsed up front rather than
// streamed chunk-by-chunk.
type ChunkedReader struct {
	src           *bufio.Reader
	key           []byte
	date          string
	scope         string
	prevSignature string
	decodedLength int64

	decoded *bytes.Reader
	err     error
}

// NewChunkedReader wraps r, verifying each chunk's signature against the
// running chain seeded by seedSignature (the Authorization/presigned
// header's own signature) and the given signing key, date (the request's
// full X-Amz-Date timestamp) and scope. It reads up to the terminating
// zero-length chunk and fails with IncompleteBody when the decoded total
// differs from decodedLength.
func NewChunkedReader(r io.Reader, key []byte, date, scope, seedSignature string, decodedLength int64) *ChunkedReader {
	return &ChunkedReader{
		src:           bufio.NewReader(r),
		key:           key,
		date:          date,
		scope:         scope,
		prevSignature: seedSignature,
		decodedLength: decodedLength,
	}
}

func (c *ChunkedReader) chunkStringToSign(chunkHash string) string {
	return strings.Join([]string{
		streamingSHA256,
		c.date,
		c.scope,
		c.prevSignature,
		hashHex(nil),
		chunkHash,
	}, "\n")
}

type frame struct {
	size int64
	sig  string
	data []byte
}

func (c *ChunkedReader) readFrame() (frame, *s3err.Error) {
	line, err := c.src.ReadString('\n')
	if err != nil {
		return frame{}, s3err.IncompleteBody()
	}
	line = strings.TrimRight(line, "\r\n")

	parts := strings.SplitN(line, ";", 2)
	sizeHex := parts[0]
	size, convErr := strconv.ParseInt(sizeHex, 16, 64)
	if convErr != nil {
		return frame{}, s3err.InvalidChunkSizeError(sizeHex, sizeHex)
	}
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "chunk-signature=") {
		return frame{}, s3err.AuthorizationHeaderMalformed("Malformed chunk header")
	}
	sig := strings.TrimPrefix(parts[1], "chunk-signature=")

	data := make([]byte, size)
	if _, err := io.ReadFull(c.src, data); err != nil {
		return frame{}, s3err.IncompleteBody()
	}
	if _, err := c.src.Discard(2); err != nil {
		return frame{}, s3err.IncompleteBody()
	}
	return frame{size: size, sig: sig, data: data}, nil
}

func (c *ChunkedReader) verify(f frame) *s3err.Error {
	chunkHash := hashHex(f.data)
	sts := c.chunkStringToSign(chunkHash)
	expected := hex.EncodeToString(hmacSHA256(c.key, []byte(sts)))
	if expected != f.sig {
		return s3err.SignatureDoesNotMatch(sts, hexBytes(sts))
	}
	c.prevSignature = f.sig
	return nil
}

func (c *ChunkedReader) decodeAll() error {
	var out bytes.Buffer
	var frames []frame
	for {
		f, sErr := c.readFrame()
		if sErr != nil {
			return sErr
		}
		frames = append(frames, f)
		if f.size == 0 {
			break
		}
	}

	for i, f := range frames {
		if f.size == 0 {
			if sErr := c.verify(f); sErr != nil {
				return sErr
			}
			continue
		}
		if f.size < minChunkSize && i != len(frames)-2 {
			// Chunk reports the 1-based ordinal of the chunk following the
			// undersized one; BadChunkSize is the undersized chunk's length.
			return s3err.InvalidChunkSizeError(strconv.Itoa(i+2), strconv.FormatInt(f.size, 10))
		}
		if sErr := c.verify(f); sErr != nil {
			return sErr
		}
		out.Write(f.data)
	}

	if int64(out.Len()) != c.decodedLength {
		return s3err.IncompleteBody()
	}
	c.decoded = bytes.NewReader(out.Bytes())
	return nil
}

// Read implements io.Reader, verifying and assembling the full decoded
// payload on the first call and then serving it like any other reader.
func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.decoded == nil {
		if err := c.decodeAll(); err != nil {
			c.err = err
			return 0, err
		}
	}
	return c.decoded.Read(p)
}
