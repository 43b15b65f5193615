package s3err_test

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/s3lite/s3lite/internal/s3err"
)

func TestWriteEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	s3err.Write(rec, s3err.NoSuchKey("missing.txt"), "req-1")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content-type = %q, want application/xml", ct)
	}

	var parsed struct {
		XMLName   xml.Name `xml:"Error"`
		Code      string   `xml:"Code"`
		Key       string   `xml:"Key"`
		RequestID string   `xml:"RequestId"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if parsed.Code != "NoSuchKey" || parsed.Key != "missing.txt" || parsed.RequestID != "req-1" {
		t.Fatalf("unexpected body: %+v", parsed)
	}
}

func TestStatusTaxonomy(t *testing.T) {
	cases := map[string]int{
		"NoSuchBucket":          http.StatusNotFound,
		"BucketNotEmpty":        http.StatusConflict,
		"InvalidArgument":       http.StatusBadRequest,
		"SignatureDoesNotMatch": http.StatusForbidden,
		"MissingContentLength":  http.StatusLengthRequired,
		"PreconditionFailed":    http.StatusPreconditionFailed,
		"InternalError":         http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := s3err.New(code, "x").Status; got != want {
			t.Errorf("%s: status = %d, want %d", code, got, want)
		}
	}
}
