package auth_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/s3lite/s3lite/internal/auth"
)

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func testStringToSign(amzDate, scope, canonicalRequest string) string {
	return strings.Join([]string{"AWS4-HMAC-SHA256", amzDate, scope, hashHex([]byte(canonicalRequest))}, "\n")
}

func testSign(secret, date, region, service, sts string) string {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	kSigning := hmacSHA256(kService, []byte("aws4_request"))
	return hex.EncodeToString(hmacSHA256(kSigning, []byte(sts)))
}

func signedGetRequest(t *testing.T, secret string, at time.Time) *http.Request {
	t.Helper()

	date := at.Format("20060102")
	amzDate := at.Format("20060102T150405Z")
	scope := date + "/us-east-1/s3/aws4_request"

	req := httptest.NewRequest(http.MethodGet, "http://localhost:9000/my-bucket/my-key", nil)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	req.Host = "localhost:9000"

	canonicalURI := auth.CanonicalURI("", "my-bucket", "my-key")
	canonicalQuery := auth.CanonicalQueryString(url.Values{})
	canonicalHeaders, signed := auth.CanonicalHeaders(req.Header, req.Host, []string{"x-amz-content-sha256", "x-amz-date"})
	canonicalRequest := auth.BuildCanonicalRequest(req.Method, canonicalURI, canonicalQuery, canonicalHeaders, signed, "UNSIGNED-PAYLOAD")

	sts := testStringToSign(amzDate, scope, canonicalRequest)
	sig := testSign(secret, date, "us-east-1", "s3", sts)

	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=S3RVER/"+scope+
		", SignedHeaders="+joinSemi(signed)+", Signature="+sig)
	return req
}

func joinSemi(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ";"
		}
		out += p
	}
	return out
}

func TestVerifyHeaderSignature(t *testing.T) {
	registry := auth.NewRegistry()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := signedGetRequest(t, auth.DefaultSecretKey, now)

	v := &auth.Verifier{Registry: registry, Now: func() time.Time { return now }}
	result, sErr := v.Verify(req, "", "my-bucket", "my-key", auth.ResolvePayloadHash(req))
	if sErr != nil {
		t.Fatalf("Verify failed: %+v", sErr)
	}
	if result.Account.AccessKeyID != auth.DefaultAccessKeyID {
		t.Fatalf("account = %q, want %q", result.Account.AccessKeyID, auth.DefaultAccessKeyID)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	registry := auth.NewRegistry()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := signedGetRequest(t, "wrong-secret", now)

	v := &auth.Verifier{Registry: registry, Now: func() time.Time { return now }}
	_, sErr := v.Verify(req, "", "my-bucket", "my-key", auth.ResolvePayloadHash(req))
	if sErr == nil || sErr.Code != "SignatureDoesNotMatch" {
		t.Fatalf("expected SignatureDoesNotMatch, got %+v", sErr)
	}
}

func TestVerifyRejectsSkewedClock(t *testing.T) {
	registry := auth.NewRegistry()
	signedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := signedGetRequest(t, auth.DefaultSecretKey, signedAt)

	v := &auth.Verifier{Registry: registry, Now: func() time.Time { return signedAt.Add(time.Hour) }}
	_, sErr := v.Verify(req, "", "my-bucket", "my-key", auth.ResolvePayloadHash(req))
	if sErr == nil || sErr.Code != "RequestTimeTooSkewed" {
		t.Fatalf("expected RequestTimeTooSkewed, got %+v", sErr)
	}
}

func TestVerifyAllowMismatchedSignatures(t *testing.T) {
	registry := auth.NewRegistry()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := signedGetRequest(t, "wrong-secret", now)

	v := &auth.Verifier{Registry: registry, Now: func() time.Time { return now }, AllowMismatchedSignatures: true}
	if _, sErr := v.Verify(req, "", "my-bucket", "my-key", auth.ResolvePayloadHash(req)); sErr != nil {
		t.Fatalf("expected success with mismatches allowed, got %+v", sErr)
	}
}

func TestCanonicalQueryStringExcludesSignature(t *testing.T) {
	values := url.Values{"X-Amz-Signature": {"abc"}, "b": {"2"}, "a": {"1"}}
	got := auth.CanonicalQueryString(values)
	want := "a=1&b=2"
	if got != want {
		t.Fatalf("CanonicalQueryString() = %q, want %q", got, want)
	}
}

func TestCanonicalURIAlwaysPathForm(t *testing.T) {
	got := auth.CanonicalURI("", "my-bucket", "dir/file name.txt")
	want := "/my-bucket/dir/file%20name.txt"
	if got != want {
		t.Fatalf("CanonicalURI() = %q, want %q", got, want)
	}
}
