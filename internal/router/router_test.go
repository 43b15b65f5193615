package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/s3lite/s3lite/internal/router"
)

func TestResolvePathStyle(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "localhost:9000"}
	req := httptest.NewRequest(http.MethodGet, "http://localhost:9000/my-bucket/my/key.txt", nil)

	got := rt.Resolve(req)
	if got.Bucket != "my-bucket" || got.Key != "my/key.txt" || got.Addressing != router.AddressingPath {
		t.Fatalf("Resolve() = %+v", got)
	}
}

func TestResolveVHostStyle(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "localhost:9000"}
	req := httptest.NewRequest(http.MethodGet, "http://my-bucket.s3.localhost:9000/my/key.txt", nil)
	req.Host = "my-bucket.s3.localhost:9000"

	got := rt.Resolve(req)
	if got.Bucket != "my-bucket" || got.Key != "my/key.txt" || got.Addressing != router.AddressingVHost {
		t.Fatalf("Resolve() = %+v", got)
	}
}

func TestResolveVHostWebsiteStyle(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "localhost:9000"}
	req := httptest.NewRequest(http.MethodGet, "http://my-bucket.s3-website.localhost:9000/index.html", nil)
	req.Host = "my-bucket.s3-website.localhost:9000"

	got := rt.Resolve(req)
	if got.Addressing != router.AddressingVHostWebsite {
		t.Fatalf("Addressing = %v, want AddressingVHostWebsite", got.Addressing)
	}
}

func TestResolveDisabledVHost(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "localhost:9000", DisableVHostBuckets: true}
	req := httptest.NewRequest(http.MethodGet, "http://my-bucket.s3.localhost:9000/key", nil)
	req.Host = "my-bucket.s3.localhost:9000"

	got := rt.Resolve(req)
	if got.Addressing != router.AddressingPath {
		t.Fatalf("expected path-style fallback when vhost disabled, got %+v", got)
	}
}

func TestResolveCNAMEBucket(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "amazonaws.com"}
	req := httptest.NewRequest(http.MethodGet, "http://images.example.com/key.txt", nil)
	req.Host = "images.example.com"

	got := rt.Resolve(req)
	if got.Bucket != "images.example.com" || got.Key != "key.txt" || got.Addressing != router.AddressingVHost {
		t.Fatalf("Resolve() = %+v", got)
	}
}

func TestResolveCNAMEExcludesLocalhostAndIP(t *testing.T) {
	rt := &router.Router{ServiceEndpoint: "amazonaws.com"}

	for _, host := range []string{"localhost", "127.0.0.1"} {
		req := httptest.NewRequest(http.MethodGet, "http://"+host+"/my-bucket/key.txt", nil)
		req.Host = host

		got := rt.Resolve(req)
		if got.Addressing != router.AddressingPath || got.Bucket != "my-bucket" {
			t.Fatalf("Resolve() for host %q = %+v, want path-style fallback", host, got)
		}
	}
}

func TestIsSigV4Request(t *testing.T) {
	signed := httptest.NewRequest(http.MethodGet, "http://localhost/b/k", nil)
	signed.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=x")
	if !router.IsSigV4Request(signed) {
		t.Fatal("expected signed request to be detected")
	}

	plain := httptest.NewRequest(http.MethodGet, "http://localhost/b/k", nil)
	if router.IsSigV4Request(plain) {
		t.Fatal("expected unsigned request not to be detected as SigV4")
	}
}
