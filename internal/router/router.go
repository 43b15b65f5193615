// Package router resolves which bucket and key a request addresses,
// handling both path-style (http://host/bucket/key) and virtual-hosted
// (http://bucket.s3.host/key or http://bucket.s3-website.host/key) URLs,
// the same rewrite gofakes3's hostBucketMiddleware does for a fixed
// virtual-host suffix, generalized here to a configurable service
// endpoint and made conditional so path-style addressing keeps working
// side by side with it.
package router

import (
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
)

// Addressing describes how a request identified its bucket.
type Addressing int

const (
	AddressingPath Addressing = iota
	AddressingVHost
	AddressingVHostWebsite
)

// Request is the resolved bucket/key/addressing-style for one HTTP request.
type Request struct {
	Bucket     string
	Key        string
	Addressing Addressing
}

// Router resolves bucket/key from a request's Host and URL.Path.
type Router struct {
	// ServiceEndpoint is the domain suffix vhost-style requests are
	// expected to end in after the "s3" label, e.g. "amazonaws.com" or
	// "localhost:9000".
	// An empty value disables vhost-style matching entirely.
	ServiceEndpoint string

	// DisableVHostBuckets mirrors the --no-vhost-buckets flag: when set,
	// every request is treated as path-style regardless of Host.
	DisableVHostBuckets bool
}

// hostPattern matches "<bucket>.s3[-website][.region].<endpoint>" hosts,
// capturing the bucket name and whether "-website" was present.
func (rt *Router) hostPattern() *regexp.Regexp {
	endpoint := regexp.QuoteMeta(rt.ServiceEndpoint)
	return regexp.MustCompile(`^(?:(.+)\.)?s3(-website)?(?:[-.][^.]+)?\.` + endpoint + `$`)
}

// Resolve splits r's Host header and URL path into a bucket, key and the
// addressing style that was used, mutating nothing on r.
func (rt *Router) Resolve(r *http.Request) Request {
	host := r.Host
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		// keep the port for endpoint comparison if the configured
		// endpoint itself carries one (e.g. "localhost:9000"); only
		// strip it when the endpoint has no port of its own.
		if !strings.Contains(rt.ServiceEndpoint, ":") {
			host = host[:idx]
		}
	}

	if !rt.DisableVHostBuckets && rt.ServiceEndpoint != "" {
		if m := rt.hostPattern().FindStringSubmatch(host); m != nil && m[1] != "" {
			addressing := AddressingVHost
			if m[2] == "-website" {
				addressing = AddressingVHostWebsite
			}
			return Request{
				Bucket:     m[1],
				Key:        strings.TrimPrefix(r.URL.Path, "/"),
				Addressing: addressing,
			}
		}

		if host != "" && host != rt.ServiceEndpoint && !isExcludedHost(host) {
			return Request{
				Bucket:     host,
				Key:        strings.TrimPrefix(r.URL.Path, "/"),
				Addressing: AddressingVHost,
			}
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		return Request{Addressing: AddressingPath}
	}
	parts := strings.SplitN(path, "/", 2)
	req := Request{Bucket: parts[0], Addressing: AddressingPath}
	if len(parts) == 2 {
		req.Key = parts[1]
	}
	return req
}

// isExcludedHost reports whether host should never be treated as a CNAME
// vhost bucket name: an IP literal, "localhost", or this machine's own
// hostname, per spec.md §4.1.
func isExcludedHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if hostname, err := os.Hostname(); err == nil && host == hostname {
		return true
	}
	return false
}

// IsSigV4Request reports whether r carries any of the markers of an
// AWS SDK-generated SigV4 request (an Authorization header using the
// AWS4-HMAC-SHA256 scheme, or the X-Amz-Credential presigned-query
// parameter), as opposed to a plain unsigned HTTP client request used to
// exercise website hosting.
func IsSigV4Request(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256") {
		return true
	}
	return r.URL.Query().Get("X-Amz-Credential") != ""
}
