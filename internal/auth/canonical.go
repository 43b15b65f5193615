package auth

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~"

// uriEncode implements the percent-encoding SigV4 requires (RFC 3986
// unreserved characters pass through untouched, everything else becomes
// %XX in upper case), which differs just enough from url.QueryEscape
// (space -> '+', no '~' passthrough) that AWS clients and this verifier
// must agree on a dedicated encoder.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch {
		case strings.IndexByte(unreserved, c) >= 0:
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteString("%")
			const hex = "0123456789ABCDEF"
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xF])
		}
	}
	return b.String()
}

// CanonicalURI builds the canonical URI for a request against bucket/key,
// mounted under prefix. Per spec.md §9's explicit instruction, this is
// always reconstructed as "/{bucket}/{key}" regardless of how the client
// originally addressed the bucket (path-style or vhost-style) — the
// rewriting from vhost form happens upstream in internal/router, and by
// the time a request reaches here bucket/key are already known.
func CanonicalURI(prefix, bucket, key string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(prefix, "/"))
	if bucket == "" {
		if b.Len() == 0 {
			return "/"
		}
		return b.String()
	}
	b.WriteString("/")
	b.WriteString(uriEncode(bucket, true))
	if key != "" {
		for _, seg := range strings.Split(key, "/") {
			b.WriteString("/")
			b.WriteString(uriEncode(seg, true))
		}
	}
	return b.String()
}

// CanonicalQueryString returns all query parameters except X-Amz-Signature,
// URI-encoded with "=" always present, sorted by name then value.
func CanonicalQueryString(values url.Values) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range values {
		if k == "X-Amz-Signature" {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{uriEncode(k, true), uriEncode(v, true)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

// trimAndCollapse trims surrounding whitespace and collapses internal runs
// of whitespace to a single space, as spec.md §4.2 requires for canonical
// header values.
func trimAndCollapse(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// CanonicalHeaders builds the canonical-headers block (each "name:value\n",
// sorted by name) and the matching SignedHeaders list, for every header in
// signedHeaders plus any x-amz-* header and host — spec.md §4.2 requires
// signing "all x-amz-* headers plus host, and any other header included in
// SignedHeaders".
func CanonicalHeaders(headers http.Header, host string, signedHeaders []string) (canonical string, signed []string) {
	names := map[string]bool{"host": true}
	for k := range headers {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-amz-") {
			names[lk] = true
		}
	}
	for _, h := range signedHeaders {
		names[strings.ToLower(h)] = true
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, n := range sorted {
		var value string
		if n == "host" {
			value = host
		} else {
			value = strings.Join(headers.Values(n), ",")
		}
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(trimAndCollapse(value))
		b.WriteByte('\n')
	}
	return b.String(), sorted
}

// BuildCanonicalRequest assembles the six-part canonical request spec.md
// §4.2 defines: method, canonical URI, canonical query string, canonical
// headers (each terminated with \n), signed-headers list, and payload hash.
func BuildCanonicalRequest(method, canonicalURI, canonicalQuery, canonicalHeaders string, signedHeaders []string, payloadHash string) string {
	return strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")
}
