// Package cors implements S3 bucket CORS configuration: parsing the
// <CORSConfiguration> XML document and evaluating preflight (OPTIONS) and
// simple cross-origin requests against it.
package cors

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"

	"github.com/s3lite/s3lite/internal/s3err"
)

// Rule is one <CORSRule> entry.
type Rule struct {
	AllowedOrigins []string `xml:"AllowedOrigin"`
	AllowedMethods []string `xml:"AllowedMethod"`
	AllowedHeaders []string `xml:"AllowedHeader"`
	ExposeHeaders  []string `xml:"ExposeHeader"`
	MaxAgeSeconds  int      `xml:"MaxAgeSeconds,omitempty"`
}

// Config is a bucket's full CORS configuration document.
type Config struct {
	XMLName xml.Name `xml:"CORSConfiguration"`
	Rules   []Rule   `xml:"CORSRule"`
}

// Parse decodes a <CORSConfiguration> document, validating that every rule
// names at least one origin and one method.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, s3err.MalformedXML(err.Error())
	}
	for _, rule := range cfg.Rules {
		if len(rule.AllowedOrigins) == 0 {
			return nil, s3err.MalformedXML("a CORSRule must specify at least one AllowedOrigin")
		}
		if len(rule.AllowedMethods) == 0 {
			return nil, s3err.MalformedXML("a CORSRule must specify at least one AllowedMethod")
		}
		for _, origin := range rule.AllowedOrigins {
			if strings.Count(origin, "*") > 1 {
				return nil, s3err.InvalidRequest(origin + " can not have more than one wildcard.")
			}
		}
		for _, m := range rule.AllowedMethods {
			switch m {
			case http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodHead:
			default:
				return nil, s3err.InvalidRequest("Found unsupported HTTP method in CORS config: " + m)
			}
		}
	}
	return &cfg, nil
}

// originMatches reports whether pattern (which may contain '*' wildcards,
// as S3 CORS AllowedOrigin entries do, e.g. "http://*.example.com") matches
// origin.
func originMatches(pattern, origin string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(pattern, origin)
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		found := strings.Index(strings.ToLower(origin[idx:]), strings.ToLower(part))
		if found < 0 {
			return false
		}
		if i == 0 && found != 0 {
			return false
		}
		idx += found + len(part)
	}
	last := parts[len(parts)-1]
	return last == "" || strings.HasSuffix(strings.ToLower(origin), strings.ToLower(last))
}

func headerAllowed(rule Rule, header string) bool {
	for _, h := range rule.AllowedHeaders {
		if h == "*" || strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

// MatchRule returns the first rule in cfg whose AllowedOrigin covers
// origin and whose AllowedMethod covers method, or nil if no rule applies.
func (cfg *Config) MatchRule(origin, method string) *Rule {
	if cfg == nil {
		return nil
	}
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		originOK := false
		for _, o := range rule.AllowedOrigins {
			if originMatches(o, origin) {
				originOK = true
				break
			}
		}
		if !originOK {
			continue
		}
		for _, m := range rule.AllowedMethods {
			if strings.EqualFold(m, method) {
				return rule
			}
		}
	}
	return nil
}

// WriteSimpleHeaders sets the Access-Control-* response headers for a
// simple (non-preflight) cross-origin request matched by rule.
func WriteSimpleHeaders(w http.ResponseWriter, rule *Rule, origin string) {
	if rule == nil {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", originHeaderValue(rule, origin))
	if len(rule.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(rule.ExposeHeaders, ", "))
	}
	h.Add("Vary", "Origin")
}

// WritePreflightHeaders sets the Access-Control-* response headers
// answering an OPTIONS preflight request, after the caller has already
// confirmed requestedMethod and every entry in requestedHeaders is allowed
// by rule.
func WritePreflightHeaders(w http.ResponseWriter, rule *Rule, origin, requestedMethod string, requestedHeaders []string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", originHeaderValue(rule, origin))
	h.Set("Access-Control-Allow-Methods", requestedMethod)
	if len(requestedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(requestedHeaders, ", "))
	}
	if rule.MaxAgeSeconds > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(rule.MaxAgeSeconds))
	}
	h.Add("Vary", "Origin")
}

func originHeaderValue(rule *Rule, origin string) string {
	for _, o := range rule.AllowedOrigins {
		if o == "*" {
			return "*"
		}
	}
	return origin
}

// CheckPreflight validates an OPTIONS preflight request's requested headers
// against rule, returning an error if any requested header is not covered
// by AllowedHeader. The requested method is not checked here.
func CheckPreflight(rule *Rule, requestedHeaders []string) error {
	for _, reqHeader := range requestedHeaders {
		if !headerAllowed(*rule, reqHeader) {
			return s3err.AccessDenied("Insufficient permissions to execute this operation")
		}
	}
	return nil
}
