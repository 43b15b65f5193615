// Package website implements S3 static website hosting: index/error
// document resolution and routing-rule evaluation against the
// <WebsiteConfiguration> document a bucket can carry.
package website

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/s3lite/s3lite/internal/s3err"
)

// Condition is a RoutingRule's <Condition>.
type Condition struct {
	KeyPrefixEquals             string `xml:"KeyPrefixEquals,omitempty"`
	HttpErrorCodeReturnedEquals string `xml:"HttpErrorCodeReturnedEquals,omitempty"`
}

// Redirect is a RoutingRule's <Redirect>, or the top-level
// <RedirectAllRequestsTo>.
type Redirect struct {
	HostName             string `xml:"HostName,omitempty"`
	Protocol             string `xml:"Protocol,omitempty"`
	ReplaceKeyPrefixWith string `xml:"ReplaceKeyPrefixWith,omitempty"`
	ReplaceKeyWith       string `xml:"ReplaceKeyWith,omitempty"`
	HttpRedirectCode     string `xml:"HttpRedirectCode,omitempty"`
}

// RoutingRule is one entry of <RoutingRules>.
type RoutingRule struct {
	Condition *Condition `xml:"Condition,omitempty"`
	Redirect  Redirect   `xml:"Redirect"`
}

// Config is a bucket's website hosting configuration.
type Config struct {
	XMLName               xml.Name      `xml:"WebsiteConfiguration"`
	IndexDocumentSuffix   string        `xml:"IndexDocument>Suffix,omitempty"`
	ErrorDocumentKey      string        `xml:"ErrorDocument>Key,omitempty"`
	RedirectAllRequestsTo *Redirect     `xml:"RedirectAllRequestsTo,omitempty"`
	RoutingRules          []RoutingRule `xml:"RoutingRules>RoutingRule,omitempty"`
}

// Parse decodes a <WebsiteConfiguration> document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, s3err.MalformedXML(err.Error())
	}
	if cfg.RedirectAllRequestsTo == nil && cfg.IndexDocumentSuffix == "" {
		return nil, s3err.MalformedXML("either RedirectAllRequestsTo or IndexDocument must be specified")
	}
	return &cfg, nil
}

// matchesCondition reports whether rule's Condition (if any) is satisfied
// for the given request key and, if the object lookup already failed, the
// HTTP status that failure produced.
func matchesCondition(c *Condition, key string, errorCode int) bool {
	if c == nil {
		return true
	}
	if c.KeyPrefixEquals != "" && !strings.HasPrefix(key, c.KeyPrefixEquals) {
		return false
	}
	if c.HttpErrorCodeReturnedEquals != "" {
		if errorCode == 0 || c.HttpErrorCodeReturnedEquals != strconv.Itoa(errorCode) {
			return false
		}
	}
	return true
}

// MatchRoutingRule returns the first routing rule in cfg whose Condition
// matches key/errorCode (errorCode is 0 when there was no error, i.e. this
// is evaluated before the object is fetched), or nil.
func (cfg *Config) MatchRoutingRule(key string, errorCode int) *RoutingRule {
	for i := range cfg.RoutingRules {
		rule := &cfg.RoutingRules[i]
		if matchesCondition(rule.Condition, key, errorCode) {
			return rule
		}
	}
	return nil
}

// ResolveKey applies a RoutingRule's key-replacement to the original
// request key, following the ReplaceKeyPrefixWith/ReplaceKeyWith rules the
// same way S3 website routing does: ReplaceKeyWith replaces the key
// outright, ReplaceKeyPrefixWith substitutes only the matched
// KeyPrefixEquals portion.
func (rule *RoutingRule) ResolveKey(originalKey string) string {
	if rule.Redirect.ReplaceKeyWith != "" {
		return rule.Redirect.ReplaceKeyWith
	}
	if rule.Redirect.ReplaceKeyPrefixWith != "" {
		prefix := ""
		if rule.Condition != nil {
			prefix = rule.Condition.KeyPrefixEquals
		}
		return rule.Redirect.ReplaceKeyPrefixWith + strings.TrimPrefix(originalKey, prefix)
	}
	return originalKey
}

// IndexKeyFor returns the key to fetch for a "directory" request: an empty
// key or one ending in "/" gets the configured index suffix appended
// (serving bucket/ and bucket/prefix/ the same way); any other key is
// returned unchanged.
func (cfg *Config) IndexKeyFor(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key + cfg.IndexDocumentSuffix
	}
	return key
}
