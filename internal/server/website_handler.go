package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/s3lite/s3lite/internal/s3err"
	"github.com/s3lite/s3lite/internal/store"
	"github.com/s3lite/s3lite/internal/website"
)

// handleWebsite answers an unsigned GET/HEAD against a vhost addressed as
// a static website endpoint: resolve the requested key against the
// bucket's website configuration, following index/error-document and
// routing-rule resolution before falling back to a generic 404.
func (s *Server) handleWebsite(ctx *requestContext) {
	r := ctx.r
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s3err.WriteHTML(ctx.w, s3err.New("MethodNotAllowed", "The specified method is not allowed against this resource."), ctx.requestID)
		return
	}

	data, err := s.store.GetSubresource(r.Context(), ctx.bucket, store.SubresourceWebsite)
	if err != nil {
		s3err.WriteHTML(ctx.w, s3err.NoSuchWebsiteConfiguration(), ctx.requestID)
		return
	}
	cfg, err := website.Parse(data)
	if err != nil {
		s3err.WriteHTML(ctx.w, s3err.NoSuchWebsiteConfiguration(), ctx.requestID)
		return
	}

	if cfg.RedirectAllRequestsTo != nil {
		writeWebsiteRedirect(ctx.w, cfg.RedirectAllRequestsTo, ctx.key, r)
		return
	}

	key := ctx.key
	switch {
	case key == "" || strings.HasSuffix(key, "/"):
		key = cfg.IndexKeyFor(key)
	default:
		// step 2: a missing non-directory key whose directory form has an
		// index document redirects to that directory instead of 404ing.
		if _, err := s.store.HeadObject(r.Context(), ctx.bucket, key); err != nil {
			indexKey := cfg.IndexKeyFor(key + "/")
			if _, idxErr := s.store.HeadObject(r.Context(), ctx.bucket, indexKey); idxErr == nil {
				writeWebsiteRedirect(ctx.w, &website.Redirect{}, key+"/", r)
				return
			}
		}
	}

	if rule := cfg.MatchRoutingRule(ctx.key, 0); rule != nil {
		resolved := rule.ResolveKey(ctx.key)
		if rule.Redirect.HostName != "" || rule.Redirect.Protocol != "" {
			writeWebsiteRedirect(ctx.w, &rule.Redirect, resolved, r)
			return
		}
		key = resolved
	}

	obj, rc, err := s.store.GetObject(r.Context(), ctx.bucket, key)
	if err != nil {
		s.serveWebsiteError(ctx, cfg, http.StatusNotFound)
		return
	}
	defer rc.Close()

	if obj.WebsiteRedirectLocation != "" {
		ctx.w.Header().Set("Location", obj.WebsiteRedirectLocation)
		ctx.w.WriteHeader(http.StatusMovedPermanently)
		return
	}

	writeObjectMetadataHeaders(ctx.w, obj)
	ctx.w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	ctx.w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.Copy(ctx.w, rc)
	}
}

func (s *Server) serveWebsiteError(ctx *requestContext, cfg *website.Config, status int) {
	if rule := cfg.MatchRoutingRule(ctx.key, status); rule != nil {
		resolved := rule.ResolveKey(ctx.key)
		if rule.Redirect.HostName != "" || rule.Redirect.Protocol != "" {
			writeWebsiteRedirect(ctx.w, &rule.Redirect, resolved, ctx.r)
			return
		}
	}

	if cfg.ErrorDocumentKey == "" {
		s3err.WriteHTML(ctx.w, websiteStatusError(status, ctx.key), ctx.requestID)
		return
	}

	obj, rc, err := s.store.GetObject(ctx.r.Context(), ctx.bucket, cfg.ErrorDocumentKey)
	if err != nil {
		s3err.WriteHTML(ctx.w, websiteStatusError(status, ctx.key), ctx.requestID)
		return
	}
	defer rc.Close()

	writeObjectMetadataHeaders(ctx.w, obj)
	ctx.w.WriteHeader(status)
	_, _ = io.Copy(ctx.w, rc)
}

func writeWebsiteRedirect(w http.ResponseWriter, redirect *website.Redirect, key string, r *http.Request) {
	protocol := redirect.Protocol
	if protocol == "" {
		protocol = "http"
		if r.TLS != nil {
			protocol = "https"
		}
	}
	host := redirect.HostName
	if host == "" {
		host = r.Host
	}

	code := http.StatusMovedPermanently
	if redirect.HttpRedirectCode != "" {
		if n, err := strconv.Atoi(redirect.HttpRedirectCode); err == nil {
			code = n
		}
	}

	w.Header().Set("Location", protocol+"://"+host+"/"+key)
	w.WriteHeader(code)
}

// websiteStatusError builds the Error the website engine renders as HTML
// when a 404/403 has no error-document or matching routing rule to defer
// to, carrying the request key the way a real NoSuchKey/AccessDenied would.
func websiteStatusError(status int, key string) *s3err.Error {
	if status == http.StatusForbidden {
		return s3err.AccessDenied("Access Denied")
	}
	e := s3err.NoSuchKey(key)
	return e
}
