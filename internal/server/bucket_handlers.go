package server

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/s3lite/s3lite/internal/cors"
	"github.com/s3lite/s3lite/internal/s3err"
	"github.com/s3lite/s3lite/internal/store"
	"github.com/s3lite/s3lite/internal/website"
)

func validateCORSBody(data []byte) error {
	_, err := cors.Parse(data)
	return err
}

func validateWebsiteBody(data []byte) error {
	_, err := website.Parse(data)
	return err
}

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func validBucketName(name string) bool {
	return bucketNamePattern.MatchString(name)
}

func (s *Server) handlePutBucket(ctx *requestContext) {
	if !validBucketName(ctx.bucket) {
		s3err.Write(ctx.w, s3err.InvalidBucketName(ctx.bucket), ctx.requestID)
		return
	}
	if err := s.store.CreateBucket(ctx.r.Context(), ctx.bucket); err != nil {
		if sErr, ok := err.(*s3err.Error); ok {
			s3err.Write(ctx.w, sErr, ctx.requestID)
			return
		}
		// already exists: S3 itself returns success to the owning
		// account for a repeated PutBucket of the same name.
	}
	ctx.w.Header().Set("Location", "/"+ctx.bucket)
	ctx.w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(ctx *requestContext) {
	if err := s.store.DeleteBucket(ctx.r.Context(), ctx.bucket); err != nil {
		writeStoreErr(ctx, err)
		return
	}
	ctx.w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeadBucket(ctx *requestContext) {
	if _, err := s.store.HeadBucket(ctx.r.Context(), ctx.bucket); err != nil {
		writeStoreErr(ctx, err)
		return
	}
	ctx.w.WriteHeader(http.StatusOK)
}

type listAllMyBucketsResult struct {
	XMLName xml.Name    `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListAllMyBucketsResult"`
	Owner   ownerXML    `xml:"Owner"`
	Buckets []bucketXML `xml:"Buckets>Bucket"`
}

type ownerXML struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type bucketXML struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

func (s *Server) handleListBuckets(ctx *requestContext) {
	buckets, err := s.store.ListBuckets(ctx.r.Context())
	if err != nil {
		s3err.Write(ctx.w, s3err.InternalError(err), ctx.requestID)
		return
	}

	out := listAllMyBucketsResult{Owner: ownerXML{ID: owner.ID, DisplayName: owner.DisplayName}}
	for _, b := range buckets {
		out.Buckets = append(out.Buckets, bucketXML{Name: b.Name, CreationDate: b.CreatedAt.Format("2006-01-02T15:04:05.000Z")})
	}
	writeXML(ctx.w, http.StatusOK, &out)
}

// handleBucketSubresourceOrList dispatches a bucket-addressed GET between
// the CORS/website/tagging/acl/location subresource readers and the
// ListObjects v1/v2 listing, based on which query parameters are present.
func (s *Server) handleBucketSubresourceOrList(ctx *requestContext, q url.Values) {
	switch {
	case hasQuery(q, "cors"):
		s.getSubresource(ctx, store.SubresourceCORS)
	case hasQuery(q, "website"):
		s.getSubresource(ctx, store.SubresourceWebsite)
	case hasQuery(q, "tagging"):
		s.getSubresource(ctx, store.SubresourceTagging)
	case hasQuery(q, "acl"):
		s.getACL(ctx)
	case hasQuery(q, "location"):
		s.getLocation(ctx)
	case hasQuery(q, "uploads"):
		s.handleListMultipartUploads(ctx)
	default:
		if q.Get("list-type") == "2" {
			s.handleListObjectsV2(ctx, q)
		} else {
			s.handleListObjectsV1(ctx, q)
		}
	}
}

func hasQuery(q url.Values, name string) bool {
	_, ok := q[name]
	return ok
}

func (s *Server) getSubresource(ctx *requestContext, kind store.SubresourceKind) {
	data, err := s.store.GetSubresource(ctx.r.Context(), ctx.bucket, kind)
	if err != nil {
		writeStoreErr(ctx, err)
		return
	}
	ctx.w.Header().Set("Content-Type", "application/xml")
	ctx.w.WriteHeader(http.StatusOK)
	_, _ = ctx.w.Write(data)
}

func (s *Server) putSubresourceBody(ctx *requestContext, kind store.SubresourceKind, validate func([]byte) error) {
	data, err := io.ReadAll(ctx.r.Body)
	if err != nil {
		s3err.Write(ctx.w, s3err.MalformedXML(err.Error()), ctx.requestID)
		return
	}
	if validate != nil {
		if vErr := validate(data); vErr != nil {
			if sErr, ok := vErr.(*s3err.Error); ok {
				s3err.Write(ctx.w, sErr, ctx.requestID)
			} else {
				s3err.Write(ctx.w, s3err.MalformedXML(vErr.Error()), ctx.requestID)
			}
			return
		}
	}
	if err := s.store.PutSubresource(ctx.r.Context(), ctx.bucket, kind, data); err != nil {
		s3err.Write(ctx.w, s3err.InternalError(err), ctx.requestID)
		return
	}
	ctx.w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteSubresource(ctx *requestContext, kind store.SubresourceKind) {
	if err := s.store.DeleteSubresource(ctx.r.Context(), ctx.bucket, kind); err != nil {
		s3err.Write(ctx.w, s3err.InternalError(err), ctx.requestID)
		return
	}
	ctx.w.WriteHeader(http.StatusNoContent)
}

type accessControlPolicy struct {
	XMLName           xml.Name `xml:"AccessControlPolicy"`
	Owner             ownerXML `xml:"Owner"`
	AccessControlList struct {
		Grants []struct{} `xml:"Grant"`
	} `xml:"AccessControlList"`
}

// getACL returns a stub ACL document: spec.md's Non-goals exclude real ACL
// enforcement, but GetBucketAcl/GetObjectAcl must still answer with a
// well-formed, owner-only document instead of 404ing.
func (s *Server) getACL(ctx *requestContext) {
	writeXML(ctx.w, http.StatusOK, &accessControlPolicy{Owner: ownerXML{ID: owner.ID, DisplayName: owner.DisplayName}})
}

type locationConstraint struct {
	XMLName xml.Name `xml:"LocationConstraint"`
	Value   string   `xml:",chardata"`
}

func (s *Server) getLocation(ctx *requestContext) {
	writeXML(ctx.w, http.StatusOK, &locationConstraint{Value: ""})
}

func writeStoreErr(ctx *requestContext, err error) {
	if sErr, ok := err.(*s3err.Error); ok {
		s3err.Write(ctx.w, sErr, ctx.requestID)
		return
	}
	s3err.Write(ctx.w, s3err.InternalError(err), ctx.requestID)
}

func parseMaxKeys(q url.Values) int {
	if raw := q.Get("max-keys"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 1000 {
			return n
		}
	}
	return 1000
}
