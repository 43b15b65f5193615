package server

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/s3lite/s3lite/internal/event"
	"github.com/s3lite/s3lite/internal/s3err"
	"github.com/s3lite/s3lite/internal/store"
)

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

func (s *Server) handleCreateMultipartUpload(ctx *requestContext) {
	r := ctx.r
	u := &store.Upload{
		Bucket:       ctx.bucket,
		Key:          ctx.key,
		ContentType:  r.Header.Get("Content-Type"),
		UserMetadata: userMetadataFrom(r.Header),
	}
	if u.ContentType == "" {
		u.ContentType = "binary/octet-stream"
	}

	uploadID, err := s.store.CreateMultipartUpload(r.Context(), u)
	if err != nil {
		writeStoreErr(ctx, err)
		return
	}

	writeXML(ctx.w, http.StatusOK, &initiateMultipartUploadResult{
		Bucket:   ctx.bucket,
		Key:      ctx.key,
		UploadID: uploadID,
	})
}

func (s *Server) handleUploadPart(ctx *requestContext, q url.Values) {
	uploadID := q.Get("uploadId")
	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		s3err.Write(ctx.w, s3err.InvalidArgument("partNumber", q.Get("partNumber"), "Part number must be an integer between 1 and 10000, inclusive"), ctx.requestID)
		return
	}

	var body io.Reader = ctx.r.Body
	isCopy := false
	if copySource := ctx.r.Header.Get("X-Amz-Copy-Source"); copySource != "" {
		isCopy = true
		srcBucket, srcKey, pErr := parseCopySource(copySource)
		if pErr != nil {
			s3err.Write(ctx.w, s3err.InvalidArgument("x-amz-copy-source", copySource, "Couldn't parse the specified copy source."), ctx.requestID)
			return
		}
		_, rc, gErr := s.store.GetObject(ctx.r.Context(), srcBucket, srcKey)
		if gErr != nil {
			writeStoreErr(ctx, gErr)
			return
		}
		defer rc.Close()
		body = rc
	}

	part, err := s.store.UploadPart(ctx.r.Context(), ctx.bucket, uploadID, partNumber, body)
	if err != nil {
		writeStoreErr(ctx, err)
		return
	}

	if isCopy {
		writeXML(ctx.w, http.StatusOK, &copyPartResult{
			ETag:         `"` + part.ETag + `"`,
			LastModified: part.LastModified.Format("2006-01-02T15:04:05.000Z"),
		})
		return
	}

	ctx.w.Header().Set("ETag", `"`+part.ETag+`"`)
	ctx.w.WriteHeader(http.StatusOK)
}

type copyPartResult struct {
	XMLName      xml.Name `xml:"CopyPartResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}

type listPartsResult struct {
	XMLName  xml.Name  `xml:"ListPartsResult"`
	Bucket   string    `xml:"Bucket"`
	Key      string    `xml:"Key"`
	UploadID string    `xml:"UploadId"`
	Parts    []partXML `xml:"Part"`
}

type partXML struct {
	PartNumber   int    `xml:"PartNumber"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

func (s *Server) handleListParts(ctx *requestContext, q url.Values) {
	uploadID := q.Get("uploadId")
	parts, err := s.store.ListParts(ctx.r.Context(), ctx.bucket, uploadID)
	if err != nil {
		writeStoreErr(ctx, err)
		return
	}

	out := listPartsResult{Bucket: ctx.bucket, Key: ctx.key, UploadID: uploadID}
	for _, p := range parts {
		out.Parts = append(out.Parts, partXML{
			PartNumber:   p.PartNumber,
			ETag:         `"` + p.ETag + `"`,
			Size:         p.Size,
			LastModified: p.LastModified.Format("2006-01-02T15:04:05.000Z"),
		})
	}
	writeXML(ctx.w, http.StatusOK, &out)
}

type completeMultipartUploadXML struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

func (s *Server) handleCompleteMultipartUpload(ctx *requestContext, q url.Values) {
	uploadID := q.Get("uploadId")

	data, err := io.ReadAll(ctx.r.Body)
	if err != nil {
		s3err.Write(ctx.w, s3err.MalformedXML(err.Error()), ctx.requestID)
		return
	}
	var parsed completeMultipartUploadXML
	if err := xml.Unmarshal(data, &parsed); err != nil {
		s3err.Write(ctx.w, s3err.MalformedXML(err.Error()), ctx.requestID)
		return
	}

	wanted := make([]store.CompletePart, 0, len(parsed.Parts))
	for _, p := range parsed.Parts {
		wanted = append(wanted, store.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	u, uErr := s.store.LoadUpload(ctx.r.Context(), ctx.bucket, uploadID)
	if uErr != nil {
		writeStoreErr(ctx, uErr)
		return
	}

	obj, cErr := s.store.CompleteMultipartUpload(ctx.r.Context(), ctx.bucket, u, wanted)
	if cErr != nil {
		writeStoreErr(ctx, cErr)
		return
	}

	writeXML(ctx.w, http.StatusOK, &completeMultipartUploadResult{
		Location: "/" + ctx.bucket + "/" + ctx.key,
		Bucket:   ctx.bucket,
		Key:      ctx.key,
		ETag:     `"` + obj.ETag + `"`,
	})
	s.emit(event.ObjectCreatedCompleteMultipartUpload, ctx, &obj.Size, obj.ETag)
}

func (s *Server) handleAbortMultipartUpload(ctx *requestContext, q url.Values) {
	uploadID := q.Get("uploadId")
	if err := s.store.AbortMultipartUpload(ctx.r.Context(), ctx.bucket, uploadID); err != nil {
		writeStoreErr(ctx, err)
		return
	}
	ctx.w.WriteHeader(http.StatusNoContent)
}
