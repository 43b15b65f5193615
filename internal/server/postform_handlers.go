package server

import (
	"encoding/xml"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/s3lite/s3lite/internal/event"
	"github.com/s3lite/s3lite/internal/s3err"
	"github.com/s3lite/s3lite/internal/store"
)

// handlePostForm implements browser form uploads: POST /{bucket} with a
// multipart/form-data body whose fields are read in order (S3 requires
// "key" and the policy fields to precede the "file" part) and whose final
// outcome is either a redirect (success_action_redirect / redirect) or a
// bare status code (success_action_status, default 204).
func (s *Server) handlePostForm(ctx *requestContext) {
	r := ctx.r
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		s3err.Write(ctx.w, s3err.MalformedXML("request Content-Type isn't multipart/form-data"), ctx.requestID)
		return
	}
	boundary, ok := params["boundary"]
	if !ok {
		s3err.Write(ctx.w, s3err.MalformedXML("missing multipart boundary"), ctx.requestID)
		return
	}

	mr := multipart.NewReader(r.Body, boundary)

	fields := map[string]string{}
	var obj *store.Object
	var fileName string

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}

		if name == "file" {
			fileName = part.FileName()
			key := substituteFilename(fields["key"], fileName)
			if key == "" {
				_ = part.Close()
				s3err.Write(ctx.w, s3err.InvalidArgument("key", "", "Key is required"), ctx.requestID)
				return
			}

			o := &store.Object{
				Key:         key,
				ContentType: fields["content-type"],
			}
			if o.ContentType == "" {
				o.ContentType = "binary/octet-stream"
			}
			meta := map[string]string{}
			for k, v := range fields {
				if strings.HasPrefix(k, "x-amz-meta-") {
					meta[strings.TrimPrefix(k, "x-amz-meta-")] = v
				}
			}
			o.UserMetadata = meta

			if err := s.store.PutObject(r.Context(), ctx.bucket, o, part); err != nil {
				_ = part.Close()
				writeStoreErr(ctx, err)
				return
			}
			obj = o
			_ = part.Close()
			continue
		}

		buf := make([]byte, 8192)
		var value strings.Builder
		for {
			n, rErr := part.Read(buf)
			if n > 0 {
				value.Write(buf[:n])
			}
			if rErr != nil {
				break
			}
		}
		fields[strings.ToLower(name)] = value.String()
		_ = part.Close()
	}

	if obj == nil {
		s3err.Write(ctx.w, s3err.InvalidArgument("file", "", "POST requires exactly one file upload per request."), ctx.requestID)
		return
	}

	ctx.key = obj.Key
	s.emit(event.ObjectCreatedPost, ctx, &obj.Size, obj.ETag)

	redirect := fields["success_action_redirect"]
	if redirect == "" {
		redirect = fields["redirect"]
	}
	if redirect != "" {
		loc := redirect + "?bucket=" + ctx.bucket + "&key=" + obj.Key + "&etag=" + obj.ETag
		ctx.w.Header().Set("Location", loc)
		ctx.w.WriteHeader(http.StatusSeeOther)
		return
	}

	status := http.StatusNoContent
	if raw := fields["success_action_status"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && (n == 200 || n == 201 || n == 204) {
			status = n
		}
	}
	if status == http.StatusOK || status == http.StatusCreated {
		writeXML(ctx.w, status, &postFormResult{
			Location: "/" + ctx.bucket + "/" + obj.Key,
			Bucket:   ctx.bucket,
			Key:      obj.Key,
			ETag:     `"` + obj.ETag + `"`,
		})
		return
	}
	ctx.w.WriteHeader(status)
}

type postFormResult struct {
	XMLName  xml.Name `xml:"PostResponse"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// substituteFilename expands the ${filename} placeholder S3's POST policy
// form allows in the "key" field.
func substituteFilename(key, fileName string) string {
	return strings.ReplaceAll(key, "${filename}", fileName)
}
