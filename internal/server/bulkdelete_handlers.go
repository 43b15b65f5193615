package server

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/s3lite/s3lite/internal/event"
	"github.com/s3lite/s3lite/internal/s3err"
)

type deleteRequestXML struct {
	XMLName xml.Name `xml:"Delete"`
	Quiet   bool     `xml:"Quiet"`
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

type deleteResultXML struct {
	XMLName xml.Name          `xml:"DeleteResult"`
	Deleted []deletedEntryXML `xml:"Deleted,omitempty"`
	Errors  []deleteErrorXML  `xml:"Error,omitempty"`
}

type deletedEntryXML struct {
	Key string `xml:"Key"`
}

type deleteErrorXML struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// handleBulkDelete implements POST /{bucket}?delete: one call removes every
// key in the request body's <Delete> document, collecting per-key failures
// rather than aborting the whole batch on the first error.
func (s *Server) handleBulkDelete(ctx *requestContext) {
	data, err := io.ReadAll(ctx.r.Body)
	if err != nil {
		s3err.Write(ctx.w, s3err.MalformedXML(err.Error()), ctx.requestID)
		return
	}
	var req deleteRequestXML
	if err := xml.Unmarshal(data, &req); err != nil {
		s3err.Write(ctx.w, s3err.MalformedXML(err.Error()), ctx.requestID)
		return
	}

	var result deleteResultXML
	for _, o := range req.Objects {
		if delErr := s.store.DeleteObject(ctx.r.Context(), ctx.bucket, o.Key); delErr != nil {
			sErr, ok := delErr.(*s3err.Error)
			code, msg := "InternalError", delErr.Error()
			if ok {
				code, msg = sErr.Code, sErr.Message
			}
			result.Errors = append(result.Errors, deleteErrorXML{Key: o.Key, Code: code, Message: msg})
			continue
		}
		if !req.Quiet {
			result.Deleted = append(result.Deleted, deletedEntryXML{Key: o.Key})
		}
		ctx.key = o.Key
		s.emit(event.ObjectRemovedDelete, ctx, nil, "")
	}
	ctx.key = ""

	writeXML(ctx.w, http.StatusOK, &result)
}
