package server

import (
	"encoding/xml"
	"net/http"
)

// owner is the fixed account identity every listing response embeds;
// spec.md has no IAM so a single owner is attributed to everything.
var owner = struct {
	ID          string
	DisplayName string
}{
	ID:          "75aa57f09aa0c8caeab4f8c24e99d10f8e7faeebf76c078efc7c6caea54ba06a",
	DisplayName: "s3lite",
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	_ = enc.Encode(v)
}
