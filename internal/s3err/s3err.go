// Package s3err implements the unified S3-style XML error envelope spec.md
// §7 requires every non-2xx, non-redirect response to carry. No pack
// example ships an importable third-party XML library for this (spec.md
// §1 explicitly treats "the XML (de)serializer library" as an external,
// out-of-scope collaborator), so encoding/xml is used directly.
package s3err

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Error is an S3-style error: a stable Code, a human Message, the HTTP
// status it maps to, and whatever extra fields that particular code
// carries (StringToSign on SignatureDoesNotMatch, Chunk/BadChunkSize on
// InvalidChunkSizeError, and so on).
type Error struct {
	Code    string
	Message string
	Status  int

	Key               string
	ArgumentName      string
	ArgumentValue     string
	StringToSign      string
	StringToSignBytes string
	Chunk             string
	BadChunkSize      string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// statusByCode is the code->HTTP-status taxonomy from spec.md §7.
var statusByCode = map[string]int{
	"NoSuchBucket":                      http.StatusNotFound,
	"NoSuchKey":                         http.StatusNotFound,
	"NoSuchUpload":                      http.StatusNotFound,
	"NoSuchCORSConfiguration":           http.StatusNotFound,
	"NoSuchWebsiteConfiguration":        http.StatusNotFound,
	"NoSuchTagSet":                      http.StatusNotFound,
	"BucketNotEmpty":                    http.StatusConflict,
	"InvalidBucketName":                 http.StatusBadRequest,
	"MalformedXML":                      http.StatusBadRequest,
	"InvalidArgument":                   http.StatusBadRequest,
	"InvalidRequest":                    http.StatusBadRequest,
	"InvalidStorageClass":               http.StatusBadRequest,
	"InvalidPart":                       http.StatusBadRequest,
	"InvalidPartOrder":                  http.StatusBadRequest,
	"EntityTooSmall":                    http.StatusBadRequest,
	"InvalidTag":                        http.StatusBadRequest,
	"InvalidDigest":                     http.StatusBadRequest,
	"AuthorizationHeaderMalformed":      http.StatusBadRequest,
	"AuthorizationQueryParametersError": http.StatusBadRequest,
	"SignatureDoesNotMatch":             http.StatusForbidden,
	"AccessDenied":                      http.StatusForbidden,
	"RequestTimeTooSkewed":              http.StatusForbidden,
	"InvalidChunkSizeError":             http.StatusForbidden,
	"MissingContentLength":              http.StatusLengthRequired,
	"IncompleteBody":                    http.StatusBadRequest,
	"PreconditionFailed":                http.StatusPreconditionFailed,
	"InternalError":                     http.StatusInternalServerError,
}

// New builds an Error, resolving Status from the code table (InternalError
// / 500 if the code is unrecognized, which should never happen for codes
// defined in this package but keeps an unexpected code from reporting 0).
func New(code, message string) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Message: message, Status: status}
}

// Common constructors for the codes used in more than one handler.
func NoSuchBucket(bucket string) *Error {
	return New("NoSuchBucket", "The specified bucket does not exist")
}

func NoSuchKey(key string) *Error {
	e := New("NoSuchKey", "The specified key does not exist.")
	e.Key = key
	return e
}

func BucketNotEmpty() *Error {
	return New("BucketNotEmpty", "The bucket you tried to delete is not empty")
}

func InvalidBucketName(name string) *Error {
	e := New("InvalidBucketName", "The specified bucket is not valid.")
	e.ArgumentName = "BucketName"
	e.ArgumentValue = name
	return e
}

func InvalidArgument(name, value, message string) *Error {
	e := New("InvalidArgument", message)
	e.ArgumentName = name
	e.ArgumentValue = value
	return e
}

func InternalError(err error) *Error {
	return New("InternalError", "We encountered an internal error. Please try again.")
}

func NoSuchUpload(uploadID string) *Error {
	e := New("NoSuchUpload", "The specified upload does not exist. The upload ID may be invalid, or the upload may have been aborted or completed.")
	e.ArgumentName = "uploadId"
	e.ArgumentValue = uploadID
	return e
}

func NoSuchCORSConfiguration() *Error {
	return New("NoSuchCORSConfiguration", "The CORS configuration does not exist")
}

func NoSuchWebsiteConfiguration() *Error {
	return New("NoSuchWebsiteConfiguration", "The specified bucket does not have a website configuration")
}

func NoSuchTagSet() *Error {
	return New("NoSuchTagSet", "The TagSet does not exist")
}

func MalformedXML(detail string) *Error {
	return New("MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema: "+detail)
}

func InvalidPart() *Error {
	return New("InvalidPart", "One or more of the specified parts could not be found. The part might not have been uploaded, or the specified entity tag might not have matched the part's entity tag.")
}

func InvalidPartOrder() *Error {
	return New("InvalidPartOrder", "The list of parts was not in ascending order. Parts must be ordered by part number.")
}

func EntityTooSmall() *Error {
	return New("EntityTooSmall", "Your proposed upload is smaller than the minimum allowed object size. Each part must be at least 5 MB in size, except the last part.")
}

func InvalidDigest(detail string) *Error {
	return New("InvalidDigest", "The Content-MD5 you specified was invalid. "+detail)
}

func InvalidTag(detail string) *Error {
	return New("InvalidTag", detail)
}

func SignatureDoesNotMatch(stringToSign, stringToSignBytes string) *Error {
	e := New("SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided. Check your key and signing method.")
	e.StringToSign = stringToSign
	e.StringToSignBytes = stringToSignBytes
	return e
}

func AccessDenied(message string) *Error {
	return New("AccessDenied", message)
}

func RequestTimeTooSkewed() *Error {
	return New("RequestTimeTooSkewed", "The difference between the request time and the current time is too large.")
}

func AuthorizationHeaderMalformed(message string) *Error {
	return New("AuthorizationHeaderMalformed", message)
}

func AuthorizationQueryParametersError(message string) *Error {
	return New("AuthorizationQueryParametersError", message)
}

func InvalidChunkSizeError(chunk, badChunkSize string) *Error {
	e := New("InvalidChunkSizeError", "Only the last chunk is allowed to have a size less than 8192 bytes")
	e.Chunk = chunk
	e.BadChunkSize = badChunkSize
	return e
}

func MissingContentLength() *Error {
	return New("MissingContentLength", "You must provide the Content-Length HTTP header.")
}

func IncompleteBody() *Error {
	return New("IncompleteBody", "You did not provide the number of bytes specified by the Content-Length HTTP header.")
}

func InvalidRequest(message string) *Error {
	return New("InvalidRequest", message)
}

func PreconditionFailed() *Error {
	return New("PreconditionFailed", "At least one of the pre-conditions you specified did not hold")
}

type envelope struct {
	XMLName           xml.Name `xml:"Error"`
	Code              string   `xml:"Code"`
	Message           string   `xml:"Message"`
	Key               string   `xml:"Key,omitempty"`
	ArgumentName      string   `xml:"ArgumentName,omitempty"`
	ArgumentValue     string   `xml:"ArgumentValue,omitempty"`
	StringToSign      string   `xml:"StringToSign,omitempty"`
	StringToSignBytes string   `xml:"StringToSignBytes,omitempty"`
	Chunk             string   `xml:"Chunk,omitempty"`
	BadChunkSize      string   `xml:"BadChunkSize,omitempty"`
	RequestID         string   `xml:"RequestId"`
}

// WriteHTML renders e as the HTML error document the website engine serves
// instead of the XML envelope (spec.md §7(a)): a minimal page with the
// Code/Message/Key embedded as plain text so simple substring assertions
// against the body keep working.
func WriteHTML(w http.ResponseWriter, e *Error, requestID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(e.Status)
	fmt.Fprintf(w, "<html>\n<head><title>%d %s</title></head>\n<body>\n<h1>%d %s</h1>\n<ul>\n",
		e.Status, http.StatusText(e.Status), e.Status, http.StatusText(e.Status))
	fmt.Fprintf(w, "<li>Code: %s</li>\n", e.Code)
	fmt.Fprintf(w, "<li>Message: %s</li>\n", e.Message)
	if e.Key != "" {
		fmt.Fprintf(w, "<li>Key: %s</li>\n", e.Key)
	}
	fmt.Fprintf(w, "<li>RequestId: %s</li>\n", requestID)
	fmt.Fprint(w, "</ul>\n</body>\n</html>")
}

// Write marshals e as the standard S3 XML error body and writes it (with
// the matching HTTP status and Content-Type) to w. requestID is embedded
// verbatim, matching the x-amz-request-id convention.
func Write(w http.ResponseWriter, e *Error, requestID string) {
	body := envelope{
		Code:              e.Code,
		Message:           e.Message,
		Key:               e.Key,
		ArgumentName:      e.ArgumentName,
		ArgumentValue:     e.ArgumentValue,
		StringToSign:      e.StringToSign,
		StringToSignBytes: e.StringToSignBytes,
		Chunk:             e.Chunk,
		BadChunkSize:      e.BadChunkSize,
		RequestID:         requestID,
	}

	out, err := xml.Marshal(body)
	if err != nil {
		// marshaling a fixed, simple struct cannot realistically fail;
		// fall back to a minimal hand-written body rather than panic.
		out = []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>InternalError</Code></Error>`)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(e.Status)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
