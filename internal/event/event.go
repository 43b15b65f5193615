// Package event implements the S3-style notification record envelope
// every object mutation publishes, and a best-effort, non-blocking
// Emitter that hands records to a configured sink without ever letting a
// delivery failure fail the request that triggered it — the same
// "retry a bounded number of times, then give up silently" shape
// internal/backend/s3 uses for its own best-effort retry loop around
// transient network errors.
package event

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/s3lite/s3lite/internal/debug"
)

// Name enumerates the event names the emitter can publish.
type Name string

const (
	ObjectCreatedPut                     Name = "ObjectCreated:Put"
	ObjectCreatedPost                    Name = "ObjectCreated:Post"
	ObjectCreatedCopy                    Name = "ObjectCreated:Copy"
	ObjectCreatedCompleteMultipartUpload Name = "ObjectCreated:CompleteMultipartUpload"
	ObjectRemovedDelete                  Name = "ObjectRemoved:Delete"
)

type userIdentity struct {
	PrincipalID string `json:"principalId"`
}

type requestParameters struct {
	SourceIPAddress string `json:"sourceIPAddress"`
}

type responseElements struct {
	RequestID string `json:"x-amz-request-id"`
	ID2       string `json:"x-amz-id-2"`
}

type bucketOwnerIdentity struct {
	PrincipalID string `json:"principalId"`
}

type bucketInfo struct {
	Name          string              `json:"name"`
	OwnerIdentity bucketOwnerIdentity `json:"ownerIdentity"`
	ARN           string              `json:"arn"`
}

type objectInfo struct {
	Key       string `json:"key"`
	Sequencer string `json:"sequencer"`
	Size      *int64 `json:"size,omitempty"`
	ETag      string `json:"eTag,omitempty"`
}

type s3Info struct {
	SchemaVersion   string     `json:"s3SchemaVersion"`
	ConfigurationID string     `json:"configurationId"`
	Bucket          bucketInfo `json:"bucket"`
	Object          objectInfo `json:"object"`
}

// Record is a single notification record, as carried in Records[] of the
// published envelope.
type Record struct {
	EventVersion      string            `json:"eventVersion"`
	EventSource       string            `json:"eventSource"`
	AWSRegion         string            `json:"awsRegion"`
	EventTime         string            `json:"eventTime"`
	EventName         Name              `json:"eventName"`
	UserIdentity      userIdentity      `json:"userIdentity"`
	RequestParameters requestParameters `json:"requestParameters"`
	ResponseElements  responseElements  `json:"responseElements"`
	S3                s3Info            `json:"s3"`
}

// Envelope wraps one or more Records, matching the shape S3 event
// notifications (and every compatible consumer) expect.
type Envelope struct {
	Records []Record `json:"Records"`
}

// ObjectMutation describes the object-level facts needed to build a Record.
type ObjectMutation struct {
	Bucket          string
	Key             string
	Size            *int64
	ETag            string
	SourceIPAddress string
	RequestID       string
	ID2             string
}

// principalID renders a random 21-hex-character identity, matching
// spec.md §4.8's "AWS:"+HEX21 shape.
func principalID() string {
	return "AWS:" + randomHex(11)[:21]
}

// bucketOwnerID renders a 14-hex-character bucket-owner identity.
func bucketOwnerID() string {
	return randomHex(7)[:14]
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sequencer renders the current time in Unix nanoseconds as a fixed-width
// 16-digit hex token, so tokens from later events compare greater and a
// consumer can order events for the same key.
func sequencer(now time.Time) string {
	return fmt.Sprintf("%016X", uint64(now.UnixNano()))
}

// NewRecord builds the Record for a single object mutation.
func NewRecord(name Name, m ObjectMutation, now time.Time) Record {
	return Record{
		EventVersion: "2.0",
		EventSource:  "aws:s3",
		AWSRegion:    "us-east-1",
		EventTime:    now.UTC().Format(time.RFC3339Nano),
		EventName:    name,
		UserIdentity: userIdentity{PrincipalID: principalID()},
		RequestParameters: requestParameters{
			SourceIPAddress: m.SourceIPAddress,
		},
		ResponseElements: responseElements{
			RequestID: m.RequestID,
			ID2:       m.ID2,
		},
		S3: s3Info{
			SchemaVersion:   "1.0",
			ConfigurationID: "testConfigId",
			Bucket: bucketInfo{
				Name:          m.Bucket,
				OwnerIdentity: bucketOwnerIdentity{PrincipalID: bucketOwnerID()},
				ARN:           "arn:aws:s3:::" + m.Bucket,
			},
			Object: objectInfo{
				Key:       m.Key,
				Sequencer: sequencer(now),
				Size:      m.Size,
				ETag:      m.ETag,
			},
		},
	}
}

// Sink receives a marshaled envelope. Implementations should return
// quickly; Emitter retries a failing Sink a bounded number of times and
// then drops the event.
type Sink func(ctx context.Context, payload []byte) error

// Emitter publishes object-lifecycle events to a Sink, never blocking the
// caller for longer than a few bounded retries and never propagating a
// delivery failure back to the HTTP handler that triggered it.
type Emitter struct {
	Sink Sink
	Now  func() time.Time
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Publish builds the envelope for a single record and hands it to Sink in
// its own goroutine, retrying transient failures with bounded exponential
// backoff and logging (via internal/debug) if every attempt fails.
func (e *Emitter) Publish(name Name, m ObjectMutation) {
	if e.Sink == nil {
		return
	}
	rec := NewRecord(name, m, e.now())
	payload, err := json.Marshal(Envelope{Records: []Record{rec}})
	if err != nil {
		debug.Log("event: failed to marshal record: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		err := backoff.Retry(func() error {
			return e.Sink(ctx, payload)
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			debug.Log("event: giving up delivering %s for %s/%s: %v", name, m.Bucket, m.Key, err)
		}
	}()
}
