package event_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/s3lite/s3lite/internal/event"
)

func TestPublishDeliversEnvelope(t *testing.T) {
	var mu sync.Mutex
	var got event.Envelope
	done := make(chan struct{})

	e := &event.Emitter{
		Sink: func(_ context.Context, payload []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Errorf("unmarshal: %v", err)
			}
			close(done)
			return nil
		},
		Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}

	size := int64(42)
	e.Publish(event.ObjectCreatedPut, event.ObjectMutation{
		Bucket: "my-bucket",
		Key:    "my-key",
		Size:   &size,
		ETag:   "abc123",
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(got.Records))
	}
	rec := got.Records[0]
	if rec.EventName != event.ObjectCreatedPut {
		t.Fatalf("EventName = %q", rec.EventName)
	}
	if rec.S3.Bucket.Name != "my-bucket" || rec.S3.Object.Key != "my-key" {
		t.Fatalf("unexpected S3 info: %+v", rec.S3)
	}
	if rec.S3.Bucket.ARN != "arn:aws:s3:::my-bucket" {
		t.Fatalf("ARN = %q", rec.S3.Bucket.ARN)
	}
}

func TestPublishNilSinkIsNoop(t *testing.T) {
	e := &event.Emitter{}
	e.Publish(event.ObjectRemovedDelete, event.ObjectMutation{Bucket: "b", Key: "k"})
}
