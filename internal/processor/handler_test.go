package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catdevman/image-transform/internal/model"
)

// --- Mocks ---

// MockTransform fails any key listed in Fail and records every event it sees.
type MockTransform struct {
	Events []model.Event
	Fail   map[string]error
}

func (m *MockTransform) Handle(ctx context.Context, ev model.Event) (model.Outcome, error) {
	m.Events = append(m.Events, ev)
	if ev.Key == "" {
		return model.Outcome{}, fmt.Errorf("%w: object key is empty", ErrInvalidEvent)
	}
	if err := m.Fail[ev.Key]; err != nil {
		return model.Outcome{}, err
	}
	return model.Outcome{Status: model.StatusProcessed, Key: ev.Key}, nil
}

func s3Record(bucket, rawKey, decodedKey string) events.S3EventRecord {
	return events.S3EventRecord{
		EventName: "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: rawKey, URLDecodedKey: decodedKey, Size: 1024},
		},
	}
}

// --- Tests ---

func TestEventFromS3(t *testing.T) {
	ev := EventFromS3(s3Record("uploads", "my+photo%281%29.jpg", "my photo(1).jpg"))
	assert.Equal(t, "my photo(1).jpg", ev.Key)
	assert.Equal(t, "uploads", ev.Bucket)
	assert.Equal(t, "ObjectCreated:Put", ev.Attributes["eventName"])
	assert.Equal(t, "1024", ev.Attributes["size"])
}

func TestEventFromS3_DecodesRawKey(t *testing.T) {
	ev := EventFromS3(s3Record("uploads", "my+photo%281%29.jpg", ""))
	assert.Equal(t, "my photo(1).jpg", ev.Key)
}

func TestHandler_Invoke(t *testing.T) {
	mock := &MockTransform{}
	h := &Handler{Transform: mock}

	err := h.Invoke(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("uploads", "a.jpg", "a.jpg"),
		s3Record("uploads", "b.png", "b.png"),
	}})
	require.NoError(t, err)
	require.Len(t, mock.Events, 2)
	assert.Equal(t, "a.jpg", mock.Events[0].Key)
	assert.Equal(t, "b.png", mock.Events[1].Key)
}

func TestHandler_InvokeJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	mock := &MockTransform{Fail: map[string]error{"b.png": boom}}
	h := &Handler{Transform: mock}

	err := h.Invoke(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("uploads", "a.jpg", "a.jpg"),
		s3Record("uploads", "b.png", "b.png"),
		s3Record("uploads", "c.gif", "c.gif"),
	}})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, mock.Events, 3)
}

func TestHandler_InvokeDropsInvalidEvents(t *testing.T) {
	mock := &MockTransform{}
	h := &Handler{Transform: mock}

	err := h.Invoke(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("uploads", "", ""),
	}})
	assert.NoError(t, err)
}

func TestHandler_InvokeSQS(t *testing.T) {
	body := func(key string) string {
		b, err := json.Marshal(events.S3Event{Records: []events.S3EventRecord{s3Record("uploads", key, key)}})
		require.NoError(t, err)
		return string(b)
	}

	mock := &MockTransform{Fail: map[string]error{"bad.jpg": errors.New("boom")}}
	h := &Handler{Transform: mock}

	resp, err := h.InvokeSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body("good.jpg")},
		{MessageId: "m2", Body: body("bad.jpg")},
		{MessageId: "m3", Body: "not json"},
	}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 2)
	assert.Equal(t, "m2", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "m3", resp.BatchItemFailures[1].ItemIdentifier)
	assert.Len(t, mock.Events, 2)
}
