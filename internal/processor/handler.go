package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/catdevman/image-transform/internal/model"
)

type EventHandler interface {
	Handle(ctx context.Context, ev model.Event) (model.Outcome, error)
}

// --- Handler ---

// Handler adapts Lambda trigger payloads to Transform. Records that fail
// are returned to the runtime so its retry policy applies; events without a
// key are logged and dropped because a retry cannot fix them.
type Handler struct {
	Transform EventHandler
	Logger    *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// EventFromS3 builds an Event from one S3 notification record.
func EventFromS3(record events.S3EventRecord) model.Event {
	key := record.S3.Object.URLDecodedKey
	if key == "" && record.S3.Object.Key != "" {
		if decoded, err := url.QueryUnescape(record.S3.Object.Key); err == nil {
			key = decoded
		} else {
			key = record.S3.Object.Key
		}
	}

	return model.Event{
		Key:    key,
		Bucket: record.S3.Bucket.Name,
		Attributes: map[string]string{
			"eventName": record.EventName,
			"eventTime": record.EventTime.UTC().Format(time.RFC3339),
			"size":      strconv.FormatInt(record.S3.Object.Size, 10),
			"eTag":      record.S3.Object.ETag,
		},
	}
}

// Invoke handles an S3 notification delivered directly to the function.
func (h *Handler) Invoke(ctx context.Context, s3Event events.S3Event) error {
	var errs []error
	for _, record := range s3Event.Records {
		if err := h.handle(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvokeSQS handles S3 notifications that were routed through an SQS queue,
// reporting failed messages individually so only they are redelivered.
func (h *Handler) InvokeSQS(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure

	for _, msg := range sqsEvent.Records {
		var s3Event events.S3Event
		if err := json.Unmarshal([]byte(msg.Body), &s3Event); err != nil {
			h.logger().Error("failed to parse S3 event from SQS message",
				"messageId", msg.MessageId,
				"error", err,
			)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}

		for _, record := range s3Event.Records {
			if err := h.handle(ctx, record); err != nil {
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
				break
			}
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (h *Handler) handle(ctx context.Context, record events.S3EventRecord) error {
	outcome, err := h.Transform.Handle(ctx, EventFromS3(record))
	if errors.Is(err, ErrInvalidEvent) {
		return nil
	}
	if err != nil {
		return err
	}
	h.logger().Debug("record handled", "key", outcome.Key, "status", outcome.Status)
	return nil
}
