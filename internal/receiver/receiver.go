// Package receiver accepts storage notifications delivered as CloudEvents
// over HTTP and feeds them to the transform.
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/catdevman/image-transform/internal/model"
	"github.com/catdevman/image-transform/internal/processor"
)

// StorageObjectData is the payload of an object-finalized storage event.
type StorageObjectData struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
	Generation  string `json:"generation"`
	TimeCreated string `json:"timeCreated"`
}

type Transformer interface {
	Handle(ctx context.Context, ev model.Event) (model.Outcome, error)
}

type Receiver struct {
	Transform Transformer
	Logger    *slog.Logger
}

func New(t Transformer, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{Transform: t, Logger: logger}
}

// Receive handles one event. Malformed events and events without an object
// name are answered with 400 so the sender does not redeliver them; transform
// failures are answered with 500.
func (r *Receiver) Receive(ctx context.Context, event cloudevents.Event) cloudevents.Result {
	log := r.Logger.With("eventId", event.ID(), "eventType", event.Type())

	var data StorageObjectData
	if err := event.DataAs(&data); err != nil {
		log.Warn("malformed storage event", "error", err)
		return cloudevents.NewHTTPResult(http.StatusBadRequest, "decode event data: %v", err)
	}

	ev := model.Event{
		Key:    data.Name,
		Bucket: data.Bucket,
		Attributes: map[string]string{
			"eventId":     event.ID(),
			"eventType":   event.Type(),
			"source":      event.Source(),
			"contentType": data.ContentType,
			"size":        data.Size,
			"generation":  data.Generation,
		},
	}

	outcome, err := r.Transform.Handle(ctx, ev)
	switch {
	case errors.Is(err, processor.ErrInvalidEvent):
		return cloudevents.NewHTTPResult(http.StatusBadRequest, "%v", err)
	case err != nil:
		return cloudevents.NewHTTPResult(http.StatusInternalServerError, "%v", err)
	}

	log.Debug("storage event handled", "key", outcome.Key, "status", outcome.Status)
	return cloudevents.ResultACK
}
