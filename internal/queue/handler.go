package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
)

// Outcome tells the transport what to do with a message
type Outcome string

const (
	// OutcomeAck: the photo was recorded
	OutcomeAck Outcome = "ack"
	// OutcomeRejected: the message can never succeed and is dropped
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetry: the primary store could not be reached and nothing was
	// written, redeliver later
	OutcomeRetry Outcome = "retry"
	// OutcomeUncertain: the primary write failed in a way that may still
	// have committed. Redelivering could record the photo twice, so the
	// message is dropped and logged for reconciliation.
	OutcomeUncertain Outcome = "uncertain"
)

// Ingester is satisfied by *services.IngestionService
type Ingester interface {
	Ingest(ctx context.Context, data models.PhotoData) (*models.IngestResult, error)
}

// MessageHandler decodes photo messages and runs them through ingestion
type MessageHandler struct {
	ingester Ingester
	metrics  *observability.WorkerMetrics
	now      func() time.Time
}

// NewMessageHandler creates a MessageHandler. metrics may be nil.
func NewMessageHandler(ingester Ingester, metrics *observability.WorkerMetrics) *MessageHandler {
	return &MessageHandler{ingester: ingester, metrics: metrics, now: time.Now}
}

// Handle processes one message body. publishedAt may be zero when the
// transport does not carry it.
func (h *MessageHandler) Handle(ctx context.Context, source string, body []byte, publishedAt time.Time) Outcome {
	start := h.now()
	if h.metrics != nil {
		h.metrics.StartMessage()
		if !publishedAt.IsZero() {
			h.metrics.ObserveQueueLag(source, start.Sub(publishedAt))
		}
	}

	outcome := h.handle(ctx, source, body)

	if h.metrics != nil {
		h.metrics.FinishMessage(source, string(outcome), h.now().Sub(start))
	}
	return outcome
}

func (h *MessageHandler) handle(ctx context.Context, source string, body []byte) Outcome {
	log := observability.WithContext(ctx).WithField("source", source)

	var data models.PhotoData
	if err := json.Unmarshal(body, &data); err != nil {
		log.WithError(err).Warn("dropping undecodable photo message")
		return OutcomeRejected
	}

	result, err := h.ingester.Ingest(ctx, data)
	switch {
	case err == nil:
		log.WithFields(map[string]interface{}{
			"record_id":        result.RecordID,
			"project_id":       data.ProjectID,
			"reports_notified": result.ReportsNotified,
		}).Debug("photo ingested")
		return OutcomeAck
	case models.IsKind(err, models.ErrValidation):
		log.WithError(err).WithField("project_id", data.ProjectID).Warn("dropping invalid photo message")
		return OutcomeRejected
	case models.IsKind(err, models.ErrUnavailable):
		log.WithError(err).WithField("project_id", data.ProjectID).Warn("photo store unavailable, will retry")
		return OutcomeRetry
	default:
		log.WithError(err).WithFields(map[string]interface{}{
			"project_id": data.ProjectID,
			"filename":   data.Filename,
			"drive_url":  data.DriveURL,
		}).Error("photo ingestion failed after the write was attempted, not retrying")
		return OutcomeUncertain
	}
}
