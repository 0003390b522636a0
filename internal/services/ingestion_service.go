package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/repository"
)

// Best-effort step names, used for breakers, logs and metrics
const (
	StepProjection   = "projection"
	StepNotification = "notification"
)

// IngestionService records a photo and keeps the derived views in step.
// Only the primary write can fail a call.
type IngestionService struct {
	records      repository.PhotoRecordRepo
	projection   *ProjectionService
	notification *NotificationService
	guard        *BestEffortGuard
	metrics      *observability.IngestionMetrics
	now          func() time.Time
}

// Ingest runs one ingestion. A ValidationError means nothing was written,
// a StorageError means the primary record could not be written. Any other
// failure is logged and the call still succeeds.
func (s *IngestionService) Ingest(ctx context.Context, data models.PhotoData) (*models.IngestResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "IngestionService", "Ingest")
	defer span.End()

	start := s.now()
	state := models.StateReceived
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordIngestion(ctx, string(data.ReportType), string(state), s.now().Sub(start))
		}
	}()

	record, err := models.NewPhotoRecord(data, start)
	if err != nil {
		state = models.StateRejected
		err = models.WrapError(models.ErrValidation, "ingest", err)
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(observability.ProjectID(record.ProjectID), observability.ReportType(string(record.ReportType)))

	if _, err := s.records.Insert(ctx, record); err != nil {
		if !models.IsKind(err, models.ErrStorage) {
			err = models.WrapError(models.ErrStorage, "ingest", err)
		}
		observability.RecordError(span, err)
		return nil, err
	}
	state = models.StatePrimaryWritten

	// Once the record is written the derived views must follow, even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	result := &models.IngestResult{
		Success:   true,
		RecordID:  record.ID,
		CreatedAt: record.CreatedAt,
	}

	if record.IsQC() {
		result.Fingerprint = RecordFingerprint(record)
		log := observability.WithContext(ctx).WithFields(map[string]interface{}{
			"record_id":   record.ID,
			"project_id":  record.ProjectID,
			"category":    record.Category.String(),
			"fingerprint": result.Fingerprint,
		})

		err := s.runStep(ctx, StepProjection, func(ctx context.Context) error {
			return s.projection.UpsertLatest(ctx, result.Fingerprint, record)
		})
		if err != nil {
			log.WithError(err).Warn("latest photo projection failed")
		} else {
			result.ProjectionUpdated = true
			if s.metrics != nil {
				s.metrics.RecordProjectionUpdate(ctx)
			}
		}
		state = models.StateProjectionAttempted

		err = s.runStep(ctx, StepNotification, func(ctx context.Context) error {
			n, err := s.notification.FanOut(ctx, record)
			result.ReportsNotified = n
			return err
		})
		if err != nil {
			log.WithError(err).Warn("report notification fan-out failed")
		} else if s.metrics != nil {
			s.metrics.RecordReportsNotified(ctx, result.ReportsNotified)
		}
		state = models.StateNotificationAttempted
	}

	state = models.StateDone
	result.State = state
	observability.SetSuccess(span)
	return result, nil
}

func (s *IngestionService) runStep(ctx context.Context, step string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s step panicked: %v", step, r)
		}
		if err != nil && s.metrics != nil {
			s.metrics.RecordStepFailure(ctx, step)
		}
	}()

	if s.guard == nil {
		return fn(ctx)
	}
	return s.guard.Run(ctx, step, fn)
}

// Projection exposes the projection service for read paths
func (s *IngestionService) Projection() *ProjectionService {
	return s.projection
}

// Notification exposes the notification service for read paths
func (s *IngestionService) Notification() *NotificationService {
	return s.notification
}

// Records exposes the primary record store for read paths
func (s *IngestionService) Records() repository.PhotoRecordRepo {
	return s.records
}

// IngestionBuilder assembles an IngestionService from its backends
type IngestionBuilder struct {
	records  repository.PhotoRecordRepo
	latest   repository.LatestPhotoRepo
	reports  repository.ReportRepo
	notifier ReportNotifier
	guard    *BestEffortGuard
	metrics  *observability.IngestionMetrics
	now      func() time.Time
}

// NewIngestionBuilder starts an empty builder
func NewIngestionBuilder() *IngestionBuilder {
	return &IngestionBuilder{}
}

// WithDB uses the SQL repositories on db for all three stores
func (b *IngestionBuilder) WithDB(db *repository.DB) *IngestionBuilder {
	b.records = repository.NewPhotoRecordRepository(db)
	b.latest = repository.NewLatestPhotoRepository(db)
	b.reports = repository.NewReportRepository(db)
	return b
}

// WithRecordStore sets the primary record store
func (b *IngestionBuilder) WithRecordStore(r repository.PhotoRecordRepo) *IngestionBuilder {
	b.records = r
	return b
}

// WithProjectionStore sets the store behind the latest photo projection
func (b *IngestionBuilder) WithProjectionStore(r repository.LatestPhotoRepo) *IngestionBuilder {
	b.latest = r
	return b
}

// WithReportStore sets the generated report store
func (b *IngestionBuilder) WithReportStore(r repository.ReportRepo) *IngestionBuilder {
	b.reports = r
	return b
}

// WithNotifier sets where live counter updates are pushed. Optional.
func (b *IngestionBuilder) WithNotifier(n ReportNotifier) *IngestionBuilder {
	b.notifier = n
	return b
}

// WithGuard wraps the best-effort steps in circuit breakers. Optional.
func (b *IngestionBuilder) WithGuard(g *BestEffortGuard) *IngestionBuilder {
	b.guard = g
	return b
}

// WithMetrics records ingestion outcomes. Optional.
func (b *IngestionBuilder) WithMetrics(m *observability.IngestionMetrics) *IngestionBuilder {
	b.metrics = m
	return b
}

// WithClock replaces time.Now, for tests
func (b *IngestionBuilder) WithClock(now func() time.Time) *IngestionBuilder {
	b.now = now
	return b
}

// Build validates the configuration and returns the service
func (b *IngestionBuilder) Build() (*IngestionService, error) {
	switch {
	case b.records == nil:
		return nil, fmt.Errorf("ingestion: record store is required")
	case b.latest == nil:
		return nil, fmt.Errorf("ingestion: projection store is required")
	case b.reports == nil:
		return nil, fmt.Errorf("ingestion: report store is required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	return &IngestionService{
		records:      b.records,
		projection:   NewProjectionService(b.latest, now),
		notification: NewNotificationService(b.reports, b.notifier, now),
		guard:        b.guard,
		metrics:      b.metrics,
		now:          now,
	}, nil
}
