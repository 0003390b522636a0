package services

import (
	"context"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/repository"
)

// ReportNotifier is told which reports gained new photos after the counters
// were committed
type ReportNotifier interface {
	NotifyReportsUpdated(ctx context.Context, projectID string, reportIDs []string) error
}

// NotificationService bumps the new-photo counters of matching reports
type NotificationService struct {
	reports  repository.ReportRepo
	notifier ReportNotifier
	now      func() time.Time
}

// NewNotificationService creates a new NotificationService. notifier may be nil.
func NewNotificationService(reports repository.ReportRepo, notifier ReportNotifier, now func() time.Time) *NotificationService {
	if now == nil {
		now = time.Now
	}
	return &NotificationService{reports: reports, notifier: notifier, now: now}
}

// FanOut increments every QC report of the record's project whose category
// equals the record's and whose dynamic field constraints the record
// satisfies. All increments commit together. It returns the number of
// reports updated.
func (s *NotificationService) FanOut(ctx context.Context, record *models.PhotoRecord) (int, error) {
	ctx, span := observability.StartServiceSpan(ctx, "NotificationService", "FanOut")
	defer span.End()
	span.SetAttributes(observability.ProjectID(record.ProjectID), observability.RecordID(record.ID))

	candidates, err := s.reports.FindCandidates(ctx, record.ProjectID, record.Category)
	if err != nil {
		observability.RecordError(span, err)
		return 0, asNotificationError("find candidate reports", err)
	}

	var ids []string
	for _, report := range candidates {
		if report.MatchesFields(record.DynamicFields) {
			ids = append(ids, report.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.reports.IncrementNewPhotos(ctx, ids, s.now()); err != nil {
		observability.RecordError(span, err)
		return 0, asNotificationError("increment new photos", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyReportsUpdated(ctx, record.ProjectID, ids); err != nil {
			observability.WithContext(ctx).WithError(err).Warn("live report notification failed")
		}
	}

	observability.SetSuccess(span)
	return len(ids), nil
}

// GetReport returns a generated report with its counters
func (s *NotificationService) GetReport(ctx context.Context, projectID, reportID string) (*models.GeneratedReport, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil || report.ProjectID != projectID {
		return nil, models.WrapError(models.ErrNotFound, "get report", models.PhotoError{Message: reportID})
	}
	return report, nil
}

func asNotificationError(op string, err error) error {
	if models.IsKind(err, models.ErrNotification) {
		return err
	}
	return models.WrapError(models.ErrNotification, op, err)
}
