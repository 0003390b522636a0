package services

import (
	"context"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/repository"
)

// ProjectionService maintains the latest-photo-per-business-key view
type ProjectionService struct {
	latest repository.LatestPhotoRepo
	now    func() time.Time
}

// NewProjectionService creates a new ProjectionService
func NewProjectionService(latest repository.LatestPhotoRepo, now func() time.Time) *ProjectionService {
	if now == nil {
		now = time.Now
	}
	return &ProjectionService{latest: latest, now: now}
}

// UpsertLatest merges record into the projection row at fingerprint
func (s *ProjectionService) UpsertLatest(ctx context.Context, fingerprint string, record *models.PhotoRecord) error {
	ctx, span := observability.StartServiceSpan(ctx, "ProjectionService", "UpsertLatest")
	defer span.End()
	span.SetAttributes(observability.Fingerprint(fingerprint), observability.RecordID(record.ID))

	if err := s.latest.Merge(ctx, models.LatestFromRecord(fingerprint, record, s.now())); err != nil {
		observability.RecordError(span, err)
		if !models.IsKind(err, models.ErrProjection) {
			err = models.WrapError(models.ErrProjection, "upsert latest photo", err)
		}
		return err
	}

	observability.SetSuccess(span)
	return nil
}

// GetLatest returns the projection row for a fingerprint
func (s *ProjectionService) GetLatest(ctx context.Context, fingerprint string) (*models.LatestPhoto, error) {
	photo, err := s.latest.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if photo == nil {
		return nil, models.WrapError(models.ErrNotFound, "get latest photo", models.PhotoError{Message: fingerprint})
	}
	return photo, nil
}

// ListLatest returns suggestions for a project, most recent first
func (s *ProjectionService) ListLatest(ctx context.Context, projectID string, filter repository.LatestPhotoFilter) ([]*models.LatestPhoto, error) {
	ctx, span := observability.StartServiceSpan(ctx, "ProjectionService", "ListLatest")
	defer span.End()
	span.SetAttributes(observability.ProjectID(projectID))

	photos, err := s.latest.ListByProject(ctx, projectID, filter)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return photos, nil
}
