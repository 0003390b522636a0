package repository

import (
	"context"
	"time"

	"github.com/sitephoto/server/internal/models"
)

// PhotoRecordRepo is the append-only primary record store
type PhotoRecordRepo interface {
	// Insert assigns the record a new ID, persists it and returns the ID
	Insert(ctx context.Context, record *models.PhotoRecord) (string, error)
	GetByID(ctx context.Context, id string) (*models.PhotoRecord, error)
	CountByProject(ctx context.Context, projectID string) (int, error)
}

// LatestPhotoRepo holds one latest photo per fingerprint
type LatestPhotoRepo interface {
	// Merge creates or merges into the projection at photo.Fingerprint
	Merge(ctx context.Context, photo *models.LatestPhoto) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.LatestPhoto, error)
	ListByProject(ctx context.Context, projectID string, filter LatestPhotoFilter) ([]*models.LatestPhoto, error)
}

// LatestPhotoFilter narrows suggestion listings
type LatestPhotoFilter struct {
	Category models.Category
	Topic    string
	Limit    int
}

// ReportRepo is the generated-report notification index
type ReportRepo interface {
	Create(ctx context.Context, report *models.GeneratedReport) error
	GetByID(ctx context.Context, id string) (*models.GeneratedReport, error)
	// FindCandidates returns QC reports of a project scoped to exactly this category
	FindCandidates(ctx context.Context, projectID string, category models.Category) ([]*models.GeneratedReport, error)
	// IncrementNewPhotos bumps the counters of all given reports atomically
	IncrementNewPhotos(ctx context.Context, reportIDs []string, at time.Time) error
}
