package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
)

const defaultLatestPhotoLimit = 50

// LatestPhotoRepository stores the latest-photo projection
type LatestPhotoRepository struct {
	db *DB
}

// NewLatestPhotoRepository creates a new LatestPhotoRepository
func NewLatestPhotoRepository(db *DB) *LatestPhotoRepository {
	return &LatestPhotoRepository{db: db}
}

const latestPhotoColumns = `fingerprint, record_id, project_id, report_type, main_category, sub_category, topic,
	dynamic_fields, filename, drive_url, file_path, latitude, longitude, address, description, created_at, updated_at`

// Merge upserts the projection row. Key and business columns always take the
// incoming value; optional columns only overwrite when a value is present.
// The location is replaced as a whole, so an address never outlives its
// coordinates.
func (r *LatestPhotoRepository) Merge(ctx context.Context, photo *models.LatestPhoto) error {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "UPSERT", "latest_photos")
	defer span.End()

	fields, err := encodeFields(photo.DynamicFields)
	if err != nil {
		return models.WrapError(models.ErrProjection, "merge latest photo", err)
	}
	lat, lng, addr := locationArgs(photo.Location)

	query := r.db.Rebind(`
		INSERT INTO latest_photos (` + latestPhotoColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			record_id = excluded.record_id,
			project_id = excluded.project_id,
			report_type = excluded.report_type,
			main_category = excluded.main_category,
			sub_category = excluded.sub_category,
			topic = excluded.topic,
			dynamic_fields = excluded.dynamic_fields,
			filename = COALESCE(NULLIF(excluded.filename, ''), latest_photos.filename),
			drive_url = COALESCE(NULLIF(excluded.drive_url, ''), latest_photos.drive_url),
			file_path = COALESCE(NULLIF(excluded.file_path, ''), latest_photos.file_path),
			latitude = CASE WHEN excluded.latitude IS NULL THEN latest_photos.latitude ELSE excluded.latitude END,
			longitude = CASE WHEN excluded.latitude IS NULL THEN latest_photos.longitude ELSE excluded.longitude END,
			address = CASE WHEN excluded.latitude IS NULL THEN latest_photos.address ELSE excluded.address END,
			description = COALESCE(excluded.description, latest_photos.description),
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`)

	_, err = r.db.ExecContext(ctx, query,
		photo.Fingerprint,
		photo.RecordID,
		photo.ProjectID,
		string(photo.ReportType),
		photo.Category.Main,
		photo.Category.Sub,
		photo.Topic,
		fields,
		photo.Filename,
		photo.DriveURL,
		photo.FilePath,
		lat,
		lng,
		addr,
		nullableString(photo.Description),
		photo.CreatedAt,
		photo.UpdatedAt,
	)
	if err != nil {
		observability.RecordError(span, err)
		return models.WrapError(models.ErrProjection, "merge latest photo", err)
	}
	return nil
}

// GetByFingerprint returns the projection row or nil if absent
func (r *LatestPhotoRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.LatestPhoto, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "latest_photos")
	defer span.End()

	query := r.db.Rebind(`SELECT ` + latestPhotoColumns + ` FROM latest_photos WHERE fingerprint = ?`)

	photo, err := scanLatestPhoto(r.db.QueryRowContext(ctx, query, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.WrapError(models.ErrStorage, "get latest photo", err)
	}
	return photo, nil
}

// ListByProject returns suggestions for a project, most recently updated first
func (r *LatestPhotoRepository) ListByProject(ctx context.Context, projectID string, filter LatestPhotoFilter) ([]*models.LatestPhoto, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "latest_photos")
	defer span.End()

	var b strings.Builder
	b.WriteString(`SELECT ` + latestPhotoColumns + ` FROM latest_photos WHERE project_id = ?`)
	args := []interface{}{projectID}

	if filter.Category.Main != "" {
		b.WriteString(` AND main_category = ? AND sub_category = ?`)
		args = append(args, filter.Category.Main, filter.Category.Sub)
	}
	if filter.Topic != "" {
		b.WriteString(` AND topic = ?`)
		args = append(args, filter.Topic)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLatestPhotoLimit
	}
	b.WriteString(` ORDER BY updated_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(b.String()), args...)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.WrapError(models.ErrStorage, "list latest photos", err)
	}
	defer rows.Close()

	photos := []*models.LatestPhoto{}
	for rows.Next() {
		photo, err := scanLatestPhoto(rows)
		if err != nil {
			return nil, models.WrapError(models.ErrStorage, "list latest photos", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapError(models.ErrStorage, "list latest photos", err)
	}
	return photos, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLatestPhoto(row rowScanner) (*models.LatestPhoto, error) {
	var (
		photo      models.LatestPhoto
		reportType string
		fields     string
		loc        locationColumns
		desc       sql.NullString
	)
	err := row.Scan(
		&photo.Fingerprint,
		&photo.RecordID,
		&photo.ProjectID,
		&reportType,
		&photo.Category.Main,
		&photo.Category.Sub,
		&photo.Topic,
		&fields,
		&photo.Filename,
		&photo.DriveURL,
		&photo.FilePath,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Address,
		&desc,
		&photo.CreatedAt,
		&photo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	photo.ReportType = models.ReportType(reportType)
	photo.Location = loc.location()
	photo.Description = stringPtr(desc)
	if photo.DynamicFields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &photo, nil
}
