package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
)

// PhotoRecordRepository handles primary photo record persistence
type PhotoRecordRepository struct {
	db *DB
}

// NewPhotoRecordRepository creates a new PhotoRecordRepository
func NewPhotoRecordRepository(db *DB) *PhotoRecordRepository {
	return &PhotoRecordRepository{db: db}
}

// Insert appends a record. The ID is generated here and written back to
// record before returning.
func (r *PhotoRecordRepository) Insert(ctx context.Context, record *models.PhotoRecord) (string, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "INSERT", "photo_records")
	defer span.End()

	fields, err := encodeFields(record.DynamicFields)
	if err != nil {
		return "", models.WrapError(models.ErrStorage, "insert photo record", err)
	}

	id := uuid.New().String()
	lat, lng, addr := locationArgs(record.Location)

	query := r.db.Rebind(`
		INSERT INTO photo_records (
			id, project_id, report_type, main_category, sub_category, topic, dynamic_fields,
			filename, drive_url, file_path, latitude, longitude, address, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	conn, err := r.db.Conn(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return "", models.WrapError(models.ErrStorage, "insert photo record",
			models.WrapError(models.ErrUnavailable, "acquire connection", err))
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, query,
		id,
		record.ProjectID,
		string(record.ReportType),
		record.Category.Main,
		record.Category.Sub,
		record.Topic,
		fields,
		record.Filename,
		record.DriveURL,
		record.FilePath,
		lat,
		lng,
		addr,
		nullableString(record.Description),
		record.CreatedAt,
	)
	if err != nil {
		observability.RecordError(span, err)
		return "", models.WrapError(models.ErrStorage, "insert photo record", err)
	}

	record.ID = id
	return id, nil
}

// GetByID retrieves a record by its ID
func (r *PhotoRecordRepository) GetByID(ctx context.Context, id string) (*models.PhotoRecord, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "photo_records")
	defer span.End()

	query := r.db.Rebind(`
		SELECT id, project_id, report_type, main_category, sub_category, topic, dynamic_fields,
			filename, drive_url, file_path, latitude, longitude, address, description, created_at
		FROM photo_records WHERE id = ?
	`)

	var (
		record     models.PhotoRecord
		reportType string
		fields     string
		loc        locationColumns
		desc       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.ProjectID,
		&reportType,
		&record.Category.Main,
		&record.Category.Sub,
		&record.Topic,
		&fields,
		&record.Filename,
		&record.DriveURL,
		&record.FilePath,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Address,
		&desc,
		&record.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.WrapError(models.ErrStorage, "get photo record", err)
	}

	record.ReportType = models.ReportType(reportType)
	record.Location = loc.location()
	record.Description = stringPtr(desc)
	if record.DynamicFields, err = decodeFields(fields); err != nil {
		return nil, models.WrapError(models.ErrStorage, "get photo record", err)
	}

	return &record, nil
}

// CountByProject returns the number of records stored for a project
func (r *PhotoRecordRepository) CountByProject(ctx context.Context, projectID string) (int, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "photo_records")
	defer span.End()

	var count int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM photo_records WHERE project_id = ?`), projectID).Scan(&count)
	if err != nil {
		observability.RecordError(span, err)
		return 0, models.WrapError(models.ErrStorage, "count photo records", err)
	}
	return count, nil
}
