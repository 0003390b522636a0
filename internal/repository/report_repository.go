package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
)

// ReportRepository reads generated reports and updates their new-photo counters
type ReportRepository struct {
	db *DB
}

// NewReportRepository creates a new ReportRepository
func NewReportRepository(db *DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, project_id, report_type, main_category, sub_category, dynamic_fields,
	new_photos_count, has_new_photos, last_updated_by_photo, created_at`

// Create stores a generated report
func (r *ReportRepository) Create(ctx context.Context, report *models.GeneratedReport) error {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "INSERT", "generated_reports")
	defer span.End()

	fields, err := encodeFields(report.DynamicFields)
	if err != nil {
		return models.WrapError(models.ErrStorage, "create report", err)
	}

	var lastUpdated interface{}
	if report.LastUpdatedByPhoto != nil {
		lastUpdated = *report.LastUpdatedByPhoto
	}

	query := r.db.Rebind(`INSERT INTO generated_reports (` + reportColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query,
		report.ID,
		report.ProjectID,
		string(report.ReportType),
		report.MainCategory,
		report.SubCategory,
		fields,
		report.NewPhotosCount,
		report.HasNewPhotos,
		lastUpdated,
		report.CreatedAt,
	)
	if err != nil {
		observability.RecordError(span, err)
		return models.WrapError(models.ErrStorage, "create report", err)
	}
	return nil
}

// GetByID retrieves a report, or nil if it does not exist
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.GeneratedReport, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "generated_reports")
	defer span.End()

	query := r.db.Rebind(`SELECT ` + reportColumns + ` FROM generated_reports WHERE id = ?`)
	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.WrapError(models.ErrStorage, "get report", err)
	}
	return report, nil
}

// FindCandidates returns the QC reports of a project whose category equals
// the given one. Dynamic field filtering happens in the caller.
func (r *ReportRepository) FindCandidates(ctx context.Context, projectID string, category models.Category) ([]*models.GeneratedReport, error) {
	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "SELECT", "generated_reports")
	defer span.End()

	query := r.db.Rebind(`
		SELECT ` + reportColumns + `
		FROM generated_reports
		WHERE project_id = ? AND report_type = ? AND main_category = ? AND sub_category = ?
	`)

	rows, err := r.db.QueryContext(ctx, query, projectID, string(models.ReportTypeQC), category.Main, category.Sub)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.WrapError(models.ErrNotification, "find candidate reports", err)
	}
	defer rows.Close()

	var reports []*models.GeneratedReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, models.WrapError(models.ErrNotification, "find candidate reports", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapError(models.ErrNotification, "find candidate reports", err)
	}
	return reports, nil
}

// IncrementNewPhotos bumps newPhotosCount, sets hasNewPhotos and stamps
// lastUpdatedByPhoto on every report in one transaction.
func (r *ReportRepository) IncrementNewPhotos(ctx context.Context, reportIDs []string, at time.Time) error {
	if len(reportIDs) == 0 {
		return nil
	}

	ctx, span := observability.StartDBSpan(ctx, string(r.db.Dialect), "UPDATE", "generated_reports")
	defer span.End()

	query := r.db.Rebind(`
		UPDATE generated_reports
		SET new_photos_count = new_photos_count + 1, has_new_photos = ?, last_updated_by_photo = ?
		WHERE id = ?
	`)

	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, id := range reportIDs {
			if _, err := tx.ExecContext(ctx, query, true, at.UTC(), id); err != nil {
				return fmt.Errorf("increment report %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return models.WrapError(models.ErrNotification, "increment new photos", err)
	}
	return nil
}

func scanReport(row rowScanner) (*models.GeneratedReport, error) {
	var (
		report      models.GeneratedReport
		reportType  string
		fields      string
		lastUpdated sql.NullTime
	)
	err := row.Scan(
		&report.ID,
		&report.ProjectID,
		&reportType,
		&report.MainCategory,
		&report.SubCategory,
		&fields,
		&report.NewPhotosCount,
		&report.HasNewPhotos,
		&lastUpdated,
		&report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	report.ReportType = models.ReportType(reportType)
	if lastUpdated.Valid {
		t := lastUpdated.Time
		report.LastUpdatedByPhoto = &t
	}
	if report.DynamicFields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &report, nil
}
