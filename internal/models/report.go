package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GeneratedReport is a report produced by the report generation subsystem.
// Ingestion only touches the new-photo counters.
type GeneratedReport struct {
	ID                 string            `json:"id"`
	ProjectID          string            `json:"projectId"`
	ReportType         ReportType        `json:"reportType"`
	MainCategory       string            `json:"mainCategory"`
	SubCategory        string            `json:"subCategory"`
	DynamicFields      map[string]string `json:"dynamicFields,omitempty"`
	NewPhotosCount     int64             `json:"newPhotosCount"`
	HasNewPhotos       bool              `json:"hasNewPhotos"`
	LastUpdatedByPhoto *time.Time        `json:"lastUpdatedByPhoto,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// NewGeneratedReport creates a QC report scoped to a category
func NewGeneratedReport(projectID string, category Category, fields map[string]string) *GeneratedReport {
	return &GeneratedReport{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		ReportType:    ReportTypeQC,
		MainCategory:  category.Main,
		SubCategory:   category.Sub,
		DynamicFields: fields,
		CreatedAt:     time.Now().UTC(),
	}
}

// MatchesFields reports whether a photo with the given dynamic fields falls
// within the report's constraints. A key missing on the photo compares as "".
func (r *GeneratedReport) MatchesFields(photoFields map[string]string) bool {
	for key, required := range r.DynamicFields {
		if NormalizeFieldValue(photoFields[key]) != NormalizeFieldValue(required) {
			return false
		}
	}
	return true
}

// NormalizeFieldValue is the canonical comparison form of a dynamic field value
func NormalizeFieldValue(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
