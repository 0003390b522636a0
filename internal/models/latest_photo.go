package models

import "time"

// LatestPhoto is the most recent photo for a QC business key, keyed by
// fingerprint. It backs the suggestion/autocomplete views.
type LatestPhoto struct {
	Fingerprint   string            `json:"fingerprint"`
	RecordID      string            `json:"recordId"`
	ProjectID     string            `json:"projectId"`
	ReportType    ReportType        `json:"reportType"`
	Category      Category          `json:"category"`
	Topic         string            `json:"topic"`
	DynamicFields map[string]string `json:"dynamicFields,omitempty"`
	Filename      string            `json:"filename"`
	DriveURL      string            `json:"driveUrl,omitempty"`
	FilePath      string            `json:"filePath,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Description   *string           `json:"description,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// LatestFromRecord projects a primary record onto its fingerprint
func LatestFromRecord(fingerprint string, r *PhotoRecord, updatedAt time.Time) *LatestPhoto {
	return &LatestPhoto{
		Fingerprint:   fingerprint,
		RecordID:      r.ID,
		ProjectID:     r.ProjectID,
		ReportType:    r.ReportType,
		Category:      r.Category,
		Topic:         r.Topic,
		DynamicFields: r.DynamicFields,
		Filename:      r.Filename,
		DriveURL:      r.DriveURL,
		FilePath:      r.FilePath,
		Location:      r.Location,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     updatedAt.UTC(),
	}
}
