package models

import "time"

// IngestionState is the point an ingestion call reached
type IngestionState string

const (
	StateReceived              IngestionState = "received"
	StatePrimaryWritten        IngestionState = "primary_written"
	StateProjectionAttempted   IngestionState = "projection_attempted"
	StateNotificationAttempted IngestionState = "notification_attempted"
	StateDone                  IngestionState = "done"
	StateRejected              IngestionState = "rejected"
)

// IngestResult is returned once the primary record exists
type IngestResult struct {
	Success           bool           `json:"success"`
	RecordID          string         `json:"recordId"`
	Fingerprint       string         `json:"fingerprint,omitempty"`
	ProjectionUpdated bool           `json:"projectionUpdated"`
	ReportsNotified   int            `json:"reportsNotified"`
	State             IngestionState `json:"state"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// UploadResult is returned after uploading and ingesting a photo
type UploadResult struct {
	IngestResult
	DriveURL     string `json:"driveUrl"`
	FilePath     string `json:"filePath"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// LatestPhotoListResponse is returned when listing suggestions
type LatestPhotoListResponse struct {
	Photos     []*LatestPhoto `json:"photos"`
	TotalCount int            `json:"totalCount"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
