package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ReportType identifies the workflow a photo belongs to
type ReportType string

const (
	ReportTypeQC    ReportType = "QC"
	ReportTypeDaily ReportType = "Daily"
)

// ParseReportType accepts the canonical names case-insensitively
func ParseReportType(s string) (ReportType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qc":
		return ReportTypeQC, true
	case "daily":
		return ReportTypeDaily, true
	default:
		return "", false
	}
}

// Location is where a photo was taken
type Location struct {
	Latitude  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lng" validate:"gte=-180,lte=180"`
	Address   string  `json:"address,omitempty"`
}

// PhotoData is the value object handed to the ingestion pipeline once the
// binary is stored and metadata is resolved.
type PhotoData struct {
	ProjectID     string            `json:"projectId" validate:"required,max=128"`
	ReportType    ReportType        `json:"reportType,omitempty"`
	Filename      string            `json:"filename" validate:"max=255"`
	DriveURL      string            `json:"driveUrl,omitempty" validate:"omitempty,url"`
	FilePath      string            `json:"filePath,omitempty" validate:"max=1024"`
	Location      *Location         `json:"location,omitempty"`
	Category      string            `json:"category,omitempty" validate:"max=512"`
	Topic         string            `json:"topic,omitempty" validate:"max=256"`
	DynamicFields map[string]string `json:"dynamicFields,omitempty"`
	Description   *string           `json:"description,omitempty"`
}

// PhotoRecord is one upload event in the append-only primary store
type PhotoRecord struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	ReportType    ReportType        `json:"reportType"`
	Category      Category          `json:"category"`
	Topic         string            `json:"topic,omitempty"`
	DynamicFields map[string]string `json:"dynamicFields,omitempty"`
	Filename      string            `json:"filename"`
	DriveURL      string            `json:"driveUrl,omitempty"`
	FilePath      string            `json:"filePath,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Description   *string           `json:"description,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// ResolveReportType returns the canonical report type, QC when none was given
func (d PhotoData) ResolveReportType() (ReportType, error) {
	if strings.TrimSpace(string(d.ReportType)) == "" {
		return ReportTypeQC, nil
	}
	parsed, ok := ParseReportType(string(d.ReportType))
	if !ok {
		return "", ErrInvalidReportType
	}
	return parsed, nil
}

// NewPhotoRecord builds the record for an ingestion call. The ID is left
// empty; the primary store assigns it on insert.
func NewPhotoRecord(data PhotoData, createdAt time.Time) (*PhotoRecord, error) {
	if strings.TrimSpace(data.ProjectID) == "" {
		return nil, ErrEmptyProjectID
	}

	reportType, err := data.ResolveReportType()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(data.DynamicFields))
	for k, v := range data.DynamicFields {
		fields[k] = v
	}

	return &PhotoRecord{
		ProjectID:     strings.TrimSpace(data.ProjectID),
		ReportType:    reportType,
		Category:      ParseCategory(data.Category),
		Topic:         strings.TrimSpace(data.Topic),
		DynamicFields: fields,
		Filename:      sanitizeFilename(data.Filename),
		DriveURL:      data.DriveURL,
		FilePath:      data.FilePath,
		Location:      data.Location,
		Description:   data.Description,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

// IsQC reports whether the record takes part in projection and fan-out
func (r *PhotoRecord) IsQC() bool {
	return r.ReportType == ReportTypeQC && !r.Category.IsZero()
}

// sanitizeFilename removes path components and invalid characters
func sanitizeFilename(filename string) string {
	if strings.TrimSpace(filename) == "" {
		return ""
	}
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)

	return replacer.Replace(name)
}

// Errors
type PhotoError struct {
	Message string
}

func (e PhotoError) Error() string {
	return e.Message
}

var (
	ErrEmptyProjectID    = PhotoError{"project id is required"}
	ErrInvalidReportType = PhotoError{"report type must be QC or Daily"}
	ErrPathTraversal     = PhotoError{"path escapes storage root"}
	ErrInvalidExtension  = PhotoError{"file extension not allowed"}
	ErrFileTooLarge      = PhotoError{"file size exceeds maximum allowed"}
	ErrEmptyPath         = PhotoError{"storage path cannot be empty"}
)
