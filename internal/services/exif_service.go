package services

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sitephoto/server/internal/models"
)

// EXIFData holds the metadata the upload path cares about
type EXIFData struct {
	Latitude  *float64
	Longitude *float64
	DateTaken *time.Time
	// Orientation is the EXIF orientation tag, 0 when absent
	Orientation int
}

// Location returns the GPS position, or nil when the image carries none
func (d *EXIFData) Location() *models.Location {
	if d == nil || d.Latitude == nil || d.Longitude == nil {
		return nil
	}
	return &models.Location{Latitude: *d.Latitude, Longitude: *d.Longitude}
}

// EXIFService extracts EXIF metadata from images
type EXIFService struct{}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{}
}

// ExtractFromBytes extracts EXIF data from image bytes
func (s *EXIFService) ExtractFromBytes(data []byte) *EXIFData {
	return s.ExtractFromReader(bytes.NewReader(data))
}

// ExtractFromReader extracts EXIF data from an io.Reader. Images without
// EXIF yield empty data.
func (s *EXIFService) ExtractFromReader(r io.Reader) *EXIFData {
	x, err := exif.Decode(r)
	if err != nil {
		return &EXIFData{}
	}

	result := &EXIFData{}

	if tm, err := x.DateTime(); err == nil {
		result.DateTaken = &tm
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			result.Orientation = v
		}
	}

	if lat, lng, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(lng) {
		result.Latitude = &lat
		result.Longitude = &lng
	}

	return result
}

// FormatCoordinates formats lat/lng as a readable string
func FormatCoordinates(lat, lng float64) string {
	latDir := "N"
	if lat < 0 {
		latDir = "S"
		lat = math.Abs(lat)
	}
	lngDir := "E"
	if lng < 0 {
		lngDir = "W"
		lng = math.Abs(lng)
	}
	return fmt.Sprintf("%.6f°%s, %.6f°%s", lat, latDir, lng, lngDir)
}
