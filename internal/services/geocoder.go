package services

import "context"

// Geocoder resolves coordinates into a human readable address
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// CoordinateGeocoder "resolves" a position into its formatted coordinates.
// It is the fallback when no external geocoding service is configured.
type CoordinateGeocoder struct{}

func (CoordinateGeocoder) ReverseGeocode(_ context.Context, lat, lng float64) (string, error) {
	return FormatCoordinates(lat, lng), nil
}
