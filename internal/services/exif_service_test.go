package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEXIFService_ExtractFromBytes(t *testing.T) {
	svc := NewEXIFService()

	t.Run("image without exif yields empty data", func(t *testing.T) {
		data := svc.ExtractFromBytes([]byte("not an image"))
		require.NotNil(t, data)
		assert.Nil(t, data.Location())
		assert.Nil(t, data.DateTaken)
	})

	t.Run("location requires both coordinates", func(t *testing.T) {
		lat := 13.75
		data := &EXIFData{Latitude: &lat}
		assert.Nil(t, data.Location())

		lng := 100.5
		data.Longitude = &lng
		loc := data.Location()
		require.NotNil(t, loc)
		assert.Equal(t, 13.75, loc.Latitude)
		assert.Equal(t, 100.5, loc.Longitude)
	})
}

func TestCoordinateGeocoder(t *testing.T) {
	addr, err := CoordinateGeocoder{}.ReverseGeocode(context.Background(), -33.8688, 151.2093)
	require.NoError(t, err)
	assert.Equal(t, "33.868800°S, 151.209300°E", addr)
}
