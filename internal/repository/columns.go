package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sitephoto/server/internal/models"
)

func encodeFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal dynamic fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return map[string]string{}, nil
	}
	fields := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal dynamic fields: %w", err)
	}
	return fields, nil
}

// locationColumns holds the nullable columns a Location is spread over
type locationColumns struct {
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
	Address   sql.NullString
}

func locationArgs(loc *models.Location) (lat, lng, addr interface{}) {
	if loc == nil {
		return nil, nil, nil
	}
	if loc.Address != "" {
		addr = loc.Address
	}
	return loc.Latitude, loc.Longitude, addr
}

func (c locationColumns) location() *models.Location {
	if !c.Latitude.Valid && !c.Longitude.Valid && !c.Address.Valid {
		return nil
	}
	return &models.Location{
		Latitude:  c.Latitude.Float64,
		Longitude: c.Longitude.Float64,
		Address:   c.Address.String,
	}
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
