package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report field names the way clients send them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFields flattens validator errors into field -> failed tag
func validationFields(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	fields := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		fields[ve.Field()] = ve.Tag()
	}
	return fields
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

func respondValidationError(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, models.ErrorResponse{
		Error:  "Invalid request.",
		Fields: validationFields(err),
	})
}

// respondServiceError maps error kinds onto HTTP statuses
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case models.IsKind(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case models.IsKind(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found.")
	case models.IsKind(err, models.ErrStorage):
		observability.WithContext(r.Context()).WithError(err).Error("storage unavailable")
		respondError(w, http.StatusServiceUnavailable, "Storage is temporarily unavailable.")
	default:
		observability.WithContext(r.Context()).WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "Server error.")
	}
}
