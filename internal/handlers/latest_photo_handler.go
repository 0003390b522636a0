package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/repository"
	"github.com/sitephoto/server/internal/services"
)

const (
	defaultLatestLimit = 50
	maxLatestLimit     = 500
)

// LatestPhotoHandler serves the latest-photo suggestions
type LatestPhotoHandler struct {
	projection *services.ProjectionService
}

// NewLatestPhotoHandler creates a new LatestPhotoHandler
func NewLatestPhotoHandler(projection *services.ProjectionService) *LatestPhotoHandler {
	return &LatestPhotoHandler{projection: projection}
}

// List returns the latest photo per business key for a project
// @Summary List latest photos
// @Description Most recent photo per QC business key, newest first
// @Tags latest-photos
// @Produce json
// @Param projectId path string true "Project ID"
// @Param category query string false "Category as \"Main > Sub\""
// @Param topic query string false "Topic"
// @Param limit query int false "Max results (default 50, max 500)"
// @Success 200 {object} models.LatestPhotoListResponse
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Router /api/projects/{projectId}/latest-photos [get]
func (h *LatestPhotoHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	query := r.URL.Query()

	limit := defaultLatestLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = min(parsed, maxLatestLimit)
	}

	photos, err := h.projection.ListLatest(r.Context(), projectID, repository.LatestPhotoFilter{
		Category: models.ParseCategory(query.Get("category")),
		Topic:    query.Get("topic"),
		Limit:    limit,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.LatestPhotoListResponse{
		Photos:     photos,
		TotalCount: len(photos),
	})
}

// Get returns the latest photo for one fingerprint
// @Summary Get latest photo by fingerprint
// @Tags latest-photos
// @Produce json
// @Param fingerprint path string true "SHA-256 fingerprint (64 hex characters)"
// @Success 200 {object} models.LatestPhoto
// @Failure 400 {object} models.ErrorResponse "Malformed fingerprint"
// @Failure 404 {object} models.ErrorResponse "Not found"
// @Router /api/latest-photos/{fingerprint} [get]
func (h *LatestPhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if !services.IsValidFingerprint(fingerprint) {
		respondError(w, http.StatusBadRequest, "Malformed fingerprint.")
		return
	}

	photo, err := h.projection.GetLatest(r.Context(), fingerprint)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, photo)
}
