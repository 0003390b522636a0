package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sitephoto/server/internal/services"
)

// ReportHandler exposes the new-photo counters of generated reports
type ReportHandler struct {
	notification *services.NotificationService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(notification *services.NotificationService) *ReportHandler {
	return &ReportHandler{notification: notification}
}

// Get returns a generated report with its counters
// @Summary Get report counters
// @Tags reports
// @Produce json
// @Param projectId path string true "Project ID"
// @Param reportId path string true "Report ID"
// @Success 200 {object} models.GeneratedReport
// @Failure 404 {object} models.ErrorResponse "Not found"
// @Router /api/projects/{projectId}/reports/{reportId} [get]
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.notification.GetReport(r.Context(), chi.URLParam(r, "projectId"), chi.URLParam(r, "reportId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
