package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/services"
)

// PhotoHandler handles photo upload and ingestion endpoints
type PhotoHandler struct {
	ingestion      *services.IngestionService
	blobs          services.BlobStore
	exifService    *services.EXIFService
	thumbnails     *services.ThumbnailService
	geocoder       services.Geocoder
	maxUploadBytes int64
	now            func() time.Time
}

// NewPhotoHandler creates a new PhotoHandler. thumbnails and geocoder may be nil.
func NewPhotoHandler(
	ingestion *services.IngestionService,
	blobs services.BlobStore,
	exifService *services.EXIFService,
	thumbnails *services.ThumbnailService,
	geocoder services.Geocoder,
	maxUploadMB int64,
) *PhotoHandler {
	return &PhotoHandler{
		ingestion:      ingestion,
		blobs:          blobs,
		exifService:    exifService,
		thumbnails:     thumbnails,
		geocoder:       geocoder,
		maxUploadBytes: maxUploadMB << 20,
		now:            time.Now,
	}
}

// Upload stores the binary and ingests the photo
// @Summary Upload a photo
// @Description Stores the file, then records it and updates the latest-photo view and report counters
// @Tags photos
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Photo file to upload"
// @Param projectId formData string true "Project ID"
// @Param reportType formData string false "QC (default) or Daily"
// @Param category formData string false "Category as \"Main > Sub\""
// @Param topic formData string false "QC topic"
// @Param dynamicFields formData string false "JSON object of string fields"
// @Param description formData string false "Free text description"
// @Param lat formData number false "Latitude (taken from EXIF when omitted)"
// @Param lng formData number false "Longitude (taken from EXIF when omitted)"
// @Success 201 {object} models.UploadResult
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 503 {object} models.ErrorResponse "Storage unavailable"
// @Router /api/photos/upload [post]
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Request must be multipart/form-data.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided or file is empty.")
		return
	}
	defer file.Close()

	data, err := photoDataFromForm(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if data.Filename == "" {
		data.Filename = header.Filename
	}
	if err := validate.Struct(data); err != nil {
		respondValidationError(w, err)
		return
	}
	if _, err := data.ResolveReportType(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read file.")
		return
	}
	if len(content) == 0 {
		respondError(w, http.StatusBadRequest, "No file provided or file is empty.")
		return
	}

	exifData := h.exifService.ExtractFromBytes(content)
	if data.Location == nil {
		data.Location = exifData.Location()
	}
	h.resolveAddress(r, data.Location)

	takenAt := h.now().UTC()
	if exifData.DateTaken != nil {
		takenAt = exifData.DateTaken.UTC()
	}

	objectPath := ObjectPath(data, takenAt)
	url, err := h.blobs.Put(r.Context(), content, objectPath)
	if err != nil {
		var photoErr models.PhotoError
		if errors.As(err, &photoErr) {
			respondError(w, http.StatusBadRequest, photoErr.Error())
			return
		}
		observability.WithContext(r.Context()).WithError(err).Error("blob upload failed")
		respondError(w, http.StatusServiceUnavailable, "Blob storage is temporarily unavailable.")
		return
	}
	data.DriveURL = url
	data.FilePath = objectPath

	result, err := h.ingestion.Ingest(r.Context(), data)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.UploadResult{
		IngestResult: *result,
		DriveURL:     url,
		FilePath:     objectPath,
		ThumbnailURL: h.storeThumbnail(r, content, objectPath, exifData.Orientation),
	})
}

// Ingest records a photo whose binary is already stored
// @Summary Ingest photo metadata
// @Tags photos
// @Accept json
// @Produce json
// @Param photo body models.PhotoData true "Photo metadata"
// @Success 201 {object} models.IngestResult
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 503 {object} models.ErrorResponse "Storage unavailable"
// @Router /api/photos/ingest [post]
func (h *PhotoHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var data models.PhotoData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if err := validate.Struct(data); err != nil {
		respondValidationError(w, err)
		return
	}
	h.resolveAddress(r, data.Location)

	result, err := h.ingestion.Ingest(r.Context(), data)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// GetPhoto returns a primary photo record
// @Summary Get photo record
// @Tags photos
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} models.PhotoRecord
// @Failure 404 {object} models.ErrorResponse "Not found"
// @Router /api/photos/{id} [get]
func (h *PhotoHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	record, err := h.ingestion.Records().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "Photo not found.")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// storeThumbnail renders and stores a preview. Failures only cost the
// preview, the photo itself is already recorded.
func (h *PhotoHandler) storeThumbnail(r *http.Request, content []byte, objectPath string, orientation int) string {
	if h.thumbnails == nil {
		return ""
	}
	thumb, err := h.thumbnails.Generate(content, objectPath, orientation)
	if err != nil {
		observability.WithContext(r.Context()).WithError(err).Debug("no thumbnail for upload")
		return ""
	}
	url, err := h.blobs.Put(r.Context(), thumb, services.ThumbnailPath(objectPath))
	if err != nil {
		observability.WithContext(r.Context()).WithError(err).Warn("thumbnail upload failed")
		return ""
	}
	return url
}

func (h *PhotoHandler) resolveAddress(r *http.Request, loc *models.Location) {
	if h.geocoder == nil || loc == nil || loc.Address != "" {
		return
	}
	addr, err := h.geocoder.ReverseGeocode(r.Context(), loc.Latitude, loc.Longitude)
	if err != nil {
		observability.WithContext(r.Context()).WithError(err).Warn("reverse geocoding failed")
		return
	}
	loc.Address = addr
}

// ObjectPath is where an uploaded photo is stored:
// {project}/{reportType}/{main}/{sub}/{yyyy}/{mm}/{filename}
func ObjectPath(data models.PhotoData, takenAt time.Time) string {
	reportType, err := data.ResolveReportType()
	if err != nil {
		reportType = models.ReportTypeQC
	}
	category := models.ParseCategory(data.Category)

	return path.Join(
		services.CleanObjectPath(data.ProjectID),
		string(reportType),
		services.CleanObjectPath(category.Main),
		services.CleanObjectPath(category.Sub),
		takenAt.Format("2006"),
		takenAt.Format("01"),
		services.CleanObjectPath(data.Filename),
	)
}

func photoDataFromForm(r *http.Request) (models.PhotoData, error) {
	data := models.PhotoData{
		ProjectID:  strings.TrimSpace(r.FormValue("projectId")),
		ReportType: models.ReportType(strings.TrimSpace(r.FormValue("reportType"))),
		Filename:   r.FormValue("filename"),
		Category:   r.FormValue("category"),
		Topic:      r.FormValue("topic"),
	}

	if desc := r.FormValue("description"); desc != "" {
		data.Description = &desc
	}

	if raw := strings.TrimSpace(r.FormValue("dynamicFields")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.DynamicFields); err != nil {
			return data, errors.New("dynamicFields must be a JSON object of strings")
		}
	}

	latStr, lngStr := r.FormValue("lat"), r.FormValue("lng")
	if latStr != "" || lngStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			return data, errors.New("lat and lng must both be numbers")
		}
		data.Location = &models.Location{
			Latitude:  lat,
			Longitude: lng,
			Address:   r.FormValue("address"),
		}
	}

	return data, nil
}
