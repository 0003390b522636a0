package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/repository"
	"github.com/sitephoto/server/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goldenFingerprint = "231cde69d8d25278ce483378e2a034ccc9f8730e4b92dd8b41048c649192405a"

type testServer struct {
	router  chi.Router
	db      *repository.DB
	photos  *PhotoHandler
	storage string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := repository.NewSQLiteDB(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ingestion, err := services.NewIngestionBuilder().WithDB(db).Build()
	require.NoError(t, err)

	folders := services.NewMemoryPathCache(time.Minute)
	t.Cleanup(folders.Close)

	storage := t.TempDir()
	blobs, err := services.NewLocalBlobStore(storage, "http://localhost:8080/files", services.NewBlobLimits(nil, 10), folders)
	require.NoError(t, err)

	photos := NewPhotoHandler(ingestion, blobs, services.NewEXIFService(), services.NewThumbnailService(64, 80), nil, 10)
	photos.now = func() time.Time { return time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) }
	latest := NewLatestPhotoHandler(ingestion.Projection())
	reports := NewReportHandler(ingestion.Notification())

	r := chi.NewRouter()
	r.Get("/api/health", NewHealthHandler(db).HealthCheck)
	r.Post("/api/photos/upload", photos.Upload)
	r.Post("/api/photos/ingest", photos.Ingest)
	r.Get("/api/photos/{id}", photos.GetPhoto)
	r.Get("/api/projects/{projectId}/latest-photos", latest.List)
	r.Get("/api/projects/{projectId}/reports/{reportId}", reports.Get)
	r.Get("/api/latest-photos/{fingerprint}", latest.Get)

	return &testServer{router: r, db: db, photos: photos, storage: storage}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) ingestJSON(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/photos/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func (s *testServer) createReport(t *testing.T, projectID string, category models.Category, fields map[string]string) *models.GeneratedReport {
	t.Helper()
	report := models.NewGeneratedReport(projectID, category, fields)
	require.NoError(t, repository.NewReportRepository(s.db).Create(context.Background(), report))
	return report
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/photos/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const qcPhotoJSON = `{
	"projectId": "P1",
	"reportType": "qc",
	"filename": "rebar.jpg",
	"category": "Columns > Floor1",
	"topic": "Rebar",
	"dynamicFields": {"floor": "1", "room": "A"}
}`

func TestPhotoHandler_Ingest(t *testing.T) {
	t.Run("QC photo updates projection and report counters", func(t *testing.T) {
		s := newTestServer(t)
		matching := s.createReport(t, "P1", models.Category{Main: "Columns", Sub: "Floor1"}, map[string]string{"floor": " 1 "})
		other := s.createReport(t, "P1", models.Category{Main: "Columns", Sub: "Floor1"}, map[string]string{"floor": "2"})

		rec := s.ingestJSON(t, qcPhotoJSON)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		result := decode[models.IngestResult](t, rec)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.RecordID)
		assert.Equal(t, goldenFingerprint, result.Fingerprint)
		assert.True(t, result.ProjectionUpdated)
		assert.Equal(t, 1, result.ReportsNotified)
		assert.Equal(t, models.StateDone, result.State)

		rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/latest-photos/"+goldenFingerprint, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		latest := decode[models.LatestPhoto](t, rec)
		assert.Equal(t, result.RecordID, latest.RecordID)
		assert.Equal(t, "Rebar", latest.Topic)

		rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P1/reports/"+matching.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		report := decode[models.GeneratedReport](t, rec)
		assert.Equal(t, int64(1), report.NewPhotosCount)
		assert.True(t, report.HasNewPhotos)

		rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P1/reports/"+other.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(0), decode[models.GeneratedReport](t, rec).NewPhotosCount)

		rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/"+result.RecordID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "P1", decode[models.PhotoRecord](t, rec).ProjectID)
	})

	t.Run("Daily photo is recorded without fingerprint", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.ingestJSON(t, `{"projectId":"P1","reportType":"Daily","filename":"site.jpg","category":"Columns > Floor1"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		result := decode[models.IngestResult](t, rec)
		assert.Empty(t, result.Fingerprint)
		assert.False(t, result.ProjectionUpdated)
		assert.Equal(t, 0, result.ReportsNotified)
	})

	t.Run("missing project id reports the field", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.ingestJSON(t, `{"filename":"a.jpg"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "required", decode[models.ErrorResponse](t, rec).Fields["projectId"])
	})

	t.Run("out of range latitude is rejected", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.ingestJSON(t, `{"projectId":"P1","location":{"lat":91,"lng":0}}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "lte", decode[models.ErrorResponse](t, rec).Fields["lat"])
	})

	t.Run("unknown report type is rejected", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.ingestJSON(t, `{"projectId":"P1","reportType":"Weekly"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.ingestJSON(t, `{"projectId":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPhotoHandler_Upload(t *testing.T) {
	t.Run("stores the file and ingests it", func(t *testing.T) {
		s := newTestServer(t)

		req := multipartUpload(t, "rebar.jpg", []byte("not really a jpeg"), map[string]string{
			"projectId":     "P1",
			"category":      "Columns > Floor1",
			"topic":         "Rebar",
			"dynamicFields": `{"floor":"1","room":"A"}`,
			"lat":           "-33.8688",
			"lng":           "151.2093",
		})
		rec := s.do(t, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		result := decode[models.UploadResult](t, rec)
		assert.Equal(t, "P1/QC/Columns/Floor1/2026/03/rebar.jpg", result.FilePath)
		assert.Equal(t, "http://localhost:8080/files/P1/QC/Columns/Floor1/2026/03/rebar.jpg", result.DriveURL)
		assert.Equal(t, goldenFingerprint, result.Fingerprint)
		assert.Empty(t, result.ThumbnailURL)

		stored, err := os.ReadFile(filepath.Join(s.storage, "P1", "QC", "Columns", "Floor1", "2026", "03", "rebar.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "not really a jpeg", string(stored))

		rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/"+result.RecordID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		record := decode[models.PhotoRecord](t, rec)
		require.NotNil(t, record.Location)
		assert.InDelta(t, -33.8688, record.Location.Latitude, 1e-9)
		assert.Equal(t, result.DriveURL, record.DriveURL)
	})

	t.Run("decodable image gets a thumbnail", func(t *testing.T) {
		s := newTestServer(t)

		img := image.NewRGBA(image.Rect(0, 0, 128, 64))
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))

		rec := s.do(t, multipartUpload(t, "plan.png", buf.Bytes(), map[string]string{"projectId": "P1", "reportType": "Daily"}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		result := decode[models.UploadResult](t, rec)
		assert.Equal(t, "http://localhost:8080/files/thumbs/P1/Daily/2026/03/plan.jpg", result.ThumbnailURL)
		assert.FileExists(t, filepath.Join(s.storage, "thumbs", "P1", "Daily", "2026", "03", "plan.jpg"))
	})

	t.Run("second upload of the same name is renamed", func(t *testing.T) {
		s := newTestServer(t)
		fields := map[string]string{"projectId": "P1", "reportType": "Daily"}

		first := s.do(t, multipartUpload(t, "site.jpg", []byte("a"), fields))
		require.Equal(t, http.StatusCreated, first.Code)
		second := s.do(t, multipartUpload(t, "site.jpg", []byte("b"), fields))
		require.Equal(t, http.StatusCreated, second.Code)

		assert.Equal(t, "http://localhost:8080/files/P1/Daily/2026/03/site.jpg", decode[models.UploadResult](t, first).DriveURL)
		assert.Equal(t, "http://localhost:8080/files/P1/Daily/2026/03/site_001.jpg", decode[models.UploadResult](t, second).DriveURL)
	})

	t.Run("disallowed extension", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, multipartUpload(t, "notes.txt", []byte("hello"), map[string]string{"projectId": "P1"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, models.ErrInvalidExtension.Error(), decode[models.ErrorResponse](t, rec).Error)
	})

	t.Run("unknown report type stores nothing", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, multipartUpload(t, "site.jpg", []byte("a"), map[string]string{"projectId": "P1", "reportType": "Weekly"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, models.ErrInvalidReportType.Error(), decode[models.ErrorResponse](t, rec).Error)

		entries, err := os.ReadDir(s.storage)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("missing file", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, multipartUpload(t, "", nil, map[string]string{"projectId": "P1"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad dynamic fields", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, multipartUpload(t, "a.jpg", []byte("x"), map[string]string{
			"projectId":     "P1",
			"dynamicFields": `["floor"]`,
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("only one coordinate", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, multipartUpload(t, "a.jpg", []byte("x"), map[string]string{
			"projectId": "P1",
			"lat":       "10",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPhotoHandler_GetPhotoNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/photos/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestObjectPath(t *testing.T) {
	at := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data models.PhotoData
		want string
	}{
		{
			name: "QC with category",
			data: models.PhotoData{ProjectID: "P1", Category: "Columns > Floor1", Filename: "a.jpg"},
			want: "P1/QC/Columns/Floor1/2025/11/a.jpg",
		},
		{
			name: "Daily without category",
			data: models.PhotoData{ProjectID: "P1", ReportType: "daily", Filename: "a.jpg"},
			want: "P1/Daily/2025/11/a.jpg",
		},
		{
			name: "unsafe segments are cleaned",
			data: models.PhotoData{ProjectID: "../P1", Category: "A:B > C", Filename: "x?.jpg"},
			want: "P1/QC/A_B/C/2025/11/x_.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectPath(tt.data, at))
		})
	}
}

func TestLatestPhotoHandler(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.ingestJSON(t, qcPhotoJSON).Code)
	require.Equal(t, http.StatusCreated, s.ingestJSON(t,
		`{"projectId":"P1","filename":"b.jpg","category":"Beams > Roof","topic":"Welds"}`).Code)

	t.Run("lists project suggestions", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P1/latest-photos", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[models.LatestPhotoListResponse](t, rec).TotalCount)
	})

	t.Run("filters by category", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P1/latest-photos?category=Beams+%3E+Roof", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.LatestPhotoListResponse](t, rec)
		require.Len(t, resp.Photos, 1)
		assert.Equal(t, "Welds", resp.Photos[0].Topic)
	})

	t.Run("empty project yields an empty list", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P2/latest-photos", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"photos":[],"totalCount":0}`, rec.Body.String())
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P1/latest-photos?limit=-1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed fingerprint", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/latest-photos/not-a-hash", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fingerprint", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/latest-photos/"+strings.Repeat("0", 64), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReportHandler_OtherProjectIsNotFound(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t, "P1", models.Category{Main: "Columns", Sub: "Floor1"}, nil)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/P2/reports/"+report.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode[models.HealthResponse](t, rec).Status)
	})

	t.Run("database down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(failingPinger{}).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decode[models.HealthResponse](t, rec).Status)
	})
}

func TestTopicFromPayload(t *testing.T) {
	assert.Equal(t, "project:P1", topicFromPayload("project:P1"))
	assert.Equal(t, "project:P1", topicFromPayload(map[string]interface{}{"topic": "project:P1"}))
	assert.Equal(t, "project:P2", topicFromPayload(map[string]interface{}{"projectId": "P2"}))
	assert.Empty(t, topicFromPayload(map[string]interface{}{"other": 1}))
	assert.Empty(t, topicFromPayload(42.0))
}

func TestWebSocketHandler(t *testing.T) {
	hub := services.NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(hub).HandleConnection))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?projectId=P1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.GetTopicSubscriberCount(services.ProjectTopic("P1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	readMessage := func(t *testing.T) services.WSMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg services.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	t.Run("receives report counter updates", func(t *testing.T) {
		require.NoError(t, hub.NotifyReportsUpdated(ctx, "P1", []string{"r1", "r2"}))

		msg := readMessage(t)
		assert.Equal(t, services.WSTypeReportCountersUpdated, msg.Type)
		payload, ok := msg.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "P1", payload["projectId"])
		assert.Equal(t, []interface{}{"r1", "r2"}, payload["reportIds"])
	})

	t.Run("answers ping", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(services.WSMessage{Type: services.WSTypePing}))
		assert.Equal(t, services.WSTypePong, readMessage(t).Type)
	})

	t.Run("reports unknown message types", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "dance"}))
		assert.Equal(t, services.WSTypeError, readMessage(t).Type)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(services.WSMessage{Type: services.WSTypeUnsubscribe, Payload: map[string]string{"projectId": "P1"}}))

		require.Eventually(t, func() bool {
			return hub.GetTopicSubscriberCount(services.ProjectTopic("P1")) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}
