package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sitephoto/server/internal/models"
	"github.com/sitephoto/server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecordRepo struct {
	mu        sync.Mutex
	records   []*models.PhotoRecord
	insertErr error
}

func (f *fakeRecordRepo) Insert(_ context.Context, record *models.PhotoRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	record.ID = "rec-" + string(rune('a'+len(f.records)))
	f.records = append(f.records, record)
	return record.ID, nil
}

func (f *fakeRecordRepo) GetByID(_ context.Context, id string) (*models.PhotoRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRecordRepo) CountByProject(_ context.Context, projectID string) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

type fakeLatestRepo struct {
	merged   []*models.LatestPhoto
	mergeErr error
	panics   bool
}

func (f *fakeLatestRepo) Merge(_ context.Context, photo *models.LatestPhoto) error {
	if f.panics {
		panic("projection backend exploded")
	}
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, photo)
	return nil
}

func (f *fakeLatestRepo) GetByFingerprint(_ context.Context, fingerprint string) (*models.LatestPhoto, error) {
	for i := len(f.merged) - 1; i >= 0; i-- {
		if f.merged[i].Fingerprint == fingerprint {
			return f.merged[i], nil
		}
	}
	return nil, nil
}

func (f *fakeLatestRepo) ListByProject(context.Context, string, repository.LatestPhotoFilter) ([]*models.LatestPhoto, error) {
	return f.merged, nil
}

type fakeReportRepo struct {
	candidates  []*models.GeneratedReport
	findErr     error
	incErr      error
	findCalls   int
	incremented [][]string
	incAt       time.Time
}

func (f *fakeReportRepo) Create(context.Context, *models.GeneratedReport) error { return nil }

func (f *fakeReportRepo) GetByID(_ context.Context, id string) (*models.GeneratedReport, error) {
	for _, r := range f.candidates {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReportRepo) FindCandidates(_ context.Context, projectID string, category models.Category) ([]*models.GeneratedReport, error) {
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []*models.GeneratedReport
	for _, r := range f.candidates {
		if r.ProjectID == projectID && r.MainCategory == category.Main && r.SubCategory == category.Sub {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) IncrementNewPhotos(_ context.Context, ids []string, at time.Time) error {
	if f.incErr != nil {
		return f.incErr
	}
	f.incremented = append(f.incremented, ids)
	f.incAt = at
	return nil
}

type recordingNotifier struct {
	projectID string
	reportIDs []string
	calls     int
}

func (n *recordingNotifier) NotifyReportsUpdated(_ context.Context, projectID string, reportIDs []string) error {
	n.calls++
	n.projectID = projectID
	n.reportIDs = reportIDs
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type fakes struct {
	records  *fakeRecordRepo
	latest   *fakeLatestRepo
	reports  *fakeReportRepo
	notifier *recordingNotifier
}

func newFakeIngestion(t *testing.T, f fakes, guard *BestEffortGuard) *IngestionService {
	t.Helper()
	b := NewIngestionBuilder().
		WithRecordStore(f.records).
		WithProjectionStore(f.latest).
		WithReportStore(f.reports).
		WithGuard(guard).
		WithClock(func() time.Time { return fixedNow })
	if f.notifier != nil {
		b = b.WithNotifier(f.notifier)
	}
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func newFakes() fakes {
	return fakes{
		records:  &fakeRecordRepo{},
		latest:   &fakeLatestRepo{},
		reports:  &fakeReportRepo{},
		notifier: &recordingNotifier{},
	}
}

func qcPhoto() models.PhotoData {
	return models.PhotoData{
		ProjectID:     "P1",
		ReportType:    models.ReportTypeQC,
		Filename:      "c4.jpg",
		DriveURL:      "https://storage.example.com/c4.jpg",
		Category:      "Columns > Floor1",
		Topic:         "Rebar",
		DynamicFields: map[string]string{"floor": "1", "room": "A"},
	}
}

func report(id string, fields map[string]string) *models.GeneratedReport {
	return &models.GeneratedReport{
		ID:            id,
		ProjectID:     "P1",
		ReportType:    models.ReportTypeQC,
		MainCategory:  "Columns",
		SubCategory:   "Floor1",
		DynamicFields: fields,
	}
}

func TestIngestionService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("QC photo writes record, projection and counters", func(t *testing.T) {
		f := newFakes()
		f.reports.candidates = []*models.GeneratedReport{
			report("r1", map[string]string{"floor": "1"}),
			report("r2", nil),
			report("r3", map[string]string{"floor": "2"}),
		}
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "rec-a", result.RecordID)
		assert.Equal(t, models.StateDone, result.State)
		assert.True(t, result.ProjectionUpdated)
		assert.Equal(t, 2, result.ReportsNotified)
		assert.Equal(t, fixedNow, result.CreatedAt)
		assert.Equal(t, Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"floor": "1", "room": "A"}), result.Fingerprint)

		require.Len(t, f.latest.merged, 1)
		assert.Equal(t, result.Fingerprint, f.latest.merged[0].Fingerprint)
		assert.Equal(t, "rec-a", f.latest.merged[0].RecordID)

		require.Len(t, f.reports.incremented, 1)
		assert.Equal(t, []string{"r1", "r2"}, f.reports.incremented[0])
		assert.Equal(t, fixedNow, f.reports.incAt)

		assert.Equal(t, 1, f.notifier.calls)
		assert.Equal(t, "P1", f.notifier.projectID)
		assert.Equal(t, []string{"r1", "r2"}, f.notifier.reportIDs)
	})

	t.Run("blank project id is a validation error and writes nothing", func(t *testing.T) {
		f := newFakes()
		svc := newFakeIngestion(t, f, nil)

		data := qcPhoto()
		data.ProjectID = "  "
		result, err := svc.Ingest(ctx, data)

		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, models.IsKind(err, models.ErrValidation))
		assert.Empty(t, f.records.records)
		assert.Empty(t, f.latest.merged)
		assert.Equal(t, 0, f.reports.findCalls)
	})

	t.Run("primary store failure short-circuits", func(t *testing.T) {
		f := newFakes()
		f.records.insertErr = errors.New("disk full")
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())

		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, models.IsKind(err, models.ErrStorage))
		assert.Contains(t, err.Error(), "disk full")
		assert.Empty(t, f.latest.merged)
		assert.Equal(t, 0, f.reports.findCalls)
	})

	t.Run("daily photo skips projection and fan-out", func(t *testing.T) {
		f := newFakes()
		f.reports.candidates = []*models.GeneratedReport{report("r1", nil)}
		svc := newFakeIngestion(t, f, nil)

		data := qcPhoto()
		data.ReportType = models.ReportTypeDaily
		result, err := svc.Ingest(ctx, data)

		require.NoError(t, err)
		assert.Equal(t, models.StateDone, result.State)
		assert.Empty(t, result.Fingerprint)
		assert.False(t, result.ProjectionUpdated)
		assert.Len(t, f.records.records, 1)
		assert.Empty(t, f.latest.merged)
		assert.Equal(t, 0, f.reports.findCalls)
	})

	t.Run("QC photo without category skips projection and fan-out", func(t *testing.T) {
		f := newFakes()
		svc := newFakeIngestion(t, f, nil)

		data := qcPhoto()
		data.Category = ""
		result, err := svc.Ingest(ctx, data)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Empty(t, f.latest.merged)
		assert.Equal(t, 0, f.reports.findCalls)
	})

	t.Run("projection failure is swallowed and fan-out still runs", func(t *testing.T) {
		f := newFakes()
		f.latest.mergeErr = models.WrapError(models.ErrProjection, "merge latest photo", errors.New("timeout"))
		f.reports.candidates = []*models.GeneratedReport{report("r1", nil)}
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.False(t, result.ProjectionUpdated)
		assert.Equal(t, 1, result.ReportsNotified)
		assert.Len(t, f.records.records, 1)
	})

	t.Run("projection panic is contained", func(t *testing.T) {
		f := newFakes()
		f.latest.panics = true
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())

		require.NoError(t, err)
		assert.False(t, result.ProjectionUpdated)
		assert.Equal(t, models.StateDone, result.State)
	})

	t.Run("fan-out failure is swallowed", func(t *testing.T) {
		f := newFakes()
		f.reports.candidates = []*models.GeneratedReport{report("r1", nil)}
		f.reports.incErr = errors.New("deadlock")
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.True(t, result.ProjectionUpdated)
		assert.Equal(t, 0, result.ReportsNotified)
		assert.Equal(t, 0, f.notifier.calls)
	})

	t.Run("no matching report means no increment", func(t *testing.T) {
		f := newFakes()
		f.reports.candidates = []*models.GeneratedReport{report("r1", map[string]string{"floor": "9"})}
		svc := newFakeIngestion(t, f, nil)

		result, err := svc.Ingest(ctx, qcPhoto())

		require.NoError(t, err)
		assert.Equal(t, 0, result.ReportsNotified)
		assert.Empty(t, f.reports.incremented)
		assert.Equal(t, 0, f.notifier.calls)
	})

	t.Run("open breaker skips the step without failing", func(t *testing.T) {
		f := newFakes()
		f.latest.mergeErr = errors.New("down")
		guard := NewBestEffortGuard(GuardConfig{Enabled: true, MinRequests: 1, FailureRatio: 0.5, OpenTimeout: time.Minute})
		svc := newFakeIngestion(t, f, guard)

		_, err := svc.Ingest(ctx, qcPhoto())
		require.NoError(t, err)

		f.latest.mergeErr = nil
		result, err := svc.Ingest(ctx, qcPhoto())
		require.NoError(t, err)
		assert.False(t, result.ProjectionUpdated)
		assert.Empty(t, f.latest.merged)
		assert.Len(t, f.records.records, 2)
	})
}

func TestIngestionBuilder_Build(t *testing.T) {
	_, err := NewIngestionBuilder().Build()
	assert.Error(t, err)

	_, err = NewIngestionBuilder().WithRecordStore(&fakeRecordRepo{}).WithProjectionStore(&fakeLatestRepo{}).Build()
	assert.Error(t, err)

	svc, err := NewIngestionBuilder().
		WithRecordStore(&fakeRecordRepo{}).
		WithProjectionStore(&fakeLatestRepo{}).
		WithReportStore(&fakeReportRepo{}).
		Build()
	require.NoError(t, err)
	assert.NotNil(t, svc.Projection())
	assert.NotNil(t, svc.Notification())
}

func newSQLiteIngestion(t *testing.T, notifier ReportNotifier) (*IngestionService, *repository.DB) {
	t.Helper()

	db, err := repository.NewSQLiteDB(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := fixedNow
	b := NewIngestionBuilder().WithDB(db).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	if notifier != nil {
		b = b.WithNotifier(notifier)
	}
	svc, err := b.Build()
	require.NoError(t, err)
	return svc, db
}

func TestIngestionService_EndToEndSQLite(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, db := newSQLiteIngestion(t, notifier)
	reports := repository.NewReportRepository(db)

	columns := models.Category{Main: "Columns", Sub: "Floor1"}
	floor1 := models.NewGeneratedReport("P1", columns, map[string]string{"floor": "1"})
	open := models.NewGeneratedReport("P1", columns, nil)
	floor2 := models.NewGeneratedReport("P1", columns, map[string]string{"floor": "2"})
	beams := models.NewGeneratedReport("P1", models.Category{Main: "Beams", Sub: "Floor1"}, nil)
	for _, r := range []*models.GeneratedReport{floor1, open, floor2, beams} {
		require.NoError(t, reports.Create(ctx, r))
	}

	data := qcPhoto()
	data.DynamicFields = map[string]string{"floor": "1 ", "room": "a"}
	first, err := svc.Ingest(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"floor": "1", "room": "A"}), first.Fingerprint)
	assert.True(t, first.ProjectionUpdated)
	assert.Equal(t, 2, first.ReportsNotified)
	assert.ElementsMatch(t, []string{floor1.ID, open.ID}, notifier.reportIDs)

	counts := func() map[string]int64 {
		out := map[string]int64{}
		for _, r := range []*models.GeneratedReport{floor1, open, floor2, beams} {
			got, err := reports.GetByID(ctx, r.ID)
			require.NoError(t, err)
			out[r.ID] = got.NewPhotosCount
		}
		return out
	}
	assert.Equal(t, map[string]int64{floor1.ID: 1, open.ID: 1, floor2.ID: 0, beams.ID: 0}, counts())

	t.Run("second photo for the same key replaces the projection", func(t *testing.T) {
		again := qcPhoto()
		again.DriveURL = "https://storage.example.com/c4-retake.jpg"
		second, err := svc.Ingest(ctx, again)
		require.NoError(t, err)

		assert.Equal(t, first.Fingerprint, second.Fingerprint)
		assert.NotEqual(t, first.RecordID, second.RecordID)
		assert.True(t, second.CreatedAt.After(first.CreatedAt))

		latest, err := svc.Projection().GetLatest(ctx, first.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, second.RecordID, latest.RecordID)
		assert.Equal(t, again.DriveURL, latest.DriveURL)

		photos, err := svc.Projection().ListLatest(ctx, "P1", repository.LatestPhotoFilter{})
		require.NoError(t, err)
		assert.Len(t, photos, 1)

		n, err := svc.Records().CountByProject(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		assert.Equal(t, map[string]int64{floor1.ID: 2, open.ID: 2, floor2.ID: 0, beams.ID: 0}, counts())
	})

	t.Run("daily photo only adds a primary record", func(t *testing.T) {
		daily := qcPhoto()
		daily.ReportType = models.ReportTypeDaily
		_, err := svc.Ingest(ctx, daily)
		require.NoError(t, err)

		n, err := svc.Records().CountByProject(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, map[string]int64{floor1.ID: 2, open.ID: 2, floor2.ID: 0, beams.ID: 0}, counts())
	})

	t.Run("reports are looked up per project", func(t *testing.T) {
		got, err := svc.Notification().GetReport(ctx, "P1", floor1.ID)
		require.NoError(t, err)
		assert.True(t, got.HasNewPhotos)

		_, err = svc.Notification().GetReport(ctx, "P2", floor1.ID)
		assert.True(t, models.IsKind(err, models.ErrNotFound))
	})
}

// cancelAfterInsert drops the caller's context as soon as the primary record
// is written, like a client disconnecting mid-request.
type cancelAfterInsert struct {
	repository.PhotoRecordRepo
	cancel context.CancelFunc
}

func (c *cancelAfterInsert) Insert(ctx context.Context, record *models.PhotoRecord) (string, error) {
	id, err := c.PhotoRecordRepo.Insert(ctx, record)
	c.cancel()
	return id, err
}

func TestIngestionService_CallerCancelledAfterPrimaryWrite(t *testing.T) {
	db, err := repository.NewSQLiteDB(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reports := repository.NewReportRepository(db)
	open := models.NewGeneratedReport("P1", models.Category{Main: "Columns", Sub: "Floor1"}, nil)
	require.NoError(t, reports.Create(context.Background(), open))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewIngestionBuilder().
		WithDB(db).
		WithRecordStore(&cancelAfterInsert{PhotoRecordRepo: repository.NewPhotoRecordRepository(db), cancel: cancel}).
		WithClock(func() time.Time { return fixedNow }).
		Build()
	require.NoError(t, err)

	result, err := svc.Ingest(ctx, qcPhoto())
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.True(t, result.ProjectionUpdated)
	assert.Equal(t, 1, result.ReportsNotified)

	latest, err := svc.Projection().GetLatest(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, result.RecordID, latest.RecordID)

	got, err := reports.GetByID(context.Background(), open.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NewPhotosCount)
}

func TestIngestionService_ConcurrentSameFingerprint(t *testing.T) {
	const workers = 20

	for _, driver := range []string{"sqlite", "sqlite3"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			db, err := repository.NewSQLiteDB(ctx, driver, filepath.Join(t.TempDir(), "ingest.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })

			reports := repository.NewReportRepository(db)
			open := models.NewGeneratedReport("P1", models.Category{Main: "Columns", Sub: "Floor1"}, nil)
			require.NoError(t, reports.Create(ctx, open))

			svc, err := NewIngestionBuilder().WithDB(db).Build()
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				recordIDs = map[string]bool{}
				failures  []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					data := qcPhoto()
					data.DriveURL = fmt.Sprintf("https://storage.example.com/c4-%02d.jpg", i)

					result, err := svc.Ingest(ctx, data)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err != nil:
						failures = append(failures, err)
					case !result.ProjectionUpdated || result.ReportsNotified != 1:
						failures = append(failures, fmt.Errorf("photo %d: projection=%v notified=%d", i, result.ProjectionUpdated, result.ReportsNotified))
					default:
						recordIDs[result.RecordID] = true
					}
				}(i)
			}
			wg.Wait()

			require.Empty(t, failures)
			assert.Len(t, recordIDs, workers)

			photos, err := svc.Projection().ListLatest(ctx, "P1", repository.LatestPhotoFilter{})
			require.NoError(t, err)
			require.Len(t, photos, 1)
			assert.True(t, recordIDs[photos[0].RecordID])

			got, err := reports.GetByID(ctx, open.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(workers), got.NewPhotosCount)

			n, err := svc.Records().CountByProject(ctx, "P1")
			require.NoError(t, err)
			assert.Equal(t, workers, n)
		})
	}
}
