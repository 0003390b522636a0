package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sitephoto/server/internal/config"
	"github.com/sitephoto/server/internal/handlers"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/repository"
	"github.com/sitephoto/server/internal/services"
)

const serviceVersion = "1.0.0"

func main() {
	log := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, telemetryConfig("sitephoto-server", cfg.Telemetry))
	if err != nil {
		fatal("failed to initialize telemetry", err)
	}

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN())
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()
	log.WithFields(map[string]interface{}{
		"driver":  cfg.DatabaseDriver,
		"dialect": string(db.Dialect),
	}).Info("database ready")

	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	ingestionMetrics, err := observability.NewIngestionMetrics()
	if err != nil {
		fatal("failed to create ingestion metrics", err)
	}

	builder := services.NewIngestionBuilder().
		WithDB(db).
		WithNotifier(hub).
		WithMetrics(ingestionMetrics)
	if cfg.Resilience.BreakerEnabled {
		builder = builder.WithGuard(services.NewBestEffortGuard(guardConfig(cfg.Resilience)))
	}
	ingestion, err := builder.Build()
	if err != nil {
		fatal("failed to build ingestion service", err)
	}

	blobs, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		fatal("failed to initialize blob storage", err)
	}
	defer closeBlobs()

	photoHandler := handlers.NewPhotoHandler(
		ingestion,
		blobs,
		services.NewEXIFService(),
		services.NewThumbnailService(0, 0),
		services.CoordinateGeocoder{},
		cfg.PhotoStorage.MaxFileSizeMB,
	)
	latestHandler := handlers.NewLatestPhotoHandler(ingestion.Projection())
	reportHandler := handlers.NewReportHandler(ingestion.Notification())
	wsHandler := handlers.NewWebSocketHandler(hub)
	healthHandler := handlers.NewHealthHandler(db)

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		fatal("failed to create http metrics", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware("sitephoto-server"))
	r.Use(observability.MetricsMiddleware(httpMetrics))

	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/photos", func(r chi.Router) {
		r.Post("/upload", photoHandler.Upload)
		r.Post("/ingest", photoHandler.Ingest)
		r.Get("/{id}", photoHandler.GetPhoto)
	})

	r.Route("/api/projects/{projectId}", func(r chi.Router) {
		r.Get("/latest-photos", latestHandler.List)
		r.Get("/reports/{reportId}", reportHandler.Get)
	})
	r.Get("/api/latest-photos/{fingerprint}", latestHandler.Get)

	if local, ok := blobs.(*services.LocalBlobStore); ok {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(local.BasePath()))))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"address":     cfg.ServerAddress,
			"gcs":         cfg.UseGCS(),
			"max_file_mb": cfg.PhotoStorage.MaxFileSizeMB,
		}).Info("sitephoto server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}

	log.Info("server stopped")
}

// newBlobStore picks GCS when a bucket is configured, else the local
// directory with a memory or Redis folder cache
func newBlobStore(ctx context.Context, cfg *config.Config) (services.BlobStore, func(), error) {
	limits := services.NewBlobLimits(cfg.PhotoStorage.AllowedExtensions, cfg.PhotoStorage.MaxFileSizeMB)

	if cfg.UseGCS() {
		store, err := services.NewGCSBlobStore(ctx,
			cfg.PhotoStorage.GCSBucket,
			cfg.PhotoStorage.GCSCredentialsJSON,
			cfg.PhotoStorage.GCSPublicBaseURL,
			limits,
		)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	var (
		folders services.PathCache
		closer  func()
	)
	if cfg.UseRedis() {
		client, err := services.ConnectRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		folders = services.NewRedisPathCache(client, cfg.Cache.TTL())
		closer = func() { client.Close() }
	} else {
		memory := services.NewMemoryPathCache(cfg.Cache.TTL())
		folders = memory
		closer = memory.Close
	}

	publicBaseURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/files"
	store, err := services.NewLocalBlobStore(cfg.PhotoStorage.BasePath, publicBaseURL, limits, folders)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return store, closer, nil
}

func guardConfig(r config.Resilience) services.GuardConfig {
	return services.GuardConfig{
		Enabled:          r.BreakerEnabled,
		MinRequests:      r.BreakerMinRequests,
		FailureRatio:     r.BreakerFailureRatio,
		OpenTimeout:      time.Duration(r.BreakerOpenTimeoutSec) * time.Second,
		HalfOpenMaxCalls: r.BreakerHalfOpenMaxCalls,
	}
}

func telemetryConfig(service string, t config.Telemetry) observability.TelemetryConfig {
	return observability.TelemetryConfig{
		ServiceName:    service,
		ServiceVersion: serviceVersion,
		Environment:    t.Environment,
		Enabled:        t.OTLPEnabled,
		Endpoint:       t.OTLPEndpoint,
		Insecure:       t.OTLPInsecure,
		SampleRatio:    t.TraceSampleRatio,
		MetricInterval: t.MetricInterval(),
	}
}

func fatal(msg string, err error) {
	observability.GetLogger().WithError(err).Error(msg)
	os.Exit(1)
}
