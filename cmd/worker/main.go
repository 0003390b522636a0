package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitephoto/server/internal/config"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/queue"
	"github.com/sitephoto/server/internal/repository"
	"github.com/sitephoto/server/internal/services"
)

const serviceVersion = "1.0.0"

type subscriber interface {
	Run(ctx context.Context) error
}

func main() {
	log := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, telemetryConfig("sitephoto-worker", cfg.Telemetry))
	if err != nil {
		fatal("failed to initialize telemetry", err)
	}

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN())
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()

	ingestionMetrics, err := observability.NewIngestionMetrics()
	if err != nil {
		fatal("failed to create ingestion metrics", err)
	}

	builder := services.NewIngestionBuilder().
		WithDB(db).
		WithMetrics(ingestionMetrics)
	if cfg.Resilience.BreakerEnabled {
		builder = builder.WithGuard(services.NewBestEffortGuard(services.GuardConfig{
			Enabled:          true,
			MinRequests:      cfg.Resilience.BreakerMinRequests,
			FailureRatio:     cfg.Resilience.BreakerFailureRatio,
			OpenTimeout:      time.Duration(cfg.Resilience.BreakerOpenTimeoutSec) * time.Second,
			HalfOpenMaxCalls: cfg.Resilience.BreakerHalfOpenMaxCalls,
		}))
	}
	ingestion, err := builder.Build()
	if err != nil {
		fatal("failed to build ingestion service", err)
	}

	workerMetrics := observability.NewWorkerMetrics(cfg.Queue.Backend)
	handler := queue.NewMessageHandler(ingestion, workerMetrics)

	var sub subscriber
	switch cfg.Queue.Backend {
	case "nats":
		natsSub, err := queue.NewNATSSubscriber(cfg.Queue.NATSURL, cfg.Queue.NATSSubject, cfg.Queue.NATSQueueGroup, handler, queue.NATSOptions{})
		if err != nil {
			fatal("failed to connect to nats", err)
		}
		defer natsSub.Close()
		sub = natsSub
	case "pubsub":
		psSub, err := queue.NewPubSubSubscriber(ctx,
			cfg.Queue.PubSubProjectID,
			cfg.Queue.PubSubSubscription,
			cfg.Queue.PubSubCredentialsJSON,
			cfg.Queue.PubSubMaxOutstandingMsg,
			handler,
		)
		if err != nil {
			fatal("failed to create pubsub subscriber", err)
		}
		defer psSub.Close()
		sub = psSub
	default:
		fatal("unknown queue backend", errors.New(cfg.Queue.Backend))
	}

	metricsSrv := &http.Server{
		Addr:              cfg.Telemetry.WorkerMetricsAddress,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("worker metrics server failed")
		}
	}()

	log.WithFields(map[string]interface{}{
		"backend":         cfg.Queue.Backend,
		"metrics_address": cfg.Telemetry.WorkerMetricsAddress,
	}).Info("sitephoto worker starting")

	if err := sub.Run(ctx); err != nil {
		log.WithError(err).Error("subscriber stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}

	log.Info("worker stopped")
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
