package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress  string     `json:"serverAddress"`
	PublicBaseURL  string     `json:"publicBaseUrl"`
	DatabaseDriver string     `json:"databaseDriver"`
	DatabasePath   string     `json:"databasePath"`
	DatabaseURL    string     `json:"databaseUrl"`
	PhotoStorage   Storage    `json:"photoStorage"`
	Cache          Cache      `json:"cache"`
	Queue          Queue      `json:"queue"`
	Resilience     Resilience `json:"resilience"`
	Telemetry      Telemetry  `json:"telemetry"`
}

// Storage configures where photo binaries go. A non-empty GCSBucket selects
// Google Cloud Storage over the local directory.
type Storage struct {
	BasePath           string   `json:"basePath"`
	MaxFileSizeMB      int64    `json:"maxFileSizeMB"`
	AllowedExtensions  []string `json:"allowedExtensions"`
	GCSBucket          string   `json:"gcsBucket"`
	GCSPublicBaseURL   string   `json:"gcsPublicBaseUrl"`
	GCSCredentialsJSON string   `json:"-"`
}

// Cache configures the storage folder cache
type Cache struct {
	TTLSeconds    int    `json:"ttlSeconds"`
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`
}

// TTL returns the cache entry lifetime
func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Queue configures the worker's message source
type Queue struct {
	Backend                 string `json:"backend"`
	NATSURL                 string `json:"natsUrl"`
	NATSSubject             string `json:"natsSubject"`
	NATSQueueGroup          string `json:"natsQueueGroup"`
	PubSubProjectID         string `json:"pubsubProjectId"`
	PubSubSubscription      string `json:"pubsubSubscription"`
	PubSubCredentialsJSON   string `json:"-"`
	PubSubMaxOutstandingMsg int    `json:"pubsubMaxOutstanding"`
}

// Resilience configures the breaker around best-effort steps
type Resilience struct {
	BreakerEnabled          bool    `json:"breakerEnabled"`
	BreakerMinRequests      uint32  `json:"breakerMinRequests"`
	BreakerFailureRatio     float64 `json:"breakerFailureRatio"`
	BreakerOpenTimeoutSec   int     `json:"breakerOpenTimeoutSec"`
	BreakerHalfOpenMaxCalls uint32  `json:"breakerHalfOpenMaxCalls"`
}

// Telemetry configures OTLP export and the worker's Prometheus endpoint
type Telemetry struct {
	Environment           string  `json:"environment"`
	OTLPEnabled           bool    `json:"otlpEnabled"`
	OTLPEndpoint          string  `json:"otlpEndpoint"`
	OTLPInsecure          bool    `json:"otlpInsecure"`
	TraceSampleRatio      float64 `json:"traceSampleRatio"`
	MetricIntervalSeconds int     `json:"metricIntervalSeconds"`
	WorkerMetricsAddress  string  `json:"workerMetricsAddress"`
}

// MetricInterval returns how often OTel metrics are exported
func (t Telemetry) MetricInterval() time.Duration {
	return time.Duration(t.MetricIntervalSeconds) * time.Second
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UseGCS returns true if photos are stored in a GCS bucket
func (c *Config) UseGCS() bool {
	return c.PhotoStorage.GCSBucket != ""
}

// UseRedis returns true if the folder cache is shared through Redis
func (c *Config) UseRedis() bool {
	return c.Cache.RedisAddr != ""
}

// DatabaseDSN returns the data source for the selected driver
func (c *Config) DatabaseDSN() string {
	if c.UsePostgres() {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress:  ":8080",
		PublicBaseURL:  "http://localhost:8080",
		DatabaseDriver: "sqlite3",
		DatabasePath:   "sitephoto.db",
		PhotoStorage: Storage{
			BasePath:      "./photos",
			MaxFileSizeMB: 50,
			AllowedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif",
			},
		},
		Cache: Cache{
			TTLSeconds: 600,
		},
		Queue: Queue{
			Backend:        "nats",
			NATSURL:        "nats://127.0.0.1:4222",
			NATSSubject:    "photos.ingest",
			NATSQueueGroup: "photo-ingest",
		},
		Resilience: Resilience{
			BreakerEnabled:          true,
			BreakerMinRequests:      10,
			BreakerFailureRatio:     0.5,
			BreakerOpenTimeoutSec:   30,
			BreakerHalfOpenMaxCalls: 1,
		},
		Telemetry: Telemetry{
			Environment:           "development",
			OTLPEndpoint:          "localhost:4317",
			OTLPInsecure:          true,
			TraceSampleRatio:      1,
			MetricIntervalSeconds: 30,
			WorkerMetricsAddress:  ":9090",
		},
	}
}

// Load loads configuration from .env, the config file and the environment,
// later sources overriding earlier ones
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.UsePostgres() && !isPostgresDriver(cfg.DatabaseDriver) {
		cfg.DatabaseDriver = "postgres"
	}

	if !cfg.UseGCS() {
		if err := os.MkdirAll(cfg.PhotoStorage.BasePath, 0755); err != nil {
			return nil, err
		}
		absPath, err := filepath.Abs(cfg.PhotoStorage.BasePath)
		if err != nil {
			return nil, err
		}
		cfg.PhotoStorage.BasePath = absPath
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ServerAddress, "SERVER_ADDRESS")
	setString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	setString(&cfg.PhotoStorage.BasePath, "PHOTO_STORAGE_PATH")
	setInt64(&cfg.PhotoStorage.MaxFileSizeMB, "PHOTO_MAX_FILE_SIZE_MB")
	if exts := os.Getenv("PHOTO_ALLOWED_EXTENSIONS"); exts != "" {
		cfg.PhotoStorage.AllowedExtensions = splitList(exts)
	}
	setString(&cfg.PhotoStorage.GCSBucket, "GCS_BUCKET")
	setString(&cfg.PhotoStorage.GCSPublicBaseURL, "GCS_PUBLIC_BASE_URL")
	setString(&cfg.PhotoStorage.GCSCredentialsJSON, "GCS_CREDENTIALS_JSON")

	setInt(&cfg.Cache.TTLSeconds, "CACHE_TTL_SECONDS")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.Cache.RedisDB, "REDIS_DB")

	setString(&cfg.Queue.Backend, "QUEUE_BACKEND")
	setString(&cfg.Queue.NATSURL, "NATS_URL")
	setString(&cfg.Queue.NATSSubject, "NATS_SUBJECT")
	setString(&cfg.Queue.NATSQueueGroup, "NATS_QUEUE_GROUP")
	setString(&cfg.Queue.PubSubProjectID, "PUBSUB_PROJECT_ID")
	if cfg.Queue.PubSubProjectID == "" {
		setString(&cfg.Queue.PubSubProjectID, "GOOGLE_CLOUD_PROJECT")
	}
	setString(&cfg.Queue.PubSubSubscription, "PUBSUB_SUBSCRIPTION")
	setString(&cfg.Queue.PubSubCredentialsJSON, "PUBSUB_CREDENTIALS_JSON")
	setInt(&cfg.Queue.PubSubMaxOutstandingMsg, "PUBSUB_MAX_OUTSTANDING")

	setBool(&cfg.Resilience.BreakerEnabled, "BREAKER_ENABLED")
	if v, err := strconv.ParseUint(os.Getenv("BREAKER_MIN_REQUESTS"), 10, 32); err == nil {
		cfg.Resilience.BreakerMinRequests = uint32(v)
	}
	if v, err := strconv.ParseFloat(os.Getenv("BREAKER_FAILURE_RATIO"), 64); err == nil && v > 0 && v <= 1 {
		cfg.Resilience.BreakerFailureRatio = v
	}
	setInt(&cfg.Resilience.BreakerOpenTimeoutSec, "BREAKER_OPEN_TIMEOUT_SEC")
	if v, err := strconv.ParseUint(os.Getenv("BREAKER_HALF_OPEN_MAX_CALLS"), 10, 32); err == nil && v > 0 {
		cfg.Resilience.BreakerHalfOpenMaxCalls = uint32(v)
	}

	setString(&cfg.Telemetry.Environment, "ENVIRONMENT")
	setBool(&cfg.Telemetry.OTLPEnabled, "OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.OTLPInsecure, "OTEL_EXPORTER_OTLP_INSECURE")
	if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && v > 0 && v <= 1 {
		cfg.Telemetry.TraceSampleRatio = v
	}
	setInt(&cfg.Telemetry.MetricIntervalSeconds, "OTEL_METRIC_EXPORT_INTERVAL_SEC")
	setString(&cfg.Telemetry.WorkerMetricsAddress, "WORKER_METRICS_ADDRESS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v >= 0 {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isPostgresDriver(driver string) bool {
	return driver == "postgres" || driver == "pgx"
}
