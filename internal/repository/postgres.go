package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection.
// driver is either "postgres" (lib/pq) or "pgx".
func NewPostgresDB(ctx context.Context, driver, connStr string) (*DB, error) {
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := createPostgresTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postgres tables: %w", err)
	}

	return &DB{DB: db, Dialect: DialectPostgres}, nil
}

func createPostgresTables(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS photo_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dynamic_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
		filename TEXT NOT NULL DEFAULT '',
		drive_url TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		address TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_photo_records_project ON photo_records(project_id, created_at);

	CREATE TABLE IF NOT EXISTS latest_photos (
		fingerprint TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dynamic_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
		filename TEXT NOT NULL DEFAULT '',
		drive_url TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		address TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_latest_photos_project ON latest_photos(project_id, main_category, sub_category);

	CREATE TABLE IF NOT EXISTS generated_reports (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL,
		sub_category TEXT NOT NULL DEFAULT '',
		dynamic_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
		new_photos_count BIGINT NOT NULL DEFAULT 0,
		has_new_photos BOOLEAN NOT NULL DEFAULT FALSE,
		last_updated_by_photo TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_generated_reports_scope ON generated_reports(project_id, report_type, main_category, sub_category);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}
