package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// NewSQLiteDB creates and initializes a SQLite database. driver is either
// "sqlite3" (cgo) or "sqlite" (pure Go).
func NewSQLiteDB(ctx context.Context, driver, dbPath string) (*DB, error) {
	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite has a single writer, and an in-memory database only lives as
	// long as its connection. One pooled connection covers both.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite tables: %w", err)
	}

	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Append-only photo log
	CREATE TABLE IF NOT EXISTS photo_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dynamic_fields TEXT NOT NULL DEFAULT '{}',
		filename TEXT NOT NULL DEFAULT '',
		drive_url TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		address TEXT,
		description TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_photo_records_project ON photo_records(project_id, created_at);

	-- Latest photo per QC business key
	CREATE TABLE IF NOT EXISTS latest_photos (
		fingerprint TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dynamic_fields TEXT NOT NULL DEFAULT '{}',
		filename TEXT NOT NULL DEFAULT '',
		drive_url TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		address TEXT,
		description TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_latest_photos_project ON latest_photos(project_id, main_category, sub_category);

	-- Reports produced by the report generator
	CREATE TABLE IF NOT EXISTS generated_reports (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		report_type TEXT NOT NULL,
		main_category TEXT NOT NULL,
		sub_category TEXT NOT NULL DEFAULT '',
		dynamic_fields TEXT NOT NULL DEFAULT '{}',
		new_photos_count INTEGER NOT NULL DEFAULT 0,
		has_new_photos INTEGER NOT NULL DEFAULT 0,
		last_updated_by_photo DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_generated_reports_scope ON generated_reports(project_id, report_type, main_category, sub_category);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}
