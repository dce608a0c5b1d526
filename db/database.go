package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"Bt1QDJ/config"

	_ "modernc.org/sqlite" // SQLite driver
)

var DB *sql.DB

// ConnectDB opens the SQLite database that backs cache metadata.
func ConnectDB(cfg *config.Config) error {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var err error
	DB, err = sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent cache mutations.
	DB.SetMaxOpenConns(1)

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createAudioCacheTable(DB); err != nil {
		return err
	}
	return nil
}

// CreateSchema applies the schema to an arbitrary handle. Used by InitDB and
// by tests that open their own temporary database.
func CreateSchema(handle *sql.DB) error {
	return createAudioCacheTable(handle)
}

func createAudioCacheTable(handle *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audio_cache (
		key TEXT PRIMARY KEY,
		size_bytes INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audio_cache_accessed_at ON audio_cache (accessed_at);
	`
	if _, err := handle.Exec(query); err != nil {
		return fmt.Errorf("failed to create audio_cache table: %w", err)
	}
	return nil
}
