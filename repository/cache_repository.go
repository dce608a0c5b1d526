package repository

import (
	"database/sql"
	"fmt"
	"time"

	"Bt1QDJ/db"
	"Bt1QDJ/model"
)

// CacheRepository defines the interface for cache metadata operations.
type CacheRepository interface {
	Upsert(entry *model.CacheEntry) error
	GetByKey(key string) (*model.CacheEntry, error)
	Touch(key string, accessedAt time.Time) error
	Delete(key string) error
	// ListByAccess returns all entries ordered by accessed_at ascending,
	// ties broken by insertion order.
	ListByAccess() ([]*model.CacheEntry, error)
	TotalSize() (int64, error)
}

// sqliteCacheRepository implements CacheRepository for SQLite.
type sqliteCacheRepository struct {
	DB *sql.DB
}

// NewSQLiteCacheRepository creates a repository on the global database handle.
func NewSQLiteCacheRepository() CacheRepository {
	return &sqliteCacheRepository{DB: db.DB}
}

// NewSQLiteCacheRepositoryWithDB creates a repository on an explicit handle.
func NewSQLiteCacheRepositoryWithDB(handle *sql.DB) CacheRepository {
	return &sqliteCacheRepository{DB: handle}
}

// Upsert inserts the entry or replaces an existing row for the same key.
func (r *sqliteCacheRepository) Upsert(entry *model.CacheEntry) error {
	query := `INSERT INTO audio_cache (key, size_bytes, created_at, accessed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET size_bytes = excluded.size_bytes, accessed_at = excluded.accessed_at`

	_, err := r.DB.Exec(query, entry.Key, entry.SizeBytes, entry.CreatedAt, entry.AccessedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry %s: %w", entry.Key, err)
	}
	return nil
}

// GetByKey returns the entry for key, or nil if no row exists.
func (r *sqliteCacheRepository) GetByKey(key string) (*model.CacheEntry, error) {
	query := `SELECT key, size_bytes, created_at, accessed_at FROM audio_cache WHERE key = ?`

	entry := &model.CacheEntry{}
	err := r.DB.QueryRow(query, key).Scan(&entry.Key, &entry.SizeBytes, &entry.CreatedAt, &entry.AccessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry %s: %w", key, err)
	}
	return entry, nil
}

// Touch updates the access timestamp of an existing entry.
func (r *sqliteCacheRepository) Touch(key string, accessedAt time.Time) error {
	query := `UPDATE audio_cache SET accessed_at = ? WHERE key = ?`

	_, err := r.DB.Exec(query, accessedAt, key)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes the metadata row for key. Deleting a missing row is not an error.
func (r *sqliteCacheRepository) Delete(key string) error {
	query := `DELETE FROM audio_cache WHERE key = ?`

	_, err := r.DB.Exec(query, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// ListByAccess returns all entries, least recently accessed first.
func (r *sqliteCacheRepository) ListByAccess() ([]*model.CacheEntry, error) {
	query := `SELECT key, size_bytes, created_at, accessed_at FROM audio_cache ORDER BY accessed_at ASC, rowid ASC`

	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.CacheEntry
	for rows.Next() {
		entry := &model.CacheEntry{}
		if err := rows.Scan(&entry.Key, &entry.SizeBytes, &entry.CreatedAt, &entry.AccessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// TotalSize returns the byte sum of all entries.
func (r *sqliteCacheRepository) TotalSize() (int64, error) {
	query := `SELECT COALESCE(SUM(size_bytes), 0) FROM audio_cache`

	var total int64
	if err := r.DB.QueryRow(query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum cache sizes: %w", err)
	}
	return total, nil
}
