// Package cache implements the content-addressed audio blob store: files on
// disk under a single directory, metadata rows in SQLite, a global byte
// budget enforced by least-recently-accessed eviction, and reconciliation
// between the two after crashes or out-of-band deletes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Bt1QDJ/logger"
	"Bt1QDJ/model"
	"Bt1QDJ/repository"

	"golang.org/x/sync/singleflight"
)

// ErrWaitTimeout is returned by WaitFor when the entry did not appear within
// the configured wait budget.
var ErrWaitTimeout = errors.New("timed out waiting for cache entry")

// KeyFor derives the content-addressed cache key for a source reference.
// The key is deterministic, so concurrent requests for the same source
// converge on the same entry without any lookup table.
func KeyFor(sourceRef string) string {
	sum := sha256.Sum256([]byte(sourceRef))
	return hex.EncodeToString(sum[:])
}

// Store maps content keys to blob files plus size/access metadata and
// enforces the global byte budget. One Store serves all guilds.
type Store struct {
	dir    string
	tmpDir string
	limit  int64
	repo   repository.CacheRepository

	waitInterval time.Duration
	waitRetries  int

	mu      sync.Mutex
	waiters map[string][]chan struct{}

	// Eviction passes are serialized process-wide; concurrent callers
	// attach to the pass already in flight instead of queuing another.
	evict singleflight.Group
}

// NewStore creates the cache directories, clears stale staged writes and
// reconciles disk against metadata before returning.
func NewStore(dir string, limitBytes int64, waitInterval time.Duration, waitRetries int, repo repository.CacheRepository) (*Store, error) {
	tmpDir := filepath.Join(dir, "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		dir:          dir,
		tmpDir:       tmpDir,
		limit:        limitBytes,
		repo:         repo,
		waitInterval: waitInterval,
		waitRetries:  waitRetries,
		waiters:      make(map[string][]chan struct{}),
	}

	// Staged writes never survive a restart.
	stale, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache tmp directory: %w", err)
	}
	for _, f := range stale {
		os.Remove(filepath.Join(tmpDir, f.Name()))
	}

	if err := s.Reconcile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory holding final blobs.
func (s *Store) Dir() string {
	return s.dir
}

// Lookup returns a usable file path for key. The file is verified on disk;
// if metadata exists but the file is gone, the row is deleted and the lookup
// misses (self-healing). A hit bumps the entry's access time.
func (s *Store) Lookup(key string) (string, bool, error) {
	entry, err := s.repo.GetByKey(key)
	if err != nil {
		return "", false, err
	}
	if entry == nil {
		return "", false, nil
	}

	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("cache file missing for metadata entry, dropping entry",
				logger.String("key", key))
			if delErr := s.repo.Delete(key); delErr != nil {
				return "", false, delErr
			}
			return "", false, nil
		}
		return "", false, err
	}

	if err := s.repo.Touch(key, time.Now()); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// WriteHandle stages a blob write into the tmp directory. Only a non-empty,
// committed write materializes a cache entry; everything else leaves no trace.
type WriteHandle struct {
	store *Store
	key   string
	tmp   string
	file  *os.File
	size  int64
	done  bool
}

// BeginWrite starts a staged write for key. A second staged write for the
// same key fails until the first one commits or aborts.
func (s *Store) BeginWrite(key string) (*WriteHandle, error) {
	tmp := filepath.Join(s.tmpDir, key)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to stage cache write for %s: %w", key, err)
	}
	return &WriteHandle{store: s, key: key, tmp: tmp, file: f}, nil
}

// Write appends bytes to the staged file.
func (w *WriteHandle) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Commit finalizes the write: the staged file is atomically renamed into the
// content-addressed location, the metadata row is created and waiters for
// the key are released. A zero-byte commit removes the staged file and
// creates nothing.
func (w *WriteHandle) Commit() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	if w.size == 0 {
		os.Remove(w.tmp)
		return nil
	}

	final := filepath.Join(w.store.dir, w.key)
	if err := os.Rename(w.tmp, final); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("failed to finalize cache write for %s: %w", w.key, err)
	}

	now := time.Now()
	entry := &model.CacheEntry{
		Key:        w.key,
		SizeBytes:  w.size,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := w.store.repo.Upsert(entry); err != nil {
		// Without a row the file is an orphan; remove it so the iff
		// invariant holds.
		os.Remove(final)
		return err
	}

	logger.Debug("cache entry committed",
		logger.String("key", w.key),
		logger.Int64("sizeBytes", w.size))

	w.store.notify(w.key)

	if err := w.store.EvictIfOverBudget(); err != nil {
		logger.Warn("eviction after cache write failed", logger.ErrorField(err))
	}
	return nil
}

// Abort discards the staged write.
func (w *WriteHandle) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.tmp)
}

// EvictIfOverBudget deletes least-recently-accessed entries until the total
// cached bytes fit the budget. Safe to call concurrently: exactly one pass
// runs at a time and concurrent callers wait for that pass's result.
func (s *Store) EvictIfOverBudget() error {
	_, err, _ := s.evict.Do("evict", func() (interface{}, error) {
		return nil, s.evictPass()
	})
	return err
}

func (s *Store) evictPass() error {
	total, err := s.repo.TotalSize()
	if err != nil {
		return err
	}
	if total <= s.limit {
		return nil
	}

	entries, err := s.repo.ListByAccess()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if total <= s.limit {
			break
		}
		path := filepath.Join(s.dir, entry.Key)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to evict cache file %s: %w", entry.Key, err)
		}
		if err := s.repo.Delete(entry.Key); err != nil {
			return err
		}
		total -= entry.SizeBytes

		logger.Info("evicted cache entry",
			logger.String("key", entry.Key),
			logger.Int64("sizeBytes", entry.SizeBytes),
			logger.Int64("totalBytes", total))
	}
	return nil
}

// Reconcile restores the entry-iff-file invariant in both directions:
// files with no metadata are deleted, metadata with no file is deleted.
// Idempotent; safe to interrupt and re-run.
func (s *Store) Reconcile() error {
	entries, err := s.repo.ListByAccess()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(entries))
	for _, entry := range entries {
		known[entry.Key] = true
	}

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue // tmp staging directory
		}
		if !known[f.Name()] {
			logger.Warn("removing orphan cache file", logger.String("key", f.Name()))
			if err := os.Remove(filepath.Join(s.dir, f.Name())); err != nil {
				return err
			}
		}
	}

	for _, entry := range entries {
		if _, err := os.Stat(filepath.Join(s.dir, entry.Key)); os.IsNotExist(err) {
			logger.Warn("removing metadata for missing cache file", logger.String("key", entry.Key))
			if err := s.repo.Delete(entry.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// WaitFor blocks until key has a committed entry, then returns its path.
// The wait is bounded by interval x retries; it wakes early when a commit
// for the key is notified and re-checks on the poll interval as a fallback.
func (s *Store) WaitFor(key string) (string, error) {
	if path, ok, err := s.Lookup(key); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	ch := s.addWaiter(key)
	defer s.removeWaiter(key, ch)

	deadline := time.NewTimer(s.waitInterval * time.Duration(s.waitRetries))
	defer deadline.Stop()
	ticker := time.NewTicker(s.waitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch:
			if path, ok, err := s.Lookup(key); err != nil {
				return "", err
			} else if ok {
				return path, nil
			}
			// Entry vanished between notify and lookup (evicted); keep
			// polling until the deadline.
			ch = nil
		case <-ticker.C:
			if path, ok, err := s.Lookup(key); err != nil {
				return "", err
			} else if ok {
				return path, nil
			}
		case <-deadline.C:
			return "", fmt.Errorf("%w: %s", ErrWaitTimeout, key)
		}
	}
}

func (s *Store) addWaiter(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.waiters[key] = append(s.waiters[key], ch)
	return ch
}

func (s *Store) removeWaiter(key string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[key]
	for i, c := range chans {
		if c == ch {
			s.waiters[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[key]) == 0 {
		delete(s.waiters, key)
	}
}

func (s *Store) notify(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters[key] {
		close(ch)
	}
	delete(s.waiters, key)
}
