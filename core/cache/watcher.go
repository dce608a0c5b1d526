package cache

import (
	"path/filepath"
	"time"

	"Bt1QDJ/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-runs reconciliation when cache files change out of band
// (manual deletes, external cleanup jobs). Events from the store's own
// writes and evictions are harmless: reconcile is idempotent.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the store's blob directory.
func NewWatcher(store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		store:   store,
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	// Bursts of events (an eviction pass, a bulk delete) collapse into one
	// reconcile run after the directory goes quiet.
	var debounce *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Dir(event.Name) != w.store.dir {
				continue // staged writes under tmp/ are not reconciled
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			if err := w.store.Reconcile(); err != nil {
				logger.Error("cache reconcile after directory change failed",
					logger.ErrorField(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("cache directory watch error", logger.ErrorField(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
