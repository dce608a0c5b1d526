package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"Bt1QDJ/core/cache"
	"Bt1QDJ/logger"
)

// ErrUpstream wraps any remote stream failure so callers can classify it.
var ErrUpstream = errors.New("upstream fetch failed")

// Download is one in-flight (or finished) remote fetch. Bytes flow into the
// cache write handle and into a broadcast buffer that any number of local
// consumers read independently; the remote source is contacted exactly once.
type Download struct {
	Key string

	buf  *Buffer
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewReader attaches a playback reader starting at byte 0.
func (d *Download) NewReader() io.ReadCloser {
	return d.buf.NewReader()
}

// Done is closed when the download finished, successfully or not.
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Err reports the terminal error, nil while in flight or after success.
func (d *Download) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Download) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.buf.CloseWithError(err)
}

// Fetcher opens remote audio streams and writes cacheable ones through the
// store while serving live bytes to playback.
type Fetcher struct {
	store  *cache.Store
	client *http.Client

	mu     sync.Mutex
	active map[string]*Download
}

// NewFetcher creates a fetcher over the given store. timeout bounds one
// whole download, not individual reads.
func NewFetcher(store *cache.Store, timeout time.Duration) *Fetcher {
	return &Fetcher{
		store:  store,
		client: &http.Client{Timeout: timeout},
		active: make(map[string]*Download),
	}
}

// Fetch returns the in-flight download for key, or starts one. Concurrent
// callers for the same key share a single remote connection.
//
// The download deliberately runs detached from any session context: a guild
// stopping playback must not abort a cache write that other consumers, or a
// future replay, will benefit from.
func (f *Fetcher) Fetch(key, url string) (*Download, error) {
	f.mu.Lock()
	if d, ok := f.active[key]; ok {
		f.mu.Unlock()
		return d, nil
	}

	w, err := f.store.BeginWrite(key)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	d := &Download{
		Key:  key,
		buf:  NewBuffer(),
		done: make(chan struct{}),
	}
	f.active[key] = d
	f.mu.Unlock()

	go f.run(d, w, url)
	return d, nil
}

// OpenLive opens a plain streaming GET for a live source. Nothing is cached
// and the caller's context cancels the stream.
func (f *Fetcher) OpenLive(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %s", ErrUpstream, resp.Status)
	}
	return resp.Body, nil
}

func (f *Fetcher) run(d *Download, w *cache.WriteHandle, url string) {
	defer func() {
		f.mu.Lock()
		delete(f.active, d.Key)
		f.mu.Unlock()
		close(d.done)
	}()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		w.Abort()
		d.fail(fmt.Errorf("%w: %v", ErrUpstream, err))
		return
	}

	resp, err := f.client.Do(req)
	if err != nil {
		w.Abort()
		d.fail(fmt.Errorf("%w: %v", ErrUpstream, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.Abort()
		d.fail(fmt.Errorf("%w: unexpected status %s", ErrUpstream, resp.Status))
		return
	}

	n, err := io.Copy(io.MultiWriter(w, d.buf), resp.Body)
	if err != nil {
		// Partial downloads leave no cache trace.
		w.Abort()
		d.fail(fmt.Errorf("%w: %v", ErrUpstream, err))
		logger.Warn("remote stream interrupted",
			logger.String("key", d.Key),
			logger.Int64("bytesRead", n),
			logger.ErrorField(err))
		return
	}

	if err := w.Commit(); err != nil {
		// Playback already has the bytes; only the cache entry is lost.
		logger.Error("cache commit after download failed",
			logger.String("key", d.Key),
			logger.ErrorField(err))
	}
	d.buf.CloseWithError(nil)

	logger.Debug("download finished",
		logger.String("key", d.Key),
		logger.Int64("sizeBytes", n))
}
