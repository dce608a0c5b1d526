package player

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Bt1QDJ/core/cache"
	"Bt1QDJ/core/fetch"
	"Bt1QDJ/db"
	"Bt1QDJ/model"
	"Bt1QDJ/repository"
	"Bt1QDJ/voice"

	_ "modernc.org/sqlite"
)

type playCall struct {
	path   string
	stream bool
	offset int
	data   []byte
}

// fakeTransport records play calls and blocks each one until the test
// releases it with an outcome, or the player cancels it.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []playCall
	paused []bool
	volume int
	closed bool

	started chan playCall
	release chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		started: make(chan playCall, 16),
		release: make(chan error, 16),
	}
}

func (f *fakeTransport) PlayFile(ctx context.Context, path string, offsetSec int) error {
	f.record(playCall{path: path, offset: offsetSec})
	return f.wait(ctx)
}

func (f *fakeTransport) PlayStream(ctx context.Context, r io.Reader) error {
	data, _ := io.ReadAll(r)
	f.record(playCall{stream: true, data: data})
	return f.wait(ctx)
}

func (f *fakeTransport) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, paused)
}

func (f *fakeTransport) SetVolume(percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) record(c playCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.started <- c
}

func (f *fakeTransport) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.release:
		return err
	}
}

func (f *fakeTransport) lastVolume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeTransport) pausedCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.paused...)
}

type fakeConnector struct {
	mu    sync.Mutex
	tr    *fakeTransport
	dials int
}

func (c *fakeConnector) Connect(ctx context.Context, guildID, channelID string) (voice.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	return c.tr, nil
}

func newTestPlayer(t *testing.T) (*Player, *fakeTransport, *cache.Store) {
	t.Helper()

	dir := t.TempDir()
	handle, err := sql.Open("sqlite", filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	handle.SetMaxOpenConns(1)
	t.Cleanup(func() { handle.Close() })
	if err := db.CreateSchema(handle); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	repo := repository.NewSQLiteCacheRepositoryWithDB(handle)
	store, err := cache.NewStore(filepath.Join(dir, "cache"), 1<<20, 20*time.Millisecond, 50, repo)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tr := newFakeTransport()
	fetcher := fetch.NewFetcher(store, 10*time.Second)
	p := NewPlayer("guild1", store, fetcher, &fakeConnector{tr: tr})
	t.Cleanup(func() { p.Stop() })
	return p, tr, store
}

func song(title string, duration int) model.Song {
	return model.Song{
		Title:           title,
		SourceRef:       "https://audio.example/" + title,
		DurationSeconds: duration,
		RequestedBy:     "tester",
	}
}

// cacheSong pre-commits bytes for the song so playback takes the file path.
func cacheSong(t *testing.T, store *cache.Store, s model.Song) {
	t.Helper()
	w, err := store.BeginWrite(cache.KeyFor(s.SourceRef))
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := w.Write([]byte("audio for " + s.Title)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func waitStarted(t *testing.T, tr *fakeTransport) playCall {
	t.Helper()
	select {
	case c := <-tr.started:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no playback started")
		return playCall{}
	}
}

func waitStatus(t *testing.T, p *Player, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", p.Status(), want)
}

func TestPlayRequiresConnection(t *testing.T) {
	p, _, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)

	if err := p.Play(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Play while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestPlayRequiresCurrentSong(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	if err := p.Connect(context.Background(), "voice1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Play(); !errors.Is(err, ErrNoCurrentSong) {
		t.Errorf("Play with empty queue = %v, want ErrNoCurrentSong", err)
	}
}

func TestPlayStartsCurrentSong(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)

	if err := p.Connect(context.Background(), "voice1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}

	call := waitStarted(t, tr)
	if call.stream || call.offset != 0 {
		t.Errorf("play call = %+v, want cached file at offset 0", call)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status = %v, want playing", got)
	}
	if cur := p.GetCurrent(); cur == nil || cur.Title != "one" {
		t.Errorf("current = %+v, want song one", cur)
	}
	if pos := p.GetPosition(); pos != 0 {
		t.Errorf("position = %d, want 0", pos)
	}

	// Playing again changes nothing.
	if err := p.Play(); err != nil {
		t.Errorf("Play while playing = %v, want nil", err)
	}
	select {
	case c := <-tr.started:
		t.Errorf("redundant Play started another output: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectSameChannelIsNoOp(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	conn := &fakeConnector{tr: newFakeTransport()}
	p.connector = conn

	if err := p.Connect(context.Background(), "voice1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Connect(context.Background(), "voice1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if conn.dials != 1 {
		t.Errorf("dialed %d times, want 1", conn.dials)
	}
	if err := p.Connect(context.Background(), "voice2"); err != nil {
		t.Fatalf("switch channel: %v", err)
	}
	if conn.dials != 2 {
		t.Errorf("dialed %d times after channel switch, want 2", conn.dials)
	}
}

func TestPauseResume(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	if err := p.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := p.Status(); got != StatusPaused {
		t.Errorf("status after pause = %v", got)
	}
	// Pausing twice stays a no-op.
	if err := p.Pause(); err != nil {
		t.Errorf("second pause: %v", err)
	}

	if err := p.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status after resume = %v", got)
	}

	want := []bool{true, false}
	got := tr.pausedCalls()
	if len(got) != len(want) {
		t.Fatalf("SetPaused calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SetPaused call %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Resume restarted nothing, the same output is still live.
	select {
	case c := <-tr.started:
		t.Errorf("resume started a fresh output: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPlayResumesFromPause(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)
	p.Pause()

	if err := p.Play(); err != nil {
		t.Fatalf("Play after pause: %v", err)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status = %v, want playing", got)
	}
	select {
	case c := <-tr.started:
		t.Errorf("Play after pause restarted the song: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSeekValidation(t *testing.T) {
	p, tr, store := newTestPlayer(t)

	if err := p.Seek(10); !errors.Is(err, ErrNotConnected) {
		t.Errorf("seek disconnected = %v, want ErrNotConnected", err)
	}

	p.Connect(context.Background(), "voice1")
	if err := p.Seek(10); !errors.Is(err, ErrNoCurrentSong) {
		t.Errorf("seek with empty queue = %v, want ErrNoCurrentSong", err)
	}

	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Play()
	waitStarted(t, tr)

	if err := p.Seek(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("seek to -1 = %v, want ErrOutOfRange", err)
	}
	if err := p.Seek(200); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("seek past duration = %v, want ErrOutOfRange", err)
	}
}

func TestSeekRestartsAtOffset(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	if err := p.Seek(90); err != nil {
		t.Fatalf("seek: %v", err)
	}
	call := waitStarted(t, tr)
	if call.offset != 90 {
		t.Errorf("seek started at offset %d, want 90", call.offset)
	}
	if pos := p.GetPosition(); pos < 90 {
		t.Errorf("position after seek = %d, want >= 90", pos)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status after seek = %v, want playing", got)
	}
}

func TestSeekLiveIsNotSeekable(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	live := song("radio", 0)
	live.IsLive = true
	p.Queue().Add(live, false)
	p.Connect(context.Background(), "voice1")

	if err := p.Seek(10); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("seek on live stream = %v, want ErrNotSeekable", err)
	}
}

func TestNaturalEndAdvancesToNextSong(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s1, s2 := song("one", 180), song("two", 120)
	cacheSong(t, store, s1)
	cacheSong(t, store, s2)
	p.Queue().Add(s1, false)
	p.Queue().Add(s2, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	tr.release <- nil
	waitStarted(t, tr)

	if cur := p.GetCurrent(); cur == nil || cur.Title != "two" {
		t.Errorf("current after natural end = %+v, want song two", cur)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status = %v, want playing", got)
	}
}

func TestNaturalEndAtQueueEndGoesIdle(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	tr.release <- nil
	waitStatus(t, p, StatusIdle)

	if pos := p.GetPosition(); pos != 0 {
		t.Errorf("position after going idle = %d, want 0", pos)
	}
	// The queue is intact; Play starts the last song again.
	if p.QueueSize() != 1 {
		t.Errorf("queue size = %d, want 1", p.QueueSize())
	}
}

func TestLoopSongRestartsSameSong(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s1, s2 := song("one", 180), song("two", 120)
	cacheSong(t, store, s1)
	cacheSong(t, store, s2)
	p.Queue().Add(s1, false)
	p.Queue().Add(s2, false)
	p.Connect(context.Background(), "voice1")
	if !p.ToggleLoopSong() {
		t.Fatal("loop song did not enable")
	}
	p.Play()
	first := waitStarted(t, tr)

	tr.release <- nil
	again := waitStarted(t, tr)

	if again.path != first.path {
		t.Errorf("loop restarted %q, want the same file %q", again.path, first.path)
	}
	if again.offset != 0 {
		t.Errorf("loop restarted at offset %d, want 0", again.offset)
	}
	if cur := p.GetCurrent(); cur == nil || cur.Title != "one" {
		t.Errorf("current after loop restart = %+v, want song one", cur)
	}
}

func TestLoopQueueWrapsToStart(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s1, s2 := song("one", 180), song("two", 120)
	cacheSong(t, store, s1)
	cacheSong(t, store, s2)
	p.Queue().Add(s1, false)
	p.Queue().Add(s2, false)
	p.Connect(context.Background(), "voice1")
	if !p.ToggleLoopQueue() {
		t.Fatal("loop queue did not enable")
	}
	p.Play()
	waitStarted(t, tr)

	tr.release <- nil
	waitStarted(t, tr) // song two
	tr.release <- nil
	waitStarted(t, tr) // wrapped back to song one

	if cur := p.GetCurrent(); cur == nil || cur.Title != "one" {
		t.Errorf("current after queue wrap = %+v, want song one", cur)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status = %v, want playing", got)
	}
}

func TestLoopTogglesAreMutuallyExclusive(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	if !p.ToggleLoopSong() {
		t.Fatal("loop song did not enable")
	}
	if !p.ToggleLoopQueue() {
		t.Fatal("loop queue did not enable")
	}
	p.mu.Lock()
	loopSong, loopQueue := p.loopSong, p.loopQueue
	p.mu.Unlock()
	if loopSong {
		t.Error("enabling loop queue did not clear loop song")
	}
	if !loopQueue {
		t.Error("loop queue is not set")
	}

	if !p.ToggleLoopSong() {
		t.Fatal("loop song did not re-enable")
	}
	p.mu.Lock()
	loopSong, loopQueue = p.loopSong, p.loopQueue
	p.mu.Unlock()
	if loopQueue {
		t.Error("enabling loop song did not clear loop queue")
	}
	if !loopSong {
		t.Error("loop song is not set")
	}
}

func TestPlaybackFailureSkipsToNext(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s1, s2 := song("one", 180), song("two", 120)
	cacheSong(t, store, s1)
	cacheSong(t, store, s2)
	p.Queue().Add(s1, false)
	p.Queue().Add(s2, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	tr.release <- errors.New("encoder died")
	waitStarted(t, tr)

	if cur := p.GetCurrent(); cur == nil || cur.Title != "two" {
		t.Errorf("current after failure = %+v, want song two", cur)
	}
	if got := p.Status(); got != StatusPlaying {
		t.Errorf("status = %v, want playing", got)
	}
}

func TestStopPreservesQueue(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s1, s2 := song("one", 180), song("two", 120)
	cacheSong(t, store, s1)
	cacheSong(t, store, s2)
	p.Queue().Add(s1, false)
	p.Queue().Add(s2, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := p.Status(); got != StatusDisconnected {
		t.Errorf("status after stop = %v, want disconnected", got)
	}
	if p.QueueSize() != 2 {
		t.Errorf("queue size after stop = %d, want 2", p.QueueSize())
	}
	if err := p.Play(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Play after stop = %v, want ErrNotConnected", err)
	}
}

func TestNextPreviousWhileDisconnected(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	p.Queue().Add(song("one", 180), false)
	p.Queue().Add(song("two", 120), false)

	if err := p.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if cur := p.GetCurrent(); cur == nil || cur.Title != "two" {
		t.Errorf("current after next = %+v, want song two", cur)
	}
	if err := p.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if cur := p.GetCurrent(); cur == nil || cur.Title != "one" {
		t.Errorf("current after previous = %+v, want song one", cur)
	}
	if err := p.Previous(); err == nil {
		t.Error("previous before the first song should fail")
	}
}

func TestSetVolume(t *testing.T) {
	p, tr, _ := newTestPlayer(t)

	if err := p.SetVolume(150); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("volume 150 = %v, want ErrOutOfRange", err)
	}
	if err := p.SetVolume(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("volume -1 = %v, want ErrOutOfRange", err)
	}
	if err := p.SetVolume(40); err != nil {
		t.Fatalf("volume 40 while disconnected: %v", err)
	}

	// The stored volume is applied on connect.
	p.Connect(context.Background(), "voice1")
	if got := tr.lastVolume(); got != 40 {
		t.Errorf("volume applied on connect = %d, want 40", got)
	}

	if err := p.SetVolume(70); err != nil {
		t.Fatalf("volume 70: %v", err)
	}
	if got := tr.lastVolume(); got != 70 {
		t.Errorf("live volume = %d, want 70", got)
	}
}

func TestCacheMissStreamsAndCommits(t *testing.T) {
	payload := bytes.Repeat([]byte("frame"), 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p, tr, store := newTestPlayer(t)
	s := model.Song{Title: "remote", SourceRef: srv.URL, DurationSeconds: 60}
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}

	call := waitStarted(t, tr)
	if !call.stream {
		t.Fatalf("cache miss played %q as a file, want a stream", call.path)
	}
	if !bytes.Equal(call.data, payload) {
		t.Errorf("streamed %d bytes, want %d", len(call.data), len(payload))
	}

	// The same bytes landed in the cache for future plays.
	if _, ok, err := store.Lookup(cache.KeyFor(srv.URL)); err != nil || !ok {
		t.Errorf("lookup after streamed play = (%v, %v), want hit", ok, err)
	}
}

func TestManagerOnePlayerPerGuild(t *testing.T) {
	_, _, store := newTestPlayer(t)
	fetcher := fetch.NewFetcher(store, 10*time.Second)
	m := NewManager(store, fetcher, &fakeConnector{tr: newFakeTransport()})

	a := m.Get("guild-a")
	b := m.Get("guild-b")
	if a == b {
		t.Error("different guilds shared a player")
	}
	if m.Get("guild-a") != a {
		t.Error("same guild did not get the same player back")
	}

	m.Shutdown()
	if got := a.Status(); got != StatusDisconnected {
		t.Errorf("status after shutdown = %v, want disconnected", got)
	}
}

func playlistSong(title string, duration int) model.Song {
	s := song(title, duration)
	s.Playlist = &model.QueuedPlaylist{Title: "mix", SourceID: "mix"}
	return s
}

func TestAddDuringPlaylistPlaybackKeepsCurrentSong(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	p1, p2 := playlistSong("p1", 180), playlistSong("p2", 180)
	adhoc := song("adhoc", 120)
	cacheSong(t, store, p1)
	cacheSong(t, store, p2)
	cacheSong(t, store, adhoc)
	p.Queue().Add(p1, false)
	p.Queue().Add(p2, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	waitStarted(t, tr)

	p.Queue().Add(adhoc, false)

	// The playing song stays current; the ad-hoc request queues behind it.
	if cur := p.GetCurrent(); cur == nil || cur.Title != "p1" {
		t.Fatalf("current after add = %+v, want the playing song p1", cur)
	}

	tr.release <- nil
	waitStarted(t, tr)

	if cur := p.GetCurrent(); cur == nil || cur.Title != "adhoc" {
		t.Errorf("current after natural end = %+v, want the ad-hoc song", cur)
	}
}

func TestIdleReleasesPositionTicker(t *testing.T) {
	p, tr, store := newTestPlayer(t)
	s := song("one", 180)
	cacheSong(t, store, s)
	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")

	base := runtime.NumGoroutine()
	p.Play()
	waitStarted(t, tr)

	tr.release <- nil
	waitStatus(t, p, StatusIdle)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= base {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("%d goroutines after going idle, want <= %d (position ticker still running)",
		runtime.NumGoroutine(), base)
}

func TestSeekRefetchesEvictedSong(t *testing.T) {
	payload := bytes.Repeat([]byte("frame"), 256)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(payload)
	}))
	defer srv.Close()

	p, tr, store := newTestPlayer(t)
	s := model.Song{Title: "remote", SourceRef: srv.URL, DurationSeconds: 180}
	key := cache.KeyFor(srv.URL)
	w, err := store.BeginWrite(key)
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	w.Write(payload)
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	p.Queue().Add(s, false)
	p.Connect(context.Background(), "voice1")
	p.Play()
	first := waitStarted(t, tr)
	if first.stream {
		t.Fatal("cached song played as a stream")
	}

	// Drop the cached file behind the store's back, as an eviction or an
	// external cleanup would.
	if err := os.Remove(first.path); err != nil {
		t.Fatalf("remove cached file: %v", err)
	}

	if err := p.Seek(90); err != nil {
		t.Fatalf("seek after eviction: %v", err)
	}
	call := waitStarted(t, tr)
	if call.stream || call.offset != 90 {
		t.Errorf("seek started %+v, want the refetched file at offset 90", call)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("upstream contacted %d times, want exactly one re-fetch", n)
	}
	if _, ok, err := store.Lookup(key); err != nil || !ok {
		t.Errorf("lookup after re-fetch = (%v, %v), want hit", ok, err)
	}
}
