// Package player implements the per-guild playback state machine on top of
// the queue, the cache store and the streaming fetcher, plus the registry
// that owns one player per guild.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Bt1QDJ/core/cache"
	"Bt1QDJ/core/fetch"
	"Bt1QDJ/core/queue"
	"Bt1QDJ/logger"
	"Bt1QDJ/model"
	"Bt1QDJ/voice"
)

// Status is the playback state of one guild's player.
type Status int

const (
	StatusDisconnected Status = iota
	StatusIdle
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

const defaultVolume = 100

// Player is one guild's playback session. All command handlers serialize on
// its mutex; different guilds never contend with each other.
type Player struct {
	guildID   string
	store     *cache.Store
	fetcher   *fetch.Fetcher
	connector voice.Connector

	mu        sync.Mutex
	queue     *queue.Queue
	status    Status
	transport voice.Transport
	channelID string
	playing   *model.Song // song currently feeding the transport
	position  int         // seconds into the current song
	volume    int
	loopSong  bool
	loopQueue bool

	cancel  context.CancelFunc // cancels this session's output consumption only
	playSeq int                // invalidates completions of superseded playbacks
}

// NewPlayer creates a disconnected player with an empty queue.
func NewPlayer(guildID string, store *cache.Store, fetcher *fetch.Fetcher, connector voice.Connector) *Player {
	return &Player{
		guildID:   guildID,
		store:     store,
		fetcher:   fetcher,
		connector: connector,
		queue:     queue.New(),
		status:    StatusDisconnected,
		volume:    defaultVolume,
	}
}

// Queue exposes the player's queue for add/move/shuffle/remove operations.
func (p *Player) Queue() *queue.Queue {
	return p.queue
}

// Connect joins the voice channel. Connecting to the channel the player is
// already in is a no-op.
func (p *Player) Connect(ctx context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport != nil && p.channelID == channelID {
		return nil
	}
	if p.transport != nil {
		p.stopOutputLocked()
		p.transport.Close()
		p.transport = nil
	}

	tr, err := p.connector.Connect(ctx, p.guildID, channelID)
	if err != nil {
		return err
	}
	p.transport = tr
	p.channelID = channelID
	p.status = StatusIdle
	p.transport.SetVolume(p.volume)

	logger.Info("voice channel joined",
		logger.String("guildId", p.guildID),
		logger.String("channelId", channelID))
	return nil
}

// Play starts (or resumes) playback of the song at the queue cursor.
// Calling it while already playing is a no-op.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport == nil {
		return ErrNotConnected
	}
	cur := p.queue.Current()
	if cur == nil {
		return ErrNoCurrentSong
	}
	if p.status == StatusPlaying {
		return nil
	}
	// Resume from pause keeps the position; anything else is a fresh start.
	if p.status == StatusPaused && p.playing != nil && p.playing.SourceRef == cur.SourceRef {
		p.transport.SetPaused(false)
		p.status = StatusPlaying
		return nil
	}
	return p.startLocked(cur, cur.OffsetSeconds)
}

// Pause suspends playback. No-op unless currently playing.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying {
		return nil
	}
	p.transport.SetPaused(true)
	p.status = StatusPaused
	return nil
}

// Resume continues after a pause. No-op unless currently paused.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPaused {
		return nil
	}
	p.transport.SetPaused(false)
	p.status = StatusPlaying
	return nil
}

// Seek restarts the current (non-live) song at targetSeconds. When the song
// is not cached yet, Seek joins or starts its download, waits for the cache
// entry within the configured budget and reopens the finished file; on
// timeout it fails without touching playback state.
func (p *Player) Seek(targetSeconds int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport == nil {
		return ErrNotConnected
	}
	cur := p.queue.Current()
	if cur == nil {
		return ErrNoCurrentSong
	}
	if cur.IsLive {
		return ErrNotSeekable
	}
	if targetSeconds < 0 || targetSeconds > cur.DurationSeconds {
		return fmt.Errorf("%w: seek to %ds in a %ds song", ErrOutOfRange, targetSeconds, cur.DurationSeconds)
	}

	key := cache.KeyFor(cur.SourceRef)
	path, ok, err := p.store.Lookup(key)
	if err != nil {
		return err
	}
	if !ok {
		// The entry may have been evicted with no download in flight;
		// Fetch joins the in-flight one or starts a new download, so the
		// wait below converges instead of running out its budget.
		if _, err := p.fetcher.Fetch(key, cur.SourceRef); err != nil {
			return err
		}
		path, err = p.store.WaitFor(key)
		if err != nil {
			return err
		}
	}

	p.launchLocked(cur, targetSeconds, func(ctx context.Context, tr voice.Transport) error {
		return tr.PlayFile(ctx, path, targetSeconds)
	})
	return nil
}

// Stop tears down the voice connection and any in-progress output. The
// queue is preserved. A download feeding the cache keeps running so the
// entry still materializes for later plays.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport == nil {
		return nil
	}
	p.stopOutputLocked()
	p.transport.Close()
	p.transport = nil
	p.channelID = ""
	p.status = StatusDisconnected
	p.playing = nil
	p.position = 0

	logger.Info("voice channel left", logger.String("guildId", p.guildID))
	return nil
}

// Disconnect is Stop under the name the command layer uses.
func (p *Player) Disconnect() error {
	return p.Stop()
}

// Next moves the cursor forward and, when connected, starts the new current
// song.
func (p *Player) Next() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.queue.Forward(); err != nil {
		return err
	}
	return p.playCursorLocked()
}

// Previous moves the cursor back and, when connected, starts the new
// current song.
func (p *Player) Previous() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.queue.Back(); err != nil {
		return err
	}
	return p.playCursorLocked()
}

func (p *Player) playCursorLocked() error {
	cur := p.queue.Current()
	if cur == nil {
		logger.Error("queue cursor moved but no current song",
			logger.String("guildId", p.guildID))
		return ErrBadState
	}
	if p.transport == nil {
		// Cursor moves are allowed while disconnected; playback starts on
		// the next Play.
		p.playing = nil
		p.position = 0
		return nil
	}
	return p.startLocked(cur, cur.OffsetSeconds)
}

// SetVolume sets the session volume percentage (0-100).
func (p *Player) SetVolume(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume %d%%", ErrOutOfRange, percent)
	}
	p.volume = percent
	if p.transport != nil {
		return p.transport.SetVolume(percent)
	}
	return nil
}

// ToggleLoopSong flips single-song looping. Enabling it clears queue looping.
func (p *Player) ToggleLoopSong() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loopSong = !p.loopSong
	if p.loopSong {
		p.loopQueue = false
	}
	return p.loopSong
}

// ToggleLoopQueue flips whole-queue looping. Enabling it clears song looping.
func (p *Player) ToggleLoopQueue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loopQueue = !p.loopQueue
	if p.loopQueue {
		p.loopSong = false
	}
	return p.loopQueue
}

// GetCurrent returns the song at the queue cursor, nil when there is none.
func (p *Player) GetCurrent() *model.Song {
	return p.queue.Current()
}

// GetPosition returns seconds into the current song.
func (p *Player) GetPosition() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Status returns the player's state.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// QueueSize returns the number of songs in the queue, history included.
func (p *Player) QueueSize() int {
	return p.queue.Size()
}

// startLocked begins playback of song at offsetSeconds, replacing whatever
// was playing. Resolution failures are returned synchronously and leave the
// previous state's status fields untouched beyond the canceled output.
func (p *Player) startLocked(song *model.Song, offsetSeconds int) error {
	runner, err := p.resolveLocked(song, offsetSeconds)
	if err != nil {
		return err
	}
	p.launchLocked(song, offsetSeconds, runner)
	return nil
}

// resolveLocked picks the playback source: live stream, cached file, or a
// download that feeds the cache and playback at once.
func (p *Player) resolveLocked(song *model.Song, offsetSeconds int) (func(context.Context, voice.Transport) error, error) {
	if song.IsLive {
		ref := song.SourceRef
		fetcher := p.fetcher
		return func(ctx context.Context, tr voice.Transport) error {
			rc, err := fetcher.OpenLive(ctx, ref)
			if err != nil {
				return err
			}
			defer rc.Close()
			return tr.PlayStream(ctx, rc)
		}, nil
	}

	key := cache.KeyFor(song.SourceRef)
	path, ok, err := p.store.Lookup(key)
	if err != nil {
		return nil, err
	}
	if ok {
		logger.Debug("cache hit",
			logger.String("guildId", p.guildID),
			logger.String("key", key))
		return func(ctx context.Context, tr voice.Transport) error {
			return tr.PlayFile(ctx, path, offsetSeconds)
		}, nil
	}

	logger.Debug("cache miss, streaming while caching",
		logger.String("guildId", p.guildID),
		logger.String("key", key))

	dl, err := p.fetcher.Fetch(key, song.SourceRef)
	if err != nil {
		return nil, err
	}

	if offsetSeconds > 0 {
		// A mid-song start can't consume the live stream from byte 0;
		// wait for the entry and play the file instead.
		waited, err := p.store.WaitFor(key)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, tr voice.Transport) error {
			return tr.PlayFile(ctx, waited, offsetSeconds)
		}, nil
	}

	r := dl.NewReader()
	return func(ctx context.Context, tr voice.Transport) error {
		defer r.Close()
		if err := tr.PlayStream(ctx, r); err != nil {
			return err
		}
		return dl.Err()
	}, nil
}

// launchLocked swaps the active output: cancels the previous one, records
// the new playing song and spawns the consumption and position-tracking
// goroutines.
func (p *Player) launchLocked(song *model.Song, position int, runner func(context.Context, voice.Transport) error) {
	p.stopOutputLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.playSeq++
	seq := p.playSeq
	tr := p.transport

	cp := *song
	p.playing = &cp
	p.status = StatusPlaying
	p.position = position

	go p.consume(ctx, seq, func() error { return runner(ctx, tr) })
	go p.trackPosition(ctx)
}

// consume waits for the output to finish and drives the natural-end
// transition. Cancellation (stop, seek, skip) never advances the queue.
func (p *Player) consume(ctx context.Context, seq int, runner func() error) {
	err := runner()
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.playSeq {
		return
	}

	if err != nil {
		logger.Error("playback failed, skipping to next song",
			logger.String("guildId", p.guildID),
			logger.ErrorField(err))
		p.skipAfterFailureLocked()
		return
	}
	p.advanceLocked()
}

// advanceLocked applies the natural-end rules: loop the song, else play the
// next one, else wrap the queue when queue looping is on, else go idle.
func (p *Player) advanceLocked() {
	if p.loopSong {
		if cur := p.queue.Current(); cur != nil {
			p.startOrIdleLocked(cur, 0)
			return
		}
	}

	if err := p.queue.Forward(); err == nil {
		next := p.queue.Current()
		if next == nil {
			logger.Error("cursor advanced past a queue with no current song",
				logger.String("guildId", p.guildID))
			p.toIdleLocked()
			return
		}
		p.startOrIdleLocked(next, next.OffsetSeconds)
		return
	}

	if p.loopQueue {
		p.queue.RewindToStart()
		if first := p.queue.Current(); first != nil {
			p.startOrIdleLocked(first, 0)
			return
		}
	}

	p.toIdleLocked()
}

func (p *Player) skipAfterFailureLocked() {
	if err := p.queue.Forward(); err == nil {
		if next := p.queue.Current(); next != nil {
			p.startOrIdleLocked(next, next.OffsetSeconds)
			return
		}
	}
	p.toIdleLocked()
}

func (p *Player) startOrIdleLocked(song *model.Song, offsetSeconds int) {
	if err := p.startLocked(song, offsetSeconds); err != nil {
		logger.Error("failed to start next song",
			logger.String("guildId", p.guildID),
			logger.String("title", song.Title),
			logger.ErrorField(err))
		p.toIdleLocked()
	}
}

func (p *Player) toIdleLocked() {
	p.stopOutputLocked()
	p.status = StatusIdle
	p.playing = nil
	p.position = 0
}

// stopOutputLocked cancels the active output and invalidates its pending
// completion. The shared download, if any, keeps running.
func (p *Player) stopOutputLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.playSeq++
}

func (p *Player) trackPosition(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.status == StatusPlaying {
				p.position++
			}
			p.mu.Unlock()
		}
	}
}
