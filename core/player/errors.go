package player

import "errors"

var (
	// ErrNotConnected means the operation needs a live voice connection.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrNoCurrentSong means the queue has nothing at the cursor.
	ErrNoCurrentSong = errors.New("no current song")
	// ErrOutOfRange covers seek targets beyond the song and invalid
	// volume values; queue index errors carry queue.ErrOutOfRange.
	ErrOutOfRange = errors.New("value out of range")
	// ErrNotSeekable means the current song is a live stream.
	ErrNotSeekable = errors.New("current song is not seekable")
	// ErrBadState signals an internal invariant violation. It is a
	// programming-error marker and is always logged loudly.
	ErrBadState = errors.New("player in inconsistent state")
)
