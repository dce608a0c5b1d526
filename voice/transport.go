// Package voice defines the transport contract the player drives, plus the
// Discord implementation. The core never decodes audio itself; the transport
// owns transcoding and frame delivery.
package voice

import (
	"context"
	"io"
)

// Transport is one live voice connection. PlayFile and PlayStream block
// until the track ends naturally, fails, or ctx is canceled; they return
// nil only on a natural end.
type Transport interface {
	// PlayFile plays a local audio file starting offsetSec into it.
	PlayFile(ctx context.Context, path string, offsetSec int) error
	// PlayStream plays an audio byte stream from its current position.
	PlayStream(ctx context.Context, r io.Reader) error
	// SetPaused suspends or resumes frame delivery without tearing the
	// stream down.
	SetPaused(paused bool)
	// SetVolume sets the output volume percentage. Takes effect when the
	// next stream starts.
	SetVolume(percent int) error
	// Close tears the voice connection down.
	Close() error
}

// Connector dials voice channels. The production implementation joins
// Discord voice; tests substitute an in-memory fake.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID string) (Transport, error)
}
