package voice

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"Bt1QDJ/logger"

	"github.com/bwmarrin/discordgo"
)

// DiscordConnector joins Discord voice channels over an authenticated
// session.
type DiscordConnector struct {
	Session    *discordgo.Session
	FFmpegPath string
}

// Connect joins the voice channel and returns a transport bound to it.
func (c *DiscordConnector) Connect(ctx context.Context, guildID, channelID string) (Transport, error) {
	vc, err := c.Session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel %s: %w", channelID, err)
	}
	return &discordTransport{
		vc:         vc,
		ffmpegPath: c.FFmpegPath,
		volume:     100,
	}, nil
}

// discordTransport transcodes input to ogg/opus with ffmpeg and delivers
// opus packets to the voice connection.
type discordTransport struct {
	vc         *discordgo.VoiceConnection
	ffmpegPath string

	mu     sync.Mutex
	paused bool
	volume int
}

func (t *discordTransport) PlayFile(ctx context.Context, path string, offsetSec int) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if offsetSec > 0 {
		args = append(args, "-ss", strconv.Itoa(offsetSec))
	}
	args = append(args, "-i", path)
	return t.play(ctx, args, nil)
}

func (t *discordTransport) PlayStream(ctx context.Context, r io.Reader) error {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	return t.play(ctx, args, r)
}

func (t *discordTransport) play(ctx context.Context, inputArgs []string, stdin io.Reader) error {
	t.mu.Lock()
	vol := t.volume
	t.mu.Unlock()

	args := append(inputArgs,
		"-vn",
		"-af", fmt.Sprintf("volume=%.2f", float64(vol)/100),
		"-c:a", "libopus",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-f", "ogg",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Stdin = stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	defer cmd.Wait()

	if err := t.vc.Speaking(true); err != nil {
		logger.Warn("failed to set speaking state", logger.ErrorField(err))
	}
	defer t.vc.Speaking(false)

	scanner := newOggScanner(stdout)
	for {
		pkt, err := scanner.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("opus stream read failed: %w", err)
		}

		if err := t.waitWhilePaused(ctx); err != nil {
			return err
		}
		select {
		case t.vc.OpusSend <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *discordTransport) waitWhilePaused(ctx context.Context) error {
	for {
		t.mu.Lock()
		paused := t.paused
		t.mu.Unlock()
		if !paused {
			return nil
		}
		// Sleep-poll keeps the ffmpeg pipe intact while paused.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (t *discordTransport) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

func (t *discordTransport) SetVolume(percent int) error {
	t.mu.Lock()
	t.volume = percent
	t.mu.Unlock()
	return nil
}

func (t *discordTransport) Close() error {
	t.vc.Speaking(false)
	return t.vc.Disconnect()
}
