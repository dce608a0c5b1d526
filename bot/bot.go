// Package bot wires the process together: configuration, logging, the
// metadata database, the cache store and its watcher, the fetcher, the
// Discord session and the per-guild player registry.
package bot

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Bt1QDJ/config"
	"Bt1QDJ/core/cache"
	"Bt1QDJ/core/fetch"
	"Bt1QDJ/core/player"
	"Bt1QDJ/db"
	"Bt1QDJ/logger"
	"Bt1QDJ/repository"
	"Bt1QDJ/voice"

	"github.com/bwmarrin/discordgo"
)

// Start brings the bot up and blocks until SIGINT/SIGTERM.
func Start() error {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})

	if cfg.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is not set")
	}

	if err := db.ConnectDB(cfg); err != nil {
		return fmt.Errorf("failed to connect metadata database: %w", err)
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize metadata database: %w", err)
	}

	cacheRepo := repository.NewSQLiteCacheRepository()
	store, err := cache.NewStore(cfg.CacheDir, cfg.CacheLimitBytes, cfg.SeekWaitInterval, cfg.SeekWaitRetries, cacheRepo)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}

	watcher, err := cache.NewWatcher(store)
	if err != nil {
		logger.Warn("cache directory watcher unavailable", logger.ErrorField(err))
	} else {
		defer watcher.Close()
	}

	fetcher := fetch.NewFetcher(store, cfg.HTTPTimeout)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentGuildVoiceStates
	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	defer session.Close()

	connector := &voice.DiscordConnector{
		Session:    session,
		FFmpegPath: cfg.FFmpegPath,
	}
	manager := player.NewManager(store, fetcher, connector)
	defer manager.Shutdown()

	logger.Info("bot started",
		logger.String("cacheDir", cfg.CacheDir),
		logger.Int64("cacheLimitBytes", cfg.CacheLimitBytes))

	// The command layer drives Manager/Player from here on; this process
	// just waits for a shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	return nil
}
