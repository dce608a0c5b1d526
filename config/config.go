package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Every field has a usable
// default so the bot can be started with nothing but DISCORD_TOKEN set.
type Config struct {
	DiscordToken string

	// Cache settings
	CacheDir        string // final blobs live in CacheDir, staged writes in CacheDir/tmp
	CacheLimitBytes int64  // global byte budget across all guilds
	DBPath          string // SQLite file holding cache metadata

	// Seek wait tuning: how long a seek may wait for an in-flight download
	// to land in the cache before giving up.
	SeekWaitInterval time.Duration
	SeekWaitRetries  int

	// Remote fetch settings
	HTTPTimeout time.Duration

	FFmpegPath string // used by the voice transport, not the core

	// Logging
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cacheDir := getEnv("CACHE_DIR", filepath.Join("data", "cache"))

	return &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		CacheDir:        cacheDir,
		CacheLimitBytes: getEnvInt64("CACHE_LIMIT_BYTES", 2<<30), // 2 GiB
		DBPath:          getEnv("DB_PATH", filepath.Join("data", "cache.db")),

		SeekWaitInterval: time.Duration(getEnvInt("SEEK_WAIT_INTERVAL_MS", 500)) * time.Millisecond,
		SeekWaitRetries:  getEnvInt("SEEK_WAIT_RETRIES", 40),

		HTTPTimeout: time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 120)) * time.Second,

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
