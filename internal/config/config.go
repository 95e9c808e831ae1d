// Package config provides configuration management for the Storyforge Agent.
// Configuration is loaded from environment variables with sensible defaults,
// plus an optional YAML settings file for compose tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8878
	DefaultLogLevel = "info"
	DefaultDataDir  = ".storyforge"

	// Environment variable names
	EnvPort     = "STORYFORGE_PORT"
	EnvLogLevel = "STORYFORGE_LOG_LEVEL"
	EnvDataDir  = "STORYFORGE_DATA_DIR"
	EnvHeadless = "STORYFORGE_HEADLESS"
	EnvSettings = "STORYFORGE_SETTINGS"

	// Remote service environment variable names
	EnvRenderBaseURL = "STORYFORGE_RENDER_BASE_URL"
	EnvRenderToken   = "STORYFORGE_RENDER_TOKEN"
	EnvStockBaseURL  = "STORYFORGE_STOCK_BASE_URL"
	EnvStockAPIKey   = "STORYFORGE_STOCK_API_KEY"

	// YouTube publishing environment variable names
	EnvYouTubeClientID     = "STORYFORGE_YOUTUBE_CLIENT_ID"
	EnvYouTubeClientSecret = "STORYFORGE_YOUTUBE_CLIENT_SECRET"
	EnvYouTubeRefreshToken = "STORYFORGE_YOUTUBE_REFRESH_TOKEN"

	// Database filename
	DBFilename = "storyforge.db"

	// Staging settings
	DefaultStagingMaxBytes = 2 * 1024 * 1024 * 1024 // 2GB

	// Render task defaults
	DefaultRenderPollInterval = 3 * time.Second
	DefaultRenderPollTimeout  = 5 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	StagingDir() string
	StagingMaxBytes() int64
	Headless() bool
	RenderBaseURL() string
	RenderToken() string
	StockBaseURL() string
	StockAPIKey() string
	YouTubeClientID() string
	YouTubeClientSecret() string
	YouTubeRefreshToken() string
	RenderPollInterval() time.Duration
	RenderPollTimeout() time.Duration
	Settings() Settings
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	stagingMaxBytes int64
	headless        bool

	renderBaseURL string
	renderToken   string
	stockBaseURL  string
	stockAPIKey   string

	youtubeClientID     string
	youtubeClientSecret string
	youtubeRefreshToken string

	settings Settings
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		stagingMaxBytes: DefaultStagingMaxBytes,
		settings:        DefaultSettings(),
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h == "1" || h == "true" {
		cfg.headless = true
	}

	cfg.renderBaseURL = os.Getenv(EnvRenderBaseURL)
	cfg.renderToken = os.Getenv(EnvRenderToken)
	cfg.stockBaseURL = os.Getenv(EnvStockBaseURL)
	cfg.stockAPIKey = os.Getenv(EnvStockAPIKey)

	cfg.youtubeClientID = os.Getenv(EnvYouTubeClientID)
	cfg.youtubeClientSecret = os.Getenv(EnvYouTubeClientSecret)
	cfg.youtubeRefreshToken = os.Getenv(EnvYouTubeRefreshToken)

	settingsPath := os.Getenv(EnvSettings)
	if settingsPath == "" {
		settingsPath = filepath.Join(cfg.dataDir, "settings.yaml")
	}
	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cfg.settings = settings

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// StagingDir returns the upload staging directory path
func (c *EnvConfig) StagingDir() string {
	return filepath.Join(c.dataDir, "staging")
}

// StagingMaxBytes returns the maximum staging area size in bytes
func (c *EnvConfig) StagingMaxBytes() int64 {
	return c.stagingMaxBytes
}

// Headless reports whether the tray UI should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) RenderBaseURL() string {
	return c.renderBaseURL
}

func (c *EnvConfig) RenderToken() string {
	return c.renderToken
}

func (c *EnvConfig) StockBaseURL() string {
	return c.stockBaseURL
}

func (c *EnvConfig) StockAPIKey() string {
	return c.stockAPIKey
}

func (c *EnvConfig) YouTubeClientID() string {
	return c.youtubeClientID
}

func (c *EnvConfig) YouTubeClientSecret() string {
	return c.youtubeClientSecret
}

func (c *EnvConfig) YouTubeRefreshToken() string {
	return c.youtubeRefreshToken
}

func (c *EnvConfig) RenderPollInterval() time.Duration {
	if c.settings.Render.PollIntervalSec > 0 {
		return time.Duration(c.settings.Render.PollIntervalSec * float64(time.Second))
	}
	return DefaultRenderPollInterval
}

func (c *EnvConfig) RenderPollTimeout() time.Duration {
	if c.settings.Render.PollTimeoutSec > 0 {
		return time.Duration(c.settings.Render.PollTimeoutSec * float64(time.Second))
	}
	return DefaultRenderPollTimeout
}

func (c *EnvConfig) Settings() Settings {
	return c.settings
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
