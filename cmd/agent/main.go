package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storyforge/storyforge-agent/internal/api"
	"github.com/storyforge/storyforge-agent/internal/config"
	"github.com/storyforge/storyforge-agent/internal/db"
	"github.com/storyforge/storyforge-agent/internal/logging"
	"github.com/storyforge/storyforge-agent/internal/media"
	"github.com/storyforge/storyforge-agent/internal/playback"
	"github.com/storyforge/storyforge-agent/internal/preview"
	"github.com/storyforge/storyforge-agent/internal/project"
	"github.com/storyforge/storyforge-agent/internal/publish"
	"github.com/storyforge/storyforge-agent/internal/render"
	"github.com/storyforge/storyforge-agent/internal/stock"
	"github.com/storyforge/storyforge-agent/internal/timeline"
	"github.com/storyforge/storyforge-agent/internal/ui"
	"github.com/storyforge/storyforge-agent/internal/upload"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional .env next to the binary; real env always wins.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting storyforge agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 STORYFORGE AGENT v%-8s                ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	staging, err := upload.NewStaging(cfg.StagingDir(), cfg.StagingMaxBytes(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize upload staging: %w", err)
	}
	defer staging.Close()

	settings := cfg.Settings()
	timelineOpts := timeline.Options{
		MinImageDuration:     settings.Timeline.MinImageDurationSec,
		DefaultImageDuration: settings.Timeline.DefaultImageDurationSec,
	}

	previewTuning := preview.Tuning{
		FrameInterval: time.Duration(settings.Preview.FrameIntervalMs) * time.Millisecond,
		SettleDelay:   time.Duration(settings.Preview.SettleDelayMs) * time.Millisecond,
	}

	projectSvc := project.NewService(repo, timelineOpts, previewTuning, staging, logger)
	playbackSvc := playback.NewServer(staging, logger)

	var renderClient render.Client
	var poller *render.Poller
	if cfg.RenderBaseURL() != "" {
		renderClient = render.NewHTTPClient(cfg.RenderBaseURL(), cfg.RenderToken(), logger)
		poller = render.NewPoller(renderClient, cfg.RenderPollInterval(), cfg.RenderPollTimeout(), logger)
		logger.Info("render service configured", "base_url", cfg.RenderBaseURL())
	} else {
		logger.Warn("render service not configured, render jobs will fail")
	}

	var stockClient stock.Client
	if cfg.StockBaseURL() != "" && cfg.StockAPIKey() != "" {
		stockClient = stock.NewHTTPClient(cfg.StockBaseURL(), cfg.StockAPIKey(), logger)
		logger.Info("stock search configured", "base_url", cfg.StockBaseURL())
	} else {
		logger.Warn("stock search not configured")
	}

	creds := publish.Credentials{
		ClientID:     cfg.YouTubeClientID(),
		ClientSecret: cfg.YouTubeClientSecret(),
		RefreshToken: cfg.YouTubeRefreshToken(),
	}
	var publisher project.Publisher
	if creds.Complete() {
		publisher = publish.NewYouTubeUploader(creds, publish.Options{
			CategoryID:        settings.Publish.CategoryID,
			Visibility:        settings.Publish.Visibility,
			NotifySubscribers: settings.Publish.NotifySubscribers,
		}, logger)
		logger.Info("youtube publishing configured")
	} else {
		publisher = publish.NewStubPublisher(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := project.NewRunner(projectSvc, repo, renderClient, poller, publisher, logger)
	go runner.Start(ctx)

	var prober media.Prober = media.NewFFprobe(logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		ProjectService: projectSvc,
		Repository:     repo,
		Runner:         runner,
		StockClient:    stockClient,
		Staging:        staging,
		PlaybackServer: playbackSvc,
		Prober:         prober,
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: runner,
			Logger: logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
