// Command scouter runs the Telegram operator bot, the HTTP API with the
// Gupshup webhook and the window expiry alerts.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"scouter/internal/assistant"
	"scouter/internal/bot"
	"scouter/internal/config"
	"scouter/internal/scheduler"
	"scouter/internal/server"
	"scouter/internal/storage"
	"scouter/internal/whatsapp"
	"scouter/internal/window"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	engine := window.New(cfg.WindowLength)
	gupshup := whatsapp.NewClient(&http.Client{Timeout: 15 * time.Second}, whatsapp.Config{
		BaseURL: cfg.GupshupBaseURL,
		APIKey:  cfg.GupshupAPIKey,
		Source:  cfg.GupshupSource,
		AppName: cfg.GupshupAppName,
	})
	if cfg.GupshupAPIKey == "" {
		log.Warn("GUPSHUP_API_KEY is not set, outbound WhatsApp messages will fail")
	}
	messenger := whatsapp.NewMessenger(store, gupshup, engine, cfg.DefaultRegion, log)

	var ai bot.Assistant
	if cfg.AssistantEnabled() {
		ai = assistant.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, store, engine, log)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, messenger, ai, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, b, engine, cfg.ExpiryWarning, cfg.AlertChatIDs, log)
	api := server.New(store, messenger, server.Options{
		Region:    cfg.DefaultRegion,
		LiveLimit: cfg.LivePreviewLimit,
		APIKey:    cfg.APIKey,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting scouter", "http_addr", cfg.HTTPAddr, "window", engine.Duration(), "assistant", ai != nil)

	go sched.Run(ctx)
	go func() {
		if err := api.Run(ctx, cfg.HTTPAddr); err != nil {
			log.Error("http server", "error", err)
			cancel()
		}
	}()

	b.Run(ctx)

	log.Info("scouter stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
