// Command camplusd serves the photo export pipeline over HTTP.
//
// Usage:
//
//	camplusd -config camplusd.yaml
//	camplusd -listen :8474 -data ./camplus-data
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/camplus/api"
	"github.com/hazyhaar/camplus/capture"
	"github.com/hazyhaar/camplus/compositor"
	"github.com/hazyhaar/camplus/dbopen"
	"github.com/hazyhaar/camplus/durable"
	"github.com/hazyhaar/camplus/export"
	"github.com/hazyhaar/camplus/gallery"
	"github.com/hazyhaar/camplus/ledger"
	"github.com/hazyhaar/camplus/observability"
	"github.com/hazyhaar/camplus/retryq"
	"github.com/hazyhaar/camplus/shots"
)

func main() {
	configPath := flag.String("config", "", "path to camplusd.yaml config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			slog.Error("camplusd: load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("camplusd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *Config) error {
	db, err := dbopen.Open(filepath.Join(cfg.DataDir, "camplus.db"), dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	led := ledger.NewStore(db, ledger.WithLogger(logger))
	if err := led.Init(ctx); err != nil {
		return err
	}
	sh := shots.NewStore(db)
	if err := sh.Init(ctx); err != nil {
		return err
	}
	events := observability.NewEventLogger(db)
	if err := events.Init(ctx); err != nil {
		return err
	}
	rq := retryq.New(db, retryq.Options{
		Visibility:   cfg.Retry.Visibility,
		PollInterval: cfg.Retry.PollInterval,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Logger:       logger,
	})
	if err := rq.Init(ctx); err != nil {
		return err
	}

	store, err := durable.NewStore(filepath.Join(cfg.DataDir, "exports"), durable.WithLogger(logger))
	if err != nil {
		return err
	}
	library, err := gallery.NewDirLibrary(filepath.Join(cfg.DataDir, "gallery"), gallery.WithLogger(logger))
	if err != nil {
		return err
	}

	coord := export.New(export.Config{
		Compositor: compositor.New(compositor.Config{
			Width:        cfg.Render.Width,
			Height:       cfg.Render.Height,
			SettleFrames: cfg.Render.SettleFrames,
			SettleDelay:  cfg.Render.SettleDelay,
			Logger:       logger,
		}),
		Capture: capture.Options{
			Format:  capture.Format(cfg.Capture.Format),
			Quality: cfg.Capture.Quality,
		},
		Durable:      store,
		Ledger:       led,
		Shots:        sh,
		Library:      library,
		Permissions:  gallery.StaticPermissions(cfg.perm()),
		Retry:        rq,
		Events:       events,
		ReadyTimeout: cfg.Render.ReadyTimeout,
		Album:        cfg.Album,
		Logger:       logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hostname, _ := os.Hostname()
		events.LogHeartbeat(ctx, "retryq", hostname, os.Getpid())
		rq.Run(ctx, coord.RetryHandler())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := observability.Cleanup(ctx, db, observability.RetentionConfig{
					EventsDays:     cfg.Retention.EventsDays,
					HeartbeatsDays: cfg.Retention.HeartbeatsDays,
				}); err != nil {
					logger.Warn("camplusd: retention cleanup failed", "error", err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.New(coord, led, sh, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("camplusd: listening", "addr", cfg.Listen, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("camplusd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("camplusd: shutdown incomplete", "error", err)
	}
	wg.Wait()
	return nil
}
