package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/logging"
	"github.com/wudi/csrfguard/internal/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/csrfguard.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("csrfguard %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	lc := cfg.Logging
	logger, err := logging.NewWithOutput(lc.Level, lc.Output, logging.Rotation{
		MaxSize:    lc.Rotation.MaxSize,
		MaxBackups: lc.Rotation.MaxBackups,
		MaxAge:     lc.Rotation.MaxAge,
		Compress:   lc.Rotation.Compress,
		LocalTime:  lc.Rotation.LocalTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting csrfguard",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("csrf_protection", cfg.Security.Protection),
		zap.String("session_backend", cfg.Session.Backend),
		zap.Int("routes", len(cfg.Routes)),
	)

	srv, err := server.New(cfg)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		logging.Error("Failed to create config watcher", zap.Error(err))
		os.Exit(1)
	}
	watcher.OnChange(func(_, updated *config.Config) {
		if err := srv.Reload(updated); err != nil {
			logging.Error("Config reload failed", zap.Error(err))
			return
		}
		logging.Info("Config reloaded successfully")
	})
	if err := watcher.Start(); err != nil {
		logging.Error("Failed to watch config", zap.Error(err))
		os.Exit(1)
	}
	defer watcher.Stop()

	// SIGHUP forces a reload; SIGINT/SIGTERM stop the server.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			watcher.Reload()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
