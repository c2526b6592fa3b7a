// Command shopcache runs the shop cache layer: it connects the shared Redis
// cache to the shop store, loads the geo index, warms hot shops and serves
// health, metrics and operator endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/config"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CACHEGUARD_CONFIG"), "path to the YAML config file")
	console := flag.Bool("console", false, "human-readable log output")
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	logger := newLogger(cfg.LogLevel, *console).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start.")
	}
	if err := a.start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.shutdown(shutdownCtx)
		logger.Fatal().Err(err).Msg("Failed to start.")
	}
	logger.Info().Str("port", a.server.GetHTTPPort()).Msg("Shop cache running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.shutdown(shutdownCtx)
	logger.Info().Msg("Shop cache stopped.")
}

func newLogger(level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
