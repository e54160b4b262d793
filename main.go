package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"marketfeed/config"
	"marketfeed/internal/cache"
	"marketfeed/internal/pipeline"
	"marketfeed/logger"
	"marketfeed/reader/binance"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run starts the worker and blocks until ctx is cancelled or the stream
// gives up. It returns the process exit code.
func run(ctx context.Context, args []string) int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	flags := flag.NewFlagSet("marketfeed", flag.ContinueOnError)
	configPath := flags.String("config", "config/config.yml", "Path to configuration file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"symbol":      cfg.Stream.Symbol,
		"redis":       config.RedactURL(cfg.Redis.URL),
	}).Info("starting market data worker")

	client, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.WithError(err).Error("failed to create redis client")
		return 1
	}

	p := pipeline.New(ctx, cfg, client)
	runErr := p.Run(ctx)

	if err := client.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}

	code := exitCode(runErr)
	switch {
	case errors.Is(runErr, binance.ErrReconnectExhausted):
		log.WithError(runErr).Error("giving up on market data stream")
	case runErr != nil:
		log.WithError(runErr).Error("worker stopped with error")
	default:
		log.Info("market data worker stopped")
	}
	return code
}

// exitCode maps the pipeline result to the process status: 0 after a
// shutdown signal, 1 once the stream is exhausted or fails.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
