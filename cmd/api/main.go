package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"marketfeed/config"
	"marketfeed/internal/api"
	"marketfeed/internal/cache"
	"marketfeed/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	client, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.WithError(err).Error("failed to create redis client")
		os.Exit(1)
	}
	defer client.Close()

	upstream := api.NewBinanceREST(cfg.API.RestURL, cfg.API.UpstreamTimeout)
	srv := api.NewServer(cfg, client, upstream)

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"address": srv.Address(),
		"redis":   config.RedactURL(cfg.Redis.URL),
	}).Info("starting market data api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("api server failed")
		stop()
		client.Close()
		os.Exit(1)
	}

	log.Info("market data api stopped")
}
