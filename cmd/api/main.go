package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/dossier/internal/app"
	"github.com/markdave123-py/dossier/internal/config"
	"github.com/markdave123-py/dossier/internal/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, WithCaller: cfg.LogCaller})

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	serverErrs, err := application.Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return
	}

	log.Info().Msg("dossier is running; DB connected and bootstrapped")
	select {
	case <-ctx.Done():
	case err := <-serverErrs:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
		cancel()
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
