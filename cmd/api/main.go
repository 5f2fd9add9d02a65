package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-voice-go/internal/app"
	"civic-voice-go/internal/config"
	"civic-voice-go/internal/httpapi"
	"civic-voice-go/internal/logger"
)

func main() {
	cfg, err := config.Load() // loads .env
	log := logger.NewWith(cfg.Environment, cfg.LogLevel, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.WithField("environment", cfg.Environment).Info("starting service")

	a, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Warm(ctx); err != nil {
		log.WithError(err).Fatal("failed to restore state from store")
	}
	if err := a.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start workers")
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpapi.New(a.Pipeline, a.Store, a.Aggregator, log).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := a.Close(cfg.NotifyTimeout); err != nil {
		log.WithError(err).Warn("failed to close store")
	}
	stats := a.Queue.Stats()
	log.WithField("processed", stats.Processed).WithField("failed", stats.Failed).Info("stopped")
}
