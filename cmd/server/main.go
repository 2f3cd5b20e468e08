package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"covenant/internal/platform/config"
	"covenant/internal/platform/httpserver"
	"covenant/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, wires the services and runs the ops server and
// the job scheduler until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		slog.Error("covenant exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	log := logger.New(level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		app.scheduler.Run(ctx)
	}()

	srv := httpserver.New(cfg.Server.Addr, app.router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting covenant",
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Environment,
			"in_memory", cfg.InMemory(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-schedDone
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	<-schedDone
	return nil
}
