// Package main runs the Bifrost syncer: a worker that rebuilds datafiles
// whenever the definitions directory changes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/bifrost/internal/app"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run executes the worker lifecycle.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Syncer.Enabled {
		return fmt.Errorf("syncer is disabled (BIFROST_SYNCER_ENABLED=false)")
	}

	log := logger.New(&cfg.App)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer infra.Close()
	infra.StartMonitors(ctx)

	worker := syncer.New(log, syncer.Config{
		Interval:   cfg.Syncer.Interval,
		RunOnStart: cfg.Syncer.RunOnStart,
	}, infra.Builder())

	obs := observability.NewServer(log, &cfg.Observability, append(infra.Checkers(), worker)...)
	obs.Start()

	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.Any("error", err))
	}

	log.Info("syncer exited")
	return runErr
}
