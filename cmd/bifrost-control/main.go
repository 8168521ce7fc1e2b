// Package main runs the Bifrost control plane: the HTTP API that triggers
// builds and serves published datafiles, plus the observability server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaeljc/bifrost/internal/app"
	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/controlapi"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

// cacheMetricsInterval is how often L1 size and evictions are exported.
const cacheMetricsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateControlPlane(); err != nil {
		return fmt.Errorf("control plane config: %w", err)
	}

	log := logger.New(&cfg.App)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Infrastructure. Datafiles are served from Redis when publishing is
	// on, otherwise straight from the output directory.
	infra, err := app.Open(ctx, cfg, log, cfg.Build.Publish)
	if err != nil {
		return err
	}
	defer infra.Close()
	infra.StartMonitors(ctx)

	var source cache.Source = cache.NewDirSource(cfg.Build.OutputDir)
	if infra.Publisher != nil {
		l1, err := cache.NewMemoryCache(cfg.Server.Control.DatafileCacheSize, cfg.Server.Control.DatafileCacheTTL)
		if err != nil {
			return fmt.Errorf("failed to create datafile cache: %w", err)
		}
		defer l1.Close()
		go l1.RunMetricsCollector(ctx, cacheMetricsInterval)

		cached := cache.NewCachedSource(l1, infra.Publisher)
		go func() {
			if err := infra.Publisher.Subscribe(logger.WithContext(ctx, log), cached.Invalidate); err != nil {
				log.Error("datafile subscription stopped", slog.Any("error", err))
			}
		}()
		source = cached
	}

	// 3. Wiring
	builds := infra.Builder()
	api := controlapi.NewAPIWithConfig(builds, source, infra.Store, controlapi.Options{
		APIKeyHash:   cfg.Server.Control.APIKeyHash,
		SkipAuth:     cfg.Server.Control.APIKeyHash == "",
		BuildTimeout: cfg.Server.Control.BuildTimeout,
		Logger:       log,
	})
	if cfg.Server.Control.APIKeyHash == "" {
		log.Warn("API authentication is disabled")
	}

	definitionsCheck := observability.NewCheckerFunc("definitions", func(context.Context) error {
		_, err := builds.Fingerprint()
		return err
	})
	obs := observability.NewServer(log, &cfg.Observability, append(infra.Checkers(), definitionsCheck)...)
	obs.Start()

	// 4. HTTP server
	srv := &http.Server{
		Addr:              cfg.Server.Control.Addr(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout(),
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("control plane listening", slog.String("addr", srv.Addr), slog.Bool("tls", cfg.Server.Control.TLSEnabled))
		var err error
		if cfg.Server.Control.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.Control.TLSCert, cfg.Server.Control.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve http: %w", err)
		}
	}()

	// 5. Graceful shutdown
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.Any("error", err))
	}

	log.Info("control plane exited")
	return nil
}
