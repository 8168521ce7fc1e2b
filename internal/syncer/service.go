// Package syncer implements the background worker that rebuilds datafiles
// whenever the definitions directory changes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/internal/builder"
	"github.com/rafaeljc/bifrost/internal/observability"
)

// Outcome is what one sync did. It is also the result label of
// observability.SyncerChecksTotal.
type Outcome string

const (
	// OutcomeUnchanged means the definitions match the last successful build.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeBuilt means a build ran and succeeded.
	OutcomeBuilt Outcome = "built"

	// OutcomeSkipped means the definitions changed but another build of the
	// same builder was running. The next sync retries.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means fingerprinting or the build returned an error.
	OutcomeFailed Outcome = "fail"
)

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between definition checks (polling).
	Interval time.Duration

	// RunOnStart checks immediately instead of waiting for the first tick.
	RunOnStart bool
}

// Builder is the part of builder.Service the syncer drives.
type Builder interface {
	Fingerprint() (string, error)
	Build(ctx context.Context, opts builder.Options) (*builder.Result, error)
}

// Service polls the definitions fingerprint and builds when it moves.
type Service struct {
	logger  *slog.Logger
	config  Config
	builder Builder

	mu        sync.RWMutex
	lastBuilt string
	lastErr   error
	lastCheck time.Time
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg Config, b Builder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		panic("syncer: builder cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	return &Service{
		logger:  logger,
		config:  cfg,
		builder: b,
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one check and records the outcome. Failures are logged and
// retried on the next tick.
func (s *Service) tick(ctx context.Context) {
	outcome, err := s.Sync(ctx)
	observability.SyncerChecksTotal.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		s.logger.Error("sync cycle failed", slog.Any("error", err))
	}
}

// Sync builds when the definitions fingerprint differs from the one of the
// last successful build. The first call always builds.
func (s *Service) Sync(ctx context.Context) (Outcome, error) {
	fingerprint, err := s.builder.Fingerprint()
	if err != nil {
		s.record(err, "")
		return OutcomeFailed, fmt.Errorf("failed to fingerprint definitions: %w", err)
	}

	s.mu.RLock()
	unchanged := s.lastBuilt != "" && s.lastBuilt == fingerprint
	s.mu.RUnlock()
	if unchanged {
		s.record(nil, "")
		return OutcomeUnchanged, nil
	}

	res, err := s.builder.Build(ctx, builder.Options{})
	if errors.Is(err, builder.ErrBuildInProgress) {
		s.logger.Info("definitions changed while a build was running, retrying on next tick",
			slog.String("source", fingerprint),
		)
		return OutcomeSkipped, nil
	}
	if err != nil {
		s.record(err, "")
		return OutcomeFailed, err
	}

	s.record(nil, res.Source)
	s.logger.Info("definitions changed, datafiles rebuilt",
		slog.String("build_id", res.BuildID),
		slog.String("source", res.Source),
		slog.Duration("duration", res.Duration),
	)
	return OutcomeBuilt, nil
}

func (s *Service) record(err error, built string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.lastCheck = time.Now()
	if built != "" {
		s.lastBuilt = built
	}
}

// Name implements observability.Checker.
func (s *Service) Name() string {
	return "syncer"
}

// Check implements observability.Checker: the syncer is ready once a build
// succeeded and the latest check did not fail.
func (s *Service) Check(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastErr != nil {
		return fmt.Errorf("last check at %s failed: %w", s.lastCheck.Format(time.RFC3339), s.lastErr)
	}
	if s.lastBuilt == "" {
		return errors.New("no successful build yet")
	}
	return nil
}
