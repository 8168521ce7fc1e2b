// Package builder turns a definitions directory into datafiles.
//
// A build loads and lints the definitions, carves mutual exclusion groups and
// then, for each environment, compiles every feature against the snapshot left
// by the previous build. The new snapshot is saved before any datafile is
// written, so a crash between the two steps can only leave datafiles one build
// behind their state, never ahead of it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/datafile"
	"github.com/rafaeljc/bifrost/internal/definitions"
	"github.com/rafaeljc/bifrost/internal/groups"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/state"
	"github.com/rafaeljc/bifrost/internal/traffic"
)

var (
	// ErrBuildInProgress is returned when another build of the same Service is running.
	ErrBuildInProgress = errors.New("a build is already in progress")

	// ErrUnknownEnvironment is returned when Options names an environment the
	// configuration does not list.
	ErrUnknownEnvironment = errors.New("unknown environment")
)

// Build statuses reported to observability.BuildsTotal.
const (
	statusSuccess = "success"
	statusInvalid = "invalid"
	statusFail    = "fail"
)

// Publisher distributes a finished datafile. cache.RedisPublisher implements it.
type Publisher interface {
	Publish(ctx context.Context, d *datafile.Datafile) (cache.SetResult, error)
}

// Options narrows a single build.
type Options struct {
	// Environments to build. Empty means every configured environment.
	Environments []string `json:"environments,omitempty"`
}

// Service runs builds. It is safe for concurrent use; overlapping builds are
// rejected with ErrBuildInProgress.
type Service struct {
	logger    *slog.Logger
	cfg       config.BuildConfig
	loader    *definitions.Loader
	store     state.Store
	publisher Publisher

	running sync.Mutex
}

// New creates a build service. publisher may be nil when datafiles are only written to disk.
func New(logger *slog.Logger, cfg config.BuildConfig, store state.Store, publisher Publisher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		panic("builder: state store cannot be nil")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Service{
		logger:    logger,
		cfg:       cfg,
		loader:    definitions.NewLoader(cfg.DefinitionsDir, logger),
		store:     store,
		publisher: publisher,
	}
}

// Build runs one build. A lint failure is returned as a *definitions.LintError
// (errors.Is(err, definitions.ErrInvalid)) and nothing is saved or written.
func (s *Service) Build(ctx context.Context, opts Options) (*Result, error) {
	if !s.running.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	res := &Result{BuildID: uuid.NewString()}
	log := s.logger.With(slog.String("build_id", res.BuildID))
	ctx = logger.WithContext(ctx, log)

	err := s.build(ctx, opts, res)
	res.Duration = time.Since(start)
	observability.BuildDuration.Observe(res.Duration.Seconds())

	switch {
	case errors.Is(err, definitions.ErrInvalid):
		observability.BuildsTotal.WithLabelValues(statusInvalid).Inc()
		log.Warn("build rejected by lint", slog.Any("error", err))
		return nil, err
	case err != nil:
		observability.BuildsTotal.WithLabelValues(statusFail).Inc()
		log.Error("build failed", slog.Any("error", err))
		return nil, err
	}

	observability.BuildsTotal.WithLabelValues(statusSuccess).Inc()
	log.Info("build completed",
		slog.String("source", res.Source),
		slog.Int("environments", len(res.Environments)),
		slog.Int("changed", lo.CountBy(res.Environments, func(e EnvironmentResult) bool { return e.Changed })),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Lint loads the definitions and lints them against the configured environments
// without compiling anything.
func (s *Service) Lint(ctx context.Context) (*definitions.Project, error) {
	project, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := definitions.Lint(project, s.cfg.Environments); err != nil {
		return project, err
	}
	return project, nil
}

// Fingerprint returns the current fingerprint of the definitions directory.
func (s *Service) Fingerprint() (string, error) {
	sum, err := definitions.Fingerprint(s.cfg.DefinitionsDir)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", sum), nil
}

func (s *Service) build(ctx context.Context, opts Options, res *Result) error {
	environments, err := s.environments(opts)
	if err != nil {
		return err
	}

	// Fingerprint before loading: if the files change in between, the next
	// build sees a different fingerprint and rebuilds.
	res.Source, err = s.Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to fingerprint definitions: %w", err)
	}

	project, err := s.Lint(ctx)
	if err != nil {
		return err
	}
	carving := groups.Carve(project.CarverGroups())

	for _, env := range environments {
		envCtx := logger.With(ctx, slog.String("environment", env))
		envRes, err := s.buildEnvironment(envCtx, env, project, carving, res.Source)
		if err != nil {
			return fmt.Errorf("environment %s: %w", env, err)
		}
		res.Environments = append(res.Environments, *envRes)
	}
	return nil
}

// environments resolves opts against the configuration, keeping configuration order.
func (s *Service) environments(opts Options) ([]string, error) {
	if len(opts.Environments) == 0 {
		return s.cfg.Environments, nil
	}
	for _, env := range opts.Environments {
		if !slices.Contains(s.cfg.Environments, env) {
			return nil, fmt.Errorf("%q: %w", env, ErrUnknownEnvironment)
		}
	}
	return lo.Filter(s.cfg.Environments, func(env string, _ int) bool {
		return slices.Contains(opts.Environments, env)
	}), nil
}

// compiled is the output of one feature in one environment.
type compiled struct {
	feature definitions.Feature
	ranges  bucketing.Ranges
	output  traffic.Output
}

func (s *Service) buildEnvironment(ctx context.Context, env string, project *definitions.Project, carving groups.Carving, source string) (*EnvironmentResult, error) {
	log := logger.FromContext(ctx)

	previous, err := s.store.Load(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	active := lo.Filter(project.Features, func(f definitions.Feature, _ int) bool { return !f.Archived })
	results, err := s.compileAll(ctx, env, active, previous, carving)
	if err != nil {
		return nil, err
	}

	next := &state.Snapshot{Source: source, Features: make(map[string]traffic.FeatureSnapshot, len(project.Features))}
	for _, c := range results {
		next.Features[c.feature.Key] = c.output.Snapshot
	}
	// Archived features keep their history so that unarchiving resumes the same allocation.
	for _, f := range project.Features {
		if prev := previous.Feature(f.Key); f.Archived && prev != nil {
			next.Features[f.Key] = *prev
		}
	}

	envRes := &EnvironmentResult{Environment: env}
	switch {
	case previous == nil:
		next.Revision = 1
		envRes.Changed = true
	case previous.SameContent(next):
		next.Revision = previous.Revision
	default:
		next.Revision = previous.Revision + 1
		envRes.Changed = true
	}
	envRes.Revision = next.Revision

	if envRes.Changed {
		if err := s.store.Save(ctx, env, next); err != nil {
			return nil, fmt.Errorf("failed to save state: %w", err)
		}
	}
	observability.StateRevision.WithLabelValues(env).Set(float64(next.Revision))

	for _, c := range results {
		for _, d := range c.output.Decisions {
			envRes.Decisions = append(envRes.Decisions, FeatureDecision{Feature: c.feature.Key, Decision: d})
			observability.RulesCompiledTotal.WithLabelValues(env, string(d.Outcome), string(d.Reason)).Inc()
			if d.Truncated {
				observability.TruncationsTotal.WithLabelValues(env).Inc()
			}
		}
	}

	for _, tag := range s.cfg.Tags {
		df := assemble(env, tag, next.Revision, results)
		path, err := datafile.Write(s.cfg.OutputDir, df)
		if err != nil {
			return nil, err
		}
		out := DatafileResult{Tag: tag, Path: path, Features: len(df.Features)}

		if s.publisher != nil {
			setRes, err := s.publisher.Publish(ctx, df)
			if err != nil {
				observability.DatafilesPublishedTotal.WithLabelValues(env, statusFail).Inc()
				return nil, err
			}
			observability.DatafilesPublishedTotal.WithLabelValues(env, setRes.String()).Inc()
			out.Published = setRes.String()
		}
		envRes.Datafiles = append(envRes.Datafiles, out)
	}

	log.Info("environment built",
		slog.Int("revision", envRes.Revision),
		slog.Bool("changed", envRes.Changed),
		slog.Int("features", len(results)),
		slog.Int("rebucketed", envRes.Rebucketed()),
	)
	return envRes, nil
}

// compileAll compiles every feature of one environment on a bounded worker pool.
// Results keep the order of features.
func (s *Service) compileAll(ctx context.Context, env string, features []definitions.Feature, previous *state.Snapshot, carving groups.Carving) ([]compiled, error) {
	results := make([]compiled, len(features))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, f := range features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranges := carving.RangesFor(f.Key)
			results[i] = compiled{
				feature: f,
				ranges:  ranges,
				output: traffic.CompileTraffic(traffic.Input{
					Feature:    f.Key,
					Variations: f.TrafficVariations(),
					Rules:      f.TrafficRules(env),
					Previous:   previous.Feature(f.Key),
					Ranges:     ranges,
				}),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// assemble builds the datafile of one tag. Features come in key order because
// the loader sorts them.
func assemble(env, tag string, revision int, results []compiled) *datafile.Datafile {
	df := &datafile.Datafile{
		SchemaVersion: datafile.SchemaVersion,
		Revision:      revision,
		Environment:   env,
		Tag:           tag,
		Features:      make([]datafile.Feature, 0, len(results)),
	}
	for _, c := range results {
		if !c.feature.HasTag(tag) {
			continue
		}
		df.Features = append(df.Features, datafile.Feature{
			Key:        c.feature.Key,
			BucketBy:   c.feature.BucketBy,
			Variations: c.output.Snapshot.Variations,
			Traffic:    c.output.Traffic,
			Ranges:     c.ranges,
		})
	}
	return df
}
