// Package app is the composition root shared by the Bifrost binaries: it
// opens the infrastructure a configuration asks for and hands out the
// services built on top of it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/builder"
	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/database"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/state"
)

// poolMonitorInterval is how often connection pool gauges are sampled.
const poolMonitorInterval = 15 * time.Second

// Infra holds the connections opened for one process.
type Infra struct {
	Config *config.Config
	Logger *slog.Logger

	// DB is nil unless the state backend is postgres.
	DB *pgxpool.Pool

	// Redis is nil unless the state backend is redis, publishing is on, or
	// the caller asked for it.
	Redis *redis.Client

	Store state.Store

	// Publisher is nil unless Redis is open.
	Publisher *cache.RedisPublisher
}

// Open connects to what cfg needs. withRedis forces a Redis connection, e.g.
// for a control plane serving published datafiles.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, withRedis bool) (*Infra, error) {
	infra := &Infra{Config: cfg, Logger: log}

	if cfg.Build.NeedsDatabase() {
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		infra.DB = pool
	}

	if cfg.Build.NeedsRedis() || withRedis {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		infra.Redis = client
		infra.Publisher = cache.NewRedisPublisher(client, cfg.Redis.KeyPrefix, cfg.Redis.UpdatesChannel)
	}

	switch cfg.Build.StateBackend {
	case config.StateBackendPostgres:
		infra.Store = state.NewPostgresStore(infra.DB, cfg.Database.StateTable)
	case config.StateBackendRedis:
		infra.Store = state.NewRedisStore(infra.Redis, cfg.Redis.KeyPrefix)
	default:
		infra.Store = state.NewFileStore(cfg.Build.StateDir)
	}

	return infra, nil
}

// Builder returns a build service over the opened store. Datafiles are
// published only when the configuration turns publishing on.
func (i *Infra) Builder() *builder.Service {
	var publisher builder.Publisher
	if i.Config.Build.Publish && i.Publisher != nil {
		publisher = i.Publisher
	}
	return builder.New(i.Logger, i.Config.Build, i.Store, publisher)
}

// Checkers returns the readiness checks of the opened connections.
func (i *Infra) Checkers() []observability.Checker {
	var checkers []observability.Checker
	if i.DB != nil {
		checkers = append(checkers, database.NewHealthChecker(i.DB))
	}
	if i.Redis != nil {
		checkers = append(checkers, cache.NewHealthChecker(i.Redis))
	}
	return checkers
}

// StartMonitors samples pool statistics until ctx is done.
func (i *Infra) StartMonitors(ctx context.Context) {
	if i.DB != nil {
		go database.RunPoolMonitor(ctx, i.DB, poolMonitorInterval)
	}
	if i.Redis != nil {
		go cache.RunPoolMonitor(ctx, i.Redis, poolMonitorInterval)
	}
}

// Close releases every connection. It is safe to call on a partially opened Infra.
func (i *Infra) Close() {
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.Logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
