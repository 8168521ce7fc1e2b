//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/database"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

func TestPostgresPool_Integration(t *testing.T) {
	ctx := context.Background()
	pgCtr, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            pgCtr.ConnectionString,
		MaxConns:       3,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
		PingMaxRetries: 3,
		PingBackoff:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer pool.Close()

	t.Run("Should report healthy", func(t *testing.T) {
		checker := database.NewHealthChecker(pool)
		assert.Equal(t, "postgres", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})

	t.Run("Should export pool gauges", func(t *testing.T) {
		monitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "bifrost_database_pool_connections", map[string]string{"state": "max"}) == 3
		}, 2*time.Second, 10*time.Millisecond)

		conn, err := pool.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "bifrost_database_pool_connections", map[string]string{"state": "in_use"}) >= 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should fail after exhausting retries", func(t *testing.T) {
		_, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
			URL:            "postgres://nobody@127.0.0.1:1/none?sslmode=disable",
			MaxConns:       1,
			ConnectTimeout: 200 * time.Millisecond,
			PingMaxRetries: 2,
			PingBackoff:    10 * time.Millisecond,
		})
		assert.ErrorContains(t, err, "after 2 attempts")
	})
}
