package cache_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

// countingSource serves a fixed payload and counts calls.
type countingSource struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (s *countingSource) Fetch(_ context.Context, environment, tag string) ([]byte, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(environment+"/"+tag+":"), s.data...), nil
}

func TestMemoryCache_Metrics(t *testing.T) {
	c, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	t.Run("records misses", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "bifrost_control_plane_l1_cache_misses_total", nil, 1, func() {
			_, found := c.Get("staging/all")
			assert.False(t, found)
		})
	})

	t.Run("records hits", func(t *testing.T) {
		c.Set("staging/all", []byte("{}"))
		testsupport.AssertMetricDelta(t, "bifrost_control_plane_l1_cache_hits_total", nil, 1, func() {
			data, found := c.Get("staging/all")
			assert.True(t, found)
			assert.Equal(t, []byte("{}"), data)
		})
	})

	t.Run("reports size and evictions", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.RunMetricsCollector(ctx, 10*time.Millisecond)

		for i := range 100 {
			c.Set(fmt.Sprintf("env-%d/all", i), []byte("{}"))
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "bifrost_control_plane_l1_cache_items_count", nil) > 0
		}, 2*time.Second, 20*time.Millisecond)
		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "bifrost_control_plane_l1_cache_evictions_total", nil) > 0
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestCachedSource(t *testing.T) {
	t.Run("Should read through once and then serve from L1", func(t *testing.T) {
		// Arrange
		l1, err := cache.NewMemoryCache(10, time.Minute)
		require.NoError(t, err)
		defer l1.Close()
		next := &countingSource{data: []byte("{}")}
		src := cache.NewCachedSource(l1, next)

		// Act
		first, err1 := src.Fetch(context.Background(), "production", "web")
		second, err2 := src.Fetch(context.Background(), "production", "web")

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), next.calls.Load())
	})

	t.Run("Should refetch after invalidation", func(t *testing.T) {
		l1, err := cache.NewMemoryCache(10, time.Minute)
		require.NoError(t, err)
		defer l1.Close()
		next := &countingSource{data: []byte("{}")}
		src := cache.NewCachedSource(l1, next)

		_, _ = src.Fetch(context.Background(), "production", "web")
		testsupport.AssertMetricDelta(t, "bifrost_control_plane_l1_invalidations_total", nil, 1, func() {
			src.Invalidate(cache.Notification{Environment: "production", Tag: "web", Revision: 2})
		})
		_, _ = src.Fetch(context.Background(), "production", "web")

		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("Should not cache misses", func(t *testing.T) {
		l1, err := cache.NewMemoryCache(10, time.Minute)
		require.NoError(t, err)
		defer l1.Close()
		next := &countingSource{err: fmt.Errorf("x: %w", cache.ErrMiss)}
		src := cache.NewCachedSource(l1, next)

		_, err1 := src.Fetch(context.Background(), "staging", "all")
		_, err2 := src.Fetch(context.Background(), "staging", "all")

		assert.True(t, cache.IsMiss(err1))
		assert.True(t, cache.IsMiss(err2))
		assert.Equal(t, int32(2), next.calls.Load())
	})
}

func TestDirSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging", "all.json"), []byte(`{"tag":"all"}`), 0o644))
	src := cache.NewDirSource(dir)

	data, err := src.Fetch(context.Background(), "staging", "all")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tag":"all"}`, string(data))

	_, err = src.Fetch(context.Background(), "production", "all")
	assert.True(t, errors.Is(err, cache.ErrMiss))
}
