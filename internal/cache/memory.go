package cache

import (
	"context"
	"errors"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/bifrost/internal/observability"
)

// MemoryCache is the control plane's L1 for datafile bytes, keyed "<environment>/<tag>".
// Entries expire after a TTL as a safety net; Pub/Sub notifications evict them sooner.
type MemoryCache struct {
	store otter.Cache[string, []byte]
}

// NewMemoryCache bounds the cache to capacity datafiles.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	store, err := otter.MustBuilder[string, []byte](capacity).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &MemoryCache{store: store}, nil
}

// Get returns the cached datafile and records a hit or a miss.
func (c *MemoryCache) Get(name string) ([]byte, bool) {
	data, ok := c.store.Get(name)
	if ok {
		observability.DatafileCacheHits.Inc()
	} else {
		observability.DatafileCacheMisses.Inc()
	}
	return data, ok
}

// Set stores a datafile.
func (c *MemoryCache) Set(name string, data []byte) {
	c.store.Set(name, data)
}

// Del evicts a datafile.
func (c *MemoryCache) Del(name string) {
	c.store.Delete(name)
}

// Close stops the cache's background goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}

// RunMetricsCollector exports size and evictions every interval until ctx is done.
func (c *MemoryCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.store.Stats()
			observability.DatafileCacheItems.Set(float64(c.store.Size()))
			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.DatafileCacheEvictions.Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
		}
	}
}

// Source is where the control plane reads published datafiles from.
type Source interface {
	Fetch(ctx context.Context, environment, tag string) ([]byte, error)
}

// CachedSource puts a MemoryCache in front of another Source.
type CachedSource struct {
	l1   *MemoryCache
	next Source
}

// NewCachedSource returns a Source reading l1 first, then next.
func NewCachedSource(l1 *MemoryCache, next Source) *CachedSource {
	return &CachedSource{l1: l1, next: next}
}

// Fetch implements Source. Misses from next are not cached.
func (s *CachedSource) Fetch(ctx context.Context, environment, tag string) ([]byte, error) {
	name := environment + "/" + tag
	if data, ok := s.l1.Get(name); ok {
		return data, nil
	}

	data, err := s.next.Fetch(ctx, environment, tag)
	if err != nil {
		return nil, err
	}
	s.l1.Set(name, data)
	return data, nil
}

// Invalidate evicts the datafile named by n. It is the Subscribe callback of the control plane.
func (s *CachedSource) Invalidate(n Notification) {
	observability.DatafileInvalidations.Inc()
	s.l1.Del(n.Name())
}

// IsMiss reports whether err means "never published".
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
