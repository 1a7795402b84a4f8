// Package cache provides the three LRU caches the loader keeps over
// decoded chunks: one each for events, transactions and transaction
// groups (spec.md §4.4).
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermeslog/hermes/internal/chunkindex"
)

// Cache wraps an LRU keyed by chunk handle with the decode discipline
// spec.md §5 requires: the decode itself never runs under the cache's
// lock, and if two callers race to decode the same handle, only one
// insertion wins — the loser's freshly decoded value is discarded and the
// winner's is returned to both callers.
type Cache[V any] struct {
	lru  *lru.Cache[chunkindex.Handle, V]
	mu   sync.Mutex
	name string

	hits    prometheus.Counter
	misses  prometheus.Counter
	decodes prometheus.Counter

	preloaded bool
}

// New builds a Cache with room for capacity entries. capacity is clamped
// to at least 16, matching spec.md §4.4's `max(16, budget_i/avg_chunk_i)`.
func New[V any](name string, capacity int, reg prometheus.Registerer) *Cache[V] {
	if capacity < 16 {
		capacity = 16
	}
	l, _ := lru.New[chunkindex.Handle, V](capacity)

	factory := promauto.With(reg)
	return &Cache[V]{
		lru:  l,
		name: name,
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name:        "hermes_cache_hits_total",
			Help:        "Batch cache hits.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "hermes_cache_misses_total",
			Help:        "Batch cache misses.",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
		decodes: factory.NewCounter(prometheus.CounterOpts{
			Name:        "hermes_cache_decodes_total",
			Help:        "Chunk decodes performed by this cache (counts at most once per handle under correct use).",
			ConstLabels: prometheus.Labels{"cache": name},
		}),
	}
}

// GetOrDecode returns the decoded value for handle. On a miss, decode runs
// outside any lock held by Cache; concurrent callers that miss the same
// handle may each run decode, and only the first insertion is kept and
// returned to the later ones.
func (c *Cache[V]) GetOrDecode(handle chunkindex.Handle, decode func() (V, error)) (V, error) {
	if v, ok := c.get(handle); ok {
		c.hits.Inc()
		return v, nil
	}
	c.misses.Inc()

	if c.preloaded {
		// Preloaded mode: every chunk already fits, so a miss here means
		// the handle was never registered rather than an eviction race.
		var zero V
		return zero, ErrNotPreloaded
	}

	v, err := decode()
	if err != nil {
		var zero V
		return zero, err
	}
	c.decodes.Inc()

	c.mu.Lock()
	if existing, ok := c.lru.Get(handle); ok {
		c.mu.Unlock()
		// Someone else's insertion already won the race; discard ours.
		return existing, nil
	}
	c.lru.Add(handle, v)
	c.mu.Unlock()
	return v, nil
}

func (c *Cache[V]) get(handle chunkindex.Handle) (V, bool) {
	if c.preloaded {
		// Nothing is inserted once preloaded, and lru.Cache guards its own
		// state, so reads skip c.mu.
		return c.lru.Get(handle)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(handle)
}

// Preload decodes every handle up front via decode, inserting each result.
// If every handle fits within the cache's capacity, the cache switches to
// preloaded mode: GetOrDecode no longer runs decode on a miss, since a
// miss at that point means the caller asked for a handle this cache never
// saw, not an eviction.
func (c *Cache[V]) Preload(handles []chunkindex.Handle, decode func(chunkindex.Handle) (V, error)) error {
	for _, h := range handles {
		v, err := decode(h)
		if err != nil {
			return err
		}
		c.decodes.Inc()
		c.mu.Lock()
		c.lru.Add(h, v)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.preloaded = c.lru.Len() >= len(handles)
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries currently cached.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
