package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/danmuck/indexd/internal/observability"
	"github.com/rs/zerolog/log"
)

// Factory builds the cached value for a newly discovered root.
type Factory[T any] func(root string) (T, error)

// Hooks observe cache transitions. Both run without the cache lock held.
type Hooks struct {
	OnRegister   func(root string)
	OnInvalidate func(removed []string)
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Roots        int
	Negatives    int
	Hits         uint64
	NegativeHits uint64
	Probes       uint64
}

// Cache memoizes root discovery. A single mutex guards both maps; the probe
// and the factory run unlocked, so racing lookups for the same new root may
// both build a value and the last one stored wins.
type Cache[T any] struct {
	prober  Prober
	factory Factory[T]
	hooks   Hooks

	mu       sync.Mutex
	roots    map[string]T
	negative map[string]struct{}
	stats    Stats
}

func NewCache[T any](prober Prober, factory Factory[T], hooks Hooks) *Cache[T] {
	if prober == nil {
		prober = NewMarkerProber()
	}
	return &Cache[T]{
		prober:   prober,
		factory:  factory,
		hooks:    hooks,
		roots:    make(map[string]T),
		negative: make(map[string]struct{}),
	}
}

// LookupByAnyPath returns the value for the root owning path. The path is
// treated as a file path: the negative cache is consulted for its parent.
func (c *Cache[T]) LookupByAnyPath(path string) (T, bool) {
	var zero T
	path = filepath.Clean(path)

	c.mu.Lock()
	for _, dir := range Ancestors(path) {
		if v, ok := c.roots[dir]; ok {
			c.stats.Hits++
			c.mu.Unlock()
			observability.RecordDiscoveryLookup("hit")
			return v, true
		}
	}
	if _, ok := c.negative[filepath.Dir(path)]; ok {
		c.stats.NegativeHits++
		c.mu.Unlock()
		observability.RecordDiscoveryLookup("negative")
		return zero, false
	}
	c.stats.Probes++
	c.mu.Unlock()

	root, ok, err := c.prober.FindRoot(path)
	if err != nil {
		observability.RecordDiscoveryLookup("probe_error")
		log.Warn().Str("component", "discovery").Str("path", path).Err(err).Msg("discovery.LookupByAnyPath probe failed")
		return zero, false
	}
	if !ok {
		observability.RecordDiscoveryLookup("probe_missing")
		c.markNegative(path)
		return zero, false
	}
	observability.RecordDiscoveryLookup("probe_found")
	return c.register(filepath.Clean(root))
}

// LookupByRootPath reads the positive cache only.
func (c *Cache[T]) LookupByRootPath(root string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.roots[filepath.Clean(root)]
	return v, ok
}

func (c *Cache[T]) register(root string) (T, bool) {
	var zero T
	c.mu.Lock()
	if v, ok := c.roots[root]; ok {
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	v, err := c.factory(root)
	if err != nil {
		log.Warn().Str("component", "discovery").Str("root", root).Err(err).Msg("discovery.register factory failed")
		return zero, false
	}

	c.mu.Lock()
	c.roots[root] = v
	for dir := range c.negative {
		if within(root, dir) {
			delete(c.negative, dir)
		}
	}
	c.mu.Unlock()

	log.Info().Str("component", "discovery").Str("root", root).Msg("discovery.register root")
	if c.hooks.OnRegister != nil {
		c.hooks.OnRegister(root)
	}
	return v, true
}

// markNegative records every ancestor directory of path the probe walked.
// Directories that became roots in the meantime are left alone.
func (c *Cache[T]) markNegative(path string) {
	dirs := Ancestors(filepath.Dir(path))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dir := range dirs {
		if c.hasRootAtOrAbove(dir) {
			return
		}
		c.negative[dir] = struct{}{}
	}
}

func (c *Cache[T]) hasRootAtOrAbove(dir string) bool {
	for root := range c.roots {
		if within(root, dir) {
			return true
		}
	}
	return false
}

// Invalidate drops positive and negative entries whose directory no longer
// exists and returns the dropped paths. Disk checks run unlocked.
func (c *Cache[T]) Invalidate() []string {
	c.mu.Lock()
	candidates := make([]string, 0, len(c.roots)+len(c.negative))
	for root := range c.roots {
		candidates = append(candidates, root)
	}
	for dir := range c.negative {
		candidates = append(candidates, dir)
	}
	c.mu.Unlock()

	var missing []string
	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, dir := range missing {
		delete(c.roots, dir)
		delete(c.negative, dir)
	}
	c.mu.Unlock()

	sort.Strings(missing)
	log.Info().Str("component", "discovery").Int("removed", len(missing)).Msg("discovery.Invalidate")
	if c.hooks.OnInvalidate != nil {
		c.hooks.OnInvalidate(missing)
	}
	return missing
}

// Roots returns the cached roots in sorted order.
func (c *Cache[T]) Roots() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.roots))
	for root := range c.roots {
		out = append(out, root)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// Values returns the cached values ordered by root.
func (c *Cache[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	roots := make([]string, 0, len(c.roots))
	for root := range c.roots {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	out := make([]T, 0, len(roots))
	for _, root := range roots {
		out = append(out, c.roots[root])
	}
	return out
}

func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Roots = len(c.roots)
	s.Negatives = len(c.negative)
	return s
}
