// Package cache implements the layered caching and revalidation engine for
// server-rendered data fetches: per-scope request memoization, a persistent
// stale-while-revalidate store, tag and path based invalidation, and a
// coordinator guaranteeing at most one in-flight regeneration per key.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fetchcache/fetchcache/internal/metrics"
)

// Options configures a Cache instance. Store and Fetch are required.
type Options struct {
	Store Store
	Fetch FetchFunc
	// MaxTTL is the server-wide ceiling clamped onto per-call TTL policies.
	// Zero disables the ceiling.
	MaxTTL time.Duration
	// ExcludeHeaders lists header names (case-insensitive) that never
	// participate in the fingerprint, typically correlation or tracing
	// headers.
	ExcludeHeaders []string
	// OnRegenerationFailure observes every swallowed background failure.
	OnRegenerationFailure FailureHook
	Logger                *slog.Logger
	Metrics               *metrics.Recorder
	// BackgroundTimeout bounds each regeneration flight, foreground callers
	// included; a caller may stop waiting earlier via its own context.
	BackgroundTimeout time.Duration
}

// Cache is the engine facade the rendering layer talks to. Construct one per
// process with New and tear it down with Close; tests instantiate isolated
// instances the same way.
type Cache struct {
	store          Store
	tags           *TagIndex
	coord          *coordinator
	fetch          FetchFunc
	logger         *slog.Logger
	metrics        *metrics.Recorder
	excludeHeaders []string
	maxTTL         atomic.Int64
}

// Stats is the snapshot the admin surface reports.
type Stats struct {
	Entries  int64 `json:"entries"`
	Tags     int   `json:"tags"`
	Inflight int   `json:"inflightRegenerations"`
}

// New assembles the engine from its parts.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache: store required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("cache: fetch function required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "cache"))

	tags := NewTagIndex()
	c := &Cache{
		store:          opts.Store,
		tags:           tags,
		fetch:          opts.Fetch,
		logger:         logger,
		metrics:        opts.Metrics,
		excludeHeaders: opts.ExcludeHeaders,
	}
	c.maxTTL.Store(int64(opts.MaxTTL))
	c.coord = newCoordinator(opts.Store, tags, opts.Fetch, opts.OnRegenerationFailure, logger, opts.Metrics, opts.BackgroundTimeout)
	return c, nil
}

// BeginScope opens the memoization scope for one top-level render of the
// given route path. Entries written while the scope is active carry the
// path's label as an implicit tag. The caller must End the scope.
func (c *Cache) BeginScope(path string) *Scope {
	return newScope(path)
}

// FetchCached resolves one fetch through every layer of the engine. scope
// may be nil for callers outside any render scope; the persistent layer
// still applies. Policy violations fail synchronously before any work runs.
func (c *Cache) FetchCached(ctx context.Context, scope *Scope, desc Descriptor, pol Policy) ([]byte, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	key := desc.Fingerprint(c.excludeHeaders...)

	if scope == nil {
		return c.resolve(ctx, nil, key, desc, pol)
	}
	return scope.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		return c.resolve(ctx, scope, key, desc, pol)
	})
}

// resolve is the persistent-layer path, entered at most once per key per
// scope thanks to the memoizer.
func (c *Cache) resolve(ctx context.Context, scope *Scope, key Key, desc Descriptor, pol Policy) ([]byte, error) {
	start := time.Now()

	if pol.Mode == ModeNoStore {
		value, err := c.fetch(ctx, desc)
		outcome := metrics.FetchOutcomeBypass
		if err != nil {
			outcome = metrics.FetchOutcomeError
		}
		c.metrics.ObserveFetch(outcome, string(pol.Mode), time.Since(start))
		return value, err
	}

	spec := regenSpec{desc: desc, tags: c.effectiveTags(scope, pol)}
	if pol.Mode == ModeTTL {
		spec.freshFor = pol.EffectiveTTL(time.Duration(c.maxTTL.Load()))
	}

	value, outcome, err := c.coord.readThrough(ctx, key, spec, pol.Blocking)
	c.metrics.ObserveFetch(outcome, string(pol.Mode), time.Since(start))
	return value, err
}

func (c *Cache) effectiveTags(scope *Scope, pol Policy) []string {
	tags := make([]string, 0, len(pol.Tags)+1)
	tags = append(tags, pol.Tags...)
	if p := scope.Path(); p != "" {
		tags = append(tags, PathLabel(p))
	}
	return tags
}

// InvalidateTag makes every entry carrying the tag stale as of now. Values
// are retained and keep being served while lazy regeneration happens on the
// next read of each key. Staleness is stamped with the coordinator's clock
// so freshness checks and invalidations share one time source.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	keys := c.tags.KeysForTag(tag)
	if err := c.store.MarkStale(ctx, keys, c.coord.now().UTC()); err != nil {
		return err
	}
	c.metrics.ObserveInvalidation(metrics.InvalidationKindTag, len(keys))
	c.logger.Info("tag invalidated", slog.String("tag", tag), slog.Int("keys", len(keys)))
	return nil
}

// InvalidatePath invalidates every entry produced while rendering the path.
func (c *Cache) InvalidatePath(ctx context.Context, path string) error {
	keys := c.tags.KeysForTag(PathLabel(path))
	if err := c.store.MarkStale(ctx, keys, c.coord.now().UTC()); err != nil {
		return err
	}
	c.metrics.ObserveInvalidation(metrics.InvalidationKindPath, len(keys))
	c.logger.Info("path invalidated", slog.String("path", path), slog.Int("keys", len(keys)))
	return nil
}

// Remove drops the entry and its tag associations outright.
func (c *Cache) Remove(ctx context.Context, key Key) error {
	if err := c.store.Remove(ctx, key); err != nil {
		return err
	}
	c.tags.RemoveKey(key)
	return nil
}

// SetMaxTTL adjusts the server-wide TTL ceiling at runtime, used by config
// hot-reload. Applies to writes that commit after the call.
func (c *Cache) SetMaxTTL(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.maxTTL.Store(int64(d))
}

// Stats reports engine counters for the admin surface.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.store.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Entries:  entries,
		Tags:     c.tags.TagCount(),
		Inflight: c.coord.inflightCount(),
	}, nil
}

// Close releases the underlying store.
func (c *Cache) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}
