package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fetchcache/fetchcache/internal/metrics"
)

// FetchFunc performs the underlying network fetch for a descriptor. The
// engine never interprets the returned payload.
type FetchFunc func(ctx context.Context, desc Descriptor) ([]byte, error)

// FailureHook receives every background regeneration failure the engine
// swallows, for logging and metrics collaborators.
type FailureHook func(key Key, err error)

// regenSpec carries everything a regeneration needs to reproduce the entry:
// the request, the tags to reattach and the freshness window. A zero
// freshFor means the new entry stays fresh until invalidated.
type regenSpec struct {
	desc     Descriptor
	tags     []string
	freshFor time.Duration
}

// coordinator owns the per-key revalidation state machine. A key is either
// absent (cold reads block on one shared fetch), fresh (served as is), or
// stale (served immediately while at most one regeneration runs for it
// process-wide).
type coordinator struct {
	store     Store
	tags      *TagIndex
	fetch     FetchFunc
	onFailure FailureHook
	logger    *slog.Logger
	metrics   *metrics.Recorder
	// bgTimeout bounds every regeneration flight, foreground or background.
	bgTimeout time.Duration
	now       func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	inflight map[Key]struct{}
}

func newCoordinator(store Store, tags *TagIndex, fetch FetchFunc, onFailure FailureHook, logger *slog.Logger, rec *metrics.Recorder, bgTimeout time.Duration) *coordinator {
	if bgTimeout <= 0 {
		bgTimeout = 30 * time.Second
	}
	return &coordinator{
		store:     store,
		tags:      tags,
		fetch:     fetch,
		onFailure: onFailure,
		logger:    logger,
		metrics:   rec,
		bgTimeout: bgTimeout,
		now:       time.Now,
		inflight:  make(map[Key]struct{}),
	}
}

// readThrough resolves one persistent-layer read. Cold starts block on a
// shared regeneration; stale entries are returned immediately with a
// background regeneration scheduled unless the policy demands blocking.
func (c *coordinator) readThrough(ctx context.Context, key Key, spec regenSpec, blocking bool) ([]byte, metrics.FetchOutcome, error) {
	entry, ok, err := c.store.Read(ctx, key)
	if err != nil {
		// A broken store read degrades to a cold fetch rather than failing
		// the caller.
		c.logger.Warn("store read failed", slog.String("key", string(key)), slog.Any("error", err))
		ok = false
	}

	if !ok {
		value, err := c.regenerate(ctx, key, spec, metrics.RegenTriggerCold)
		if err != nil {
			return nil, metrics.FetchOutcomeError, err
		}
		return value, metrics.FetchOutcomeMiss, nil
	}

	if entry.Fresh(c.now()) {
		return entry.Value, metrics.FetchOutcomeHit, nil
	}

	if blocking {
		value, err := c.regenerate(ctx, key, spec, metrics.RegenTriggerBlocking)
		if err != nil {
			return nil, metrics.FetchOutcomeError, err
		}
		return value, metrics.FetchOutcomeStale, nil
	}

	c.scheduleBackground(key, spec)
	return entry.Value, metrics.FetchOutcomeStale, nil
}

// regenerate joins the single in-flight fetch for the key and waits for its
// outcome. The flight is shared by every caller of the key, so it runs on
// its own context bounded by the regeneration timeout, never on any one
// caller's: a caller that stops waiting gets its own context error while the
// flight keeps running for the remaining callers and still commits.
// Committing happens even if an invalidation landed while the fetch was in
// flight, so the work is not lost and the next read re-checks freshness.
func (c *coordinator) regenerate(ctx context.Context, key Key, spec regenSpec, trigger metrics.RegenTrigger) ([]byte, error) {
	start := c.now()
	ch := c.group.DoChan(string(key), func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.Background(), c.bgTimeout)
		defer cancel()
		value, err := c.fetch(flightCtx, spec.desc)
		if err != nil {
			return nil, err
		}
		if err := c.commit(flightCtx, key, value, spec); err != nil {
			return nil, err
		}
		return value, nil
	})

	var value []byte
	var err error
	select {
	case res := <-ch:
		err = res.Err
		if err == nil {
			value = res.Val.([]byte)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.metrics.ObserveRegeneration(trigger, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// scheduleBackground starts a regeneration for the key unless one is already
// in flight. Losers of the race simply keep serving the stale value; the
// winner's failure is swallowed here, reported once through the hook, and
// the previous entry stays untouched for the next read to retry.
func (c *coordinator) scheduleBackground(key Key, spec regenSpec) {
	c.mu.Lock()
	if _, running := c.inflight[key]; running {
		c.mu.Unlock()
		return
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()

		// The flight bounds its own lifetime; nothing here to cancel on.
		if _, err := c.regenerate(context.Background(), key, spec, metrics.RegenTriggerBackground); err != nil {
			c.logger.Warn("background regeneration failed",
				slog.String("key", string(key)),
				slog.Any("error", err))
			if c.onFailure != nil {
				c.onFailure(key, err)
			}
		}
	}()
}

// commit atomically replaces the entry and refreshes its tag associations.
func (c *coordinator) commit(ctx context.Context, key Key, value []byte, spec regenSpec) error {
	now := c.now().UTC()
	entry := Entry{
		Key:       key,
		Value:     value,
		Tags:      spec.tags,
		CreatedAt: now,
	}
	if spec.freshFor > 0 {
		entry.FreshUntil = now.Add(spec.freshFor)
	}
	if err := c.store.Write(ctx, entry); err != nil {
		return err
	}
	c.tags.Associate(key, spec.tags...)
	return nil
}

// inflightCount reports how many background regenerations are running.
func (c *coordinator) inflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
