package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how a fetch result interacts with the persistent store.
type Mode string

const (
	// ModeNoStore keeps the result out of the persistent store entirely.
	// Every call performs a fresh fetch, still collapsed by the per-scope
	// memoizer within one render.
	ModeNoStore Mode = "no-store"
	// ModeTTL keeps the result fresh for Policy.TTL after creation, then
	// serves it stale while a background regeneration runs.
	ModeTTL Mode = "ttl"
	// ModeForceCache keeps the result fresh until explicitly invalidated by
	// tag or path.
	ModeForceCache Mode = "force-cache"
)

// ErrInvalidPolicy rejects malformed policies synchronously at call time.
// Invalid combinations are never silently coerced.
var ErrInvalidPolicy = errors.New("cache: invalid policy")

// Policy describes the caching behavior requested for one fetch call.
type Policy struct {
	Mode Mode
	// TTL is the freshness window for ModeTTL. Ignored for other modes.
	TTL time.Duration
	// Tags are invalidation labels attached to the entry at write time.
	// Not allowed with ModeNoStore: an entry that is never stored can never
	// be invalidated.
	Tags []string
	// Blocking forces stale reads to wait for regeneration instead of
	// serving the stale value. Cold starts always block regardless.
	Blocking bool
}

// Validate checks the policy for combinations the engine refuses to serve.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeNoStore:
		if len(p.Tags) > 0 {
			return fmt.Errorf("%w: no-store cannot carry tags", ErrInvalidPolicy)
		}
	case ModeTTL:
		if p.TTL < 0 {
			return fmt.Errorf("%w: negative ttl %s", ErrInvalidPolicy, p.TTL)
		}
		if p.TTL == 0 {
			return fmt.Errorf("%w: ttl mode requires a positive ttl", ErrInvalidPolicy)
		}
	case ModeForceCache:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}
	return nil
}

// EffectiveTTL clamps the policy TTL to the server-wide ceiling. A zero
// ceiling means no ceiling is enforced.
func (p Policy) EffectiveTTL(maxTTL time.Duration) time.Duration {
	ttl := p.TTL
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}
	return ttl
}
