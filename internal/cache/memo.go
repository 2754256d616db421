package cache

import (
	"context"
	"sync"
)

// ComputeFunc produces the value for a memoization slot. The context it
// receives belongs to the slot, not to any single waiter: it is cancelled
// only when the last waiter detaches or the scope ends.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Scope collapses overlapping fetch calls within one top-level unit of work
// (one render). The first call for a key starts the computation; concurrent
// calls with the same key wait on the same slot and share its outcome.
// Resolved values are held for the scope's lifetime, so repeated calls see
// the same value. Failures are delivered to every waiter and then dropped:
// the next call with that key starts over.
//
// A Scope is exclusively owned by its unit of work and must be released with
// End. It is never shared across scopes, but callers within the scope may
// use it concurrently.
type Scope struct {
	path string

	mu    sync.Mutex
	slots map[Key]*memoSlot
	ended bool
}

type memoSlot struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int
	value   []byte
	err     error
}

func newScope(path string) *Scope {
	return &Scope{path: path, slots: make(map[Key]*memoSlot)}
}

// Path returns the route path this scope renders, or "" when unbound.
func (s *Scope) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// GetOrCompute returns the memoized value for key, running fn at most once
// per key while the scope lives. The caller's ctx only governs its own wait:
// abandoning the wait detaches the caller, and the underlying computation is
// cancelled when nobody is left waiting on it.
func (s *Scope) GetOrCompute(ctx context.Context, key Key, fn ComputeFunc) ([]byte, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return fn(ctx)
	}

	if slot, ok := s.slots[key]; ok {
		select {
		case <-slot.done:
			s.mu.Unlock()
			return slot.value, slot.err
		default:
		}
		slot.waiters++
		s.mu.Unlock()
		return s.wait(ctx, slot)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	slot := &memoSlot{done: make(chan struct{}), cancel: cancel, waiters: 1}
	s.slots[key] = slot
	s.mu.Unlock()

	go func() {
		value, err := fn(runCtx)
		cancel()
		s.mu.Lock()
		slot.value, slot.err = value, err
		if err != nil && s.slots[key] == slot {
			// Failures are not memoized: clear the slot so a later call
			// starts a fresh computation.
			delete(s.slots, key)
		}
		close(slot.done)
		s.mu.Unlock()
	}()

	return s.wait(ctx, slot)
}

func (s *Scope) wait(ctx context.Context, slot *memoSlot) ([]byte, error) {
	select {
	case <-slot.done:
		return slot.value, slot.err
	case <-ctx.Done():
		s.mu.Lock()
		slot.waiters--
		detached := slot.waiters <= 0
		s.mu.Unlock()
		if detached {
			// Last waiter gone: nobody depends on the fetch anymore.
			slot.cancel()
		}
		return nil, ctx.Err()
	}
}

// End tears the scope down. Pending computations are cancelled and every
// slot is discarded; a slot never outlives its scope.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	slots := s.slots
	s.slots = nil
	s.mu.Unlock()

	for _, slot := range slots {
		select {
		case <-slot.done:
		default:
			slot.cancel()
		}
	}
}
