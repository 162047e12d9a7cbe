package engine

import (
	"context"
	"sync"
)

// keyedMutex provides one mutual-exclusion slot per conversation id,
// created on first access. Acquisition is context-aware so a timed-out
// append never leaks a held slot: the caller either gets the slot and a
// release func, or an error with nothing held.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (k *keyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.slots == nil {
		k.slots = make(map[string]chan struct{})
	}
	s, ok := k.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		k.slots[key] = s
	}
	return s
}

// Acquire blocks until the slot for key is held or ctx is done. The
// returned release func must be called exactly once on every exit path.
func (k *keyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	s := k.slot(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
