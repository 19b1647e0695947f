package connector

import (
	"context"
	"sync"
)

// storageCache tracks storage units through Unknown -> Creating -> Ready.
// Each name maps to one creation shared by every caller; the map lookup and
// the insert of a new creation happen under one lock. A failed creation is
// removed before its waiters are released, so the next caller retries.
type storageCache struct {
	mu      sync.Mutex
	entries map[string]*creation
}

type creation struct {
	done chan struct{}
	err  error
}

func newStorageCache() *storageCache {
	return &storageCache{entries: make(map[string]*creation)}
}

// ensure runs create at most once per name until it succeeds. Callers that
// arrive while a creation is in flight wait for it. The creation itself is
// detached from the first caller's cancellation.
func (s *storageCache) ensure(ctx context.Context, name string, create func(context.Context) error) error {
	s.mu.Lock()
	c, ok := s.entries[name]
	if !ok {
		c = &creation{done: make(chan struct{})}
		s.entries[name] = c
	}
	s.mu.Unlock()

	if !ok {
		c.err = create(context.WithoutCancel(ctx))
		if c.err != nil {
			s.mu.Lock()
			if s.entries[name] == c {
				delete(s.entries, name)
			}
			s.mu.Unlock()
		}
		close(c.done)
		return c.err
	}

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forget drops name so the next access creates it again.
func (s *storageCache) forget(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// ready reports whether name was created successfully.
func (s *storageCache) ready(name string) bool {
	s.mu.Lock()
	c, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-c.done:
		return c.err == nil
	default:
		return false
	}
}
