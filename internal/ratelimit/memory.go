package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore keeps windows in process memory. Suitable for
// single-node deployments and tests; multi-node deployments want the
// Postgres store so all API instances share one window per credential.
//
// Locking is two-level: a read-mostly map lock to find the key's
// window, then a per-key mutex for the prune+record+count sequence, so
// unrelated credentials never contend.
type MemoryWindowStore struct {
	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	mu     sync.Mutex
	events []time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*window)}
}

func (s *MemoryWindowStore) Record(_ context.Context, key string, now time.Time, width time.Duration, capacity int) (int, error) {
	w := s.get(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-width)
	events := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			events = append(events, t)
		}
	}
	w.events = events

	count := len(w.events) + 1
	if count > capacity {
		// Rejected attempts are not recorded.
		return count, nil
	}
	w.events = append(w.events, now)
	return count, nil
}

func (s *MemoryWindowStore) get(key string) *window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &window{}
	s.windows[key] = w
	return w
}
