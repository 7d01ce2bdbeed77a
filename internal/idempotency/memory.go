package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultMaxEntries = 1_000_000
)

type memEntry struct {
	resp    command.Resp
	expires time.Time
}

// MemoryStore is the in-process response cache. Expired entries are swept
// lazily on write, at most once per cleanup interval.
type MemoryStore struct {
	mu           sync.Mutex
	ttl          time.Duration
	maxEntries   int
	entries      map[string]memEntry
	lastCleanup  time.Time
	cleanupEvery time.Duration
	now          func() time.Time
}

func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		ttl:          ttl,
		maxEntries:   maxEntries,
		entries:      map[string]memEntry{},
		lastCleanup:  time.Now(),
		cleanupEvery: ttl / 10,
		now:          time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (command.Resp, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().After(e.expires) {
		return command.Resp{}, false, nil
	}
	return e.resp, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, resp command.Resp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastCleanup) >= s.cleanupEvery {
		for k, v := range s.entries {
			if now.After(v.expires) {
				delete(s.entries, k)
			}
		}
		s.lastCleanup = now
	}

	// At capacity, evict the entries closest to expiry. A nonce evicted
	// early loses duplicate detection, never correctness of the first
	// execution.
	if len(s.entries) >= s.maxEntries {
		s.evictSoonest(len(s.entries) - s.maxEntries + 1)
	}

	s.entries[key] = memEntry{resp: resp, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) evictSoonest(n int) {
	for ; n > 0; n-- {
		var victim string
		var soonest time.Time
		for k, v := range s.entries {
			if victim == "" || v.expires.Before(soonest) {
				victim = k
				soonest = v.expires
			}
		}
		if victim == "" {
			return
		}
		delete(s.entries, victim)
	}
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
