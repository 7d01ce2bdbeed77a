package idempotency

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

// Guard makes command execution exactly-once per (user, nonce) within the
// retention window. The first submission runs the handler and caches its
// response; duplicates return the cached response flagged as such, including
// rejections, so a retried failing command fails identically.
type Guard struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

func NewGuard(store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:    store,
		logger:   logger,
		inFlight: make(map[string]chan struct{}),
	}
}

// ExecuteOnce runs handler for the first submission of a nonce and returns
// the stored response for every later one. Concurrent submissions of the
// same nonce block until the first finishes, then read its result.
func (g *Guard) ExecuteOnce(ctx context.Context, userID uint64, nonce command.Nonce, handler func() command.Resp) (command.Resp, error) {
	key := Key(userID, nonce)

	for {
		if resp, ok, err := g.store.Get(ctx, key); err != nil {
			return command.Resp{}, err
		} else if ok {
			return resp.AsDuplicate(), nil
		}

		done, owner := g.claim(key)
		if owner {
			break
		}
		select {
		case <-done:
			// First execution finished; loop to read its response.
		case <-ctx.Done():
			return command.Resp{}, ctx.Err()
		}
	}

	defer g.release(key)

	resp := handler()
	if err := g.store.Put(ctx, key, resp); err != nil {
		// The command already executed; a failed cache write only costs
		// duplicate detection for this nonce.
		g.logger.Warn("idempotency cache write failed", "key", key, "error", err)
	}
	return resp, nil
}

func (g *Guard) claim(key string) (chan struct{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if done, ok := g.inFlight[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	g.inFlight[key] = done
	return done, true
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	done := g.inFlight[key]
	delete(g.inFlight, key)
	g.mu.Unlock()
	if done != nil {
		close(done)
	}
}
