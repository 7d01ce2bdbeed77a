// Package idempotency caches command responses by (user, nonce) so a
// resubmitted command returns the stored outcome instead of executing twice.
package idempotency

import (
	"context"
	"fmt"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

// Store persists responses keyed by submission identity. Entries expire
// after the retention window; a nonce replayed past that window executes
// again, which callers accept by choosing the window.
type Store interface {
	Get(ctx context.Context, key string) (command.Resp, bool, error)
	Put(ctx context.Context, key string, resp command.Resp) error
}

// Key builds the store key for one submission.
func Key(userID uint64, nonce command.Nonce) string {
	return fmt.Sprintf("%d:%d", userID, nonce)
}
