package changelog

import (
	"context"
	"log/slog"
)

// Handler processes one entry. Returning an error stops the entry from
// being marked applied, so a retry is not treated as a duplicate.
type Handler func(Entry) error

// Consumer applies a change stream exactly once per (entity, sequence).
// Entries at or below the last applied sequence for their entity are
// duplicates and are skipped; gaps are applied as-is since sequences only
// guarantee ordering detection, not transport retransmission.
type Consumer struct {
	applied map[string]uint64
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(handler Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		applied: make(map[string]uint64),
		handler: handler,
		logger:  logger,
	}
}

// Apply processes one entry, reporting whether it was applied (false means
// duplicate).
func (c *Consumer) Apply(entry Entry) (bool, error) {
	key := entry.Key()
	if entry.Sequence <= c.applied[key] {
		return false, nil
	}
	if err := c.handler(entry); err != nil {
		return false, err
	}
	c.applied[key] = entry.Sequence
	return true, nil
}

// Run drains a channel sink until it closes or the context ends. Handler
// errors are logged and the entry retried is not; the stream keeps moving.
func (c *Consumer) Run(ctx context.Context, entries <-chan Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if _, err := c.Apply(entry); err != nil {
				c.logger.Error("changelog apply failed",
					"entity", entry.Key(), "sequence", entry.Sequence, "error", err)
			}
		}
	}
}
