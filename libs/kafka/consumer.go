package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

const (
	defaultMaxDLQAttempts = 3
	defaultRetryWindow    = 10 * time.Minute
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		logger: logger,
	}, nil
}

// WithDLQ routes messages that keep failing with a DLQError to the given
// dead-letter topic instead of blocking the partition forever.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(defaultMaxDLQAttempts, defaultRetryWindow),
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handler.HandleMessage(session.Context(), msg)
		if err == nil {
			session.MarkMessage(msg, "")
			continue
		}

		var dlqErr *DLQError
		if errors.As(err, &dlqErr) && h.dlqPublisher != nil && h.dlqTopic != "" {
			attempts := h.retryTracker.attempt(msg)
			if attempts < h.retryTracker.maxAttempts {
				h.logger.Warn("kafka message failed, leaving for redelivery",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
					"attempts", attempts, "error", err)
				continue
			}

			payload := BuildDLQPayload(msg, dlqErr, attempts)
			if _, _, pubErr := h.dlqPublisher.PublishJSON(session.Context(), h.dlqTopic, string(msg.Key), payload); pubErr != nil {
				h.logger.Error("dlq publish failed", "topic", h.dlqTopic, "error", pubErr)
				continue
			}
			h.retryTracker.clear(msg)
			h.logger.Warn("kafka message sent to dlq",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
				"dlq_topic", h.dlqTopic, "error", err)
			session.MarkMessage(msg, "")
			continue
		}

		h.logger.Error("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
	return nil
}

// retryTracker counts handler failures per message so a poison message goes
// to the DLQ after a bounded number of redeliveries. Counts expire after the
// window so a rebalance does not carry stale state forever.
type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	attempts    map[string]*retryState
	lastSweep   time.Time
	now         func() time.Time
}

type retryState struct {
	count int
	first time.Time
}

func newRetryTracker(maxAttempts int, window time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = defaultRetryWindow
	}
	return &retryTracker{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string]*retryState),
		now:         time.Now,
	}
}

func retryKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func (t *retryTracker) attempt(msg *sarama.ConsumerMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)

	key := retryKey(msg)
	state := t.attempts[key]
	if state == nil || now.Sub(state.first) > t.window {
		state = &retryState{first: now}
		t.attempts[key] = state
	}
	state.count++
	return state.count
}

// sweep drops window-expired entries, at most once per window. Messages that
// failed transiently and then succeeded leave no DLQ routing behind to clear
// their state, so the map would otherwise grow forever.
func (t *retryTracker) sweep(now time.Time) {
	if now.Sub(t.lastSweep) <= t.window {
		return
	}
	for key, state := range t.attempts {
		if now.Sub(state.first) > t.window {
			delete(t.attempts, key)
		}
	}
	t.lastSweep = now
}

func (t *retryTracker) clear(msg *sarama.ConsumerMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, retryKey(msg))
}
