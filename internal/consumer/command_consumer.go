// Package consumer bridges Kafka to the trading pipeline: command envelopes
// come in on one topic, response envelopes go out on another. The nonce
// guard inside the pipeline makes redelivery safe; the event deduper here
// just avoids re-submitting work we already answered.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/libs/kafka"
)

const (
	commandSubmittedEventType = "core.commands.submitted"
	commandRespondedEventType = "core.commands.responded"

	defaultCommandsTopic  = "core.commands"
	defaultResponsesTopic = "core.responses"
)

type CommandSubmittedEvent struct {
	kafka.Envelope
	Command command.Cmd `json:"command"`
}

type CommandRespondedEvent struct {
	kafka.Envelope
	UserID   uint64       `json:"user_id"`
	Response command.Resp `json:"response"`
}

type Pipeline interface {
	Submit(ctx context.Context, cmd command.Cmd) (command.Resp, error)
}

type CommandConsumer struct {
	pipeline       Pipeline
	producer       kafka.Publisher
	logger         *slog.Logger
	deduper        *eventDeduper
	commandsTopic  string
	responsesTopic string
}

func NewCommandConsumer(pipeline Pipeline, producer kafka.Publisher, logger *slog.Logger, commandsTopic, responsesTopic string) *CommandConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(commandsTopic) == "" {
		commandsTopic = defaultCommandsTopic
	}
	if strings.TrimSpace(responsesTopic) == "" {
		responsesTopic = defaultResponsesTopic
	}
	return &CommandConsumer{
		pipeline:       pipeline,
		producer:       producer,
		logger:         logger,
		deduper:        newEventDeduper(100000),
		commandsTopic:  commandsTopic,
		responsesTopic: responsesTopic,
	}
}

func (c *CommandConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty_message")
	}
	if msg.Topic != c.commandsTopic {
		return fmt.Errorf("unexpected topic: %s", msg.Topic)
	}

	var event CommandSubmittedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode command event: %w", err), "decode")
	}
	if err := event.Envelope.Validate(); err != nil {
		return kafka.DLQ(err, "invalid_event")
	}
	if event.EventType != commandSubmittedEventType {
		return kafka.DLQ(fmt.Errorf("unexpected event_type: %s", event.EventType), "invalid_event")
	}
	if event.Command.Nonce == 0 {
		return kafka.DLQ(fmt.Errorf("nonce required"), "invalid_event")
	}
	if c.deduper.Seen(event.EventID) {
		return nil
	}

	resp, err := c.pipeline.Submit(ctx, event.Command)
	if err != nil {
		return err
	}

	if err := c.publishResponse(ctx, event.Command, resp); err != nil {
		return err
	}
	c.deduper.Mark(event.EventID)
	return nil
}

// publishResponse emits the response keyed by user and nonce, so a gateway
// consuming its own user's partition sees responses in submission order.
func (c *CommandConsumer) publishResponse(ctx context.Context, cmd command.Cmd, resp command.Resp) error {
	if c.producer == nil {
		return nil
	}

	eventID := kafka.DeterministicEventID(commandRespondedEventType,
		fmt.Sprintf("%d", cmd.UserID), fmt.Sprintf("%d", cmd.Nonce))
	env, err := kafka.NewEnvelopeWithID(eventID, commandRespondedEventType, 1, "")
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d:%d", cmd.UserID, cmd.Nonce)
	_, _, err = c.producer.PublishJSON(ctx, c.responsesTopic, key, CommandRespondedEvent{
		Envelope: env,
		UserID:   cmd.UserID,
		Response: resp,
	})
	return err
}

type eventDeduper struct {
	mu       sync.Mutex
	maxSize  int
	order    []string
	seenByID map[string]struct{}
}

func newEventDeduper(max int) *eventDeduper {
	if max <= 0 {
		max = 10000
	}
	return &eventDeduper{
		maxSize:  max,
		seenByID: make(map[string]struct{}, max),
	}
}

func (d *eventDeduper) Seen(eventID string) bool {
	if strings.TrimSpace(eventID) == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seenByID[eventID]
	return ok
}

func (d *eventDeduper) Mark(eventID string) {
	if strings.TrimSpace(eventID) == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenByID[eventID]; ok {
		return
	}
	d.seenByID[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	if len(d.order) > d.maxSize {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seenByID, oldest)
	}
}
