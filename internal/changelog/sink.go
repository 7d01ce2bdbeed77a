package changelog

import (
	"context"
	"sync/atomic"

	"github.com/thy3368/rustlob-sub002/libs/kafka"
)

// Sink receives recorded entries. Append must not block the recording path
// indefinitely; sinks that can stall are expected to buffer or drop.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// ChannelSink buffers entries on a bounded channel for an in-process
// consumer. When the buffer is full the entry is dropped and counted; the
// change log is an observation stream, not the system of record.
type ChannelSink struct {
	ch      chan Entry
	dropped atomic.Uint64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChannelSink{ch: make(chan Entry, buffer)}
}

func (s *ChannelSink) Append(_ context.Context, entry Entry) error {
	select {
	case s.ch <- entry:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Entries exposes the stream for a consumer loop.
func (s *ChannelSink) Entries() <-chan Entry { return s.ch }

// Dropped reports how many entries were discarded on a full buffer.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

func (s *ChannelSink) Close() error {
	close(s.ch)
	return nil
}

// changeLogEvent is the wire form of an entry.
type changeLogEvent struct {
	kafka.Envelope
	Entry Entry `json:"entry"`
}

// KafkaSink publishes entries keyed by entity, preserving per-entity order
// within a partition. Event ids are deterministic so a replayed entry
// deduplicates downstream.
type KafkaSink struct {
	producer kafka.Publisher
	topic    string
}

func NewKafkaSink(producer kafka.Publisher, topic string) *KafkaSink {
	if topic == "" {
		topic = "core.changelog"
	}
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Append(ctx context.Context, entry Entry) error {
	eventID := kafka.DeterministicEventID("changelog", entry.Key(), formatSeq(entry.Sequence))
	env, err := kafka.NewEnvelopeWithID(eventID, "core.changelog.appended", 1, "")
	if err != nil {
		return err
	}
	_, _, err = s.producer.PublishJSON(ctx, s.topic, entry.Key(), changeLogEvent{Envelope: env, Entry: entry})
	return err
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

// MulticastSink fans every entry out to all child sinks. The first error is
// returned after all sinks were attempted.
type MulticastSink struct {
	sinks []Sink
}

func NewMulticastSink(sinks ...Sink) *MulticastSink {
	return &MulticastSink{sinks: sinks}
}

func (s *MulticastSink) Append(ctx context.Context, entry Entry) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *MulticastSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
