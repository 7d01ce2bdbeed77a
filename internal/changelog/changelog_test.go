package changelog

import (
	"context"
	"errors"
	"testing"
)

func TestRecorderSequencesPerEntity(t *testing.T) {
	sink := NewChannelSink(16)
	rec := NewRecorder(sink, nil)
	ctx := context.Background()

	first := rec.Record(ctx, EntityOrder, "1", ChangeCreated, nil)
	second := rec.Record(ctx, EntityOrder, "1", ChangeUpdated, nil)
	other := rec.Record(ctx, EntityOrder, "2", ChangeCreated, nil)
	balance := rec.Record(ctx, EntityBalance, "1", ChangeUpdated, nil)

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("same entity must sequence 1,2: got %d,%d", first.Sequence, second.Sequence)
	}
	if other.Sequence != 1 {
		t.Fatalf("distinct entity id must restart at 1, got %d", other.Sequence)
	}
	if balance.Sequence != 1 {
		t.Fatalf("distinct entity type must restart at 1, got %d", balance.Sequence)
	}
	if rec.Sequence(EntityOrder, "1") != 2 {
		t.Fatalf("recorder sequence = %d, want 2", rec.Sequence(EntityOrder, "1"))
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := sink.Append(ctx, Entry{EntityType: EntityTrade, EntityID: "t"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := sink.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
	if len(sink.Entries()) != 2 {
		t.Fatalf("buffered = %d, want 2", len(sink.Entries()))
	}
}

func TestConsumerDeduplicates(t *testing.T) {
	var applied []uint64
	consumer := NewConsumer(func(e Entry) error {
		applied = append(applied, e.Sequence)
		return nil
	}, nil)

	entries := []Entry{
		{EntityType: EntityOrder, EntityID: "9", Sequence: 1},
		{EntityType: EntityOrder, EntityID: "9", Sequence: 2},
		{EntityType: EntityOrder, EntityID: "9", Sequence: 2}, // redelivery
		{EntityType: EntityOrder, EntityID: "9", Sequence: 1}, // stale replay
		{EntityType: EntityOrder, EntityID: "9", Sequence: 3},
	}
	wantApplied := []bool{true, true, false, false, true}
	for i, entry := range entries {
		ok, err := consumer.Apply(entry)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if ok != wantApplied[i] {
			t.Fatalf("entry %d applied = %v, want %v", i, ok, wantApplied[i])
		}
	}
	if len(applied) != 3 || applied[0] != 1 || applied[1] != 2 || applied[2] != 3 {
		t.Fatalf("applied sequence = %v", applied)
	}
}

func TestConsumerErrorDoesNotMarkApplied(t *testing.T) {
	fail := true
	consumer := NewConsumer(func(e Entry) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}, nil)

	entry := Entry{EntityType: EntityBalance, EntityID: "3", Sequence: 1}
	if _, err := consumer.Apply(entry); err == nil {
		t.Fatalf("first apply should fail")
	}

	fail = false
	ok, err := consumer.Apply(entry)
	if err != nil || !ok {
		t.Fatalf("retry after failure must apply, ok=%v err=%v", ok, err)
	}
}

func TestMulticastSinkFansOut(t *testing.T) {
	a := NewChannelSink(4)
	b := NewChannelSink(4)
	multi := NewMulticastSink(a, b)
	ctx := context.Background()

	if err := multi.Append(ctx, Entry{EntityType: EntityOrder, EntityID: "1", Sequence: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Fatalf("both sinks should receive the entry")
	}
}

func TestRecorderSinkFailureDoesNotPanic(t *testing.T) {
	rec := NewRecorder(failingSink{}, nil)
	entry := rec.Record(context.Background(), EntityOrder, "1", ChangeCreated, nil)
	if entry.Sequence != 1 {
		t.Fatalf("sequence must still be assigned, got %d", entry.Sequence)
	}
}

type failingSink struct{}

func (failingSink) Append(context.Context, Entry) error { return errors.New("sink down") }
func (failingSink) Close() error                        { return nil }
