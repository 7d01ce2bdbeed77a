package changelog

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// Recorder assigns per-entity sequence numbers and forwards entries to its
// sink. Sequences survive for the life of the process; restart resets them,
// which consumers tolerate because entity state is rebuilt from the core,
// not from the log.
type Recorder struct {
	mu     sync.Mutex
	seqs   map[string]uint64
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		seqs:   make(map[string]uint64),
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Record appends one mutation to the stream. A sink failure is logged and
// swallowed; recording never fails the mutation it describes.
func (r *Recorder) Record(ctx context.Context, entityType, entityID string, change ChangeType, fields map[string]string) Entry {
	entry := Entry{
		EntityType: entityType,
		EntityID:   entityID,
		ChangeType: change,
		Fields:     fields,
		Timestamp:  r.now(),
	}

	r.mu.Lock()
	key := entry.Key()
	r.seqs[key]++
	entry.Sequence = r.seqs[key]
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.Append(ctx, entry); err != nil {
			r.logger.Warn("changelog append failed",
				"entity", key, "sequence", entry.Sequence, "error", err)
		}
	}
	return entry
}

// Sequence returns the last sequence assigned for an entity, zero if none.
func (r *Recorder) Sequence(entityType, entityID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seqs[entityType+":"+entityID]
}
