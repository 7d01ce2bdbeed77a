// Package changelog records entity mutations as an ordered stream. Every
// entry carries a per-entity sequence number assigned at record time, so
// consumers can detect duplicates and gaps no matter how the stream was
// transported.
package changelog

import "time"

type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Entity types emitted by the trading core.
const (
	EntityOrder   = "order"
	EntityBalance = "balance"
	EntityTrade   = "trade"
)

// Entry is one recorded mutation. Sequence is monotonic per
// (EntityType, EntityID), starting at 1.
type Entry struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	ChangeType ChangeType        `json:"change_type"`
	Sequence   uint64            `json:"sequence"`
	Fields     map[string]string `json:"fields,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Key identifies the entity the entry belongs to.
func (e Entry) Key() string {
	return e.EntityType + ":" + e.EntityID
}
