package sink

import (
	"maps"
	"time"
)

// Checkpoint is the durable position of one topic chain. Offsets hold the next
// offset to read per partition, i.e. the last committed offset plus one.
type Checkpoint struct {
	Topic             string          `json:"topic"`
	Offsets           map[int32]int64 `json:"offsets"`
	MaxEventTime      time.Time       `json:"maxEventTime"`
	SchemaFingerprint uint64          `json:"schemaFingerprint"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func NewCheckpoint(topic string, fingerprint uint64) Checkpoint {
	return Checkpoint{
		Topic:             topic,
		Offsets:           make(map[int32]int64),
		SchemaFingerprint: fingerprint,
	}
}

// Next returns the next offset to read for partition, if it was ever committed
func (c Checkpoint) Next(partition int32) (int64, bool) {
	off, ok := c.Offsets[partition]
	return off, ok
}

// Covers reports whether offset on partition is already durable
func (c Checkpoint) Covers(partition int32, offset int64) bool {
	next, ok := c.Offsets[partition]
	return ok && offset < next
}

// Advance returns a copy moved forward to offsets and maxEventTime. Neither
// offsets nor the event time ever move backwards.
func (c Checkpoint) Advance(offsets map[int32]int64, maxEventTime time.Time) Checkpoint {
	out := c
	out.Offsets = maps.Clone(c.Offsets)
	if out.Offsets == nil {
		out.Offsets = make(map[int32]int64, len(offsets))
	}

	for p, next := range offsets {
		if cur, ok := out.Offsets[p]; !ok || next > cur {
			out.Offsets[p] = next
		}
	}
	if maxEventTime.After(out.MaxEventTime) {
		out.MaxEventTime = maxEventTime
	}
	return out
}

// Equal compares position only
func (c Checkpoint) Equal(o Checkpoint) bool {
	return maps.Equal(c.Offsets, o.Offsets) && c.MaxEventTime.Equal(o.MaxEventTime)
}
