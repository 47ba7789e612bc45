//go:build unit

package ingest_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugolhafner/smartcity/kafka"
	mockkafka "github.com/hugolhafner/smartcity/kafka/mock"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/sink"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// payload is a minimal valid record for every schema: only timestamp is required
func payload(id int, ts time.Time) kafka.ConsumerRecord {
	v := fmt.Sprintf(`{"id":"%d","deviceId":"vehicle-001","timestamp":%q}`, id, ts.Format(time.RFC3339Nano))
	return mockkafka.Record(fmt.Sprintf("vehicle-001-%d", id), v).Build()
}

func malformed() kafka.ConsumerRecord {
	return mockkafka.Record("bad", `{"id":"x","timestamp":"not a time"}`).Build()
}

// memStore keeps committed records and the checkpoint in memory
type memStore struct {
	mu        sync.Mutex
	cp        sink.Checkpoint
	found     bool
	records   []record.Record
	commitErr error
	closed    bool
}

func (m *memStore) Load(context.Context) (sink.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp, m.found, nil
}

func (m *memStore) Commit(_ context.Context, records []record.Record, cp sink.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.records = append(m.records, records...)
	m.cp = cp
	m.found = true
	return nil
}

func (m *memStore) Recover(context.Context, sink.Checkpoint) error {
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *memStore) Offsets() map[int32]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp.Offsets
}

func (m *memStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func offsetsOf(records []record.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.Offset)
	}
	return out
}
