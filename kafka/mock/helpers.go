package mockkafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/smartcity/kafka"
)

// RecordBuilder assembles a ConsumerRecord to seed a partition with.
// Topic, partition and offset are filled in by AddRecords.
type RecordBuilder struct {
	record kafka.ConsumerRecord
}

// Record starts a record with key and a raw payload
func Record(key, value string) *RecordBuilder {
	return &RecordBuilder{
		record: kafka.ConsumerRecord{
			Key:       []byte(key),
			Value:     []byte(value),
			Timestamp: time.Now(),
		},
	}
}

// WithTimestamp sets the broker timestamp, which is not the event time
func (b *RecordBuilder) WithTimestamp(ts time.Time) *RecordBuilder {
	b.record.Timestamp = ts
	return b
}

func (b *RecordBuilder) WithHeader(key, value string) *RecordBuilder {
	b.record.Headers = append(b.record.Headers, kafka.Header{Key: key, Value: []byte(value)})
	return b
}

func (b *RecordBuilder) Build() kafka.ConsumerRecord {
	return b.record
}

// JSON builds a record whose payload is v encoded as JSON
func JSON(tb testing.TB, key string, v any) kafka.ConsumerRecord {
	tb.Helper()

	data, err := json.Marshal(v)
	require.NoError(tb, err)
	return Record(key, string(data)).Build()
}

// ValueRecords creates one unkeyed record per value
func ValueRecords(values ...string) []kafka.ConsumerRecord {
	records := make([]kafka.ConsumerRecord, 0, len(values))
	for _, v := range values {
		records = append(records, Record("", v).Build())
	}
	return records
}
