package kafka

import (
	"fmt"
	"strconv"
	"time"
)

// Header is a single record header. Keys may repeat.
type Header struct {
	Key   string
	Value []byte
}

// HeaderValue returns the value of the first header with key
func HeaderValue(headers []Header, key string) ([]byte, bool) {
	for _, h := range headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// CloneHeaders deep copies headers, reserving room for extra more entries
func CloneHeaders(headers []Header, extra int) []Header {
	out := make([]Header, len(headers), len(headers)+extra)
	for i, h := range headers {
		out[i] = Header{Key: h.Key, Value: cloneBytes(h.Value)}
	}
	return out
}

// ConsumerRecord is a raw message as fetched from one partition
type ConsumerRecord struct {
	Key         []byte
	Value       []byte
	Headers     []Header
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Timestamp   time.Time
}

func (r ConsumerRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Ref identifies the record as topic-partition@offset
func (r ConsumerRecord) Ref() string {
	return fmt.Sprintf("%s@%d", r.TopicPartition(), r.Offset)
}

// Size is the payload size used for span attributes
func (r ConsumerRecord) Size() int {
	return len(r.Key) + len(r.Value)
}

// Copy detaches the record from buffers owned by the client
func (r ConsumerRecord) Copy() ConsumerRecord {
	out := r
	out.Key = cloneBytes(r.Key)
	out.Value = cloneBytes(r.Value)
	out.Headers = CloneHeaders(r.Headers, 0)
	return out
}

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.FormatInt(int64(tp.Partition), 10)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
