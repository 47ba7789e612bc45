package mockkafka

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hugolhafner/smartcity/kafka"
)

var _ kafka.Client = (*Client)(nil)

var ErrClosed = errors.New("mock client closed")

// ProducedRecord represents a record that was sent via the mock producer.
type ProducedRecord struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []kafka.Header
}

// Client is an in-memory broker. Produced records are also appended to the
// topic log (partition 0) so a single Client can back a producer and consumers.
type Client struct {
	mu sync.RWMutex

	logs      map[kafka.TopicPartition][]kafka.ConsumerRecord
	positions map[kafka.TopicPartition]int64

	producedRecords []ProducedRecord
	assignments     map[string]map[int32]int64

	maxPollRecords int
	pollDelay      time.Duration

	sendErr   func(topic string, key, value []byte) error
	pollErr   func() error
	fetchErr  func(records int) error
	assignErr error
	pingErr   error

	pollCount int
	closed    bool
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		logs:            make(map[kafka.TopicPartition][]kafka.ConsumerRecord),
		positions:       make(map[kafka.TopicPartition]int64),
		producedRecords: make([]ProducedRecord, 0),
		assignments:     make(map[string]map[int32]int64),
		maxPollRecords:  10,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Assign positions every partition of topic, resuming at next where present.
func (c *Client) Assign(ctx context.Context, topic string, next map[int32]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assignErr != nil {
		return c.assignErr
	}

	assigned := make(map[int32]int64)
	for tp := range c.logs {
		if tp.Topic != topic {
			continue
		}
		assigned[tp.Partition] = 0
	}
	// partitions that only exist in the checkpoint are still tracked
	for p := range next {
		if _, ok := assigned[p]; !ok {
			assigned[p] = 0
		}
	}

	for p := range assigned {
		tp := kafka.TopicPartition{Topic: topic, Partition: p}
		start := int64(0)
		if off, ok := next[p]; ok {
			start = off
		}
		assigned[p] = start
		c.positions[tp] = start
	}

	c.assignments[topic] = assigned
	return nil
}

// Poll returns up to maxPollRecords records, round robin across assigned partitions
// in partition order. Each partition is delivered strictly in offset order.
func (c *Client) Poll(ctx context.Context) ([]kafka.ConsumerRecord, error) {
	if c.pollDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(c.pollDelay):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pollCount++

	if c.closed {
		return nil, ErrClosed
	}

	if c.pollErr != nil {
		if err := c.pollErr(); err != nil {
			return nil, err
		}
	}

	tps := c.assignedPartitionsLocked()

	var records []kafka.ConsumerRecord
	for len(records) < c.maxPollRecords {
		progressMade := false

		for _, tp := range tps {
			rec, ok := c.nextLocked(tp)
			if !ok {
				continue
			}

			records = append(records, rec)
			progressMade = true

			if len(records) >= c.maxPollRecords {
				break
			}
		}

		if !progressMade {
			break
		}
	}

	// like kgo, a partition error does not give back records already fetched
	if c.fetchErr != nil {
		if err := c.fetchErr(len(records)); err != nil {
			return records, err
		}
	}

	return records, nil
}

func (c *Client) nextLocked(tp kafka.TopicPartition) (kafka.ConsumerRecord, bool) {
	log := c.logs[tp]
	pos := c.positions[tp]
	for _, rec := range log {
		if rec.Offset >= pos {
			c.positions[tp] = rec.Offset + 1
			return rec.Copy(), true
		}
	}
	return kafka.ConsumerRecord{}, false
}

func (c *Client) assignedPartitionsLocked() []kafka.TopicPartition {
	var tps []kafka.TopicPartition
	for topic, parts := range c.assignments {
		for p := range parts {
			tps = append(tps, kafka.TopicPartition{Topic: topic, Partition: p})
		}
	}
	sort.Slice(
		tps, func(i, j int) bool {
			if tps[i].Topic != tps[j].Topic {
				return tps[i].Topic < tps[j].Topic
			}
			return tps[i].Partition < tps[j].Partition
		},
	)
	return tps
}

// Send produces a record to partition 0 of the specified topic.
// The record is stored internally and can be verified using ProducedRecords().
func (c *Client) Send(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		if err := c.sendErr(topic, key, value); err != nil {
			return err
		}
	}

	rec := kafka.ConsumerRecord{
		Key:       key,
		Value:     value,
		Headers:   headers,
		Topic:     topic,
		Timestamp: time.Now(),
	}.Copy()

	c.producedRecords = append(
		c.producedRecords, ProducedRecord{
			Topic:   rec.Topic,
			Key:     rec.Key,
			Value:   rec.Value,
			Headers: rec.Headers,
		},
	)
	c.appendLocked(topic, 0, rec)

	return nil
}

// SendAsync delivers on a separate goroutine so callers observe real asynchrony.
func (c *Client) SendAsync(
	ctx context.Context, topic string, key, value []byte, headers []kafka.Header, cb func(error),
) {
	rec := kafka.ConsumerRecord{Key: key, Value: value, Headers: headers}.Copy()
	go func() {
		err := c.Send(ctx, topic, rec.Key, rec.Value, rec.Headers)
		if cb != nil {
			cb(err)
		}
	}()
}

// Flush is a no-op since deliveries complete on their own goroutines.
func (c *Client) Flush(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Ping checks if the mock client is operational.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pingErr
}

// Close marks the client as closed; subsequent polls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// AddRecords appends records to a topic-partition log. Offsets that are unset
// are assigned sequentially after the current end of the log.
func (c *Client) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range records {
		c.appendLocked(topic, partition, rec)
	}
}

func (c *Client) appendLocked(topic string, partition int32, rec kafka.ConsumerRecord) {
	tp := kafka.TopicPartition{Topic: topic, Partition: partition}
	log := c.logs[tp]

	rec.Topic = topic
	rec.Partition = partition
	if rec.Offset == 0 && len(log) > 0 {
		rec.Offset = log[len(log)-1].Offset + 1
	}

	c.logs[tp] = append(log, rec)
}

// Rewind moves every assigned partition back to the start of its log,
// simulating a consumer restarting from earliest.
func (c *Client) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tp := range c.positions {
		c.positions[tp] = 0
	}
}

// SetSendError configures an error to be returned on all Send calls.
// Pass nil to clear the error.
func (c *Client) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.sendErr = nil
	} else {
		c.sendErr = func(string, []byte, []byte) error { return err }
	}
}

// SetSendErrorFunc configures a function to determine Send errors.
func (c *Client) SetSendErrorFunc(fn func(topic string, key, value []byte) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendErr = fn
}

// SetPollErrorFunc configures a function to determine Poll errors.
func (c *Client) SetPollErrorFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pollErr = fn
}

// SetFetchErrorFunc configures an error returned together with the records of a
// poll. fn sees how many records the poll consumed.
func (c *Client) SetFetchErrorFunc(fn func(records int) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchErr = fn
}

// ProducedRecords returns a copy of all records that have been sent via Send.
func (c *Client) ProducedRecords() []ProducedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]ProducedRecord, len(c.producedRecords))
	copy(result, c.producedRecords)
	return result
}

// ProducedRecordsForTopic returns all records produced to a specific topic.
func (c *Client) ProducedRecordsForTopic(topic string) []ProducedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []ProducedRecord
	for _, r := range c.producedRecords {
		if r.Topic == topic {
			result = append(result, r)
		}
	}
	return result
}

// Assignment returns the start offsets passed to Assign for topic.
func (c *Client) Assignment(topic string) (map[int32]int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.assignments[topic]
	if !ok {
		return nil, false
	}
	out := make(map[int32]int64, len(a))
	for p, o := range a {
		out[p] = o
	}
	return out, true
}

// PollCount returns how many times Poll was called.
func (c *Client) PollCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pollCount
}

// Drained reports whether every assigned partition has been read to the end.
func (c *Client) Drained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tp := range c.assignedPartitionsLocked() {
		log := c.logs[tp]
		if len(log) > 0 && c.positions[tp] <= log[len(log)-1].Offset {
			return false
		}
	}
	return true
}

// IsClosed returns whether Close has been called.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}
