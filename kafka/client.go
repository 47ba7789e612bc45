package kafka

import (
	"context"
)

type Client interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
}

type Producer interface {
	// Send blocks until the broker acknowledges the record or reports failure
	Send(ctx context.Context, topic string, key, value []byte, headers []Header) error
	// SendAsync enqueues the record and invokes cb once with the delivery outcome
	SendAsync(ctx context.Context, topic string, key, value []byte, headers []Header, cb func(error))
	Flush(ctx context.Context) error
	Close()
}

// Consumer reads assigned partitions directly; offsets are owned by the caller
type Consumer interface {
	// Assign starts consuming every partition of topic. Partitions present in next resume
	// at that offset, all others start at the earliest available offset.
	Assign(ctx context.Context, topic string, next map[int32]int64) error
	// Poll may return records together with an error. Those records have been
	// consumed and will not be delivered again.
	Poll(ctx context.Context) ([]ConsumerRecord, error)
	Close()
}
