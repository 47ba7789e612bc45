package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/otel"
	"github.com/hugolhafner/smartcity/serde"
)

var ErrClosed = errors.New("publisher closed")

// DeliveryResult is the outcome of one Publish
type DeliveryResult struct {
	Topic    string
	Key      string
	Err      error
	Duration time.Duration
}

// PublishError wraps a failed delivery with the record it was for
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s key %s: %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func AsPublishError(err error) (*PublishError, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Publisher serialises records and hands them to a kafka.Producer. It never
// retries; a failed delivery is returned to the caller.
type Publisher struct {
	producer kafka.Producer
	values   serde.Serialiser[any]
	keys     serde.Serialiser[string]
	config   Config
	logger   logger.Logger

	inFlight *semaphore.Weighted

	mu     sync.Mutex
	err    error
	closed bool
}

func New(producer kafka.Producer, opts ...Option) *Publisher {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Publisher{
		producer: producer,
		values:   serde.JSON[any](),
		keys:     serde.String(),
		config:   config,
		logger:   config.Logger.With("component", "publisher", "mode", string(config.Mode)),
		inFlight: semaphore.NewWeighted(int64(config.MaxInFlight)),
	}
}

func (p *Publisher) Mode() Mode {
	return p.config.Mode
}

// Publish sends value to topic keyed by key. In sync mode the returned error is
// the delivery outcome. In async mode it is a serialisation error, a cancelled
// wait for capacity, or the first earlier delivery failure.
func (p *Publisher) Publish(ctx context.Context, topic string, key string, value any) error {
	if err := p.latched(); err != nil {
		return err
	}

	keyBytes, err := p.keys.Serialise(topic, key)
	if err != nil {
		return &PublishError{Topic: topic, Key: key, Err: err}
	}
	valueBytes, err := p.values.Serialise(topic, value)
	if err != nil {
		return &PublishError{Topic: topic, Key: key, Err: err}
	}

	var headers []kafka.Header
	ctx, span := p.config.Telemetry.StartPublish(ctx, topic, keyBytes, &headers)

	if p.config.Mode == ModeAsync {
		return p.publishAsync(ctx, topic, key, keyBytes, valueBytes, headers, span)
	}

	start := time.Now()
	p.config.Metrics.PublishInFlightIncr()
	sendErr := p.producer.Send(ctx, topic, keyBytes, valueBytes, headers)
	p.config.Metrics.PublishInFlightDecr()

	res := p.delivered(topic, key, time.Since(start), sendErr)
	otel.End(span, res.Err)
	return res.Err
}

func (p *Publisher) publishAsync(
	ctx context.Context, topic, key string, keyBytes, valueBytes []byte, headers []kafka.Header, span trace.Span,
) error {
	if err := p.inFlight.Acquire(ctx, 1); err != nil {
		otel.End(span, err)
		return fmt.Errorf("await publish capacity: %w", err)
	}

	start := time.Now()
	p.config.Metrics.PublishInFlightIncr()
	p.producer.SendAsync(
		ctx, topic, keyBytes, valueBytes, headers, func(sendErr error) {
			defer p.inFlight.Release(1)
			p.config.Metrics.PublishInFlightDecr()

			res := p.delivered(topic, key, time.Since(start), sendErr)
			otel.End(span, res.Err)
			if res.Err != nil {
				p.latch(res.Err)
			}
		},
	)

	return nil
}

// Flush waits for every in-flight record and returns the first delivery failure,
// if any. It is a no-op in sync mode.
func (p *Publisher) Flush(ctx context.Context) error {
	if p.config.Mode != ModeAsync {
		return p.latched()
	}

	if err := p.producer.Flush(ctx); err != nil {
		return fmt.Errorf("flush producer: %w", err)
	}

	// every callback holds a slot until it has run
	all := int64(p.config.MaxInFlight)
	if err := p.inFlight.Acquire(ctx, all); err != nil {
		return fmt.Errorf("await in-flight deliveries: %w", err)
	}
	p.inFlight.Release(all)

	return p.latched()
}

// Close flushes outstanding deliveries; it does not close the producer.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.Flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return err
}

func (p *Publisher) delivered(topic, key string, took time.Duration, sendErr error) DeliveryResult {
	res := DeliveryResult{Topic: topic, Key: key, Duration: took}
	if sendErr != nil {
		res.Err = &PublishError{Topic: topic, Key: key, Err: sendErr}
		p.logger.Error("Delivery failed", "topic", topic, "key", key, "error", sendErr)
	} else {
		p.logger.Info("Delivery confirmed", "topic", topic, "key", key, "duration", took)
	}

	p.config.Metrics.RecordPublished(topic, took, sendErr)
	if p.config.OnDelivery != nil {
		p.config.OnDelivery(res)
	}
	return res
}

// latch keeps the first failure; later ones are only logged
func (p *Publisher) latch(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err == nil {
		p.err = err
	}
}

func (p *Publisher) latched() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	return p.err
}
