package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugolhafner/smartcity/logger"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ Client = (*KgoClient)(nil)

var ErrNoPartitions = errors.New("topic has no partitions")

type KgoClientConfig struct {
	BootstrapServers   []string
	ClientID           string
	MaxPollRecords     int
	PollTimeout        time.Duration
	AckTimeout         time.Duration
	MaxBufferedRecords int

	Logger logger.Logger
}

func defaultConfig() KgoClientConfig {
	return KgoClientConfig{
		BootstrapServers:   []string{"localhost:29092"},
		ClientID:           "smartcity",
		PollTimeout:        3 * time.Second,
		MaxPollRecords:     500,
		AckTimeout:         30 * time.Second,
		MaxBufferedRecords: 10000,
		Logger:             logger.NewNoopLogger(),
	}
}

type KgoOption func(*KgoClientConfig)

func WithBootstrapServers(servers []string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithClientID(id string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.ClientID = id
	}
}

func WithMaxPollRecords(n int) KgoOption {
	return func(cfg *KgoClientConfig) {
		if n > 0 {
			cfg.MaxPollRecords = n
		}
	}
}

func WithPollTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoClientConfig) {
		if d > 0 {
			cfg.PollTimeout = d
		}
	}
}

// WithAckTimeout bounds how long a produced record may wait for acknowledgement.
// Exceeding it fails the delivery.
func WithAckTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoClientConfig) {
		if d > 0 {
			cfg.AckTimeout = d
		}
	}
}

func WithMaxBufferedRecords(n int) KgoOption {
	return func(cfg *KgoClientConfig) {
		if n > 0 {
			cfg.MaxBufferedRecords = n
		}
	}
}

func WithLogger(l logger.Logger) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.Logger = l.With("client", "kgo")
	}
}

type KgoClient struct {
	client *kgo.Client
	admin  *kadm.Client
	config KgoClientConfig

	mu       sync.Mutex
	assigned map[string]struct{}

	logger logger.Logger
}

func NewKgoClient(opts ...KgoOption) (*KgoClient, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	kc := &KgoClient{
		config:   cfg,
		logger:   cfg.Logger,
		assigned: make(map[string]struct{}),
	}

	kgoOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(newKgoLogger(kc.logger)),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(cfg.AckTimeout),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo client: %w", err)
	}

	kc.client = client
	kc.admin = kadm.NewClient(client)

	return kc, nil
}

func (k *KgoClient) Assign(ctx context.Context, topic string, next map[int32]int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.assigned[topic]; ok {
		return fmt.Errorf("topic %s already assigned", topic)
	}

	listed, err := k.admin.ListStartOffsets(ctx, topic)
	if err != nil {
		return fmt.Errorf("list start offsets for %s: %w", topic, err)
	}
	if err := listed.Error(); err != nil {
		return fmt.Errorf("list start offsets for %s: %w", topic, err)
	}

	partitions := make(map[int32]kgo.Offset)
	listed.Each(
		func(o kadm.ListedOffset) {
			if off, ok := next[o.Partition]; ok {
				partitions[o.Partition] = kgo.NewOffset().At(off)
				return
			}
			partitions[o.Partition] = kgo.NewOffset().AtStart()
		},
	)

	if len(partitions) == 0 {
		return fmt.Errorf("%s: %w", topic, ErrNoPartitions)
	}

	k.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{topic: partitions})
	k.assigned[topic] = struct{}{}

	k.logger.Info("Assigned partitions", "topic", topic, "partitions", len(partitions), "resumed", len(next))

	return nil
}

// Poll returns every record fetched, even when some partitions failed. kgo has
// already advanced past those records, so they are handed back alongside the
// joined partition errors rather than dropped.
func (k *KgoClient) Poll(ctx context.Context) ([]ConsumerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, k.config.PollTimeout)
	defer cancel()

	fetches := k.client.PollRecords(ctx, k.config.MaxPollRecords)

	var errs []error
	for _, err := range fetches.Errors() {
		if errors.Is(err.Err, context.DeadlineExceeded) || errors.Is(err.Err, context.Canceled) {
			continue
		}
		errs = append(errs, fmt.Errorf("poll %s-%d: %w", err.Topic, err.Partition, err.Err))
	}

	return convertRecords(fetches.Records()), errors.Join(errs...)
}

func (k *KgoClient) Send(ctx context.Context, topic string, key, value []byte, headers []Header) error {
	results := k.client.ProduceSync(ctx, newKgoRecord(topic, key, value, headers))
	return results.FirstErr()
}

func (k *KgoClient) SendAsync(
	ctx context.Context, topic string, key, value []byte, headers []Header, cb func(error),
) {
	k.client.Produce(
		ctx, newKgoRecord(topic, key, value, headers), func(_ *kgo.Record, err error) {
			if cb != nil {
				cb(err)
			}
		},
	)
}

func (k *KgoClient) Flush(ctx context.Context) error {
	return k.client.Flush(ctx)
}

func (k *KgoClient) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

func (k *KgoClient) Close() {
	k.client.Close()
}

func newKgoRecord(topic string, key, value []byte, headers []Header) *kgo.Record {
	return &kgo.Record{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: convertToKgoHeaders(headers),
	}
}

func convertRecords(records []*kgo.Record) []ConsumerRecord {
	converted := make([]ConsumerRecord, len(records))
	for i, r := range records {
		converted[i] = ConsumerRecord{
			Topic:       r.Topic,
			Partition:   r.Partition,
			Offset:      r.Offset,
			Key:         r.Key,
			Value:       r.Value,
			Headers:     convertFromKgoHeaders(r.Headers),
			Timestamp:   r.Timestamp,
			LeaderEpoch: r.LeaderEpoch,
		}
	}

	return converted
}

func convertFromKgoHeaders(headers []kgo.RecordHeader) []Header {
	converted := make([]Header, len(headers))
	for i, h := range headers {
		converted[i] = Header{Key: h.Key, Value: h.Value}
	}
	return converted
}

func convertToKgoHeaders(headers []Header) []kgo.RecordHeader {
	kgoHeaders := make([]kgo.RecordHeader, len(headers))
	for i, h := range headers {
		kgoHeaders[i] = kgo.RecordHeader{Key: h.Key, Value: h.Value}
	}
	return kgoHeaders
}
