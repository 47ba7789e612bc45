package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hugolhafner/smartcity/committer"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/schema"
	"github.com/hugolhafner/smartcity/sink"
	"github.com/hugolhafner/smartcity/watermark"
)

// Chain moves one topic from the broker into its store:
// reader, watermark annotation, batching, checkpointed commit.
type Chain struct {
	topic     string
	reader    *TopicReader
	writer    *sink.Writer
	tracker   *watermark.Tracker
	committer *committer.PeriodicCommitter
	config    Config

	logger  logger.Logger
	metrics metrics.Sink

	opened  bool
	cp      sink.Checkpoint
	pending record.Batch
}

func NewChain(topic string, sch schema.Schema, consumer kafka.Consumer, store sink.Store, opts ...Option) *Chain {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return newChain(topic, sch, consumer, store, config)
}

func newChain(topic string, sch schema.Schema, consumer kafka.Consumer, store sink.Store, config Config) *Chain {
	writerOpts := []sink.WriterOption{
		sink.WithLogger(config.Logger),
		sink.WithMetrics(config.Metrics),
		sink.WithTelemetry(config.Telemetry),
	}
	if config.SinkHandler != nil {
		writerOpts = append(writerOpts, sink.WithErrorHandler(config.SinkHandler))
	}

	trigger := committer.NewPeriodicCommitter(
		committer.WithMaxCount(config.BatchSize),
		committer.WithMaxInterval(config.BatchInterval),
	)

	return &Chain{
		topic:     topic,
		reader:    newTopicReader(topic, sch, consumer, config),
		writer:    sink.NewWriter(topic, store, sch, writerOpts...),
		tracker:   watermark.NewTracker(config.WatermarkLag),
		committer: trigger,
		config:    config,
		logger:    config.Logger.With("component", "chain", "topic", topic),
		metrics:   config.Metrics,
	}
}

func (c *Chain) Topic() string {
	return c.topic
}

// Watermark is the chain's current watermark, zero before the first record
func (c *Chain) Watermark() time.Time {
	return c.tracker.Watermark()
}

// Open loads the checkpoint and verifies the stored schema. Run calls it when it
// has not been called yet; the pipeline opens every chain before running any.
func (c *Chain) Open(ctx context.Context) error {
	if c.opened {
		return nil
	}

	cp, err := c.writer.Open(ctx)
	if err != nil {
		return fmt.Errorf("chain %s: open sink: %w", c.topic, err)
	}

	c.cp = cp
	c.opened = true
	c.tracker.Restore(cp.MaxEventTime)
	c.resetPending()
	return nil
}

// Run opens the sink, resumes the reader and loops until ctx is done or a fatal
// error occurs. On cancellation the pending batch is committed once more within
// the drain timeout and Run returns nil.
func (c *Chain) Run(ctx context.Context) error {
	defer c.committer.Close()
	defer func() {
		if err := c.writer.Close(); err != nil {
			c.logger.Warn("Closing sink failed", "error", err)
		}
	}()

	if err := c.Open(ctx); err != nil {
		return err
	}

	if err := c.reader.Start(ctx, c.config.StartPosition, c.cp); err != nil {
		return fmt.Errorf("chain %s: %w", c.topic, err)
	}

	c.logger.Info("Chain started", "watermark_lag", c.tracker.Lag())

	var errAttempts uint
	for {
		select {
		case <-ctx.Done():
			return c.drain()
		case <-c.committer.C():
			if err := c.commit(ctx); err != nil {
				if ctx.Err() != nil {
					return c.drain()
				}
				return fmt.Errorf("chain %s: commit: %w", c.topic, err)
			}
			continue
		default:
		}

		// records handed back with a poll error are already consumed
		res, err := c.reader.Read(ctx)
		if res.Seen() > 0 {
			c.accept(res)
		}
		c.committer.RecordProcessed(res.Seen())

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if !errors.Is(err, ErrPoll) {
				return fmt.Errorf("chain %s: %w", c.topic, err)
			}

			c.logger.Warn("Poll error", "error", err, "attempt", errAttempts)
			select {
			case <-ctx.Done():
			case <-time.After(c.config.PollErrorBackoff.Next(errAttempts)):
			}
			errAttempts++
			continue
		}
		errAttempts = 0
	}
}

// accept annotates res against the watermark and appends it to the pending batch
func (c *Chain) accept(res Result) {
	for _, r := range res.Records {
		late, wm := c.tracker.Observe(r.EventTime)
		r.Late = late
		r.Watermark = wm
		if late {
			c.metrics.RecordLate(c.topic)
			c.logger.Debug(
				"Late record", "partition", r.Partition, "offset", r.Offset,
				"event_time", r.EventTime, "watermark", wm,
			)
		}
		c.pending.Records = append(c.pending.Records, r)
	}

	maps.Copy(c.pending.Offsets, res.Offsets)
	c.pending.MaxEventTime = c.tracker.MaxEventTime()

	if len(res.Records) > 0 {
		c.metrics.WatermarkUpdate(c.topic, c.tracker.Watermark())
	}
}

func (c *Chain) commit(ctx context.Context) error {
	if c.pending.Empty() {
		c.committer.Committed()
		return nil
	}

	if err := c.writer.Commit(ctx, c.pending); err != nil {
		return err
	}

	c.committer.Committed()
	c.resetPending()
	return nil
}

// drain commits what is pending with a fresh context bounded by DrainTimeout
func (c *Chain) drain() error {
	if c.pending.Empty() {
		c.logger.Info("Chain stopped")
		return nil
	}

	c.logger.Debug("Context cancelled, committing pending batch", "records", len(c.pending.Records))
	drainCtx, cancel := context.WithTimeout(context.Background(), c.config.DrainTimeout)
	defer cancel()

	if err := c.commit(drainCtx); err != nil {
		c.logger.Error("Drain commit failed", "error", err, "records", len(c.pending.Records))
		return fmt.Errorf("chain %s: drain commit: %w", c.topic, err)
	}

	c.logger.Info("Chain stopped", "offsets", c.writer.Checkpoint().Offsets)
	return nil
}

func (c *Chain) resetPending() {
	c.pending = record.Batch{
		Topic:        c.topic,
		Offsets:      make(map[int32]int64),
		MaxEventTime: c.tracker.MaxEventTime(),
	}
}
