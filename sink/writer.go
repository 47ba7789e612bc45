package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/hugolhafner/dskit/backoff"

	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/otel"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/schema"
)

type WriterConfig struct {
	// ErrorHandler decides on failed commits; only ActionRetry retries. Defaults
	// to retrying every second until the context is done.
	ErrorHandler errorhandler.Handler

	Logger    logger.Logger
	Metrics   metrics.Sink
	Telemetry *otel.Telemetry
	now       func() time.Time
}

func defaultWriterConfig() WriterConfig {
	return WriterConfig{
		Logger:    logger.NewNoopLogger(),
		Metrics:   metrics.NewNoopSink(),
		Telemetry: otel.Noop(),
		now:       time.Now,
	}
}

type WriterOption func(*WriterConfig)

func WithErrorHandler(h errorhandler.Handler) WriterOption {
	return func(c *WriterConfig) {
		c.ErrorHandler = h
	}
}

func WithLogger(l logger.Logger) WriterOption {
	return func(c *WriterConfig) {
		c.Logger = l
	}
}

func WithMetrics(m metrics.Sink) WriterOption {
	return func(c *WriterConfig) {
		c.Metrics = m
	}
}

func WithTelemetry(t *otel.Telemetry) WriterOption {
	return func(c *WriterConfig) {
		c.Telemetry = t
	}
}

// Writer commits batches for one topic to a Store. It owns the topic's
// checkpoint: records already covered by it are skipped so replayed broker
// messages never produce duplicate output.
type Writer struct {
	topic  string
	store  Store
	schema schema.Schema
	config WriterConfig
	logger logger.Logger

	cp     Checkpoint
	opened bool
	// dirty is set when a commit gave up and the store may hold partial output
	dirty bool
}

func NewWriter(topic string, store Store, sch schema.Schema, opts ...WriterOption) *Writer {
	config := defaultWriterConfig()
	for _, opt := range opts {
		opt(&config)
	}

	l := config.Logger.With("component", "sink", "topic", topic)
	if config.ErrorHandler == nil {
		config.ErrorHandler = errorhandler.RetryWithBackoff(l, backoff.NewFixed(time.Second))
	}

	return &Writer{
		topic:  topic,
		store:  store,
		schema: sch,
		config: config,
		logger: l,
	}
}

// Open loads and verifies the checkpoint and discards uncommitted output.
// A checkpoint written for another schema fails with ErrSchemaMismatch.
func (w *Writer) Open(ctx context.Context) (Checkpoint, error) {
	fp := w.schema.Fingerprint()

	cp, found, err := w.store.Load(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint for %s: %w", w.topic, err)
	}

	if !found {
		cp = NewCheckpoint(w.topic, fp)
	} else if cp.SchemaFingerprint != fp {
		return Checkpoint{}, fmt.Errorf(
			"%w: topic %s has %x, schema %s is %x", ErrSchemaMismatch, w.topic, cp.SchemaFingerprint, w.schema.Kind, fp,
		)
	}

	if err := w.store.Recover(ctx, cp); err != nil {
		return Checkpoint{}, fmt.Errorf("recover %s: %w", w.topic, err)
	}

	w.cp = cp
	w.opened = true
	w.logger.Info("Sink opened", "resumed", found, "partitions", len(cp.Offsets), "max_event_time", cp.MaxEventTime)
	return cp, nil
}

func (w *Writer) Checkpoint() Checkpoint {
	return w.cp
}

// Commit makes batch durable together with its offsets. Failed attempts are
// rolled back to the last good checkpoint and retried while the error handler
// says so.
func (w *Writer) Commit(ctx context.Context, batch record.Batch) error {
	if !w.opened {
		return ErrNotOpen
	}
	if w.dirty {
		if err := w.store.Recover(ctx, w.cp); err != nil {
			return fmt.Errorf("recover %s: %w", w.topic, err)
		}
		w.dirty = false
	}

	records := make([]record.Record, 0, len(batch.Records))
	for _, r := range batch.Records {
		if w.cp.Covers(r.Partition, r.Offset) {
			w.config.Metrics.RecordDropped(w.topic, metrics.ReasonReplayed)
			continue
		}
		records = append(records, r)
	}

	next := w.cp.Advance(batch.Offsets, batch.MaxEventTime)
	if len(records) == 0 && next.Equal(w.cp) {
		return nil
	}
	next.UpdatedAt = w.config.now().UTC()

	ctx, span := w.config.Telemetry.StartCommit(ctx, w.topic, len(records))

	ec := errorhandler.NewBatchErrorContext(w.topic, len(records), nil)
	for {
		start := time.Now()
		err := w.store.Commit(ctx, records, next)
		w.config.Metrics.BatchCommitted(w.topic, len(records), time.Since(start), err)

		if err == nil {
			w.cp = next
			otel.End(span, nil)
			w.logger.Debug("Batch committed", "records", len(records), "offsets", next.Offsets)
			return nil
		}

		ec = ec.WithError(err)
		action := w.config.ErrorHandler.Handle(ctx, ec)
		if action.Type() != errorhandler.ActionTypeRetry {
			if action.Type().Drops() {
				w.logger.Warn("A batch cannot be dropped, failing the commit", "action", action.Type().String())
			}
			w.dirty = true
			cerr := &CommitError{Topic: w.topic, Records: len(records), Attempts: ec.Attempt, Err: err}
			otel.End(span, cerr)
			return cerr
		}

		w.config.Metrics.CommitRetry(w.topic)
		if rerr := w.store.Recover(ctx, w.cp); rerr != nil {
			w.logger.Warn("Recover before retry failed", "error", rerr, "attempt", ec.Attempt)
		}
		ec = ec.IncrementAttempt()
	}
}

func (w *Writer) Close() error {
	return w.store.Close()
}
