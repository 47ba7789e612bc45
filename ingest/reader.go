package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/otel"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/schema"
	"github.com/hugolhafner/smartcity/sink"
)

// Result is the outcome of one poll. Offsets holds the next offset per partition
// for every record seen, including those that were dropped.
type Result struct {
	Records []record.Record
	Offsets map[int32]int64
	Dropped int
}

// Seen is the number of broker records the result accounts for
func (r Result) Seen() int {
	return len(r.Records) + r.Dropped
}

// TopicReader consumes one topic and decodes every payload against its schema.
// Malformed payloads go through the decode error handler and never reach the sink.
type TopicReader struct {
	topic    string
	schema   schema.Schema
	consumer kafka.Consumer
	handler  errorhandler.Handler
	dlq      kafka.Producer

	logger    logger.Logger
	metrics   metrics.Sink
	telemetry *otel.Telemetry
}

func NewTopicReader(topic string, sch schema.Schema, consumer kafka.Consumer, opts ...Option) *TopicReader {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return newTopicReader(topic, sch, consumer, config)
}

func newTopicReader(topic string, sch schema.Schema, consumer kafka.Consumer, config Config) *TopicReader {
	l := config.Logger.With("component", "reader", "topic", topic)
	return &TopicReader{
		topic:     topic,
		schema:    sch,
		consumer:  consumer,
		handler:   config.decodeHandler(l),
		dlq:       config.DLQProducer,
		logger:    l,
		metrics:   config.Metrics,
		telemetry: config.Telemetry,
	}
}

// Start assigns every partition of the topic from the given position
func (r *TopicReader) Start(ctx context.Context, pos StartPosition, cp sink.Checkpoint) error {
	var next map[int32]int64
	switch pos {
	case StartCheckpoint:
		next = cp.Offsets
	case StartEarliest:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStartPosition, pos)
	}

	if err := r.consumer.Assign(ctx, r.topic, next); err != nil {
		return fmt.Errorf("assign %s: %w", r.topic, err)
	}

	r.logger.Info("Reader started", "start_position", string(pos), "resumed_partitions", len(next))
	return nil
}

// Read polls once and decodes the returned records in delivery order. Poll
// failures wrap ErrPoll and may be retried; the result then still holds every
// record the consumer handed back with the error, and must be kept. Any other
// error is fatal to the chain and the result is empty.
func (r *TopicReader) Read(ctx context.Context) (Result, error) {
	recs, pollErr := r.consumer.Poll(ctx)
	if pollErr != nil {
		pollErr = fmt.Errorf("%w: %w", ErrPoll, pollErr)
	}

	res := Result{Offsets: make(map[int32]int64)}
	if len(recs) == 0 {
		return res, pollErr
	}
	r.metrics.RecordsConsumed(r.topic, len(recs))

	for _, rec := range recs {
		out, ok, err := r.process(ctx, rec)
		if err != nil {
			return Result{}, err
		}

		res.Offsets[rec.Partition] = rec.Offset + 1
		if !ok {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, out)
	}

	return res, pollErr
}

// process decodes rec, consulting the error handler on failure. It returns
// false when the record was dropped or dead-lettered.
func (r *TopicReader) process(ctx context.Context, rec kafka.ConsumerRecord) (record.Record, bool, error) {
	ctx, span := r.telemetry.StartProcess(ctx, rec)
	ec := errorhandler.NewErrorContext(rec, nil).WithPhase(errorhandler.PhaseDecode)

	for {
		if err := ctx.Err(); err != nil {
			otel.End(span, err)
			return record.Record{}, false, err
		}

		dec, err := r.schema.Decode(rec.Value)
		if err == nil {
			otel.End(span, nil, otel.AttrDecodeState.String(otel.StatusSuccess))
			return record.Record{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       rec.Key,
				EventTime: dec.EventTime,
				Fields:    dec.Fields,
			}, true, nil
		}

		derr := &DecodeError{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, Err: err}
		ec = ec.WithError(derr)
		span.RecordError(derr)

		action := r.handler.Handle(ctx, ec)

		switch action.Type() {
		case errorhandler.ActionTypeContinue:
			r.logger.Debug("Skipping malformed record", "partition", rec.Partition, "offset", rec.Offset)
			r.metrics.RecordDropped(r.topic, metrics.ReasonMalformed)
			otel.End(span, nil, otel.AttrDecodeState.String(otel.StatusDropped))
			return record.Record{}, false, nil

		case errorhandler.ActionTypeRetry:
			ec = ec.IncrementAttempt()
			if ec.Attempt%10 == 0 {
				r.logger.Warn(
					"Record seen high number of decode attempts, consider dropping it or sending to DLQ",
					"attempt", ec.Attempt, "partition", rec.Partition, "offset", rec.Offset,
				)
			}
			continue

		case errorhandler.ActionTypeSendToDLQ:
			a, ok := action.(errorhandler.ActionSendToDLQ)
			if !ok {
				err := errors.New("invalid action type, expected ActionSendToDLQ")
				otel.End(span, err, otel.AttrDecodeState.String(otel.StatusFailed))
				return record.Record{}, false, err
			}

			if err := r.sendToDLQ(ctx, rec, ec, a.Topic()); err != nil {
				r.logger.Error(
					"Failed to send record to DLQ",
					"error", err,
					"dlq_topic", a.Topic(),
					"original_partition", rec.Partition,
					"original_offset", rec.Offset,
				)
				err = fmt.Errorf("dead-letter %s: %w", rec.Ref(), err)
				otel.End(span, err, otel.AttrDecodeState.String(otel.StatusFailed))
				return record.Record{}, false, err
			}

			r.metrics.RecordDropped(r.topic, metrics.ReasonDLQ)
			otel.End(span, nil, otel.AttrDecodeState.String(otel.StatusDLQ))
			return record.Record{}, false, nil

		default:
			r.logger.Error("Malformed record is fatal, stopping reader", ec.Fields()...)
			r.metrics.RecordDropped(r.topic, metrics.ReasonMalformed)
			otel.End(span, derr, otel.AttrDecodeState.String(otel.StatusFailed))
			return record.Record{}, false, derr
		}
	}
}

func (r *TopicReader) sendToDLQ(
	ctx context.Context, rec kafka.ConsumerRecord, ec errorhandler.ErrorContext, topic string,
) error {
	if r.dlq == nil {
		return ErrNoDLQProducer
	}

	orig := rec.Copy()
	headers := append(
		kafka.CloneHeaders(rec.Headers, 7),
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(rec.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.FormatInt(int64(rec.Partition), 10))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
		kafka.Header{Key: HeaderErrorTimestamp, Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		kafka.Header{Key: HeaderErrorAttempt, Value: []byte(strconv.Itoa(ec.Attempt))},
		kafka.Header{Key: HeaderErrorPhase, Value: []byte(ec.Phase.String())},
	)
	if ec.Error != nil {
		headers = append(headers, kafka.Header{Key: HeaderErrorMessage, Value: []byte(ec.Error.Error())})
	}

	return r.dlq.Send(ctx, topic, orig.Key, orig.Value, headers)
}

// Dead-letter headers
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorTimestamp    = "x-error-timestamp"
	HeaderErrorAttempt      = "x-error-attempt"
	HeaderErrorPhase        = "x-error-phase"
	HeaderErrorMessage      = "x-error-message"
)
