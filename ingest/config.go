package ingest

import (
	"fmt"
	"time"

	"github.com/hugolhafner/dskit/backoff"

	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/otel"
	"github.com/hugolhafner/smartcity/watermark"
)

// StartPosition selects where a chain starts reading when it opens
type StartPosition string

const (
	// StartCheckpoint resumes each partition at its committed next offset;
	// partitions absent from the checkpoint start earliest
	StartCheckpoint StartPosition = "checkpoint"
	// StartEarliest rereads every partition from the start of the log. Records
	// already covered by the checkpoint are still skipped by the sink.
	StartEarliest StartPosition = "earliest"
)

func ParseStartPosition(s string) (StartPosition, error) {
	switch StartPosition(s) {
	case "", StartCheckpoint:
		return StartCheckpoint, nil
	case StartEarliest:
		return StartEarliest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStartPosition, s)
	}
}

type Config struct {
	StartPosition StartPosition
	WatermarkLag  time.Duration

	// BatchSize and BatchInterval trigger a commit, whichever is reached first
	BatchSize     int
	BatchInterval time.Duration
	// DrainTimeout bounds the final commit made on shutdown
	DrainTimeout time.Duration

	// DecodeHandler decides on malformed records. Defaults to LogAndContinue,
	// or to sending to DLQTopic when one is set.
	DecodeHandler errorhandler.Handler
	// SinkHandler decides on failed commits, see sink.WithErrorHandler
	SinkHandler errorhandler.Handler

	DLQTopic    string
	DLQProducer kafka.Producer

	PollErrorBackoff backoff.Backoff

	Logger    logger.Logger
	Metrics   metrics.Sink
	Telemetry *otel.Telemetry
}

func defaultConfig() Config {
	return Config{
		StartPosition:    StartCheckpoint,
		WatermarkLag:     watermark.DefaultLag,
		BatchSize:        500,
		BatchInterval:    5 * time.Second,
		DrainTimeout:     30 * time.Second,
		PollErrorBackoff: backoff.NewFixed(time.Second),
		Logger:           logger.NewNoopLogger(),
		Metrics:          metrics.NewNoopSink(),
		Telemetry:        otel.Noop(),
	}
}

// decodeHandler resolves the handler for malformed records against l
func (c Config) decodeHandler(l logger.Logger) errorhandler.Handler {
	if c.DecodeHandler != nil {
		return c.DecodeHandler
	}
	if c.DLQTopic != "" {
		return errorhandler.WithDLQ(c.DLQTopic, errorhandler.LogAndContinue(l))
	}
	return errorhandler.LogAndContinue(l)
}

type Option func(*Config)

func WithStartPosition(p StartPosition) Option {
	return func(c *Config) {
		c.StartPosition = p
	}
}

func WithWatermarkLag(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.WatermarkLag = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

func WithBatchInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BatchInterval = d
		}
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DrainTimeout = d
		}
	}
}

func WithDecodeErrorHandler(h errorhandler.Handler) Option {
	return func(c *Config) {
		c.DecodeHandler = h
	}
}

func WithSinkErrorHandler(h errorhandler.Handler) Option {
	return func(c *Config) {
		c.SinkHandler = h
	}
}

// WithDLQ sends malformed records to topic through producer
func WithDLQ(topic string, producer kafka.Producer) Option {
	return func(c *Config) {
		c.DLQTopic = topic
		c.DLQProducer = producer
	}
}

func WithPollErrorBackoff(b backoff.Backoff) Option {
	return func(c *Config) {
		if b != nil {
			c.PollErrorBackoff = b
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithMetrics(m metrics.Sink) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

func WithTelemetry(t *otel.Telemetry) Option {
	return func(c *Config) {
		c.Telemetry = t
	}
}
