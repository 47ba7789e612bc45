package publisher

import (
	"fmt"

	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/otel"
)

type Mode string

const (
	// ModeSync blocks each Publish until the broker acknowledges the record
	ModeSync Mode = "sync"
	// ModeAsync returns once the record is enqueued, bounded by MaxInFlight
	ModeAsync Mode = "async"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSync, "":
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown publisher mode %q", s)
	}
}

type Config struct {
	Mode        Mode
	MaxInFlight int

	OnDelivery func(DeliveryResult)

	Logger    logger.Logger
	Metrics   metrics.Sink
	Telemetry *otel.Telemetry
}

func defaultConfig() Config {
	return Config{
		Mode:        ModeSync,
		MaxInFlight: 64,
		Logger:      logger.NewNoopLogger(),
		Metrics:     metrics.NewNoopSink(),
		Telemetry:   otel.Noop(),
	}
}

type Option func(*Config)

func WithMode(m Mode) Option {
	return func(c *Config) {
		c.Mode = m
	}
}

func WithMaxInFlight(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxInFlight = n
		}
	}
}

// WithDeliveryCallback is invoked once per Publish with the delivery outcome.
// In async mode it runs on the producer's callback goroutine.
func WithDeliveryCallback(fn func(DeliveryResult)) Option {
	return func(c *Config) {
		c.OnDelivery = fn
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
