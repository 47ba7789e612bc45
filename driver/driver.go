package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/smartcity/event"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/simulator"
)

type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Publisher is the part of publisher.Publisher the driver needs
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, value any) error
	Flush(ctx context.Context) error
}

// Source produces ticks from a journey state; satisfied by simulator.Simulator
type Source interface {
	Start() simulator.JourneyState
	Advance(st simulator.JourneyState) (simulator.JourneyState, event.Tick, error)
}

type Config struct {
	TickDelay time.Duration
	Topics    event.Topics
	Logger    logger.Logger
}

func defaultConfig() Config {
	return Config{
		TickDelay: 5 * time.Second,
		Topics:    event.DefaultTopics(),
		Logger:    logger.NewNoopLogger(),
	}
}

type Option func(*Config)

func WithTickDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.TickDelay = d
		}
	}
}

func WithTopics(t event.Topics) Option {
	return func(c *Config) {
		c.Topics = t
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Driver runs one journey to completion, publishing every tick's siblings in a
// fixed order. It is single threaded: a tick is fully published before the next
// is generated.
type Driver struct {
	source    Source
	publisher Publisher
	config    Config
	logger    logger.Logger

	state atomic.Int32
	ticks atomic.Int64
}

func New(source Source, pub Publisher, opts ...Option) *Driver {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	d := &Driver{
		source:    source,
		publisher: pub,
		config:    config,
		logger:    config.Logger.With("component", "driver"),
	}
	d.state.Store(int32(StateStopped))
	return d
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

// Ticks is the number of ticks fully published so far
func (d *Driver) Ticks() int64 {
	return d.ticks.Load()
}

// Run blocks until the destination is reached, a publish fails or ctx is done.
// Reaching the destination returns nil.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.config.Topics.Validate(); err != nil {
		return fmt.Errorf("invalid topics: %w", err)
	}

	if !d.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return errors.New("driver already running")
	}
	defer d.state.Store(int32(StateStopped))

	st := d.source.Start()
	d.logger.Info("Journey started", "origin", st.Origin.String(), "destination", st.Destination.String())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, tick, err := d.source.Advance(st)
		if errors.Is(err, simulator.ErrArrived) {
			d.logger.Info("Destination reached", "ticks", d.ticks.Load(), "position", next.Position.String())
			return nil
		}
		if err != nil {
			return fmt.Errorf("advance journey: %w", err)
		}
		st = next

		if err := d.publishTick(ctx, tick); err != nil {
			return err
		}
		d.ticks.Add(1)

		d.logger.Debug("Tick published", "tick", tick.Number, "time", st.CurrentTime, "position", st.Position.String())

		if err := sleep(ctx, d.config.TickDelay); err != nil {
			return err
		}
	}
}

func (d *Driver) publishTick(ctx context.Context, tick event.Tick) error {
	for _, r := range tick.Records() {
		topic := d.config.Topics.For(r.Kind)
		if err := d.publisher.Publish(ctx, topic, r.Key, r.Value); err != nil {
			return fmt.Errorf("tick %d: publish %s: %w", tick.Number, r.Kind, err)
		}
	}

	if err := d.publisher.Flush(ctx); err != nil {
		return fmt.Errorf("tick %d: flush: %w", tick.Number, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
