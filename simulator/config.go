package simulator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hugolhafner/smartcity/event"
)

var (
	London     = event.Location{Lat: 51.5074, Lon: -0.1278}
	Birmingham = event.Location{Lat: 52.4862, Lon: -1.8904}
)

type Config struct {
	DeviceID string
	CameraID string

	Origin      event.Location
	Destination event.Location
	TotalSteps  int
	Jitter      float64

	MinTick time.Duration
	MaxTick time.Duration

	Seed uint64
	// StartTime is the journey clock at the origin. Pin it together with Seed to
	// replay the same (timestamp, position) sequence.
	StartTime time.Time
	MaxTicks  int

	// NewID generates record and incident ids. It is not driven by Seed, so
	// two runs never share ids. Defaults to a random v4 uuid.
	NewID func() string
}

func defaultConfig() Config {
	return Config{
		DeviceID:    "vehicle-001",
		CameraID:    "Nikon-Cam123",
		Origin:      London,
		Destination: Birmingham,
		TotalSteps:  100,
		Jitter:      0.0005,
		MinTick:     30 * time.Second,
		MaxTick:     60 * time.Second,
		Seed:        42,
		StartTime:   time.Now().UTC().Truncate(time.Second),
		MaxTicks:    1000,
		NewID:       uuid.NewString,
	}
}

func (c Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.TotalSteps <= 0 {
		return fmt.Errorf("total steps must be positive, got %d", c.TotalSteps)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter must not be negative, got %v", c.Jitter)
	}
	if c.MinTick <= 0 {
		return fmt.Errorf("min tick must be positive, got %s", c.MinTick)
	}
	if c.MaxTick < c.MinTick {
		return fmt.Errorf("max tick %s is below min tick %s", c.MaxTick, c.MinTick)
	}
	if c.MaxTicks <= 0 {
		return fmt.Errorf("max ticks must be positive, got %d", c.MaxTicks)
	}
	return nil
}

type Option func(*Config)

func WithDeviceID(id string) Option {
	return func(c *Config) {
		c.DeviceID = id
	}
}

func WithCameraID(id string) Option {
	return func(c *Config) {
		c.CameraID = id
	}
}

func WithRoute(origin, destination event.Location) Option {
	return func(c *Config) {
		c.Origin = origin
		c.Destination = destination
	}
}

func WithTotalSteps(n int) Option {
	return func(c *Config) {
		c.TotalSteps = n
	}
}

func WithJitter(j float64) Option {
	return func(c *Config) {
		c.Jitter = j
	}
}

// WithTickBounds sets the range each tick advances the journey clock by
func WithTickBounds(lo, hi time.Duration) Option {
	return func(c *Config) {
		c.MinTick = lo
		c.MaxTick = hi
	}
}

func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

func WithStartTime(t time.Time) Option {
	return func(c *Config) {
		c.StartTime = t
	}
}

func WithMaxTicks(n int) Option {
	return func(c *Config) {
		c.MaxTicks = n
	}
}

// WithIDGenerator replaces the id source, for callers that need stable ids
func WithIDGenerator(fn func() string) Option {
	return func(c *Config) {
		if fn != nil {
			c.NewID = fn
		}
	}
}
