package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/hugolhafner/smartcity/event"
	"github.com/hugolhafner/smartcity/ingest"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/publisher"
)

const envPrefix = "smartcity"

// Sink backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Topics    event.Topics    `mapstructure:"topics"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type KafkaConfig struct {
	Brokers    []string      `mapstructure:"brokers"`
	ClientID   string        `mapstructure:"client_id"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

type SinkConfig struct {
	Backend        string `mapstructure:"backend"`
	BasePath       string `mapstructure:"base_path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

type IngestConfig struct {
	StartOffset   string        `mapstructure:"start_offset"`
	WatermarkLag  time.Duration `mapstructure:"watermark_lag"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	DLQTopic      string        `mapstructure:"dlq_topic"`
}

type SimulatorConfig struct {
	DeviceID    string        `mapstructure:"device_id"`
	CameraID    string        `mapstructure:"camera_id"`
	Origin      string        `mapstructure:"origin"`
	Destination string        `mapstructure:"destination"`
	TickDelay   time.Duration `mapstructure:"tick_delay"`
	MinTick     time.Duration `mapstructure:"min_tick"`
	MaxTick     time.Duration `mapstructure:"max_tick"`
	TotalSteps  int           `mapstructure:"total_steps"`
	Jitter      float64       `mapstructure:"jitter"`
	Seed        uint64        `mapstructure:"seed"`
	MaxTicks    int           `mapstructure:"max_ticks"`
	// StartTime is RFC3339. Empty starts the journey clock at the current time,
	// so replaying a run needs both seed and start_time pinned.
	StartTime string `mapstructure:"start_time"`
}

type PublisherConfig struct {
	Mode        string `mapstructure:"mode"`
	MaxInFlight int    `mapstructure:"max_in_flight"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `mapstructure:"addr"`
}

// Load reads the optional file at path, applies SMARTCITY_ environment
// overrides and validates the result. An empty path uses defaults and env only.
func Load(path string) (Config, error) {
	v, err := read(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

// Watch loads path like Load and calls onChange with every later valid
// version of the file. Invalid edits are logged and ignored.
func Watch(path string, l logger.Logger, onChange func(Config)) (Config, error) {
	if path == "" {
		return Config{}, errors.New("watch needs a config file")
	}

	v, err := read(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}

	v.OnConfigChange(
		func(e fsnotify.Event) {
			next, err := decode(v)
			if err != nil {
				l.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
				return
			}
			l.Info("Config reloaded", "file", e.Name, "op", e.Op.String())
			onChange(next)
		},
	)
	v.WatchConfig()

	return cfg, nil
}

func read(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		return v, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	topics := event.DefaultTopics()

	v.SetDefault("kafka.brokers", []string{"localhost:29092"})
	v.SetDefault("kafka.client_id", "smartcity")
	v.SetDefault("kafka.ack_timeout", 30*time.Second)

	v.SetDefault("topics.vehicle", topics.Vehicle)
	v.SetDefault("topics.gps", topics.GPS)
	v.SetDefault("topics.traffic", topics.Traffic)
	v.SetDefault("topics.weather", topics.Weather)
	v.SetDefault("topics.emergency", topics.Emergency)

	v.SetDefault("sink.backend", BackendFile)
	v.SetDefault("sink.base_path", "./data")
	v.SetDefault("sink.checkpoint_path", "./data/checkpoints")

	v.SetDefault("ingest.start_offset", string(ingest.StartCheckpoint))
	v.SetDefault("ingest.watermark_lag", 2*time.Minute)
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.batch_interval", 5*time.Second)
	v.SetDefault("ingest.drain_timeout", 30*time.Second)
	v.SetDefault("ingest.dlq_topic", "")

	v.SetDefault("simulator.device_id", "vehicle-001")
	v.SetDefault("simulator.camera_id", "Nikon-Cam123")
	v.SetDefault("simulator.origin", "51.5074,-0.1278")
	v.SetDefault("simulator.destination", "52.4862,-1.8904")
	v.SetDefault("simulator.tick_delay", 5*time.Second)
	v.SetDefault("simulator.min_tick", 30*time.Second)
	v.SetDefault("simulator.max_tick", 60*time.Second)
	v.SetDefault("simulator.total_steps", 100)
	v.SetDefault("simulator.jitter", 0.0005)
	v.SetDefault("simulator.seed", 42)
	v.SetDefault("simulator.max_ticks", 1000)
	v.SetDefault("simulator.start_time", "")

	v.SetDefault("publisher.mode", string(publisher.ModeSync))
	v.SetDefault("publisher.max_in_flight", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", ":9102")
}

func (c Config) Validate() error {
	var errs []error

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Kafka.AckTimeout <= 0 {
		errs = append(errs, errors.New("kafka.ack_timeout must be positive"))
	}
	if err := c.Topics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("topics: %w", err))
	}

	switch c.Sink.Backend {
	case BackendFile:
		if c.Sink.BasePath == "" || c.Sink.CheckpointPath == "" {
			errs = append(errs, errors.New("sink.base_path and sink.checkpoint_path are required for the file backend"))
		}
	case BackendSQLite:
		if c.Sink.BasePath == "" {
			errs = append(errs, errors.New("sink.base_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("sink.backend %q: want %s or %s", c.Sink.Backend, BackendFile, BackendSQLite))
	}

	if _, err := ingest.ParseStartPosition(c.Ingest.StartOffset); err != nil {
		errs = append(errs, fmt.Errorf("ingest.start_offset: %w", err))
	}
	if c.Ingest.WatermarkLag < 0 {
		errs = append(errs, errors.New("ingest.watermark_lag must not be negative"))
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.BatchInterval <= 0 {
		errs = append(errs, errors.New("ingest.batch_size and ingest.batch_interval must be positive"))
	}

	if _, _, err := c.Simulator.Route(); err != nil {
		errs = append(errs, fmt.Errorf("simulator: %w", err))
	}
	if c.Simulator.MinTick <= 0 || c.Simulator.MaxTick < c.Simulator.MinTick {
		errs = append(errs, errors.New("simulator.min_tick must be positive and not above simulator.max_tick"))
	}
	if c.Simulator.TotalSteps <= 0 {
		errs = append(errs, errors.New("simulator.total_steps must be positive"))
	}
	if c.Simulator.Jitter < 0 {
		errs = append(errs, errors.New("simulator.jitter must not be negative"))
	}
	if _, _, err := c.Simulator.Start(); err != nil {
		errs = append(errs, fmt.Errorf("simulator.start_time: %w", err))
	}

	if _, err := publisher.ParseMode(c.Publisher.Mode); err != nil {
		errs = append(errs, fmt.Errorf("publisher.mode: %w", err))
	}
	if c.Publisher.MaxInFlight <= 0 {
		errs = append(errs, errors.New("publisher.max_in_flight must be positive"))
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Route parses the configured origin and destination
func (s SimulatorConfig) Route() (origin, destination event.Location, err error) {
	origin, err = event.ParseLocation(s.Origin)
	if err != nil {
		return event.Location{}, event.Location{}, fmt.Errorf("origin: %w", err)
	}
	destination, err = event.ParseLocation(s.Destination)
	if err != nil {
		return event.Location{}, event.Location{}, fmt.Errorf("destination: %w", err)
	}
	return origin, destination, nil
}

// Start returns the pinned journey start time, if one is configured
func (s SimulatorConfig) Start() (time.Time, bool, error) {
	if s.StartTime == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

func (c Config) LogLevel() logger.LogLevel {
	l, _ := logger.ParseLevel(c.Log.Level)
	return l
}
