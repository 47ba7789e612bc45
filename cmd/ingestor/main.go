package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hugolhafner/smartcity/config"
	"github.com/hugolhafner/smartcity/ingest"
	"github.com/hugolhafner/smartcity/internal/bootstrap"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/plugins/zaplogger"
	"github.com/hugolhafner/smartcity/sink"
	"github.com/hugolhafner/smartcity/sink/filestore"
	"github.com/hugolhafner/smartcity/sink/sqlitestore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file, watched for log level changes")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ingestor:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zl, err := zaplogger.NewProduction(cfg.LogLevel())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = zl.Zap.Sync() }()
	l := zl.With("app", "ingestor")

	if configPath != "" {
		if _, err := config.Watch(configPath, l, func(c config.Config) { zl.SetLevel(c.LogLevel()) }); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start, err := ingest.ParseStartPosition(cfg.Ingest.StartOffset)
	if err != nil {
		return err
	}

	m := bootstrap.NewMetrics(l)
	opts := []ingest.Option{
		ingest.WithStartPosition(start),
		ingest.WithWatermarkLag(cfg.Ingest.WatermarkLag),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithBatchInterval(cfg.Ingest.BatchInterval),
		ingest.WithDrainTimeout(cfg.Ingest.DrainTimeout),
		ingest.WithLogger(l),
		ingest.WithMetrics(m.Sink),
		ingest.WithTelemetry(bootstrap.Telemetry()),
	}

	if cfg.Ingest.DLQTopic != "" {
		dlq, err := kafka.NewKgoClient(bootstrap.KafkaOptions(cfg, "dlq", l)...)
		if err != nil {
			return err
		}
		defer dlq.Close()
		opts = append(opts, ingest.WithDLQ(cfg.Ingest.DLQTopic, dlq))
	}

	consumers := func(topic string) (kafka.Consumer, error) {
		c, err := kafka.NewKgoClient(bootstrap.KafkaOptions(cfg, topic, l)...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	pipeline, err := ingest.NewPipeline(cfg.Topics, consumers, storeFactory(cfg.Sink), opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(
		func() error {
			defer stopServe()
			return pipeline.Run(gctx)
		},
	)
	g.Go(
		func() error {
			return m.Serve(serveCtx, cfg.Metrics.Addr, l)
		},
	)

	if err := g.Wait(); err != nil {
		return err
	}

	l.Info("Ingestor stopped")
	return nil
}

func storeFactory(cfg config.SinkConfig) ingest.StoreFactory {
	return func(topic string) (sink.Store, error) {
		switch cfg.Backend {
		case config.BackendSQLite:
			s, err := sqlitestore.New(cfg.BasePath, topic)
			if err != nil {
				return nil, err
			}
			return s, nil
		default:
			s, err := filestore.New(cfg.BasePath, cfg.CheckpointPath, topic)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
}
