package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hugolhafner/smartcity/config"
	"github.com/hugolhafner/smartcity/driver"
	"github.com/hugolhafner/smartcity/internal/bootstrap"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/plugins/zaplogger"
	"github.com/hugolhafner/smartcity/publisher"
	"github.com/hugolhafner/smartcity/simulator"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "simulator:", err)
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
	l := zl.With("app", "simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := kafka.NewKgoClient(bootstrap.KafkaOptions(cfg, "simulator", l)...)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping brokers %v: %w", cfg.Kafka.Brokers, err)
	}

	origin, destination, err := cfg.Simulator.Route()
	if err != nil {
		return err
	}
	simOpts := []simulator.Option{
		simulator.WithDeviceID(cfg.Simulator.DeviceID),
		simulator.WithCameraID(cfg.Simulator.CameraID),
		simulator.WithRoute(origin, destination),
		simulator.WithTotalSteps(cfg.Simulator.TotalSteps),
		simulator.WithJitter(cfg.Simulator.Jitter),
		simulator.WithTickBounds(cfg.Simulator.MinTick, cfg.Simulator.MaxTick),
		simulator.WithSeed(cfg.Simulator.Seed),
		simulator.WithMaxTicks(cfg.Simulator.MaxTicks),
	}
	if start, ok, err := cfg.Simulator.Start(); err != nil {
		return err
	} else if ok {
		simOpts = append(simOpts, simulator.WithStartTime(start))
	}

	sim, err := simulator.New(simOpts...)
	if err != nil {
		return err
	}

	mode, err := publisher.ParseMode(cfg.Publisher.Mode)
	if err != nil {
		return err
	}

	m := bootstrap.NewMetrics(l)
	pub := publisher.New(
		client,
		publisher.WithMode(mode),
		publisher.WithMaxInFlight(cfg.Publisher.MaxInFlight),
		publisher.WithLogger(l),
		publisher.WithMetrics(m.Sink),
		publisher.WithTelemetry(bootstrap.Telemetry()),
	)

	drv := driver.New(
		sim, pub,
		driver.WithTickDelay(cfg.Simulator.TickDelay),
		driver.WithTopics(cfg.Topics),
		driver.WithLogger(l),
	)

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(
		func() error {
			defer stopServe()
			return drv.Run(gctx)
		},
	)
	g.Go(
		func() error {
			return m.Serve(serveCtx, cfg.Metrics.Addr, l)
		},
	)
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Kafka.AckTimeout)
	defer cancel()
	if err := pub.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush publisher: %w", err)
	}

	if errors.Is(runErr, context.Canceled) {
		l.Info("Simulation interrupted", "ticks", drv.Ticks())
		return nil
	}
	if runErr != nil {
		return runErr
	}

	l.Info("Simulation complete", "ticks", drv.Ticks())
	return nil
}
