// Package bootstrap holds the process wiring shared by the simulator and
// ingestor binaries.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hugolhafner/smartcity/config"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/metrics"
	"github.com/hugolhafner/smartcity/otel"
)

const shutdownTimeout = 5 * time.Second

// KafkaOptions returns the client options for cfg. clientID suffixes the
// configured client id so every client of a process is distinguishable.
func KafkaOptions(cfg config.Config, clientID string, l logger.Logger) []kafka.KgoOption {
	id := cfg.Kafka.ClientID
	if clientID != "" {
		id += "-" + clientID
	}
	return []kafka.KgoOption{
		kafka.WithBootstrapServers(cfg.Kafka.Brokers),
		kafka.WithClientID(id),
		kafka.WithAckTimeout(cfg.Kafka.AckTimeout),
		kafka.WithLogger(l),
	}
}

// Telemetry uses the global tracer provider with W3C trace context, so spans
// link across the broker once a provider is installed
func Telemetry() *otel.Telemetry {
	return otel.NewTelemetry(
		gootel.GetTracerProvider(),
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
}

// Metrics is a Prometheus registry with runtime collectors and the smartcity sink
type Metrics struct {
	Registry *prometheus.Registry
	Sink     metrics.Sink
}

func NewMetrics(l logger.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{Registry: reg, Sink: metrics.NewPrometheusSink(reg, l)}
}

func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(
		"/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	)
	return mux
}

// Serve exposes Handler on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string, l logger.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("Metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
