package metrics

import (
	"time"

	"github.com/hugolhafner/smartcity/logger"
	"github.com/prometheus/client_golang/prometheus"
)

var _ Sink = (*PrometheusSink)(nil)

const namespace = "smartcity"

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Publisher metrics
	publishedTotal  *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	publishInFlight prometheus.Gauge

	// Ingestion metrics
	consumedTotal  *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	lateTotal      *prometheus.CounterVec
	watermark      *prometheus.GaugeVec
	commitsTotal   *prometheus.CounterVec
	committedTotal *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	commitRetries  *prometheus.CounterVec

	logger logger.Logger
}

// NewPrometheusSink creates a sink registered on reg. A collector that fails to
// register is logged and keeps working unexported.
func NewPrometheusSink(reg prometheus.Registerer, l logger.Logger) *PrometheusSink {
	if l == nil {
		l = logger.NewNoopLogger()
	}

	s := &PrometheusSink{logger: l.With("component", "metrics")}
	s.initPublisherMetrics(reg)
	s.initIngestMetrics(reg)
	return s
}

func (s *PrometheusSink) initPublisherMetrics(reg prometheus.Registerer) {
	s.publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "records_total",
		Help:      "Total number of publish attempts by outcome.",
	}, []string{"topic", "outcome"})

	s.publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "delivery_duration_seconds",
		Help:      "Time from publish to broker acknowledgement in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"topic"})

	s.publishInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "in_flight",
		Help:      "Number of records awaiting acknowledgement.",
	})

	s.register(reg, s.publishedTotal, "publisher_records_total")
	s.register(reg, s.publishDuration, "publisher_delivery_duration_seconds")
	s.register(reg, s.publishInFlight, "publisher_in_flight")
}

func (s *PrometheusSink) initIngestMetrics(reg prometheus.Registerer) {
	s.consumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "records_consumed_total",
		Help:      "Total number of raw records read from the broker.",
	}, []string{"topic"})

	s.droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "records_dropped_total",
		Help:      "Total number of records not written to the store.",
	}, []string{"topic", "reason"})

	s.lateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "records_late_total",
		Help:      "Total number of records older than the watermark.",
	}, []string{"topic"})

	s.watermark = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "watermark_seconds",
		Help:      "Current watermark as a unix timestamp.",
	}, []string{"topic"})

	s.commitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "commits_total",
		Help:      "Total number of batch commits by outcome.",
	}, []string{"topic", "outcome"})

	s.committedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "records_committed_total",
		Help:      "Total number of records durably written.",
	}, []string{"topic"})

	s.commitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "commit_duration_seconds",
		Help:      "Duration of each batch commit in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"topic"})

	s.commitRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "commit_retries_total",
		Help:      "Total number of batch commit retries.",
	}, []string{"topic"})

	s.register(reg, s.consumedTotal, "ingest_records_consumed_total")
	s.register(reg, s.droppedTotal, "ingest_records_dropped_total")
	s.register(reg, s.lateTotal, "ingest_records_late_total")
	s.register(reg, s.watermark, "ingest_watermark_seconds")
	s.register(reg, s.commitsTotal, "sink_commits_total")
	s.register(reg, s.committedTotal, "sink_records_committed_total")
	s.register(reg, s.commitDuration, "sink_commit_duration_seconds")
	s.register(reg, s.commitRetries, "sink_commit_retries_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", "name", name, "error", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (s *PrometheusSink) RecordPublished(topic string, duration time.Duration, err error) {
	s.publishedTotal.WithLabelValues(topic, outcome(err)).Inc()
	s.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func (s *PrometheusSink) PublishInFlightIncr() {
	s.publishInFlight.Inc()
}

func (s *PrometheusSink) PublishInFlightDecr() {
	s.publishInFlight.Dec()
}

func (s *PrometheusSink) RecordsConsumed(topic string, n int) {
	s.consumedTotal.WithLabelValues(topic).Add(float64(n))
}

func (s *PrometheusSink) RecordDropped(topic string, reason string) {
	s.droppedTotal.WithLabelValues(topic, reason).Inc()
}

func (s *PrometheusSink) RecordLate(topic string) {
	s.lateTotal.WithLabelValues(topic).Inc()
}

func (s *PrometheusSink) WatermarkUpdate(topic string, watermark time.Time) {
	if watermark.IsZero() {
		return
	}
	s.watermark.WithLabelValues(topic).Set(float64(watermark.UnixMilli()) / 1000)
}

func (s *PrometheusSink) BatchCommitted(topic string, records int, duration time.Duration, err error) {
	s.commitsTotal.WithLabelValues(topic, outcome(err)).Inc()
	s.commitDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err == nil {
		s.committedTotal.WithLabelValues(topic).Add(float64(records))
	}
}

func (s *PrometheusSink) CommitRetry(topic string) {
	s.commitRetries.WithLabelValues(topic).Inc()
}
