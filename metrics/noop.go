package metrics

import "time"

var _ Sink = (*NoopSink)(nil)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RecordPublished(topic string, duration time.Duration, err error)             {}
func (n *NoopSink) PublishInFlightIncr()                                                        {}
func (n *NoopSink) PublishInFlightDecr()                                                        {}
func (n *NoopSink) RecordsConsumed(topic string, count int)                                     {}
func (n *NoopSink) RecordDropped(topic string, reason string)                                   {}
func (n *NoopSink) RecordLate(topic string)                                                     {}
func (n *NoopSink) WatermarkUpdate(topic string, watermark time.Time)                           {}
func (n *NoopSink) BatchCommitted(topic string, records int, duration time.Duration, err error) {}
func (n *NoopSink) CommitRetry(topic string)                                                    {}
