package metrics

import "time"

// Sink receives operational events from the publisher and the ingestion chains.
// Implementations must be safe for concurrent use and must never block.
type Sink interface {
	// Publisher
	RecordPublished(topic string, duration time.Duration, err error)
	PublishInFlightIncr()
	PublishInFlightDecr()

	// Ingestion
	RecordsConsumed(topic string, n int)
	RecordDropped(topic string, reason string)
	RecordLate(topic string)
	WatermarkUpdate(topic string, watermark time.Time)
	BatchCommitted(topic string, records int, duration time.Duration, err error)
	CommitRetry(topic string)
}

// Drop reasons
const (
	ReasonMalformed = "malformed"
	ReasonDLQ       = "dlq"
	ReasonReplayed  = "replayed"
)
