package errorhandler

import (
	"github.com/hugolhafner/smartcity/kafka"
)

// ErrorContext carries what a handler needs to decide on a failure.
type ErrorContext struct {
	// Record is the raw record that failed to decode. For sink failures only
	// Topic is set, since the failed unit is a whole batch.
	Record kafka.ConsumerRecord

	Error error

	// Attempt is the current attempt number, 1 indexed.
	Attempt int

	// BatchSize is the number of records in a failed sink commit
	BatchSize int

	Phase ErrorPhase
}

func NewErrorContext(record kafka.ConsumerRecord, err error) ErrorContext {
	return ErrorContext{
		Record:  record.Copy(),
		Error:   err,
		Attempt: 1,
	}
}

// NewBatchErrorContext describes a failed commit of size records on topic
func NewBatchErrorContext(topic string, size int, err error) ErrorContext {
	return ErrorContext{
		Record:    kafka.ConsumerRecord{Topic: topic},
		Error:     err,
		Attempt:   1,
		BatchSize: size,
		Phase:     PhaseSink,
	}
}

func (ec ErrorContext) WithError(err error) ErrorContext {
	ec.Error = err
	return ec
}

func (ec ErrorContext) WithAttempt(attempt int) ErrorContext {
	ec.Attempt = attempt
	return ec
}

func (ec ErrorContext) WithPhase(phase ErrorPhase) ErrorContext {
	ec.Phase = phase
	return ec
}

func (ec ErrorContext) IncrementAttempt() ErrorContext {
	ec.Attempt++
	return ec
}

// Fields returns ec as logger key-value pairs
func (ec ErrorContext) Fields() []any {
	return []any{
		"error", ec.Error,
		"key", string(ec.Record.Key),
		"topic", ec.Record.Topic,
		"offset", ec.Record.Offset,
		"partition", ec.Record.Partition,
		"attempt", ec.Attempt,
		"phase", ec.Phase.String(),
	}
}
