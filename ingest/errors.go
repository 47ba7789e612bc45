package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDLQProducer is returned when the error handler routes a record to a
	// dead-letter topic but the chain was built without a producer
	ErrNoDLQProducer = errors.New("dead-letter routing requested without a producer")

	ErrInvalidStartPosition = errors.New("invalid start position")

	// ErrPoll wraps a failed consumer poll
	ErrPoll = errors.New("poll failed")
)

// DecodeError is a raw record that failed schema validation
type DecodeError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s-%d@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
