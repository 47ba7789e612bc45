package sink

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch = errors.New("stored schema fingerprint does not match")
	ErrNotOpen        = errors.New("sink writer not opened")
)

// CommitError is returned once the error handler gives up on a batch
type CommitError struct {
	Topic    string
	Records  int
	Attempts int
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %d records to %s after %d attempts: %v", e.Records, e.Topic, e.Attempts, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func AsCommitError(err error) (*CommitError, bool) {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
