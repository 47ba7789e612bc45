package sink

import (
	"context"

	"github.com/hugolhafner/smartcity/record"
)

// Store is a partitioned, append-only destination that persists output and its
// checkpoint together.
type Store interface {
	// Load returns the last committed checkpoint, or false if none exists
	Load(ctx context.Context) (Checkpoint, bool, error)
	// Commit appends records and replaces the checkpoint with cp. Either both
	// become durable or, after Recover, neither is visible.
	Commit(ctx context.Context, records []record.Record, cp Checkpoint) error
	// Recover discards any output not covered by cp, such as the remains of an
	// interrupted Commit
	Recover(ctx context.Context, cp Checkpoint) error
	Close() error
}
