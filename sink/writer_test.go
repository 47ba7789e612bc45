//go:build unit

package sink_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/logger"
	mocklogger "github.com/hugolhafner/smartcity/logger/mock"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/schema"
	"github.com/hugolhafner/smartcity/sink"
)

const topic = "vehicle_data"

// memStore keeps committed records and the checkpoint in memory
type memStore struct {
	mu        sync.Mutex
	cp        sink.Checkpoint
	found     bool
	records   []record.Record
	commitErr func(attempt int) error
	commits   int
	recovers  int
	closed    bool
}

func (m *memStore) Load(context.Context) (sink.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp, m.found, nil
}

func (m *memStore) Commit(_ context.Context, records []record.Record, cp sink.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.commitErr != nil {
		if err := m.commitErr(m.commits); err != nil {
			return err
		}
	}
	m.records = append(m.records, records...)
	m.cp = cp
	m.found = true
	return nil
}

func (m *memStore) Recover(context.Context, sink.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovers++
	return nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func batch(partition int32, from, to int64) record.Batch {
	b := record.Batch{Topic: topic, Offsets: map[int32]int64{partition: to + 1}}
	for o := from; o <= to; o++ {
		b.Records = append(b.Records, record.Record{Topic: topic, Partition: partition, Offset: o})
	}
	return b
}

func TestWriter_RequiresOpen(t *testing.T) {
	t.Parallel()
	w := sink.NewWriter(topic, &memStore{}, schema.Vehicle)
	require.ErrorIs(t, w.Commit(context.Background(), batch(0, 0, 1)), sink.ErrNotOpen)
}

func TestWriter_OpenFresh(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	w := sink.NewWriter(topic, store, schema.Vehicle)

	cp, err := w.Open(context.Background())
	require.NoError(t, err)
	require.Empty(t, cp.Offsets)
	require.Equal(t, schema.Vehicle.Fingerprint(), cp.SchemaFingerprint)
	require.Equal(t, 1, store.recovers)
}

func TestWriter_SchemaMismatch(t *testing.T) {
	t.Parallel()
	store := &memStore{found: true, cp: sink.NewCheckpoint(topic, schema.GPS.Fingerprint())}
	w := sink.NewWriter(topic, store, schema.Vehicle)

	_, err := w.Open(context.Background())
	require.ErrorIs(t, err, sink.ErrSchemaMismatch)
	require.Equal(t, 0, store.recovers)
}

func TestWriter_SkipsCommittedOffsets(t *testing.T) {
	t.Parallel()
	fp := schema.Vehicle.Fingerprint()
	store := &memStore{found: true, cp: sink.NewCheckpoint(topic, fp).Advance(map[int32]int64{0: 5}, time.Time{})}
	w := sink.NewWriter(topic, store, schema.Vehicle)
	ctx := context.Background()

	_, err := w.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Commit(ctx, batch(0, 3, 7)))
	require.Len(t, store.records, 3)
	require.Equal(t, int64(5), store.records[0].Offset)
	require.Equal(t, int64(8), w.Checkpoint().Offsets[0])

	// a pure replay changes nothing and is not committed
	require.NoError(t, w.Commit(ctx, batch(0, 0, 7)))
	require.Equal(t, 1, store.commits)
}

func TestWriter_OffsetsNeverMoveBack(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	w := sink.NewWriter(topic, store, schema.Vehicle)
	ctx := context.Background()

	_, err := w.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx, batch(0, 0, 9)))

	require.NoError(t, w.Commit(ctx, record.Batch{Topic: topic, Offsets: map[int32]int64{0: 3, 1: 2}}))
	require.Equal(t, map[int32]int64{0: 10, 1: 2}, w.Checkpoint().Offsets)
}

func TestWriter_PersistsMaxEventTime(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	w := sink.NewWriter(topic, store, schema.Vehicle)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := w.Open(ctx)
	require.NoError(t, err)

	b := batch(0, 0, 0)
	b.MaxEventTime = ts
	require.NoError(t, w.Commit(ctx, b))
	require.True(t, store.cp.MaxEventTime.Equal(ts))
}

func TestWriter_RetriesWholeBatch(t *testing.T) {
	t.Parallel()
	failure := errors.New("disk full")
	store := &memStore{
		commitErr: func(attempt int) error {
			if attempt < 3 {
				return failure
			}
			return nil
		},
	}
	l := mocklogger.New()
	w := sink.NewWriter(
		topic, store, schema.Vehicle,
		sink.WithErrorHandler(errorhandler.RetryWithBackoff(l, backoff.NewFixed(0))),
	)
	ctx := context.Background()

	_, err := w.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Commit(ctx, batch(0, 0, 4)))
	require.Equal(t, 3, store.commits)
	require.Equal(t, 3, store.recovers, "open plus one recover per retry")
	require.Len(t, store.records, 5)
	require.Equal(t, 2, l.CountMessage("retrying after failure"))
}

func TestWriter_GivesUp(t *testing.T) {
	t.Parallel()
	failure := errors.New("read-only filesystem")
	store := &memStore{commitErr: func(int) error { return failure }}
	w := sink.NewWriter(
		topic, store, schema.Vehicle,
		sink.WithErrorHandler(
			errorhandler.WithMaxAttempts(3, backoff.NewFixed(0), errorhandler.LogAndFail(logger.NewNoopLogger())),
		),
	)
	ctx := context.Background()

	_, err := w.Open(ctx)
	require.NoError(t, err)

	err = w.Commit(ctx, batch(0, 0, 1))
	require.ErrorIs(t, err, failure)

	ce, ok := sink.AsCommitError(err)
	require.True(t, ok)
	require.Equal(t, 3, ce.Attempts)
	require.Equal(t, 2, ce.Records)
	require.Empty(t, w.Checkpoint().Offsets, "checkpoint unchanged after failure")
}

func TestWriter_CancelledRetry(t *testing.T) {
	t.Parallel()
	store := &memStore{commitErr: func(int) error { return errors.New("io") }}
	w := sink.NewWriter(topic, store, schema.Vehicle)

	_, err := w.Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := sink.AsCommitError(w.Commit(ctx, batch(0, 0, 0)))
	require.True(t, ok)
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()
	cp := sink.NewCheckpoint(topic, 1)
	require.False(t, cp.Covers(0, 0))

	next := cp.Advance(map[int32]int64{0: 4}, time.Time{})
	require.Empty(t, cp.Offsets, "advance must copy")
	require.True(t, next.Covers(0, 3))
	require.False(t, next.Covers(0, 4))

	off, ok := next.Next(0)
	require.True(t, ok)
	require.Equal(t, int64(4), off)

	_, ok = next.Next(1)
	require.False(t, ok)
	require.False(t, next.Equal(cp))
}

func TestWriter_RecoversAfterGivingUp(t *testing.T) {
	t.Parallel()
	store := &memStore{
		commitErr: func(attempt int) error {
			if attempt == 1 {
				return errors.New("interrupted")
			}
			return nil
		},
	}
	w := sink.NewWriter(topic, store, schema.Vehicle, sink.WithErrorHandler(errorhandler.SilentFail()))
	ctx := context.Background()

	_, err := w.Open(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.recovers)

	_, ok := sink.AsCommitError(w.Commit(ctx, batch(0, 0, 2)))
	require.True(t, ok)

	require.NoError(t, w.Commit(ctx, batch(0, 0, 2)))
	require.Equal(t, 2, store.recovers)
	require.Len(t, store.records, 3)
}
