//go:build unit

package filestore_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/schema"
	"github.com/hugolhafner/smartcity/sink"
	"github.com/hugolhafner/smartcity/sink/filestore"
)

const topic = "gps_data"

var day = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func rec(partition int32, offset int64, ts time.Time) record.Record {
	return record.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		EventTime: ts,
		Fields: map[string]any{
			"id":        "id",
			"timestamp": ts,
			"speed":     float64(offset),
		},
	}
}

func recs(partition int32, from, to int64) []record.Record {
	var out []record.Record
	for o := from; o <= to; o++ {
		out = append(out, rec(partition, o, day.Add(time.Duration(o)*time.Second)))
	}
	return out
}

func newStore(t *testing.T, base string) *filestore.Store {
	t.Helper()
	s, err := filestore.New(filepath.Join(base, "data"), filepath.Join(base, "checkpoints"), topic)
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, s *filestore.Store) []map[string]any {
	t.Helper()
	parts, err := s.Parts()
	require.NoError(t, err)

	var out []map[string]any
	for _, p := range parts {
		f, err := os.Open(p)
		require.NoError(t, err)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var doc map[string]any
			require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
			out = append(out, doc)
		}
		require.NoError(t, f.Close())
	}
	return out
}

func TestStore_CommitAndLoad(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	s := newStore(t, base)
	ctx := context.Background()

	_, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.False(t, found)

	cp := sink.NewCheckpoint(topic, 7).Advance(map[int32]int64{0: 3}, day)
	require.NoError(t, s.Commit(ctx, recs(0, 0, 2), cp))

	loaded, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, map[int32]int64{0: 3}, loaded.Offsets)
	require.Equal(t, uint64(7), loaded.SchemaFingerprint)
	require.True(t, loaded.MaxEventTime.Equal(day))

	require.FileExists(t, filepath.Join(base, "data", topic, "date=2024-03-01", "part-0-0-2.jsonl"))
	require.FileExists(t, filepath.Join(base, "checkpoints", topic, "checkpoint.json"))

	lines := readLines(t, s)
	require.Len(t, lines, 3)
	require.Equal(t, float64(0), lines[0]["_partition"])
	require.Equal(t, float64(1), lines[1]["_offset"])
	require.Equal(t, false, lines[2]["_late"])
	require.Equal(t, "2024-03-01T09:00:02Z", lines[2]["timestamp"])
}

func TestStore_PartsPerDateAndPartition(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	s := newStore(t, base)

	batch := []record.Record{
		rec(0, 10, day),
		rec(1, 4, day),
		rec(0, 11, day.Add(24*time.Hour)),
		rec(1, 5, day),
	}
	cp := sink.NewCheckpoint(topic, 1).Advance(map[int32]int64{0: 12, 1: 6}, day.Add(24*time.Hour))
	require.NoError(t, s.Commit(context.Background(), batch, cp))

	parts, err := s.Parts()
	require.NoError(t, err)
	require.Equal(
		t, []string{
			filepath.Join(base, "data", topic, "date=2024-03-01", "part-0-10-10.jsonl"),
			filepath.Join(base, "data", topic, "date=2024-03-01", "part-1-4-5.jsonl"),
			filepath.Join(base, "data", topic, "date=2024-03-02", "part-0-11-11.jsonl"),
		}, parts,
	)
}

func TestStore_NeverOverwrites(t *testing.T) {
	t.Parallel()
	s := newStore(t, t.TempDir())
	ctx := context.Background()

	cp := sink.NewCheckpoint(topic, 1).Advance(map[int32]int64{0: 3}, day)
	require.NoError(t, s.Commit(ctx, recs(0, 0, 2), cp))

	err := s.Commit(ctx, recs(0, 0, 2), cp)
	require.ErrorIs(t, err, filestore.ErrPartExists)
	require.Len(t, readLines(t, s), 3)
}

func TestStore_Recover(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	s := newStore(t, base)
	ctx := context.Background()

	cp := sink.NewCheckpoint(topic, 1).Advance(map[int32]int64{0: 3}, day)
	require.NoError(t, s.Commit(ctx, recs(0, 0, 2), cp))

	// leftovers of a commit interrupted before its checkpoint was replaced
	dir := filepath.Join(base, "data", topic, "date=2024-03-01")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0-3-5.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-2-0-1.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".part-123.tmp"), []byte("{"), 0o644))
	ckptTmp := filepath.Join(base, "checkpoints", topic, ".checkpoint.json-9.tmp")
	require.NoError(t, os.WriteFile(ckptTmp, []byte("{"), 0o644))

	require.NoError(t, s.Recover(ctx, cp))

	parts, err := s.Parts()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "part-0-0-2.jsonl")}, parts)
	require.NoFileExists(t, filepath.Join(dir, ".part-123.tmp"))
	require.NoFileExists(t, ckptTmp)
}

func TestStore_RecoverEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t, t.TempDir())
	require.NoError(t, s.Recover(context.Background(), sink.NewCheckpoint(topic, 1)))
}

func TestStore_OffsetsOnlyCommit(t *testing.T) {
	t.Parallel()
	s := newStore(t, t.TempDir())
	ctx := context.Background()

	cp := sink.NewCheckpoint(topic, 1).Advance(map[int32]int64{0: 9}, time.Time{})
	require.NoError(t, s.Commit(ctx, nil, cp))

	loaded, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(9), loaded.Offsets[0])
	require.Empty(t, readLines(t, s))
}

// crashingStore renames parts into place and then fails before the checkpoint
type crashingStore struct {
	*filestore.Store
	dir string
}

func (c *crashingStore) Commit(ctx context.Context, records []record.Record, cp sink.Checkpoint) error {
	other, err := filestore.New(filepath.Join(c.dir, "data"), filepath.Join(c.dir, "scratch"), topic)
	if err != nil {
		return err
	}
	if err := other.Commit(ctx, records, cp); err != nil {
		return err
	}
	return errors.New("crash before checkpoint")
}

func TestWriter_ReplayAfterCrashHasNoDuplicates(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	ctx := context.Background()

	store := newStore(t, base)
	w := sink.NewWriter(topic, store, schema.GPS)
	_, err := w.Open(ctx)
	require.NoError(t, err)

	require.NoError(
		t, w.Commit(ctx, record.Batch{Topic: topic, Records: recs(0, 0, 4), Offsets: map[int32]int64{0: 5}}),
	)

	// second batch lands its part files but the process dies before the checkpoint
	crashed := sink.NewWriter(
		topic, &crashingStore{Store: newStore(t, base), dir: base}, schema.GPS,
		sink.WithErrorHandler(errorhandler.LogAndFail(logger.NewNoopLogger())),
	)
	_, err = crashed.Open(ctx)
	require.NoError(t, err)
	err = crashed.Commit(ctx, record.Batch{Topic: topic, Records: recs(0, 5, 9), Offsets: map[int32]int64{0: 10}})
	_, ok := sink.AsCommitError(err)
	require.True(t, ok)
	require.Len(t, readLines(t, store), 10, "orphan part is on disk before recovery")

	// restart: recover, then the broker replays everything from offset 0
	restarted := sink.NewWriter(topic, newStore(t, base), schema.GPS)
	cp, err := restarted.Open(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), cp.Offsets[0])
	require.Len(t, readLines(t, store), 5)

	require.NoError(
		t, restarted.Commit(ctx, record.Batch{Topic: topic, Records: recs(0, 0, 9), Offsets: map[int32]int64{0: 10}}),
	)

	lines := readLines(t, store)
	require.Len(t, lines, 10)
	seen := make(map[float64]bool)
	for _, l := range lines {
		off := l["_offset"].(float64)
		require.False(t, seen[off], "offset %v written twice", off)
		seen[off] = true
	}
}

func TestWriter_RetriesFromLastGoodCheckpoint(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	ctx := context.Background()

	flaky := &flakyStore{Store: newStore(t, base), dir: base, failures: 2}
	w := sink.NewWriter(
		topic, flaky, schema.GPS,
		sink.WithErrorHandler(errorhandler.RetryWithBackoff(logger.NewNoopLogger(), backoff.NewFixed(0))),
	)
	_, err := w.Open(ctx)
	require.NoError(t, err)

	require.NoError(
		t, w.Commit(ctx, record.Batch{Topic: topic, Records: recs(0, 0, 3), Offsets: map[int32]int64{0: 4}}),
	)
	require.Equal(t, 3, flaky.calls)
	require.Len(t, readLines(t, flaky.Store), 4)
	require.Equal(t, int64(4), w.Checkpoint().Offsets[0])
}

// flakyStore leaves orphan parts behind on its first failures
type flakyStore struct {
	*filestore.Store
	dir      string
	failures int
	calls    int
}

func (f *flakyStore) Commit(ctx context.Context, records []record.Record, cp sink.Checkpoint) error {
	f.calls++
	if f.calls <= f.failures {
		c := &crashingStore{Store: f.Store, dir: f.dir}
		return c.Commit(ctx, records, cp)
	}
	return f.Store.Commit(ctx, records, cp)
}
