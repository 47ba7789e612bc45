package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/serde"
	"github.com/hugolhafner/smartcity/sink"
)

var _ sink.Store = (*Store)(nil)

var ErrPartExists = errors.New("part file already exists")

const (
	checkpointFile = "checkpoint.json"
	tmpSuffix      = ".tmp"
	partExt        = ".jsonl"
)

// Store writes JSON lines part files under
// <base>/<topic>/date=YYYY-MM-DD/part-<partition>-<first>-<last>.jsonl and keeps
// the topic checkpoint at <checkpoints>/<topic>/checkpoint.json.
type Store struct {
	topic   string
	dataDir string
	ckptDir string
	codec   serde.Serialiser[map[string]any]
}

func New(baseDir, checkpointDir, topic string) (*Store, error) {
	s := &Store{
		topic:   topic,
		dataDir: filepath.Join(baseDir, topic),
		ckptDir: filepath.Join(checkpointDir, topic),
		codec:   serde.JSON[map[string]any](),
	}

	for _, dir := range []string{s.dataDir, s.ckptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) Load(_ context.Context) (sink.Checkpoint, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.ckptDir, checkpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return sink.Checkpoint{}, false, nil
	}
	if err != nil {
		return sink.Checkpoint{}, false, err
	}

	var cp sink.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return sink.Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Offsets == nil {
		cp.Offsets = make(map[int32]int64)
	}
	return cp, true, nil
}

type partKey struct {
	date      string
	partition int32
}

type part struct {
	key     partKey
	first   int64
	last    int64
	records []record.Record
}

// Commit writes every part to a temp file, syncs and renames them into place, and
// only then replaces the checkpoint. A crash before the checkpoint rename leaves
// part files whose first offset is not yet covered; Recover removes them.
func (s *Store) Commit(ctx context.Context, records []record.Record, cp sink.Checkpoint) error {
	parts := groupParts(records)

	var written []string
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	type staged struct{ tmp, final string }
	var stage []staged

	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}

		dir := filepath.Join(s.dataDir, "date="+p.key.date)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}

		final := filepath.Join(dir, partName(p.key.partition, p.first, p.last))
		if _, err := os.Stat(final); err == nil {
			cleanup()
			return fmt.Errorf("%w: %s", ErrPartExists, final)
		}

		tmp, err := s.writeTemp(dir, p.records)
		if tmp != "" {
			written = append(written, tmp)
		}
		if err != nil {
			cleanup()
			return err
		}
		stage = append(stage, staged{tmp: tmp, final: final})
	}

	for _, st := range stage {
		if err := os.Rename(st.tmp, st.final); err != nil {
			cleanup()
			return fmt.Errorf("rename part: %w", err)
		}
		written = append(written, st.final)
		if err := syncDir(filepath.Dir(st.final)); err != nil {
			cleanup()
			return err
		}
	}

	if err := s.writeCheckpoint(cp); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (s *Store) writeTemp(dir string, records []record.Record) (string, error) {
	f, err := os.CreateTemp(dir, ".part-*"+tmpSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp part: %w", err)
	}
	name := f.Name()

	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := s.codec.Serialise(s.topic, r.Document())
		if err != nil {
			_ = f.Close()
			return name, fmt.Errorf("encode offset %d: %w", r.Offset, err)
		}
		if _, err := w.Write(line); err != nil {
			_ = f.Close()
			return name, err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			return name, err
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return name, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return name, fmt.Errorf("sync part: %w", err)
	}
	return name, f.Close()
}

func (s *Store) writeCheckpoint(cp sink.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	f, err := os.CreateTemp(s.ckptDir, "."+checkpointFile+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, filepath.Join(s.ckptDir, checkpointFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	// the rename is the commit point, syncing the directory after it is best effort
	_ = syncDir(s.ckptDir)
	return nil
}

// Recover removes temp files and every part file starting at or beyond the
// checkpoint's next offset for its partition.
func (s *Store) Recover(_ context.Context, cp sink.Checkpoint) error {
	var errs []error

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasSuffix(name, tmpSuffix) {
			errs = append(errs, os.Remove(path))
			return nil
		}

		partition, first, _, ok := parsePartName(name)
		if !ok {
			return nil
		}
		if !cp.Covers(partition, first) {
			errs = append(errs, os.Remove(path))
		}
		return nil
	}

	if err := filepath.WalkDir(s.dataDir, walk); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.ckptDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			errs = append(errs, os.Remove(filepath.Join(s.ckptDir, e.Name())))
		}
	}

	return errors.Join(errs...)
}

func (s *Store) Close() error {
	return nil
}

// Parts lists committed part files in path order
func (s *Store) Parts() ([]string, error) {
	var out []string
	err := filepath.WalkDir(
		s.dataDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if _, _, _, ok := parsePartName(d.Name()); ok && !d.IsDir() {
				out = append(out, path)
			}
			return nil
		},
	)
	sort.Strings(out)
	return out, err
}

// groupParts splits records by event date and partition, keeping delivery order
func groupParts(records []record.Record) []*part {
	index := make(map[partKey]*part)
	var order []*part

	for _, r := range records {
		k := partKey{date: r.EventTime.UTC().Format(time.DateOnly), partition: r.Partition}
		p, ok := index[k]
		if !ok {
			p = &part{key: k, first: r.Offset}
			index[k] = p
			order = append(order, p)
		}
		p.records = append(p.records, r)
		p.last = r.Offset
	}
	return order
}

func partName(partition int32, first, last int64) string {
	return fmt.Sprintf("part-%d-%d-%d%s", partition, first, last, partExt)
}

func parsePartName(name string) (partition int32, first, last int64, ok bool) {
	if !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, partExt) {
		return 0, 0, 0, false
	}

	fields := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, "part-"), partExt), "-")
	if len(fields) != 3 {
		return 0, 0, 0, false
	}

	p, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	if first, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return 0, 0, 0, false
	}
	if last, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return 0, 0, 0, false
	}
	return int32(p), first, last, true
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
