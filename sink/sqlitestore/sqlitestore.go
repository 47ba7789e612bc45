package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugolhafner/smartcity/record"
	"github.com/hugolhafner/smartcity/serde"
	"github.com/hugolhafner/smartcity/sink"
)

var _ sink.Store = (*Store)(nil)

const storeSchema = `
CREATE TABLE IF NOT EXISTS records (
	topic TEXT NOT NULL,
	partition_id INTEGER NOT NULL,
	record_offset INTEGER NOT NULL,
	event_date TEXT NOT NULL,
	event_time_utc_ns INTEGER NOT NULL,
	late INTEGER NOT NULL,
	record_key BLOB,
	document_json TEXT NOT NULL,
	PRIMARY KEY (topic, partition_id, record_offset)
);

CREATE INDEX IF NOT EXISTS idx_records_date ON records(topic, event_date, partition_id);

CREATE TRIGGER IF NOT EXISTS trg_records_no_update
BEFORE UPDATE ON records
BEGIN
	SELECT RAISE(ABORT, 'records are append-only: UPDATE forbidden');
END;

CREATE TABLE IF NOT EXISTS checkpoints (
	topic TEXT PRIMARY KEY,
	offsets_json TEXT NOT NULL,
	max_event_time_utc_ns INTEGER NOT NULL,
	schema_fingerprint TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`

// Store keeps one topic's records and checkpoint in a single SQLite database,
// written in one transaction per commit.
type Store struct {
	topic string
	db    *sql.DB
	codec serde.Serialiser[map[string]any]
}

// New opens <baseDir>/<topic>.db, creating it and its schema if needed
func New(baseDir, topic string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir base dir: %w", err)
	}
	return Open(filepath.Join(baseDir, topic+".db"), topic)
}

func Open(path, topic string) (*Store, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{topic: topic, db: db, codec: serde.JSON[map[string]any]()}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer per chain
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *Store) Load(ctx context.Context) (sink.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT offsets_json, max_event_time_utc_ns, schema_fingerprint, updated_at_utc_ns
FROM checkpoints WHERE topic=?`, s.topic)

	var (
		offsets     string
		maxEvent    int64
		fingerprint string
		updated     int64
	)
	err := row.Scan(&offsets, &maxEvent, &fingerprint, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return sink.Checkpoint{}, false, nil
	}
	if err != nil {
		return sink.Checkpoint{}, false, err
	}

	cp := sink.Checkpoint{Topic: s.topic, Offsets: make(map[int32]int64)}
	if err := json.Unmarshal([]byte(offsets), &cp.Offsets); err != nil {
		return sink.Checkpoint{}, false, fmt.Errorf("decode offsets: %w", err)
	}
	if cp.SchemaFingerprint, err = strconv.ParseUint(fingerprint, 16, 64); err != nil {
		return sink.Checkpoint{}, false, fmt.Errorf("decode fingerprint: %w", err)
	}
	cp.MaxEventTime = fromNanos(maxEvent)
	cp.UpdatedAt = fromNanos(updated)
	return cp, true, nil
}

func (s *Store) Commit(ctx context.Context, records []record.Record, cp sink.Checkpoint) error {
	offsets, err := json.Marshal(cp.Offsets)
	if err != nil {
		return fmt.Errorf("encode offsets: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO records(
	topic, partition_id, record_offset, event_date, event_time_utc_ns, late, record_key, document_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		doc, err := s.codec.Serialise(s.topic, r.Document())
		if err != nil {
			return fmt.Errorf("encode offset %d: %w", r.Offset, err)
		}

		ts := r.EventTime.UTC()
		_, err = stmt.ExecContext(ctx,
			s.topic, int64(r.Partition), r.Offset, ts.Format(time.DateOnly), ts.UnixNano(),
			boolInt(r.Late), r.Key, string(doc))
		if err != nil {
			return fmt.Errorf("insert partition %d offset %d: %w", r.Partition, r.Offset, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO checkpoints(topic, offsets_json, max_event_time_utc_ns, schema_fingerprint, updated_at_utc_ns)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(topic)
DO UPDATE SET offsets_json=excluded.offsets_json, max_event_time_utc_ns=excluded.max_event_time_utc_ns,
	schema_fingerprint=excluded.schema_fingerprint, updated_at_utc_ns=excluded.updated_at_utc_ns`,
		s.topic, string(offsets), toNanos(cp.MaxEventTime), strconv.FormatUint(cp.SchemaFingerprint, 16),
		toNanos(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	return tx.Commit()
}

// Recover has nothing to discard: an interrupted transaction never becomes visible.
func (s *Store) Recover(context.Context, sink.Checkpoint) error {
	return nil
}

// Count returns the number of stored records for the topic
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE topic=?`, s.topic).Scan(&n)
	return n, err
}

// Documents returns stored documents for partition in offset order
func (s *Store) Documents(ctx context.Context, partition int32) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_json FROM records WHERE topic=? AND partition_id=? ORDER BY record_offset`,
		s.topic, int64(partition))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
