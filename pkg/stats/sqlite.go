package stats

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store. It is the preferred backend: appends
// are incremental, pruning happens in the same transaction as the write, and
// WAL mode lets concurrent readers proceed while a writer commits.
type SQLiteStore struct {
	db            *sql.DB
	log           *slog.Logger
	byteWindow    time.Duration
	retentionDays int

	// now is a test hook; defaults to time.Now.
	now func() time.Time
}

// StoreOptions configures a store backend.
type StoreOptions struct {
	// ByteSampleWindow overrides the 24h byte-sample retention window.
	ByteSampleWindow time.Duration

	// RetentionDays overrides the daily-count retention window (days).
	RetentionDays int
}

// OpenSQLite opens (or creates) the statistics database at path and
// initialises the schema.
func OpenSQLite(path string, log *slog.Logger, opts StoreOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("stats: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats: %s: %w", pragma, err)
		}
	}

	byteWindow := opts.ByteSampleWindow
	if byteWindow <= 0 {
		byteWindow = DefaultByteSampleWindow
	}
	retentionDays := opts.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	s := &SQLiteStore{
		db:            db,
		log:           log,
		byteWindow:    byteWindow,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS byte_samples (
  ts_unix INTEGER NOT NULL,
  bytes_received REAL NOT NULL,
  bytes_sent REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_byte_samples_ts ON byte_samples(ts_unix);

CREATE TABLE IF NOT EXISTS daily_message_counts (
  date TEXT PRIMARY KEY,
  count INTEGER NOT NULL DEFAULT 0,
  updated_at_unix INTEGER NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("stats: init schema: %w", err)
	}
	return nil
}

// AppendByteSample inserts a sample stamped with the current UTC time and
// prunes expired samples in the same transaction.
func (s *SQLiteStore) AppendByteSample(received, sent float64) error {
	now := s.now().UTC()
	cutoff := now.Add(-s.byteWindow).Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO byte_samples (ts_unix, bytes_received, bytes_sent) VALUES (?, ?, ?)`,
		now.Unix(), received, sent,
	); err != nil {
		return fmt.Errorf("stats: insert byte sample: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM byte_samples WHERE ts_unix < ?`, cutoff); err != nil {
		return fmt.Errorf("stats: prune byte samples: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stats: commit byte sample: %w", err)
	}
	return nil
}

// IncrementDailyCount upserts today's count and prunes expired days in the
// same transaction.
func (s *SQLiteStore) IncrementDailyCount(delta int64) error {
	now := s.now().UTC()
	today := now.Format(DateFormat)
	cutoff := now.AddDate(0, 0, -s.retentionDays).Format(DateFormat)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO daily_message_counts (date, count, updated_at_unix) VALUES (?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
		   count = count + excluded.count,
		   updated_at_unix = excluded.updated_at_unix`,
		today, delta, now.Unix(),
	); err != nil {
		return fmt.Errorf("stats: upsert daily count: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM daily_message_counts WHERE date < ?`, cutoff); err != nil {
		return fmt.Errorf("stats: prune daily counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stats: commit daily count: %w", err)
	}
	return nil
}

// ByteSamples returns retained samples ascending by timestamp. Rows that fail
// to scan are skipped and logged rather than aborting the whole read.
func (s *SQLiteStore) ByteSamples() ([]ByteRateSample, error) {
	cutoff := s.now().UTC().Add(-s.byteWindow).Unix()

	rows, err := s.db.Query(
		`SELECT ts_unix, bytes_received, bytes_sent FROM byte_samples
		 WHERE ts_unix >= ? ORDER BY ts_unix ASC, rowid ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stats: query byte samples: %w", err)
	}
	defer rows.Close()

	var out []ByteRateSample
	for rows.Next() {
		var ts int64
		var sample ByteRateSample
		if err := rows.Scan(&ts, &sample.BytesReceived, &sample.BytesSent); err != nil {
			s.log.Warn("skipping malformed byte sample row", "error", err)
			continue
		}
		sample.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: iterate byte samples: %w", err)
	}
	return out, nil
}

// DailyCounts returns retained daily counts ascending by date.
func (s *SQLiteStore) DailyCounts() ([]DailyCount, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays).Format(DateFormat)

	rows, err := s.db.Query(
		`SELECT date, count FROM daily_message_counts
		 WHERE date >= ? ORDER BY date ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stats: query daily counts: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			s.log.Warn("skipping malformed daily count row", "error", err)
			continue
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: iterate daily counts: %w", err)
	}
	return out, nil
}

// Replace atomically rewrites both series inside a single transaction.
func (s *SQLiteStore) Replace(samples []ByteRateSample, counts []DailyCount) error {
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM byte_samples`); err != nil {
		return fmt.Errorf("stats: clear byte samples: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM daily_message_counts`); err != nil {
		return fmt.Errorf("stats: clear daily counts: %w", err)
	}

	insSample, err := tx.Prepare(
		`INSERT INTO byte_samples (ts_unix, bytes_received, bytes_sent) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("stats: prepare sample insert: %w", err)
	}
	defer insSample.Close()

	for _, sample := range samples {
		if _, err := insSample.Exec(
			sample.Timestamp.UTC().Unix(), sample.BytesReceived, sample.BytesSent,
		); err != nil {
			return fmt.Errorf("stats: insert byte sample: %w", err)
		}
	}

	insCount, err := tx.Prepare(
		`INSERT INTO daily_message_counts (date, count, updated_at_unix) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("stats: prepare count insert: %w", err)
	}
	defer insCount.Close()

	for _, dc := range counts {
		if _, err := insCount.Exec(dc.Date, dc.Count, now.Unix()); err != nil {
			return fmt.Errorf("stats: insert daily count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stats: commit replace: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
