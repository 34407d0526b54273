package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore is a flat-file Store: the entire state is one JSON document,
// rewritten on every mutation. Simpler than SQLite but O(n) per write, so it
// is only suitable for the low write rates this subsystem produces. Writers
// serialize behind a process-wide mutex and every write goes through a
// temp-file-plus-rename so readers never observe a partial document.
type FileStore struct {
	path          string
	log           *slog.Logger
	byteWindow    time.Duration
	retentionDays int

	mu  sync.Mutex
	now func() time.Time
}

// fileDocument is the on-disk shape. Raw messages let a single malformed
// entry be skipped without discarding the rest of the series.
type fileDocument struct {
	ByteSamples   []json.RawMessage `json:"byte_samples"`
	DailyMessages []json.RawMessage `json:"daily_messages"`
}

// OpenFile opens (or creates) a flat-file store at path. Options follow the
// same defaults as OpenSQLite.
func OpenFile(path string, log *slog.Logger, opts StoreOptions) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("stats: create data dir: %w", err)
	}

	byteWindow := opts.ByteSampleWindow
	if byteWindow <= 0 {
		byteWindow = DefaultByteSampleWindow
	}
	retentionDays := opts.RetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	s := &FileStore{
		path:          path,
		log:           log,
		byteWindow:    byteWindow,
		retentionDays: retentionDays,
		now:           time.Now,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(nil, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close is a no-op; the file is not held open between operations.
func (s *FileStore) Close() error {
	return nil
}

// load reads and decodes the document. A missing or corrupt file yields an
// empty state: the store must never crash the process over bad input.
func (s *FileStore) load() ([]ByteRateSample, []DailyCount) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("reading stats file failed, treating as empty", "path", s.path, "error", err)
		}
		return nil, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Error("stats file is corrupt, reinitializing", "path", s.path, "error", err)
		return nil, nil
	}

	var samples []ByteRateSample
	for _, raw := range doc.ByteSamples {
		var sample ByteRateSample
		if err := json.Unmarshal(raw, &sample); err != nil {
			s.log.Warn("skipping malformed byte sample entry", "error", err)
			continue
		}
		sample.Timestamp = sample.Timestamp.UTC()
		samples = append(samples, sample)
	}

	var counts []DailyCount
	for _, raw := range doc.DailyMessages {
		var dc DailyCount
		if err := json.Unmarshal(raw, &dc); err != nil {
			s.log.Warn("skipping malformed daily count entry", "error", err)
			continue
		}
		counts = append(counts, dc)
	}

	return samples, counts
}

// write serializes the state to a temp file and renames it into place.
func (s *FileStore) write(samples []ByteRateSample, counts []DailyCount) error {
	doc := fileDocument{
		ByteSamples:   make([]json.RawMessage, 0, len(samples)),
		DailyMessages: make([]json.RawMessage, 0, len(counts)),
	}
	for _, sample := range samples {
		raw, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("stats: marshal byte sample: %w", err)
		}
		doc.ByteSamples = append(doc.ByteSamples, raw)
	}
	for _, dc := range counts {
		raw, err := json.Marshal(dc)
		if err != nil {
			return fmt.Errorf("stats: marshal daily count: %w", err)
		}
		doc.DailyMessages = append(doc.DailyMessages, raw)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("stats: marshal document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stats: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("stats: rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) pruneSamples(samples []ByteRateSample, now time.Time) []ByteRateSample {
	cutoff := now.Add(-s.byteWindow)
	out := samples[:0]
	for _, sample := range samples {
		// Inclusive lower bound: a sample exactly at the cutoff is kept.
		if !sample.Timestamp.Before(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

func (s *FileStore) pruneCounts(counts []DailyCount, now time.Time) []DailyCount {
	cutoff := now.AddDate(0, 0, -s.retentionDays).Format(DateFormat)
	out := counts[:0]
	for _, dc := range counts {
		if dc.Date >= cutoff {
			out = append(out, dc)
		}
	}
	return out
}

// AppendByteSample appends a sample stamped with the current UTC time,
// prunes, and rewrites the document.
func (s *FileStore) AppendByteSample(received, sent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	samples, counts := s.load()
	samples = append(samples, ByteRateSample{
		Timestamp:     now,
		BytesReceived: received,
		BytesSent:     sent,
	})
	return s.write(s.pruneSamples(samples, now), counts)
}

// IncrementDailyCount upserts today's count, prunes, and rewrites.
func (s *FileStore) IncrementDailyCount(delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	today := now.Format(DateFormat)

	samples, counts := s.load()
	found := false
	for i := range counts {
		if counts[i].Date == today {
			counts[i].Count += delta
			found = true
			break
		}
	}
	if !found {
		counts = append(counts, DailyCount{Date: today, Count: delta})
	}
	return s.write(samples, s.pruneCounts(counts, now))
}

// ByteSamples returns retained samples ascending by timestamp.
func (s *FileStore) ByteSamples() ([]ByteRateSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	samples, _ := s.load()
	samples = s.pruneSamples(samples, now)
	sortSamples(samples)
	return samples, nil
}

// DailyCounts returns retained counts ascending by date.
func (s *FileStore) DailyCounts() ([]DailyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	_, counts := s.load()
	counts = s.pruneCounts(counts, now)
	sortCounts(counts)
	return counts, nil
}

// Replace atomically rewrites both series.
func (s *FileStore) Replace(samples []ByteRateSample, counts []DailyCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := make([]ByteRateSample, len(samples))
	for i, sample := range samples {
		sample.Timestamp = sample.Timestamp.UTC()
		normalized[i] = sample
	}
	sortSamples(normalized)

	copied := append([]DailyCount(nil), counts...)
	sortCounts(copied)

	return s.write(normalized, copied)
}

func sortSamples(samples []ByteRateSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

func sortCounts(counts []DailyCount) {
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].Date < counts[j].Date
	})
}

var _ Store = (*FileStore)(nil)
