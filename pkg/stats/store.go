package stats

import "time"

// Retention defaults. Byte samples keep a 24-hour rolling window; daily
// message counts keep a configurable number of trailing days.
const (
	DefaultByteSampleWindow = 24 * time.Hour
	DefaultRetentionDays    = 7
)

// DateFormat is the calendar-day key format used for daily counts.
// Days are always computed in UTC.
const DateFormat = "2006-01-02"

// ByteRateSample is one reading of the broker's 15-minute byte-rate gauges.
// Samples are immutable once written; timestamps are UTC.
type ByteRateSample struct {
	Timestamp     time.Time `json:"timestamp"`
	BytesReceived float64   `json:"bytes_received"`
	BytesSent     float64   `json:"bytes_sent"`
}

// DailyCount is the number of non-system messages observed on one UTC
// calendar day. Date is formatted per DateFormat.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Store is durable storage for the two time series. Implementations prune
// entries outside the retention windows opportunistically on every write,
// and must never surface a partially-written state to readers.
//
// Callers treat a failed read as an empty series. A corrupt backing file or
// database reinitializes to a valid empty structure instead of crashing the
// process.
type Store interface {
	// AppendByteSample writes a new sample stamped with the current UTC time
	// and prunes samples older than the byte-sample window.
	AppendByteSample(received, sent float64) error

	// IncrementDailyCount upserts today's (UTC) count, adding delta to the
	// existing value, and prunes days outside the daily retention window.
	IncrementDailyCount(delta int64) error

	// ByteSamples returns the retained samples in ascending timestamp order.
	// A sample exactly at the window boundary is retained (inclusive bound).
	ByteSamples() ([]ByteRateSample, error)

	// DailyCounts returns the retained daily counts in ascending date order.
	DailyCounts() ([]DailyCount, error)

	// Replace atomically discards and rewrites both series. Used for
	// migration and import; the store must not be left partially written.
	Replace(samples []ByteRateSample, counts []DailyCount) error

	// Close releases the underlying storage handle.
	Close() error
}
