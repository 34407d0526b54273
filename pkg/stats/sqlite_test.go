package stats

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkerm/mqadmin/pkg/logging"
)

func openTestSQLite(t *testing.T, opts StoreOptions) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := OpenSQLite(path, logging.Nop(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteAppendAndReadBack(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.AppendByteSample(100, 200))

	store.now = func() time.Time { return base.Add(3 * time.Minute) }
	require.NoError(t, store.AppendByteSample(150, 250))

	samples, err := store.ByteSamples()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 100.0, samples[0].BytesReceived)
	assert.Equal(t, 200.0, samples[0].BytesSent)
	assert.Equal(t, 150.0, samples[1].BytesReceived)
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp))

	// Reads are idempotent.
	again, err := store.ByteSamples()
	require.NoError(t, err)
	assert.Equal(t, samples, again)
}

func TestSQLiteByteSampleRetention(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base.Add(-25 * time.Hour) }
	require.NoError(t, store.AppendByteSample(1, 1))

	// Exactly at the window boundary relative to the final write: retained.
	store.now = func() time.Time { return base.Add(-24 * time.Hour) }
	require.NoError(t, store.AppendByteSample(2, 2))

	store.now = func() time.Time { return base }
	require.NoError(t, store.AppendByteSample(3, 3))

	samples, err := store.ByteSamples()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 2.0, samples[0].BytesReceived)
	assert.Equal(t, 3.0, samples[1].BytesReceived)
}

func TestSQLiteDailyCountUpsert(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	day := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return day }
	require.NoError(t, store.IncrementDailyCount(5))

	store.now = func() time.Time { return day.Add(2 * time.Hour) }
	require.NoError(t, store.IncrementDailyCount(3))

	counts, err := store.DailyCounts()
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "2026-08-29", counts[0].Date)
	assert.Equal(t, int64(8), counts[0].Count)
}

func TestSQLiteDailyCountRetention(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{RetentionDays: 7})

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for _, daysAgo := range []int{9, 8, 7, 3, 0} {
		ago := daysAgo
		store.now = func() time.Time { return base.AddDate(0, 0, -ago) }
		require.NoError(t, store.IncrementDailyCount(int64(ago + 1)))
	}

	counts, err := store.DailyCounts()
	require.NoError(t, err)
	dates := make([]string, 0, len(counts))
	for _, c := range counts {
		dates = append(dates, c.Date)
	}
	// Inclusive window: a day exactly at the cutoff survives, older days
	// are pruned.
	assert.Equal(t, []string{"2026-08-22", "2026-08-26", "2026-08-29"}, dates)
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, store.IncrementDailyCount(1))
			}
		}()
	}
	wg.Wait()

	counts, err := store.DailyCounts()
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(writers*perWriter), counts[0].Count)
}

func TestSQLiteConcurrentAppends(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, store.AppendByteSample(float64(n), float64(j)))
			}
		}(i)
	}
	wg.Wait()

	samples, err := store.ByteSamples()
	require.NoError(t, err)
	require.Len(t, samples, writers*perWriter)

	var received float64
	for i, sample := range samples {
		received += sample.BytesReceived
		if i > 0 {
			assert.False(t, sample.Timestamp.Before(samples[i-1].Timestamp))
		}
	}
	// Every writer's samples survived: sum of 10 copies each of 0..7.
	assert.Equal(t, float64(perWriter*(0+1+2+3+4+5+6+7)), received)
}

func TestSQLiteReplace(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})
	require.NoError(t, store.AppendByteSample(1, 1))
	require.NoError(t, store.IncrementDailyCount(42))

	now := time.Now().UTC().Truncate(time.Second)
	samples := make([]ByteRateSample, 0, 3)
	for i := 0; i < 3; i++ {
		samples = append(samples, ByteRateSample{
			Timestamp:     now.Add(time.Duration(i) * time.Minute),
			BytesReceived: float64(i * 10),
			BytesSent:     float64(i * 20),
		})
	}
	counts := []DailyCount{
		{Date: now.AddDate(0, 0, -1).Format(DateFormat), Count: 7},
		{Date: now.Format(DateFormat), Count: 9},
	}
	require.NoError(t, store.Replace(samples, counts))

	gotSamples, err := store.ByteSamples()
	require.NoError(t, err)
	require.Len(t, gotSamples, 3)
	assert.Equal(t, 20.0, gotSamples[2].BytesReceived)

	gotCounts, err := store.DailyCounts()
	require.NoError(t, err)
	assert.Equal(t, counts, gotCounts)
}

func TestSQLiteOpenCreatesSchemaOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	first, err := OpenSQLite(path, logging.Nop(), StoreOptions{})
	require.NoError(t, err)
	require.NoError(t, first.AppendByteSample(5, 5))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path, logging.Nop(), StoreOptions{})
	require.NoError(t, err)
	defer second.Close()

	samples, err := second.ByteSamples()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 5.0, samples[0].BytesReceived)
}

func TestSQLiteManySamplesOrdered(t *testing.T) {
	store := openTestSQLite(t, StoreOptions{})

	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return tick }
		require.NoError(t, store.AppendByteSample(float64(i), float64(i)))
	}

	samples, err := store.ByteSamples()
	require.NoError(t, err)
	require.Len(t, samples, 20)
	for i := 1; i < len(samples); i++ {
		assert.True(t, !samples[i].Timestamp.Before(samples[i-1].Timestamp),
			fmt.Sprintf("sample %d out of order", i))
	}
}
