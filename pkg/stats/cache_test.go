package stats

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServesCachedValueWithinTTL(t *testing.T) {
	cache := NewCache[int](0)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	v, err := cache.GetOrCompute("stats", 5*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Second read in the same bucket: identical value, no recompute, even
	// though the backend (calls counter) moved on.
	cache.now = func() time.Time { return base.Add(time.Second) }
	v, err = cache.GetOrCompute("stats", 5*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, calls)
}

func TestCacheRecomputesAfterTTL(t *testing.T) {
	cache := NewCache[int](0)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	_, err := cache.GetOrCompute("stats", 5*time.Second, compute)
	require.NoError(t, err)

	cache.now = func() time.Time { return base.Add(6 * time.Second) }
	v, err := cache.GetOrCompute("stats", 5*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestCacheKeysAreIndependent(t *testing.T) {
	cache := NewCache[string](0)

	a, err := cache.GetOrCompute("with_ts", time.Minute, func() (string, error) { return "A", nil })
	require.NoError(t, err)
	b, err := cache.GetOrCompute("without_ts", time.Minute, func() (string, error) { return "B", nil })
	require.NoError(t, err)

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
	assert.Equal(t, 2, cache.Len())
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	cache := NewCache[int](0)

	boom := errors.New("backend down")
	_, err := cache.GetOrCompute("stats", time.Minute, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())

	v, err := cache.GetOrCompute("stats", time.Minute, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCacheEvictsOldestPastCapacity(t *testing.T) {
	cache := NewCache[int](3)

	for i := 0; i < 5; i++ {
		n := i
		_, err := cache.GetOrCompute(fmt.Sprintf("key-%d", n), time.Minute, func() (int, error) { return n, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 3, cache.Len())
}
