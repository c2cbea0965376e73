package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tsItem struct {
	Ts  time.Time
	Seq int
}

func newItemCache(maxKeys, maxItems int) *TimeSeriesCache[tsItem] {
	return NewTimeSeriesCache(TimeSeriesCacheArgs[tsItem]{
		MaxKeys:        maxKeys,
		MaxItemsPerKey: maxItems,
		Accessor:       func(i tsItem) time.Time { return i.Ts },
	})
}

func sortedItems(start time.Time, n int) []tsItem {
	items := make([]tsItem, n)
	for i := range items {
		items[i] = tsItem{Ts: start.Add(time.Duration(i) * time.Minute), Seq: i}
	}
	return items
}

func TestCacheAppendAndRangeLookup(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newItemCache(4, 1000)
	c.Append("btc", sortedItems(start, 60)...)

	// Half-open interval: the item at `to` itself is excluded.
	got := c.GetCachedRange("btc", start.Add(10*time.Minute), start.Add(20*time.Minute))
	require.Len(t, got, 10)
	assert.Equal(t, 10, got[0].Seq)
	assert.Equal(t, 19, got[len(got)-1].Seq)

	assert.Nil(t, c.GetCachedRange("eth", start, start.Add(time.Hour)))

	item, ok := c.GetItem("btc", start.Add(30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 30, item.Seq)

	_, ok = c.GetItem("btc", start.Add(30*time.Second))
	assert.False(t, ok)
}

func TestCachePrunesOldestBeyondItemLimit(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newItemCache(4, 100)

	c.Append("btc", sortedItems(start, 150)...)

	entry := c.GetEntry("btc")
	require.NotNil(t, entry)
	require.Len(t, entry.Items, 100)

	// The most recent 100 survive, still oldest-first.
	assert.Equal(t, 50, entry.Items[0].Seq)
	assert.Equal(t, 149, entry.Items[99].Seq)
	for i := 1; i < len(entry.Items); i++ {
		assert.True(t, entry.Items[i-1].Ts.Before(entry.Items[i].Ts))
	}
}

func TestCachePrunesAcrossSuccessiveAppends(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newItemCache(4, 100)

	items := sortedItems(start, 150)
	c.Append("btc", items[:80]...)
	c.Append("btc", items[80:]...)

	entry := c.GetEntry("btc")
	require.NotNil(t, entry)
	require.Len(t, entry.Items, 100)
	assert.Equal(t, 50, entry.Items[0].Seq)
	assert.Equal(t, 149, entry.Items[99].Seq)
}

func TestCacheEvictsLeastRecentlyUpdatedKey(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newItemCache(3, 100)

	for i := 0; i < 3; i++ {
		c.Append(fmt.Sprintf("key-%d", i), sortedItems(start, 5)...)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 3, c.Len())

	// Touch key-0 so key-1 becomes the eviction candidate.
	time.Sleep(time.Millisecond)
	c.Append("key-0", sortedItems(start.Add(time.Hour), 5)...)
	time.Sleep(time.Millisecond)

	c.Append("key-3", sortedItems(start, 5)...)

	assert.Equal(t, 3, c.Len())
	assert.Nil(t, c.GetEntry("key-1"))
	assert.NotNil(t, c.GetEntry("key-0"))
	assert.NotNil(t, c.GetEntry("key-2"))
	assert.NotNil(t, c.GetEntry("key-3"))
}

func TestCacheEntryTracksCoveredRange(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newItemCache(4, 1000)

	c.Append("btc", sortedItems(start, 10)...)
	c.Append("btc", sortedItems(start.Add(time.Hour), 10)...)

	entry := c.GetEntry("btc")
	require.NotNil(t, entry)
	assert.True(t, entry.From.Equal(start))
	assert.True(t, entry.To.Equal(start.Add(time.Hour+9*time.Minute)))
}
