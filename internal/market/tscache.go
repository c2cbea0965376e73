package market

import (
	"time"
)

// TimeSeriesCacheEntry holds the cached items for a single key.
type TimeSeriesCacheEntry[T any] struct {
	From        time.Time
	To          time.Time
	LastUpdated time.Time
	Items       []T
}

// TimeSeriesCacheArgs configures a TimeSeriesCache.
type TimeSeriesCacheArgs[T any] struct {
	MaxKeys        int
	MaxItemsPerKey int
	Accessor       func(item T) time.Time
}

// TimeSeriesCache is a bounded in-memory cache for time-series data.
// Series data can be sparse and of mixed resolution. For performance, all
// appended data is assumed to be time-sorted and free of duplicates for a
// given key; no sorting or dedup is performed.
//
// The cache does no internal locking. Callers must guarantee a single writer
// per key (the backtest runner serializes access with its own lock).
type TimeSeriesCache[T any] struct {
	args  TimeSeriesCacheArgs[T]
	cache map[string]*TimeSeriesCacheEntry[T]
}

// NewTimeSeriesCache creates an empty cache.
func NewTimeSeriesCache[T any](args TimeSeriesCacheArgs[T]) *TimeSeriesCache[T] {
	return &TimeSeriesCache[T]{
		args:  args,
		cache: make(map[string]*TimeSeriesCacheEntry[T]),
	}
}

// GetEntry returns the cache entry for a key, or nil if it does not exist.
func (c *TimeSeriesCache[T]) GetEntry(key string) *TimeSeriesCacheEntry[T] {
	return c.cache[key]
}

// GetCachedRange returns all cached items for key in the half-open interval
// [from, to).
func (c *TimeSeriesCache[T]) GetCachedRange(key string, from, to time.Time) []T {
	entry, ok := c.cache[key]
	if !ok {
		return nil
	}

	var fetched []T
	for _, item := range entry.Items {
		ts := c.args.Accessor(item)
		if !ts.Before(from) && ts.Before(to) {
			fetched = append(fetched, item)
		}
	}
	return fetched
}

// GetItem returns the first item whose timestamp matches ts exactly, or
// false if no such item is cached.
func (c *TimeSeriesCache[T]) GetItem(key string, ts time.Time) (T, bool) {
	var zero T
	entry, ok := c.cache[key]
	if !ok {
		return zero, false
	}

	for _, item := range entry.Items {
		if c.args.Accessor(item).Equal(ts) {
			return item, true
		}
	}
	return zero, false
}

// Len returns the number of keys currently cached.
func (c *TimeSeriesCache[T]) Len() int {
	return len(c.cache)
}

// Append adds items to the cache under a key, pruning the entry to
// MaxItemsPerKey (dropping oldest) and evicting the least-recently-updated
// key once the key count exceeds MaxKeys.
func (c *TimeSeriesCache[T]) Append(key string, items ...T) {
	if len(items) == 0 {
		return
	}

	firstTs := c.args.Accessor(items[0])
	lastTs := c.args.Accessor(items[len(items)-1])

	entry, ok := c.cache[key]
	if !ok {
		entry = &TimeSeriesCacheEntry[T]{
			From:        firstTs,
			To:          lastTs,
			Items:       items,
			LastUpdated: time.Now(),
		}
		c.cache[key] = entry
	} else {
		if firstTs.Before(entry.From) {
			entry.From = firstTs
		}
		if lastTs.After(entry.To) {
			entry.To = lastTs
		}
		entry.Items = append(entry.Items, items...)
		entry.LastUpdated = time.Now()
	}

	if excess := len(entry.Items) - c.args.MaxItemsPerKey; excess > 0 {
		entry.Items = entry.Items[excess:]
	}

	// Evict the least-recently-updated key. O(keys) scan; MaxKeys is small.
	if len(c.cache) > c.args.MaxKeys {
		var oldestKey string
		var oldestTs time.Time
		first := true
		for k, e := range c.cache {
			if first || e.LastUpdated.Before(oldestTs) {
				oldestKey = k
				oldestTs = e.LastUpdated
				first = false
			}
		}
		delete(c.cache, oldestKey)
	}
}
