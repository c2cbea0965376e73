package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedProvider wraps a PriceDataProvider with a redis range cache so
// repeated backtests over the same window skip the upstream fetch.
type CachedProvider struct {
	provider PriceDataProvider
	redis    *redis.Client
	cacheTTL time.Duration
}

// NewCachedProvider creates a caching wrapper around any provider.
func NewCachedProvider(provider PriceDataProvider, redisClient *redis.Client, cacheTTL time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		redis:    redisClient,
		cacheTTL: cacheTTL,
	}
}

func rangeCacheKey(params PriceDataParams) string {
	return fmt.Sprintf("prices:%s:%s:%s:%d:%d:%t",
		params.Exchange, params.SymbolPair, params.Resolution,
		params.From.UnixMilli(), params.To.UnixMilli(), params.FillMissing)
}

// GetSymbolPriceData checks redis first and falls through to the wrapped
// provider on a miss. Cache write failures are logged, never surfaced.
func (c *CachedProvider) GetSymbolPriceData(ctx context.Context, params PriceDataParams) (*PriceDataResult, error) {
	cacheKey := rangeCacheKey(params)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var result PriceDataResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			log.Debug().
				Str("cache_key", cacheKey).
				Int("candles", len(result.Prices)).
				Msg("Cache hit for price range")
			return &result, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached price range, fetching fresh")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Redis error during price range lookup")
	}

	result, err := c.provider.GetSymbolPriceData(ctx, params)
	if err != nil {
		return nil, err
	}

	// Store in cache (async, don't block on cache write failure)
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(result)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to marshal price range for cache")
			return
		}

		if err := c.redis.Set(cacheCtx, cacheKey, data, c.cacheTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to cache price range")
		}
	}()

	return result, nil
}
