package market

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls  int
	result *PriceDataResult
	err    error
}

func (p *countingProvider) GetSymbolPriceData(ctx context.Context, params PriceDataParams) (*PriceDataResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func cacheTestSetup(t *testing.T, upstream PriceDataProvider) (*CachedProvider, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCachedProvider(upstream, client, time.Hour), mr
}

func cacheTestParams() PriceDataParams {
	return PriceDataParams{
		Exchange:    "binance",
		SymbolPair:  "BTC-USDT",
		Resolution:  ResFifteenMinutes,
		From:        time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
		FillMissing: true,
	}
}

func TestCachedProviderFallsThroughOnMiss(t *testing.T) {
	params := cacheTestParams()
	upstream := &countingProvider{result: &PriceDataResult{
		Prices: []Candle{{
			SymbolPair: params.SymbolPair,
			Resolution: params.Resolution,
			Ts:         params.From,
			Open:       decimal.NewFromInt(100),
			High:       decimal.NewFromInt(101),
			Low:        decimal.NewFromInt(99),
			Close:      decimal.NewFromInt(100),
			Volume:     decimal.NewFromInt(5),
		}},
	}}
	cp, _ := cacheTestSetup(t, upstream)

	result, err := cp.GetSymbolPriceData(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, result.Prices, 1)
	assert.Equal(t, 1, upstream.calls)
}

func TestCachedProviderServesCachedRange(t *testing.T) {
	params := cacheTestParams()
	upstream := &countingProvider{}
	cp, mr := cacheTestSetup(t, upstream)

	want := &PriceDataResult{
		Prices: []Candle{{
			SymbolPair: params.SymbolPair,
			Ts:         params.From,
			Open:       decimal.NewFromInt(100),
			High:       decimal.NewFromInt(110),
			Low:        decimal.NewFromInt(95),
			Close:      decimal.NewFromInt(105),
		}},
		Warnings: []string{"partial fill"},
	}
	data, err := json.Marshal(want)
	require.NoError(t, err)
	require.NoError(t, mr.Set(rangeCacheKey(params), string(data)))

	result, err := cp.GetSymbolPriceData(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, result.Prices, 1)
	assert.True(t, result.Prices[0].Close.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, want.Warnings, result.Warnings)
	assert.Equal(t, 0, upstream.calls)
}

func TestCachedProviderWritesThroughAfterFetch(t *testing.T) {
	params := cacheTestParams()
	upstream := &countingProvider{result: &PriceDataResult{
		Prices: []Candle{{Ts: params.From, Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1)}},
	}}
	cp, mr := cacheTestSetup(t, upstream)

	_, err := cp.GetSymbolPriceData(context.Background(), params)
	require.NoError(t, err)

	// The cache write is async; poll until it lands.
	require.Eventually(t, func() bool {
		return mr.Exists(rangeCacheKey(params))
	}, 2*time.Second, 10*time.Millisecond)

	// Second call must not touch the upstream again.
	_, err = cp.GetSymbolPriceData(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)
}

func TestCachedProviderDistinctParamsDistinctKeys(t *testing.T) {
	a := cacheTestParams()
	b := cacheTestParams()
	b.Resolution = ResOneHour

	assert.NotEqual(t, rangeCacheKey(a), rangeCacheKey(b))
}
