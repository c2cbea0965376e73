package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const binanceKlineLimit = 1000

// BinanceProvider fetches candles from the Binance klines API.
type BinanceProvider struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewBinanceProvider creates a provider using public market-data endpoints.
// API credentials are optional for klines.
func NewBinanceProvider(apiKey, secretKey string) *BinanceProvider {
	return &BinanceProvider{
		client:  binance.NewClient(apiKey, secretKey),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "binance-klines",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state change")
			},
		}),
	}
}

// GetSymbolPriceData fetches candles for [From, To), paging through the
// klines API and detecting gaps against the expected interval grid.
func (p *BinanceProvider) GetSymbolPriceData(ctx context.Context, params PriceDataParams) (*PriceDataResult, error) {
	symbol := strings.ReplaceAll(strings.ToUpper(params.SymbolPair), "/", "")
	interval := params.Resolution.Duration()

	var raw []*binance.Kline
	cursor := params.From
	for cursor.Before(params.To) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := p.breaker.Execute(func() (interface{}, error) {
			return p.client.NewKlinesService().
				Symbol(symbol).
				Interval(params.Resolution.String()).
				StartTime(cursor.UnixMilli()).
				EndTime(params.To.UnixMilli() - 1).
				Limit(binanceKlineLimit).
				Do(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
		}

		klines := batch.([]*binance.Kline)
		if len(klines) == 0 {
			break
		}
		raw = append(raw, klines...)
		cursor = time.UnixMilli(klines[len(klines)-1].OpenTime).Add(interval)
	}

	result := &PriceDataResult{}
	byTs := make(map[int64]Candle, len(raw))
	for _, k := range raw {
		candle, err := klineToCandle(params, k)
		if err != nil {
			return nil, err
		}
		byTs[candle.Ts.UnixMilli()] = candle
	}

	// Walk the expected interval grid, recording gaps.
	var gapStart *time.Time
	for ts := params.Resolution.Normalize(params.From); ts.Before(params.To); ts = ts.Add(interval) {
		candle, ok := byTs[ts.UnixMilli()]
		if ok {
			if gapStart != nil {
				result.MissingRanges = append(result.MissingRanges, Range{From: *gapStart, To: ts})
				gapStart = nil
			}
			result.Prices = append(result.Prices, candle)
			continue
		}

		if gapStart == nil {
			start := ts
			gapStart = &start
		}
		if params.FillMissing {
			result.Prices = append(result.Prices, Candle{
				SymbolPair: params.SymbolPair,
				Resolution: params.Resolution,
				Ts:         ts,
			})
		}
	}
	if gapStart != nil {
		result.MissingRanges = append(result.MissingRanges, Range{From: *gapStart, To: params.To})
	}

	if len(result.MissingRanges) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d missing range(s) for %s @ %s", len(result.MissingRanges), params.SymbolPair, params.Resolution))
	}

	log.Debug().
		Str("symbol", params.SymbolPair).
		Str("resolution", params.Resolution.String()).
		Int("candles", len(result.Prices)).
		Int("missing_ranges", len(result.MissingRanges)).
		Msg("Fetched symbol price data")

	return result, nil
}

func klineToCandle(params PriceDataParams, k *binance.Kline) (Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return Candle{}, fmt.Errorf("bad kline open %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return Candle{}, fmt.Errorf("bad kline high %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return Candle{}, fmt.Errorf("bad kline low %q: %w", k.Low, err)
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return Candle{}, fmt.Errorf("bad kline close %q: %w", k.Close, err)
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return Candle{}, fmt.Errorf("bad kline volume %q: %w", k.Volume, err)
	}

	return Candle{
		SymbolPair: params.SymbolPair,
		Resolution: params.Resolution,
		Ts:         time.UnixMilli(k.OpenTime),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
	}, nil
}
