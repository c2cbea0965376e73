// Package market supplies price data: the provider boundary, a Binance
// implementation, a redis second-level candle cache, and the in-memory
// time-series cache used by ticking bots.
package market

import (
	"context"
	"time"
)

// PriceDataParams describes a price history request.
type PriceDataParams struct {
	Exchange    string
	SymbolPair  string
	Resolution  Resolution
	From        time.Time
	To          time.Time
	FillMissing bool
}

// PriceDataResult is the outcome of a price history request. MissingRanges
// lists intervals the provider could not supply; when FillMissing is set,
// those intervals are also present in Prices as zero-valued gap candles.
type PriceDataResult struct {
	Prices        []Candle
	MissingRanges []Range
	Warnings      []string
}

// PriceDataProvider supplies OHLC candles for a symbol pair.
type PriceDataProvider interface {
	GetSymbolPriceData(ctx context.Context, params PriceDataParams) (*PriceDataResult, error)
}
