package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV data for one interval. Candles are externally
// supplied and treated as immutable once constructed.
type Candle struct {
	SymbolPair string          `json:"symbol_pair"`
	Resolution Resolution      `json:"resolution"`
	Ts         time.Time       `json:"ts"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
}

// IsGap reports whether this candle is a filled-in placeholder for a missing
// interval. Such ticks carry no usable price and are skipped by drivers.
func (c Candle) IsGap() bool {
	return c.Open.IsZero() || c.Low.IsZero() || c.Close.IsZero()
}

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
