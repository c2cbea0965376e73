package indicators

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

var (
	quarter = decimal.RequireFromString("0.25")
	half    = decimal.RequireFromString("0.5")
)

// HeikinAshi smooths raw candles into Heikin-Ashi candles, bound to the HA
// chromosome. A green smoothed candle signals a buy, a red one a sell.
type HeikinAshi struct{}

func init() {
	Register(&HeikinAshi{})
}

func (h *HeikinAshi) Chromosome() string { return genetics.ChromoHeikin }

// Compute derives the Heikin-Ashi series over the window plus the current
// tick. The series is recomputed per tick rather than carried across ticks,
// so the indicator stays stateless.
func (h *HeikinAshi) Compute(ctx context.Context, genome *genetics.Genome, window []market.Candle, tick market.Candle) (Values, error) {
	raw := make([]market.Candle, 0, len(window)+1)
	raw = append(raw, window...)
	raw = append(raw, tick)

	series := make([]market.Candle, 0, len(raw))
	for i, c := range raw {
		var prev *market.Candle
		if i > 0 {
			prev = &series[i-1]
		}
		series = append(series, heikinAshiCandle(c, prev))
	}
	return series, nil
}

// heikinAshiCandle derives a single smoothed candle. The first candle of a
// series keeps its raw open/high/low and only averages the close.
func heikinAshiCandle(c market.Candle, prev *market.Candle) market.Candle {
	out := c
	out.Close = quarter.Mul(c.Open.Add(c.High).Add(c.Low).Add(c.Close))
	if prev == nil {
		return out
	}
	out.Open = half.Mul(prev.Open.Add(prev.Close))
	out.High = decimal.Max(c.High, out.Open, out.Close)
	out.Low = decimal.Min(c.Low, out.Open, out.Close)
	return out
}

// ComputeBuySellSignal looks at the colour of the latest smoothed candle.
func (h *HeikinAshi) ComputeBuySellSignal(genome *genetics.Genome, tick market.Candle, values Values) (float64, error) {
	series, ok := values.([]market.Candle)
	if !ok || len(series) == 0 {
		return 0, fmt.Errorf("heikin-ashi: unexpected values %T", values)
	}
	last := series[len(series)-1]
	if last.Close.GreaterThan(last.Open) {
		return 1, nil
	}
	return -1, nil
}

func (h *HeikinAshi) BuySellWeights(genome *genetics.Genome) (float64, float64) {
	buy := genome.MustGene(genetics.ChromoHeikin, genetics.GeneHABuyW).Float()
	sell := genome.MustGene(genetics.ChromoHeikin, genetics.GeneHASellW).Float()
	return buy, sell
}
