package indicators

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/volatility"

	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

// BollingerBands computes the classic volatility bands, bound to the BOLL
// chromosome. Breakouts below the lower band or above the upper band emit
// buy and sell signals when the corresponding flag genes are set.
type BollingerBands struct{}

func init() {
	Register(&BollingerBands{})
}

func (b *BollingerBands) Chromosome() string { return genetics.ChromoBoll }

// BollingerValues is the latest band triple for the current tick.
type BollingerValues struct {
	Lower  float64
	Middle float64
	Upper  float64
}

func (b *BollingerBands) Compute(ctx context.Context, genome *genetics.Genome, window []market.Candle, tick market.Candle) (Values, error) {
	period := int(genome.MustGene(genetics.ChromoBoll, genetics.GeneBollPeriod).Float())
	if len(window)+1 < period {
		return nil, fmt.Errorf("bollinger: need at least %d closes, have %d", period, len(window)+1)
	}

	closes := make(chan float64, len(window)+1)
	for _, c := range window {
		closes <- c.Close.InexactFloat64()
	}
	closes <- tick.Close.InexactFloat64()
	close(closes)

	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](period).Compute(closes)

	var vals BollingerValues
	var n int
	for lower := range lowerChan {
		vals = BollingerValues{Lower: lower, Middle: <-middleChan, Upper: <-upperChan}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("bollinger: no bands produced for period %d", period)
	}
	return vals, nil
}

// ComputeBuySellSignal checks the tick close for a band breakout. Each
// direction only fires when its flag gene enables it.
func (b *BollingerBands) ComputeBuySellSignal(genome *genetics.Genome, tick market.Candle, values Values) (float64, error) {
	vals, ok := values.(BollingerValues)
	if !ok {
		return 0, fmt.Errorf("bollinger: unexpected values %T", values)
	}

	buyOnBreak := genome.MustGene(genetics.ChromoBoll, genetics.GeneBollBuyBrk).Bool()
	sellOnBreak := genome.MustGene(genetics.ChromoBoll, genetics.GeneBollSellBrk).Bool()

	tickClose := tick.Close.InexactFloat64()
	switch {
	case buyOnBreak && tickClose < vals.Lower:
		return 1, nil
	case sellOnBreak && tickClose > vals.Upper:
		return -1, nil
	default:
		return 0, nil
	}
}

// BuySellWeights maps the breakout flags to weights of one or zero, so a
// disabled direction contributes nothing to the aggregate signal.
func (b *BollingerBands) BuySellWeights(genome *genetics.Genome) (float64, float64) {
	var buy, sell float64
	if genome.MustGene(genetics.ChromoBoll, genetics.GeneBollBuyBrk).Bool() {
		buy = 1
	}
	if genome.MustGene(genetics.ChromoBoll, genetics.GeneBollSellBrk).Bool() {
		sell = 1
	}
	return buy, sell
}
