package indicators

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/rs/zerolog/log"

	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

// RSI is the Relative Strength Index indicator, bound to the RSI chromosome.
// It signals a buy when the index drops below the genome's lower threshold
// and a sell when it rises above the upper threshold.
type RSI struct{}

func init() {
	Register(&RSI{})
}

func (r *RSI) Chromosome() string { return genetics.ChromoRSI }

// Compute calculates the RSI series over the last WL closes (window plus the
// current tick) using the genome's averaging period.
func (r *RSI) Compute(ctx context.Context, genome *genetics.Genome, window []market.Candle, tick market.Candle) (Values, error) {
	period := int(genome.MustGene(genetics.ChromoRSI, genetics.GeneRSIPeriod).Float())
	windowLen := int(genome.MustGene(genetics.ChromoRSI, genetics.GeneRSIWindow).Float())

	if period >= windowLen {
		log.Warn().
			Int("period", period).
			Int("window_len", windowLen).
			Msg("RSI averaging period is >= window length, values will be invalid")
	}

	if len(window) > windowLen-1 {
		window = window[len(window)-(windowLen-1):]
	}

	closes := make(chan float64, len(window)+1)
	for _, c := range window {
		closes <- c.Close.InexactFloat64()
	}
	closes <- tick.Close.InexactFloat64()
	close(closes)

	rsiChan := momentum.NewRsiWithPeriod[float64](period).Compute(closes)

	var values []float64
	for v := range rsiChan {
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("rsi: no values produced for window of %d closes", len(window)+1)
	}
	return values, nil
}

// ComputeBuySellSignal compares the most recent RSI value against the
// genome's low and high thresholds.
func (r *RSI) ComputeBuySellSignal(genome *genetics.Genome, tick market.Candle, values Values) (float64, error) {
	vals, ok := values.([]float64)
	if !ok || len(vals) == 0 {
		return 0, fmt.Errorf("rsi: unexpected values %T", values)
	}

	thresholdLow := genome.MustGene(genetics.ChromoRSI, genetics.GeneRSILow).Float()
	thresholdHigh := genome.MustGene(genetics.ChromoRSI, genetics.GeneRSIHigh).Float()

	current := vals[len(vals)-1]
	switch {
	case current < thresholdLow:
		return 1, nil
	case current > thresholdHigh:
		return -1, nil
	default:
		return 0, nil
	}
}

func (r *RSI) BuySellWeights(genome *genetics.Genome) (float64, float64) {
	buy := genome.MustGene(genetics.ChromoRSI, genetics.GeneRSIBuyW).Float()
	sell := genome.MustGene(genetics.ChromoRSI, genetics.GeneRSISellW).Float()
	return buy, sell
}
