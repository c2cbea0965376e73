package indicators

import (
	"context"
	"fmt"

	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

// Values holds the raw output of a single indicator computation for one tick.
// The concrete type is indicator-specific; signal computation is the only
// consumer and knows what to expect.
type Values any

// Indicator is a technical indicator bound to a chromosome. An indicator is
// consulted only when its chromosome is active in the genome being run.
//
// Implementations must be stateless: all inputs arrive via the genome, the
// price window and the current tick, so the same call always produces the
// same result. This keeps concurrent fan-out across indicators safe without
// coordination.
type Indicator interface {
	// Chromosome returns the name of the chromosome this indicator is bound to.
	Chromosome() string

	// Compute calculates the indicator values for the given tick. The window
	// contains the closed candles preceding the tick, oldest first.
	Compute(ctx context.Context, genome *genetics.Genome, window []market.Candle, tick market.Candle) (Values, error)

	// ComputeBuySellSignal reduces previously computed values to a normalized
	// directional signal: +1 buy, -1 sell, 0 hold.
	ComputeBuySellSignal(genome *genetics.Genome, tick market.Candle, values Values) (float64, error)

	// BuySellWeights returns the genome-configured weights applied to the
	// buy and sell components of this indicator's signal.
	BuySellWeights(genome *genetics.Genome) (buyWeight, sellWeight float64)
}

var registry = map[string]Indicator{}

// Register makes an indicator available for genomes that activate its
// chromosome. Intended to be called from init; panics on duplicates.
func Register(ind Indicator) {
	name := ind.Chromosome()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("indicators: duplicate registration for chromosome %q", name))
	}
	registry[name] = ind
}

// Lookup returns the indicator bound to the named chromosome, if any.
func Lookup(chromosome string) (Indicator, bool) {
	ind, ok := registry[chromosome]
	return ind, ok
}

// ForGenome returns the indicators whose chromosomes are active in the
// genome, in base declaration order. Active chromosomes without a registered
// indicator (thresholds, stop-losses and the like) are skipped.
func ForGenome(genome *genetics.Genome) []Indicator {
	var active []Indicator
	for _, chromo := range genome.ChromosomesEnabled() {
		if ind, ok := registry[chromo.Name()]; ok {
			active = append(active, ind)
		}
	}
	return active
}
