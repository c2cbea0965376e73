package genetics

import (
	"github.com/genetick/genetick/internal/market"
)

// DefaultBotImpl is the registry tag of the stock genetic bot. Stored in
// genomes and the database; do not change.
const DefaultBotImpl = "genetic-bot.vanilla.v1"

const (
	DefaultProfitTarget = 0.02
	DefaultStopLossAbs  = -0.01
)

// Chromosome and gene names of the default base. These appear in persisted
// genome strings; add and deprecate, never rename.
const (
	ChromoMeta     = "META"
	GeneMetaImpl   = "IMPL"
	ChromoTime     = "TIME"
	GeneTimeRes    = "RES"
	GeneTimeMaxInt = "MI"
	ChromoProfit   = "PRF"
	GeneProfitTgt  = "TGT"
	ChromoStopLoss = "SL"
	GeneStopAbs    = "ABS"
	ChromoBuy      = "BUY"
	GeneBuyThresh  = "T"
	ChromoSell     = "SELL"
	GeneSellThresh = "T"
	ChromoSymbols  = "SYM"
	ChromoRSI      = "RSI"
	GeneRSILow     = "L"
	GeneRSIHigh    = "H"
	GeneRSIWindow  = "WL"
	GeneRSIBuyW    = "BW"
	GeneRSISellW   = "SW"
	GeneRSIPeriod  = "OITP"
	ChromoHeikin   = "HA"
	GeneHABuyW     = "BW"
	GeneHASellW    = "SW"
	ChromoBoll     = "BOLL"
	GeneBollBuyBrk = "BB"
	GeneBollSellBrk = "SB"
	GeneBollPeriod = "P"
)

var defaultBase = NewBase(
	NewChromosome(ChromoMeta, "Meta", "Phenotype metadata",
		NewGene(GeneMetaImpl, TypeString, DefaultBotImpl, "Bot implementation variant to use"),
	),
	NewChromosome(ChromoTime, "Time", "Controls time related behaviour, notably time resolution",
		NewGene(GeneTimeRes, TypeTimeRes, market.ResFifteenMinutes, "Time resolution to trade at, e.g. '15m', '1h'"),
		NewGene(GeneTimeMaxInt, TypeNumber, float64(99), "Number of previous intervals available for indicators to consider"),
	),
	NewChromosome(ChromoProfit, "Profit", "Controls profit targets and take-profits",
		NewGene(GeneProfitTgt, TypeNumber, DefaultProfitTarget, "Default profit target as a fraction of the buy price"),
	),
	NewChromosome(ChromoStopLoss, "Stop-loss", "Controls stop-losses",
		NewGene(GeneStopAbs, TypeNumber, DefaultStopLossAbs, "Initial stop-loss fraction applied when buy orders are placed"),
	),
	NewChromosome(ChromoBuy, "Buying", "Controls buying behaviour",
		NewGene(GeneBuyThresh, TypeNumber, float64(1), "Signal threshold at which to consider a signal buyable"),
	),
	NewChromosome(ChromoSell, "Selling", "Controls selling behaviour",
		NewGene(GeneSellThresh, TypeNumber, float64(-1), "Signal threshold at which to consider a signal sellable"),
	),
	NewChromosome(ChromoSymbols, "Symbols", "Controls which symbols to trade"),
	NewChromosome(ChromoRSI, "RSI", "Behaviour involving the Relative Strength Index",
		NewGene(GeneRSILow, TypeNumber, float64(33), "Lower RSI threshold to use as a buy signal"),
		NewGene(GeneRSIHigh, TypeNumber, float64(66), "Upper RSI threshold to use as a sell signal"),
		NewGene(GeneRSIWindow, TypeNumber, float64(99), "Window length of closed intervals to consider"),
		NewGene(GeneRSIBuyW, TypeNumber, float64(1), "Weighting for RSI buy signal"),
		NewGene(GeneRSISellW, TypeNumber, float64(1), "Weighting for RSI sell signal"),
		NewGene(GeneRSIPeriod, TypeNumber, float64(14), "Averaging period for RSI"),
	),
	NewChromosome(ChromoHeikin, "Heikin-Ashi", "Behaviour involving Heikin-Ashi candles",
		NewGene(GeneHABuyW, TypeNumber, float64(1), "Weighting for Heikin-Ashi buy signal"),
		NewGene(GeneHASellW, TypeNumber, float64(1), "Weighting for Heikin-Ashi sell signal"),
	),
	NewChromosome(ChromoBoll, "Bollinger Bands", "Behaviour involving Bollinger Bands",
		NewGene(GeneBollBuyBrk, TypeFlag, false, "Emit buy signal on a breakout of the lower band"),
		NewGene(GeneBollSellBrk, TypeFlag, false, "Emit sell signal on a breakout of the upper band"),
		NewGene(GeneBollPeriod, TypeNumber, float64(20), "Averaging period for the bands"),
	),
)

// DefaultBase returns the process-wide frozen base genetics.
func DefaultBase() *Base {
	return defaultBase
}
