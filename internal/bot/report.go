package bot

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/market"
)

// Report is the aggregate outcome of one completed run, persisted as the
// run's report document. Orders holds the scored buy/sell pairs; an
// unmatched buy left open at the end of the window is carried separately as
// TrailingOrder and excluded from the realized metrics.
type Report struct {
	InstanceID      uuid.UUID       `json:"instance_id"`
	RunID           uuid.UUID       `json:"run_id"`
	Name            string          `json:"name"`
	Genome          string          `json:"genome"`
	Symbols         string          `json:"symbols"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Duration        time.Duration   `json:"duration"`
	Days            int             `json:"days"`
	CapitalInvested decimal.Decimal `json:"capital_invested"`
	TotalGross      decimal.Decimal `json:"total_gross"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	ProfitPct       decimal.Decimal `json:"profit_pct"`
	AvgProfitPerDay decimal.Decimal `json:"avg_profit_per_day"`
	AvgDailyPct     decimal.Decimal `json:"avg_daily_pct"`
	BuyAndHoldPct   decimal.Decimal `json:"buy_and_hold_pct"`
	AnnualEstimate  decimal.Decimal `json:"annual_estimate"`
	Orders          []*db.Order     `json:"orders"`
	TrailingOrder   *db.Order       `json:"trailing_order,omitempty"`
	MissingRanges   []market.Range  `json:"missing_ranges,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// finalize computes the aggregate metrics from the scored order list.
// firstClose and lastClose are the window's first and last non-gap closes,
// used for the buy-and-hold comparison.
func (rep *Report) finalize(invested decimal.Decimal, firstClose, lastClose decimal.Decimal) {
	for _, o := range rep.Orders {
		rep.TotalGross = rep.TotalGross.Add(o.Gross)
		rep.TotalFees = rep.TotalFees.Add(o.Fees)
	}
	rep.TotalProfit = rep.TotalGross.Sub(rep.TotalFees)

	rep.CapitalInvested = invested
	if invested.IsPositive() {
		rep.ProfitPct = rep.TotalProfit.Div(invested)
	}

	rep.Duration = rep.To.Sub(rep.From)
	days := int(math.Ceil(rep.Duration.Hours() / 24))
	if days < 1 {
		days = 1
	}
	rep.Days = days

	d := decimal.NewFromInt(int64(days))
	rep.AvgProfitPerDay = rep.TotalProfit.Div(d)
	rep.AvgDailyPct = rep.ProfitPct.Div(d)

	if !lastClose.IsZero() {
		rep.BuyAndHoldPct = decimal.NewFromInt(1).Sub(firstClose.Div(lastClose))
	}

	rep.AnnualEstimate = capital.CompoundAnnualEstimate(invested, rep.AvgDailyPct.InexactFloat64())
}
