package bot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

func parseGenome(t *testing.T, text string) *genetics.Genome {
	t.Helper()
	res, err := genetics.Parse(text)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	return res.Genome
}

func testContext(g *genetics.Genome, st *State) *Context {
	return &Context{Genome: g, State: st, Log: zerolog.Nop()}
}

func simTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2023-06-01T00:00:00Z")
	require.NoError(t, err)
	return ts
}

func tickAt(ts time.Time, open, close float64) market.Candle {
	o := decimal.NewFromFloat(open)
	c := decimal.NewFromFloat(close)
	return market.Candle{
		SymbolPair: "BTC-USDT",
		Resolution: market.ResFifteenMinutes,
		Ts:         ts,
		Open:       o,
		High:       decimal.Max(o, c),
		Low:        decimal.Min(o, c),
		Close:      c,
		Volume:     decimal.NewFromInt(1),
	}
}

func TestEvaluateBuySignalPlacesBuy(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	bc := testContext(parseGenome(t, "HA"), st)
	b := &GeneticBot{}

	next, effects, err := b.Evaluate(bc, 1, tickAt(ts, 100, 110))
	require.NoError(t, err)

	assert.Equal(t, StateWaitingForBuyOrderConf, next.FsmState)
	require.Len(t, effects, 1)
	assert.True(t, effects[0].Buy)

	// The input state is never mutated.
	assert.Equal(t, StateWaitingForBuyOpp, st.FsmState)
}

func TestEvaluateWeakSignalHolds(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	bc := testContext(parseGenome(t, "HA"), st)
	b := &GeneticBot{}

	next, effects, err := b.Evaluate(bc, 0.5, tickAt(ts, 100, 110))
	require.NoError(t, err)

	assert.Equal(t, StateWaitingForBuyOpp, next.FsmState)
	assert.Empty(t, effects)
}

func TestEvaluateSellSignalSurfsUntilTarget(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	st.FsmState = StateWaitingForSellOpp
	st.TargetPrice = decimal.NewFromInt(150)
	bc := testContext(parseGenome(t, "HA|PRF-TGT=0.05"), st)
	b := &GeneticBot{}

	// Below the target the bot keeps surfing the sell opportunity.
	next, effects, err := b.Evaluate(bc, -1, tickAt(ts, 125, 120))
	require.NoError(t, err)
	assert.Equal(t, StateSurfSell, next.FsmState)
	assert.Empty(t, effects)

	// At the target it sells.
	bc.State = next
	next, effects, err = b.Evaluate(bc, -1, tickAt(ts.Add(15*time.Minute), 145, 150))
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForSellOrderConf, next.FsmState)
	require.Len(t, effects, 1)
	assert.False(t, effects[0].Buy)
}

func TestEvaluateSellsImmediatelyWithoutTarget(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	st.FsmState = StateWaitingForSellOpp
	bc := testContext(parseGenome(t, "HA"), st)
	b := &GeneticBot{}

	next, effects, err := b.Evaluate(bc, -1, tickAt(ts, 125, 120))
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForSellOrderConf, next.FsmState)
	require.Len(t, effects, 1)
	assert.False(t, effects[0].Buy)
}

func TestEvaluateStopLossPreemptsSignal(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	st.FsmState = StateWaitingForSellOpp
	st.StopLossPrice = decimal.NewFromInt(99)
	bc := testContext(parseGenome(t, "HA|SL-ABS=-0.01"), st)
	b := &GeneticBot{}

	// The signal says buy, but the breached stop-loss wins.
	next, effects, err := b.Evaluate(bc, 1, tickAt(ts, 100, 98))
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForSellOrderConf, next.FsmState)
	require.Len(t, effects, 1)
	assert.False(t, effects[0].Buy)
}

func TestEvaluateHoldsWhileAwaitingConfirmation(t *testing.T) {
	ts := simTime(t)
	b := &GeneticBot{}

	for _, fsm := range []FsmState{StateWaitingForBuyOrderConf, StateWaitingForSellOrderConf} {
		st := NewState(ts)
		st.FsmState = fsm
		bc := testContext(parseGenome(t, "HA"), st)

		next, effects, err := b.Evaluate(bc, 1, tickAt(ts, 100, 110))
		require.NoError(t, err)
		assert.Equal(t, fsm, next.FsmState)
		assert.Empty(t, effects)
	}
}

func TestHandleOrderStatusChange(t *testing.T) {
	ts := simTime(t)
	b := &GeneticBot{}

	tests := []struct {
		name       string
		fsm        FsmState
		orderState db.OrderState
		want       FsmState
	}{
		{"closed buy confirms into sell hunt", StateWaitingForBuyOrderConf, db.OrderStateClosed, StateWaitingForSellOpp},
		{"closed sell confirms into buy hunt", StateWaitingForSellOrderConf, db.OrderStateClosed, StateWaitingForBuyOpp},
		{"open confirmation is an ack only", StateWaitingForBuyOrderConf, db.OrderStateOpen, StateWaitingForBuyOrderConf},
		{"filling confirmation is an ack only", StateWaitingForSellOrderConf, db.OrderStateFilling, StateWaitingForSellOrderConf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewState(ts)
			st.FsmState = tt.fsm
			next, err := b.HandleOrderStatusChange(st, tt.orderState, ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.FsmState)
		})
	}
}

func TestHandleOrderStatusChangeInWrongStateIsFatal(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	b := &GeneticBot{}

	_, err := b.HandleOrderStatusChange(st, db.OrderStateClosed, ts)
	require.Error(t, err)

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateWaitingForBuyOpp, stateErr.State)
}

func TestComputeSignalSingleIndicator(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	bc := testContext(parseGenome(t, "HA"), st)
	b := &GeneticBot{}

	window := []market.Candle{
		tickAt(ts, 100, 102),
		tickAt(ts.Add(15*time.Minute), 102, 105),
		tickAt(ts.Add(30*time.Minute), 105, 109),
	}
	tick := tickAt(ts.Add(45*time.Minute), 109, 115)

	require.NoError(t, b.ComputeIndicatorsForTick(context.Background(), bc, window, tick))

	signal, err := b.ComputeSignal(bc, tick)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, signal, 1e-9)
}

func TestComputeSignalDividesByActiveIndicatorCount(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	// Bollinger is active with both breakout flags off, so it contributes a
	// zero-weighted signal but still counts in the divisor.
	bc := testContext(parseGenome(t, "HA|BOLL-P=3"), st)
	b := &GeneticBot{}

	window := []market.Candle{
		tickAt(ts, 100, 102),
		tickAt(ts.Add(15*time.Minute), 102, 105),
		tickAt(ts.Add(30*time.Minute), 105, 109),
	}
	tick := tickAt(ts.Add(45*time.Minute), 109, 115)

	require.NoError(t, b.ComputeIndicatorsForTick(context.Background(), bc, window, tick))

	signal, err := b.ComputeSignal(bc, tick)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, signal, 1e-9)
}

func TestImplementationRegistry(t *testing.T) {
	impl, err := NewImplementation(genetics.DefaultBotImpl)
	require.NoError(t, err)
	assert.Equal(t, genetics.DefaultBotImpl, impl.Tag())

	_, err = NewImplementation("genetic-bot.bogus.v9")
	require.Error(t, err)

	impl, err = ImplementationForGenome(parseGenome(t, "HA"))
	require.NoError(t, err)
	assert.IsType(t, &GeneticBot{}, impl)
}
