package bot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genetick/genetick/internal/db"
)

func testAllocationItem() *db.AllocationItem {
	return &db.AllocationItem{
		ID:          uuid.New(),
		SymbolID:    "USDT",
		Amount:      decimal.NewFromInt(1000),
		MaxWagerPct: decimal.NewFromInt(1),
	}
}

func testInstance() *db.BotInstance {
	return &db.BotInstance{
		ID:            uuid.New(),
		ExchangeID:    "binance",
		ModeID:        db.ModeBackTest,
		Symbols:       "BTC-USDT",
		StateInternal: db.StateInternal{BaseSymbolID: "BTC", QuoteSymbolID: "USDT"},
	}
}

func TestComputeOrderProps(t *testing.T) {
	ts := simTime(t)
	st := NewState(ts)
	item := testAllocationItem()

	t.Run("buy sizes against the wager limit", func(t *testing.T) {
		g := parseGenome(t, "HA")
		props, err := computeOrderProps(g, st, item, tickAt(ts, 100, 100), true)
		require.NoError(t, err)

		assert.True(t, props.Quantity.Equal(decimal.NewFromInt(10)), "quantity %s", props.Quantity)
		assert.True(t, props.Gross.Equal(decimal.NewFromInt(-1000)), "gross %s", props.Gross)
		assert.True(t, props.Fees.Equal(decimal.NewFromInt(1)), "fees %s", props.Fees)
		// Target falls back to the minimal margin when the gene is inactive.
		assert.True(t, props.TargetPrice.Equal(decimal.RequireFromString("100.2")), "target %s", props.TargetPrice)
	})

	t.Run("active genes set target and stop-loss", func(t *testing.T) {
		g := parseGenome(t, "HA|PRF-TGT=0.05|SL-ABS=-0.02")
		props, err := computeOrderProps(g, st, item, tickAt(ts, 100, 100), true)
		require.NoError(t, err)

		assert.True(t, props.TargetPrice.Equal(decimal.NewFromInt(105)), "target %s", props.TargetPrice)
		assert.True(t, props.StopLossPrice.Equal(decimal.NewFromInt(98)), "stop-loss %s", props.StopLossPrice)
	})

	t.Run("sell closes the held quantity", func(t *testing.T) {
		g := parseGenome(t, "HA")
		held := NewState(ts)
		held.PrevQuantity = decimal.NewFromInt(10)

		props, err := computeOrderProps(g, held, item, tickAt(ts, 120, 120), false)
		require.NoError(t, err)

		assert.True(t, props.Quantity.Equal(decimal.NewFromInt(10)))
		assert.True(t, props.Gross.Equal(decimal.NewFromInt(1200)))
		assert.True(t, props.Fees.Equal(decimal.RequireFromString("1.2")))
	})

	t.Run("zero close is rejected", func(t *testing.T) {
		g := parseGenome(t, "HA")
		_, err := computeOrderProps(g, st, item, tickAt(ts, 0, 0), true)
		require.Error(t, err)
	})
}

func TestBacktestContextBuySellRoundTrip(t *testing.T) {
	ts := simTime(t)
	g := parseGenome(t, "HA")
	def := &db.BotDefinition{ID: uuid.New()}
	inst := testInstance()
	run := &db.BotRun{ID: uuid.New(), InstanceID: inst.ID, From: ts}
	item := testAllocationItem()

	bc := NewBacktestContext(def, inst, run, g, item)
	impl := &GeneticBot{}
	bc.State = NewState(ts).WithFsmState(StateWaitingForBuyOrderConf, ts)

	buyTick := tickAt(ts, 100, 100)
	err := bc.ExecuteEffects(context.Background(), impl, buyTick, []OrderEffect{{Buy: true, Price: buyTick.Close, Limit: buyTick.Close}})
	require.NoError(t, err)

	require.Len(t, bc.BacktestOrders, 1)
	buy := bc.BacktestOrders[0]
	assert.Equal(t, db.OrderTypeLimitBuy, buy.TypeID)
	assert.Equal(t, db.OrderStateClosed, buy.StateID)
	assert.Equal(t, run.ID, buy.BotRunID)
	assert.True(t, buy.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, buy.Gross.Equal(decimal.NewFromInt(-1000)))

	// Both confirmations landed inside the tick: the bot now hunts an exit
	// and carries the position in its state.
	assert.Equal(t, StateWaitingForSellOpp, bc.State.FsmState)
	assert.True(t, bc.State.PrevQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, bc.State.PrevPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, buy.ID.String(), bc.State.PrevOrderID)
	assert.False(t, bc.State.TargetPrice.IsZero())

	bc.State = bc.State.WithFsmState(StateWaitingForSellOrderConf, ts)
	sellTick := tickAt(ts.Add(15*time.Minute), 120, 120)
	err = bc.ExecuteEffects(context.Background(), impl, sellTick, []OrderEffect{{Buy: false, Price: sellTick.Close, Limit: sellTick.Close}})
	require.NoError(t, err)

	require.Len(t, bc.BacktestOrders, 2)
	sell := bc.BacktestOrders[1]
	assert.Equal(t, db.OrderTypeLimitSell, sell.TypeID)
	assert.True(t, sell.Gross.Equal(decimal.NewFromInt(1200)))
	require.NotNil(t, sell.RelatedOrderID)
	assert.Equal(t, buy.ID, *sell.RelatedOrderID)

	assert.Equal(t, StateWaitingForBuyOpp, bc.State.FsmState)
	assert.True(t, bc.State.PrevQuantity.IsZero())
	assert.Empty(t, bc.State.PrevOrderID)
	assert.True(t, bc.State.StopLossPrice.IsZero())
}

func TestSignalContextIsInert(t *testing.T) {
	ts := simTime(t)

	bc, err := NewSignalContext("HA|RSI-L=20", ts)
	require.NoError(t, err)
	require.NotNil(t, bc.Genome)
	assert.True(t, bc.Genome.MustGene("RSI", "L").Active())

	bc.State = NewState(ts).WithFsmState(StateWaitingForBuyOrderConf, ts)
	tick := tickAt(ts, 100, 110)
	err = bc.ExecuteEffects(context.Background(), &GeneticBot{}, tick, []OrderEffect{{Buy: true, Price: tick.Close, Limit: tick.Close}})
	require.NoError(t, err)
	assert.Empty(t, bc.BacktestOrders)
}

func TestSignalContextRejectsBadGenome(t *testing.T) {
	_, err := NewSignalContext("NOPE-X=1", simTime(t))
	require.Error(t, err)
}
