package indicators

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genetick/genetick/internal/market"
)

func TestHeikinAshiCandle(t *testing.T) {
	start := baseTs(t)

	t.Run("first candle only averages the close", func(t *testing.T) {
		raw := candleAt(start, 10, 14, 8, 12)
		ha := heikinAshiCandle(raw, nil)

		assert.True(t, ha.Open.Equal(raw.Open))
		assert.True(t, ha.High.Equal(raw.High))
		assert.True(t, ha.Low.Equal(raw.Low))
		// (10+14+8+12)/4 = 11
		assert.True(t, ha.Close.Equal(decimal.NewFromInt(11)), "got %s", ha.Close)
	})

	t.Run("subsequent candles average against the previous", func(t *testing.T) {
		prev := heikinAshiCandle(candleAt(start, 10, 14, 8, 12), nil)
		raw := candleAt(start.Add(15*time.Minute), 12, 16, 11, 15)
		ha := heikinAshiCandle(raw, &prev)

		// open = (prevOpen + prevClose) / 2 = (10+11)/2 = 10.5
		assert.True(t, ha.Open.Equal(decimal.RequireFromString("10.5")), "got %s", ha.Open)
		// close = (12+16+11+15)/4 = 13.5
		assert.True(t, ha.Close.Equal(decimal.RequireFromString("13.5")), "got %s", ha.Close)
		// high/low widen to cover the derived open and close
		assert.True(t, ha.High.Equal(decimal.NewFromInt(16)))
		assert.True(t, ha.Low.Equal(decimal.RequireFromString("10.5")))
	})
}

func TestHeikinAshiSignal(t *testing.T) {
	ha := &HeikinAshi{}
	genome := mustGenome(t, "HA")

	t.Run("rising series signals buy", func(t *testing.T) {
		candles := closesSeries(10, 11, 12, 13, 14)
		tick := candles[len(candles)-1]

		values, err := ha.Compute(context.Background(), genome, candles[:len(candles)-1], tick)
		require.NoError(t, err)

		signal, err := ha.ComputeBuySellSignal(genome, tick, values)
		require.NoError(t, err)
		assert.Equal(t, 1.0, signal)
	})

	t.Run("falling series signals sell", func(t *testing.T) {
		candles := closesSeries(14, 13, 12, 11, 10)
		tick := candles[len(candles)-1]

		values, err := ha.Compute(context.Background(), genome, candles[:len(candles)-1], tick)
		require.NoError(t, err)

		signal, err := ha.ComputeBuySellSignal(genome, tick, values)
		require.NoError(t, err)
		assert.Equal(t, -1.0, signal)
	})

	t.Run("rejects foreign values", func(t *testing.T) {
		_, err := ha.ComputeBuySellSignal(genome, closesSeries(10)[0], 42)
		require.Error(t, err)

		_, err = ha.ComputeBuySellSignal(genome, closesSeries(10)[0], []market.Candle{})
		require.Error(t, err)
	})
}

func TestHeikinAshiWeights(t *testing.T) {
	ha := &HeikinAshi{}

	buy, sell := ha.BuySellWeights(mustGenome(t, "HA"))
	assert.Equal(t, 1.0, buy)
	assert.Equal(t, 1.0, sell)

	buy, sell = ha.BuySellWeights(mustGenome(t, "HA-BW=0|HA-SW=3"))
	assert.Equal(t, 0.0, buy)
	assert.Equal(t, 3.0, sell)
}
