package indicators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSICompute(t *testing.T) {
	rsi := &RSI{}

	t.Run("rising closes push the index high", func(t *testing.T) {
		genome := mustGenome(t, "RSI-WL=30|RSI-OITP=14")
		series := make([]float64, 40)
		for i := range series {
			series[i] = 100 + float64(i)
		}
		candles := closesSeries(series...)

		values, err := rsi.Compute(context.Background(), genome, candles[:len(candles)-1], candles[len(candles)-1])
		require.NoError(t, err)

		vals := values.([]float64)
		require.NotEmpty(t, vals)
		assert.Greater(t, vals[len(vals)-1], 66.0)
	})

	t.Run("falling closes push the index low", func(t *testing.T) {
		genome := mustGenome(t, "RSI-WL=30|RSI-OITP=14")
		series := make([]float64, 40)
		for i := range series {
			series[i] = 200 - float64(i)
		}
		candles := closesSeries(series...)

		values, err := rsi.Compute(context.Background(), genome, candles[:len(candles)-1], candles[len(candles)-1])
		require.NoError(t, err)

		vals := values.([]float64)
		require.NotEmpty(t, vals)
		assert.Less(t, vals[len(vals)-1], 33.0)
	})
}

func TestRSISignal(t *testing.T) {
	rsi := &RSI{}
	genome := mustGenome(t, "RSI-L=33|RSI-H=66")
	tick := candleAt(baseTs(t), 100, 100, 100, 100)

	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"below low threshold buys", []float64{50, 20}, 1},
		{"above high threshold sells", []float64{50, 80}, -1},
		{"between thresholds holds", []float64{20, 50}, 0},
		{"thresholds are exclusive", []float64{33}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, err := rsi.ComputeBuySellSignal(genome, tick, tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, signal)
		})
	}
}

func TestRSIWeights(t *testing.T) {
	rsi := &RSI{}

	genome := mustGenome(t, "RSI-L=20")
	buy, sell := rsi.BuySellWeights(genome)
	assert.Equal(t, 1.0, buy)
	assert.Equal(t, 1.0, sell)

	genome = mustGenome(t, "RSI-BW=2|RSI-SW=0.5")
	buy, sell = rsi.BuySellWeights(genome)
	assert.Equal(t, 2.0, buy)
	assert.Equal(t, 0.5, sell)
}

func TestRSIRejectsBadValues(t *testing.T) {
	rsi := &RSI{}
	genome := mustGenome(t, "RSI-L=20")
	tick := candleAt(baseTs(t), 100, 100, 100, 100)

	_, err := rsi.ComputeBuySellSignal(genome, tick, "not a slice")
	require.Error(t, err)

	_, err = rsi.ComputeBuySellSignal(genome, tick, []float64{})
	require.Error(t, err)
}
