package bot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/indicators"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
)

// Implementation is one bot variant behind a registry tag. The FSM methods
// never mutate the passed state; they return a fresh state, and order
// placements come back as effects for the caller to execute.
type Implementation interface {
	// Tag returns the registry tag stored in genomes and the database.
	Tag() string

	// Initialize prepares the context for ticking, restoring persisted FSM
	// state where present.
	Initialize(ctx context.Context, bc *Context) error

	// ComputeIndicatorsForTick computes every active indicator's values for
	// the tick and stores them on the context.
	ComputeIndicatorsForTick(ctx context.Context, bc *Context, window []market.Candle, tick market.Candle) error

	// ComputeSignal folds the computed indicator values into one weighted
	// buy/sell signal.
	ComputeSignal(bc *Context, tick market.Candle) (float64, error)

	// Evaluate advances the FSM one tick, returning the successor state and
	// the orders to place.
	Evaluate(bc *Context, signal float64, tick market.Candle) (*State, []OrderEffect, error)

	// HandleOrderStatusChange advances the FSM on an order confirmation.
	HandleOrderStatusChange(st *State, orderState db.OrderState, at time.Time) (*State, error)
}

// ProcessTick runs one full tick against a context: indicators, signal, FSM
// evaluation, and effect execution through the context's delegate.
func ProcessTick(ctx context.Context, impl Implementation, bc *Context, window []market.Candle, tick market.Candle) error {
	if err := impl.ComputeIndicatorsForTick(ctx, bc, window, tick); err != nil {
		return err
	}

	signal, err := impl.ComputeSignal(bc, tick)
	if err != nil {
		return err
	}

	newState, effects, err := impl.Evaluate(bc, signal, tick)
	if err != nil {
		return err
	}
	bc.State = newState

	return bc.ExecuteEffects(ctx, impl, tick, effects)
}

// GeneticBot is the stock implementation: indicator signals gated by buy and
// sell thresholds, surf states that ride a signal until the exit condition
// lands, and stop-loss exits that pre-empt the signal entirely.
type GeneticBot struct{}

// Tag implements Implementation.
func (b *GeneticBot) Tag() string {
	return genetics.DefaultBotImpl
}

// Initialize restores the instance's persisted FSM state, or starts fresh
// when none was saved yet.
func (b *GeneticBot) Initialize(ctx context.Context, bc *Context) error {
	if bc.State == nil {
		st, err := ParseState(bc.Instance.StateJSON)
		if err != nil {
			return err
		}
		if st.FsmState == "" {
			st = NewState(bc.Instance.PrevTick)
		}
		bc.State = st
	}
	if bc.Indicators == nil {
		bc.Indicators = map[string]indicators.Values{}
	}

	bc.Log.Debug().
		Str("fsm_state", string(bc.State.FsmState)).
		Msg("Bot initialized")
	return nil
}

// ComputeIndicatorsForTick fans the active indicators out over a goroutine
// per indicator and collects their values keyed by chromosome.
func (b *GeneticBot) ComputeIndicatorsForTick(ctx context.Context, bc *Context, window []market.Candle, tick market.Candle) error {
	active := indicators.ForGenome(bc.Genome)
	values := make([]indicators.Values, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, ind := range active {
		g.Go(func() error {
			v, err := ind.Compute(gctx, bc.Genome, window, tick)
			if err != nil {
				return fmt.Errorf("indicator %s: %w", ind.Chromosome(), err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := make(map[string]indicators.Values, len(active))
	for i, ind := range active {
		out[ind.Chromosome()] = values[i]
	}
	bc.Indicators = out
	return nil
}

// ComputeSignal averages the active indicators' signals, each scaled by its
// buy weight when the bot is hunting an entry and its sell weight when it is
// hunting an exit.
func (b *GeneticBot) ComputeSignal(bc *Context, tick market.Candle) (float64, error) {
	active := indicators.ForGenome(bc.Genome)
	if len(active) == 0 {
		return 0, nil
	}

	buying := bc.State.FsmState == StateSurfBuy || bc.State.FsmState == StateWaitingForBuyOpp

	var weightedSum float64
	for _, ind := range active {
		vals, ok := bc.Indicators[ind.Chromosome()]
		if !ok {
			return 0, fmt.Errorf("no computed values for indicator %s", ind.Chromosome())
		}
		signal, err := ind.ComputeBuySellSignal(bc.Genome, tick, vals)
		if err != nil {
			return 0, fmt.Errorf("indicator %s: %w", ind.Chromosome(), err)
		}
		buyWeight, sellWeight := ind.BuySellWeights(bc.Genome)
		weight := sellWeight
		if buying {
			weight = buyWeight
		}
		weightedSum += signal * weight
	}

	return weightedSum / float64(len(active)), nil
}

// Evaluate implements the FSM transition for one tick.
func (b *GeneticBot) Evaluate(bc *Context, signal float64, tick market.Candle) (*State, []OrderEffect, error) {
	st := bc.State
	switch st.FsmState {
	case StateWaitingForBuyOrderConf, StateWaitingForSellOrderConf:
		// Holding for the exchange; nothing to decide.
		return st.Copy(), nil, nil
	case StateWaitingForBuyOpp, StateWaitingForSellOpp:
		return b.waitForTradeEntryOrExit(bc, st, signal, tick)
	case StateSurfBuy, StateSurfSell:
		return b.surf(bc, st.Copy(), tick)
	default:
		return nil, nil, fmt.Errorf("unknown fsm state %q", st.FsmState)
	}
}

func (b *GeneticBot) waitForTradeEntryOrExit(bc *Context, st *State, signal float64, tick market.Candle) (*State, []OrderEffect, error) {
	// A breached stop-loss sells immediately, regardless of what the
	// indicators say.
	if st.FsmState == StateWaitingForSellOpp && b.stopLossHit(bc.Genome, st, tick) {
		bc.Log.Info().
			Str("close", tick.Close.String()).
			Str("stop_loss_price", st.StopLossPrice.String()).
			Msg("Stop-loss hit, selling")
		next := st.WithFsmState(StateWaitingForSellOrderConf, tick.Ts)
		return next, []OrderEffect{{Buy: false, Price: tick.Close, Limit: tick.Close}}, nil
	}

	if st.FsmState == StateWaitingForBuyOpp {
		buyThreshold := bc.Genome.MustGene(genetics.ChromoBuy, genetics.GeneBuyThresh).Float()
		if signal >= buyThreshold {
			return b.surf(bc, st.WithFsmState(StateSurfBuy, tick.Ts), tick)
		}
	} else {
		sellThreshold := bc.Genome.MustGene(genetics.ChromoSell, genetics.GeneSellThresh).Float()
		if signal <= sellThreshold {
			return b.surf(bc, st.WithFsmState(StateSurfSell, tick.Ts), tick)
		}
	}

	return st.Copy(), nil, nil
}

// surf rides an entry or exit opportunity. Buys commit right away; sells
// hold out for the profit target unless the target gene is inactive or the
// stop-loss is breached. The caller must pass a state it owns.
func (b *GeneticBot) surf(bc *Context, st *State, tick market.Candle) (*State, []OrderEffect, error) {
	switch st.FsmState {
	case StateSurfBuy:
		next := st.WithFsmState(StateWaitingForBuyOrderConf, tick.Ts)
		return next, []OrderEffect{{Buy: true, Price: tick.Close, Limit: tick.Close}}, nil

	case StateSurfSell:
		targetGene := bc.Genome.MustGene(genetics.ChromoProfit, genetics.GeneProfitTgt)
		sellNow := !targetGene.Active() ||
			tick.Close.GreaterThanOrEqual(st.TargetPrice) ||
			b.stopLossHit(bc.Genome, st, tick)
		if !sellNow {
			return st, nil, nil
		}
		next := st.WithFsmState(StateWaitingForSellOrderConf, tick.Ts)
		return next, []OrderEffect{{Buy: false, Price: tick.Close, Limit: tick.Close}}, nil
	}
	return st, nil, nil
}

func (b *GeneticBot) stopLossHit(genome *genetics.Genome, st *State, tick market.Candle) bool {
	gene := genome.MustGene(genetics.ChromoStopLoss, genetics.GeneStopAbs)
	return gene.Active() && !st.StopLossPrice.IsZero() && tick.Close.LessThanOrEqual(st.StopLossPrice)
}

// HandleOrderStatusChange advances the FSM on an order confirmation. Open
// and filling confirmations are acknowledgements only. A closed buy puts
// the bot on the hunt for an exit; a closed sell puts it back on the hunt
// for an entry. A close landing in any other state means an order event was
// lost or duplicated upstream, which is fatal for the run.
func (b *GeneticBot) HandleOrderStatusChange(st *State, orderState db.OrderState, at time.Time) (*State, error) {
	switch orderState {
	case db.OrderStateOpen, db.OrderStateFilling:
		return st.Copy(), nil
	case db.OrderStateClosed:
		switch st.FsmState {
		case StateWaitingForBuyOrderConf:
			return st.WithFsmState(StateWaitingForSellOpp, at), nil
		case StateWaitingForSellOrderConf:
			return st.WithFsmState(StateWaitingForBuyOpp, at), nil
		default:
			metrics.StateErrors.Inc()
			return nil, &StateError{State: st.FsmState}
		}
	default:
		return st.Copy(), nil
	}
}
