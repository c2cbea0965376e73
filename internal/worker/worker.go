// Package worker runs the live and forward-test tick loop: it polls for
// runnable bot instances, feeds each one its latest candle window, and
// applies order-confirmation events arriving on the bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/genetick/genetick/internal/bot"
	"github.com/genetick/genetick/internal/bus"
	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
)

// Config bounds the worker's tick loop.
type Config struct {
	Concurrency int
	TickRate    time.Duration
}

// Worker ticks live-ish bot instances and handles order status events.
type Worker struct {
	db       *db.DB
	capital  *capital.Service
	bus      bot.Bus
	provider market.PriceDataProvider
	cfg      Config
}

// New builds a worker. The bus is used both for enqueuing forward-test
// confirmations during ticks and, via HandleOrderStatus, for applying them.
func New(database *db.DB, capitalSvc *capital.Service, messenger bot.Bus, provider market.PriceDataProvider, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = time.Second
	}
	return &Worker{
		db:       database,
		capital:  capitalSvc,
		bus:      messenger,
		provider: provider,
		cfg:      cfg,
	}
}

// Run polls for runnable instances until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickRate)
	defer ticker.Stop()

	log.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("tick_rate", w.cfg.TickRate).
		Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.TickOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Worker cycle failed")
			}
		}
	}
}

// TickOnce runs one poll cycle: every runnable forward-test, test-live and
// live instance that is due gets ticked. Instance failures stop that
// instance's run but never the cycle.
func (w *Worker) TickOnce(ctx context.Context) error {
	instances, err := w.db.ListRunnableBotInstances(ctx, nil, db.ModeForwardTest, db.ModeLiveTest, db.ModeLive)
	if err != nil {
		return err
	}
	metrics.ActiveInstances.Set(float64(len(instances)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, inst := range instances {
		if !w.due(inst) {
			continue
		}
		g.Go(func() error {
			if err := w.tickInstance(gctx, inst); err != nil {
				log.Error().Err(err).
					Str("instance_id", inst.ID.String()).
					Str("name", inst.Name).
					Msg("Instance tick failed, stopping run")
				w.stopErrored(gctx, inst.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// due reports whether a full resolution interval has elapsed since the
// instance's previous tick.
func (w *Worker) due(inst *db.BotInstance) bool {
	return time.Since(inst.PrevTick) >= inst.ResID.Duration()
}

func (w *Worker) tickInstance(ctx context.Context, inst *db.BotInstance) error {
	parsed, err := genetics.Parse(inst.CurrentGenome)
	if err != nil {
		return err
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("invalid genome on instance %s: %s", inst.ID, parsed.Errors[0])
	}
	genome := parsed.Genome

	var (
		def *db.BotDefinition
		run *db.BotRun
	)
	err = w.db.WithTx(ctx, func(tx pgx.Tx) error {
		def, err = w.db.GetBotDefinitionByID(ctx, tx, inst.DefinitionID)
		if err != nil {
			return err
		}
		run, err = w.db.GetActiveRunForInstance(ctx, tx, inst.ID)
		if errors.Is(err, db.ErrNotFound) {
			run, err = w.db.StartBotRun(ctx, tx, inst.ID)
		}
		return err
	})
	if err != nil {
		return err
	}

	window, tick, err := w.loadWindow(ctx, inst, genome)
	if err != nil {
		return err
	}
	if tick.IsGap() {
		log.Debug().
			Str("instance_id", inst.ID.String()).
			Time("ts", tick.Ts).
			Msg("Gap candle, skipping tick")
		return nil
	}

	bc := bot.NewLiveContext(w.db, w.capital, w.bus, def, inst, run, genome)
	impl, err := bot.ImplementationForGenome(genome)
	if err != nil {
		return err
	}
	if err := impl.Initialize(ctx, bc); err != nil {
		return err
	}

	if err := bot.ProcessTick(ctx, impl, bc, window, tick); err != nil {
		return err
	}
	metrics.TicksProcessed.WithLabelValues(string(inst.ModeID)).Inc()

	// Ticks that placed an order already persisted state inside the order
	// transaction; quiet ticks persist it here.
	return w.db.WithTx(ctx, func(tx pgx.Tx) error {
		raw, err := bc.State.Marshal()
		if err != nil {
			return err
		}
		inst.StateJSON = raw
		inst.PrevTick = tick.Ts
		return w.db.UpdateBotInstance(ctx, tx, inst)
	})
}

// loadWindow fetches the instance's indicator window plus the current
// candle: maxIntervals candles ending at the last closed interval.
func (w *Worker) loadWindow(ctx context.Context, inst *db.BotInstance, genome *genetics.Genome) ([]market.Candle, market.Candle, error) {
	resolution := genome.MustGene(genetics.ChromoTime, genetics.GeneTimeRes).Resolution()
	maxIntervals := int(genome.MustGene(genetics.ChromoTime, genetics.GeneTimeMaxInt).Float())
	if maxIntervals < 2 {
		return nil, market.Candle{}, fmt.Errorf("genome requires at least 2 intervals, got %d", maxIntervals)
	}

	interval := resolution.Duration()
	to := time.Now().Truncate(interval)
	from := to.Add(-time.Duration(maxIntervals) * interval)

	result, err := w.provider.GetSymbolPriceData(ctx, market.PriceDataParams{
		Exchange:    inst.ExchangeID,
		SymbolPair:  inst.Symbols,
		Resolution:  resolution,
		From:        from,
		To:          to,
		FillMissing: true,
	})
	metrics.RecordMarketRequest(inst.ExchangeID, err)
	if err != nil {
		return nil, market.Candle{}, err
	}
	if len(result.Prices) < maxIntervals {
		return nil, market.Candle{}, fmt.Errorf("insufficient price history for %s: got %d candles, need %d",
			inst.Symbols, len(result.Prices), maxIntervals)
	}

	full := result.Prices[len(result.Prices)-maxIntervals:]
	return full[:len(full)-1], full[len(full)-1], nil
}

// HandleOrderStatus applies one order confirmation from the bus: the order
// row moves to its new state and the FSM advances. A confirmation arriving
// in a state that cannot accept it stops the run.
func (w *Worker) HandleOrderStatus(msg *bus.WorkerMessage) error {
	var evt bot.OrderStatusEvent
	if err := msg.Decode(&evt); err != nil {
		return err
	}

	ctx := context.Background()
	err := w.db.WithTx(ctx, func(tx pgx.Tx) error {
		inst, err := w.db.GetBotInstanceByID(ctx, tx, evt.InstanceID)
		if err != nil {
			return err
		}
		order, err := w.db.GetOrderByID(ctx, tx, evt.OrderID)
		if err != nil {
			return err
		}

		parsed, err := genetics.Parse(inst.CurrentGenome)
		if err != nil {
			return err
		}
		if len(parsed.Errors) > 0 {
			return fmt.Errorf("invalid genome on instance %s: %s", inst.ID, parsed.Errors[0])
		}
		impl, err := bot.ImplementationForGenome(parsed.Genome)
		if err != nil {
			return err
		}

		st, err := bot.ParseState(inst.StateJSON)
		if err != nil {
			return err
		}

		now := time.Now()
		newState, err := impl.HandleOrderStatusChange(st, evt.StateID, now)
		if err != nil {
			return err
		}

		order.StateID = evt.StateID
		if evt.StateID == db.OrderStateClosed {
			order.Closed = &now
		}
		if err := w.db.UpdateOrder(ctx, tx, order); err != nil {
			return err
		}

		raw, err := newState.Marshal()
		if err != nil {
			return err
		}
		inst.StateJSON = raw
		if err := w.db.UpdateBotInstance(ctx, tx, inst); err != nil {
			return err
		}

		log.Info().
			Str("instance_id", inst.ID.String()).
			Str("order_id", order.ID.String()).
			Str("order_state", string(evt.StateID)).
			Str("fsm_state", string(newState.FsmState)).
			Msg("Order status applied")
		return nil
	})

	// A confirmation the FSM cannot accept means a lost or duplicated order
	// event; the run stops in its own transaction after the rollback.
	var stateErr *bot.StateError
	if errors.As(err, &stateErr) {
		w.stopErrored(ctx, evt.InstanceID, err)
	}
	return err
}

// stopErrored closes the instance's run with the tick error. Best effort:
// a failure here is logged, the original error already stopped the tick.
func (w *Worker) stopErrored(ctx context.Context, instanceID uuid.UUID, tickErr error) {
	err := w.db.WithTx(ctx, func(tx pgx.Tx) error {
		return w.db.StopBotRun(ctx, tx, instanceID, tickErr.Error())
	})
	if err != nil {
		log.Error().Err(err).
			Str("instance_id", instanceID.String()).
			Msg("Failed to mark run errored")
	}
}
