package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
)

// Store is the slice of the persistence layer the runner depends on. It is
// satisfied by *db.DB.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetBotDefinitionByName(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, name string) (*db.BotDefinition, error)
	InsertBotDefinition(ctx context.Context, tx pgx.Tx, def *db.BotDefinition) error
	InsertBotInstance(ctx context.Context, tx pgx.Tx, inst *db.BotInstance) error
	StartBotRun(ctx context.Context, tx pgx.Tx, instanceID uuid.UUID) (*db.BotRun, error)
	StopBotRun(ctx context.Context, tx pgx.Tx, instanceID uuid.UUID, errMsg string) error
	InsertRunReport(ctx context.Context, tx pgx.Tx, runID uuid.UUID, report any) error
}

// Capital is the slice of the capital service the runner depends on. It is
// satisfied by *capital.Service.
type Capital interface {
	CreateAllocationForBot(ctx context.Context, tx pgx.Tx, strategyID uuid.UUID, allocSpec string, maxWagerPct decimal.Decimal, live bool) (*capital.Ledger, error)
}

// BacktestRequest describes one backtest to run.
type BacktestRequest struct {
	WorkspaceID uuid.UUID
	StrategyID  uuid.UUID
	Name        string
	Genome      string
	Symbols     string
	From        time.Time
	To          time.Time
	Budget      string
	MaxWagerPct decimal.Decimal
	// ReturnEarly detaches the simulation: the caller gets a handle
	// immediately and the report is persisted when the run finishes.
	ReturnEarly bool
}

// RunHandle identifies a detached run for later report retrieval.
type RunHandle struct {
	InstanceID uuid.UUID
	Name       string
}

// Runner executes backtests: it materializes the definition, instance,
// allocation and run records, replays the price window through the FSM, and
// aggregates the report.
type Runner struct {
	store   Store
	capital Capital
	prices  market.PriceDataProvider

	// cacheMu serializes cache access: detached simulations over the same
	// series share a key, and the cache itself does no locking.
	cacheMu sync.Mutex
	cache   *market.TimeSeriesCache[market.Candle]
}

// NewRunner builds a backtest runner. The candle cache is keyed by exchange,
// symbol pair and resolution and bounded so repeated simulations over the
// same series stay cheap.
func NewRunner(store Store, cap Capital, prices market.PriceDataProvider) *Runner {
	return &Runner{
		store:   store,
		capital: cap,
		prices:  prices,
		cache: market.NewTimeSeriesCache(market.TimeSeriesCacheArgs[market.Candle]{
			MaxKeys:        64,
			MaxItemsPerKey: 50000,
			Accessor:       func(c market.Candle) time.Time { return c.Ts },
		}),
	}
}

// WithCacheBounds replaces the candle cache with one sized from
// configuration. Call before the first Run.
func (r *Runner) WithCacheBounds(maxKeys, maxItemsPerKey int) *Runner {
	r.cache = market.NewTimeSeriesCache(market.TimeSeriesCacheArgs[market.Candle]{
		MaxKeys:        maxKeys,
		MaxItemsPerKey: maxItemsPerKey,
		Accessor:       func(c market.Candle) time.Time { return c.Ts },
	})
	return r
}

// Run executes the request. With ReturnEarly the returned report is nil and
// the simulation continues in the background with no cancellation; it
// persists its own report on completion. Otherwise the call blocks until the
// full report is available.
func (r *Runner) Run(ctx context.Context, req BacktestRequest) (*RunHandle, *Report, error) {
	parsed, err := genetics.Parse(req.Genome)
	if err != nil {
		return nil, nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, nil, fmt.Errorf("invalid genome: %s", parsed.Errors[0])
	}
	genome := parsed.Genome

	resolution := genome.MustGene(genetics.ChromoTime, genetics.GeneTimeRes).Resolution()
	baseSymbol, quoteSymbol, err := market.ParseSymbolPair(req.Symbols)
	if err != nil {
		return nil, nil, err
	}

	var (
		def  *db.BotDefinition
		inst *db.BotInstance
		run  *db.BotRun
		item *db.AllocationItem
	)
	err = r.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := r.store.GetBotDefinitionByName(ctx, tx, req.WorkspaceID, req.Name)
		if err == nil {
			return fmt.Errorf("bot definition %q already exists in workspace %s", req.Name, req.WorkspaceID)
		}
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}

		def = &db.BotDefinition{
			WorkspaceID: req.WorkspaceID,
			StrategyID:  req.StrategyID,
			Name:        req.Name,
			DisplayName: req.Name,
			Symbols:     req.Symbols,
			Genome:      genome.String(),
		}
		if err := r.store.InsertBotDefinition(ctx, tx, def); err != nil {
			return err
		}

		ledger, err := r.capital.CreateAllocationForBot(ctx, tx, req.StrategyID, req.Budget, req.MaxWagerPct, false)
		if err != nil {
			return err
		}
		if len(ledger.Items) == 0 {
			return fmt.Errorf("allocation %s has no items", ledger.Alloc.ID)
		}
		item = ledger.Items[0]

		inst = &db.BotInstance{
			DefinitionID:  def.ID,
			AllocationID:  ledger.Alloc.ID,
			ExchangeID:    "binance",
			Name:          req.Name,
			TypeID:        "genetic",
			ModeID:        db.ModeBackTest,
			ResID:         resolution,
			Symbols:       req.Symbols,
			CurrentGenome: genome.String(),
			RunState:      db.RunStateActive,
			PrevTick:      req.From,
			StateInternal: db.StateInternal{BaseSymbolID: baseSymbol, QuoteSymbolID: quoteSymbol},
		}
		if err := r.store.InsertBotInstance(ctx, tx, inst); err != nil {
			return err
		}

		run, err = r.store.StartBotRun(ctx, tx, inst.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	handle := &RunHandle{InstanceID: inst.ID, Name: req.Name}

	if req.ReturnEarly {
		go func() {
			if _, err := r.simulate(context.WithoutCancel(ctx), def, inst, run, genome, item, req); err != nil {
				log.Error().Err(err).
					Str("instance_id", inst.ID.String()).
					Str("name", req.Name).
					Msg("Detached backtest failed")
			}
		}()
		return handle, nil, nil
	}

	report, err := r.simulate(ctx, def, inst, run, genome, item, req)
	return handle, report, err
}

// simulate runs the tick loop and persists the outcome. On simulation error
// the run is marked errored, the partial report carries the error message,
// and the error is still returned to the caller.
func (r *Runner) simulate(ctx context.Context, def *db.BotDefinition, inst *db.BotInstance, run *db.BotRun, genome *genetics.Genome, item *db.AllocationItem, req BacktestRequest) (*Report, error) {
	report := &Report{
		InstanceID: inst.ID,
		RunID:      run.ID,
		Name:       req.Name,
		Genome:     genome.String(),
		Symbols:    req.Symbols,
		From:       req.From,
		To:         req.To,
	}

	started := time.Now()
	simErr := r.runSimulation(ctx, def, inst, run, genome, item, req, report)
	if simErr != nil {
		report.Error = simErr.Error()
		metrics.RecordBacktest(metrics.OutcomeErrored, time.Since(started).Seconds())
	} else {
		metrics.RecordBacktest(metrics.OutcomeCompleted, time.Since(started).Seconds())
	}

	persistErr := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		errMsg := ""
		if simErr != nil {
			errMsg = simErr.Error()
		}
		if err := r.store.StopBotRun(ctx, tx, inst.ID, errMsg); err != nil {
			return err
		}
		return r.store.InsertRunReport(ctx, tx, run.ID, report)
	})

	if simErr != nil {
		return report, simErr
	}
	if persistErr != nil {
		return report, persistErr
	}

	log.Info().
		Str("instance_id", inst.ID.String()).
		Str("name", req.Name).
		Str("total_profit", report.TotalProfit.String()).
		Int("orders", len(report.Orders)).
		Msg("Backtest completed")
	return report, nil
}

func (r *Runner) runSimulation(ctx context.Context, def *db.BotDefinition, inst *db.BotInstance, run *db.BotRun, genome *genetics.Genome, item *db.AllocationItem, req BacktestRequest, report *Report) error {
	resolution := genome.MustGene(genetics.ChromoTime, genetics.GeneTimeRes).Resolution()
	maxIntervals := int(genome.MustGene(genetics.ChromoTime, genetics.GeneTimeMaxInt).Float())
	if maxIntervals < 2 {
		return fmt.Errorf("genome requires at least 2 intervals, got %d", maxIntervals)
	}

	// The lookback primes indicators before the scored window begins.
	lookback := time.Duration(maxIntervals) * resolution.Duration()
	loadFrom := req.From.Add(-lookback)

	// With FillMissing set the provider yields one candle per interval, so a
	// cached range shorter than the window is incomplete and counts as a miss.
	cacheKey := fmt.Sprintf("%s/%s/%s", inst.ExchangeID, req.Symbols, resolution)
	wantCandles := int(req.To.Sub(loadFrom) / resolution.Duration())

	r.cacheMu.Lock()
	prices := r.cache.GetCachedRange(cacheKey, loadFrom, req.To)
	r.cacheMu.Unlock()

	if wantCandles > 0 && len(prices) >= wantCandles {
		metrics.PriceCacheHits.Inc()
	} else {
		metrics.PriceCacheMisses.Inc()
		result, err := r.prices.GetSymbolPriceData(ctx, market.PriceDataParams{
			Exchange:    inst.ExchangeID,
			SymbolPair:  req.Symbols,
			Resolution:  resolution,
			From:        loadFrom,
			To:          req.To,
			FillMissing: true,
		})
		if err != nil {
			return err
		}
		prices = result.Prices
		report.MissingRanges = result.MissingRanges
		r.cacheFetched(cacheKey, prices)
	}

	if len(prices) <= maxIntervals {
		return fmt.Errorf("insufficient price history for %s: got %d candles, need more than %d", req.Symbols, len(prices), maxIntervals)
	}

	impl, err := ImplementationForGenome(genome)
	if err != nil {
		return err
	}

	bc := NewBacktestContext(def, inst, run, genome, item)
	bc.Prices = prices
	if err := impl.Initialize(ctx, bc); err != nil {
		return err
	}
	bc.State = NewState(req.From)

	// Strictly sequential by ascending timestamp; stop-loss and target
	// comparisons depend on the ordering.
	for i := 1; i <= len(prices)-maxIntervals; i++ {
		full := prices[i : i+maxIntervals]
		tick := full[len(full)-1]
		if tick.IsGap() {
			continue
		}
		window := full[:len(full)-1]
		if err := ProcessTick(ctx, impl, bc, window, tick); err != nil {
			return err
		}
	}

	orders := bc.BacktestOrders
	if n := len(orders); n > 0 && orders[n-1].TypeID.IsBuy() {
		report.TrailingOrder = orders[n-1]
		orders = orders[:n-1]
	}
	report.Orders = orders

	firstClose, lastClose := windowCloses(prices[maxIntervals-1:])
	report.finalize(item.Amount, firstClose, lastClose)
	return nil
}

// cacheFetched folds a fetched series into the candle cache. The cache
// requires appends to stay sorted and duplicate-free per key, so an existing
// entry is only ever extended past its covered end; candles at or before it
// are dropped.
func (r *Runner) cacheFetched(key string, prices []market.Candle) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	entry := r.cache.GetEntry(key)
	if entry == nil {
		r.cache.Append(key, prices...)
		return
	}
	for i, c := range prices {
		if c.Ts.After(entry.To) {
			r.cache.Append(key, prices[i:]...)
			return
		}
	}
}

// windowCloses returns the first and last non-gap closes of the scored
// window.
func windowCloses(prices []market.Candle) (first, last decimal.Decimal) {
	for _, c := range prices {
		if c.IsGap() {
			continue
		}
		if first.IsZero() {
			first = c.Close
		}
		last = c.Close
	}
	return first, last
}
