package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/indicators"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
)

// simulatedFeeRate is the flat fee applied to the notional of simulated
// orders, standing in for real exchange fee schedules.
var simulatedFeeRate = decimal.RequireFromString("0.001")

// defaultTargetPct applies when the profit-target gene is inactive: exits
// still aim slightly above the entry so fees don't turn a flat exit into a
// loss.
var defaultTargetPct = decimal.RequireFromString("0.002")

// OrderEffect is an order-placement request produced by the FSM and
// executed by the driver through the context's delegate.
type OrderEffect struct {
	Buy   bool
	Price decimal.Decimal
	Limit decimal.Decimal
}

// OrderStatusEvent is the payload published to the worker queue when a
// forward-test order's simulated confirmation is decoupled from the
// placing tick.
type OrderStatusEvent struct {
	InstanceID uuid.UUID     `json:"instance_id"`
	RunID      uuid.UUID     `json:"run_id"`
	OrderID    uuid.UUID     `json:"order_id"`
	StateID    db.OrderState `json:"state_id"`
}

// Bus decouples order confirmations from the placing tick. Delivery is
// at-least-once with no ordering guarantee across instances.
type Bus interface {
	AddWorkerMessageHi(ctx context.Context, event string, payload any) error
}

// EventOrderStatus is the worker-queue event carrying OrderStatusEvent.
const EventOrderStatus = "orders.status"

// OrderDelegate places one order on behalf of the FSM. Implementations own
// whatever persistence and state bookkeeping their mode requires.
type OrderDelegate func(ctx context.Context, bc *Context, impl Implementation, tick market.Candle, buy bool) (*db.Order, error)

// Context is the runtime environment one bot implementation executes in.
// A context is bound to a single run and must only be ticked by one
// goroutine at a time.
type Context struct {
	Def           *db.BotDefinition
	Instance      *db.BotInstance
	Genome        *genetics.Genome
	RunID         uuid.UUID
	State         *State
	StateInternal db.StateInternal
	Prices        []market.Candle
	Indicators    map[string]indicators.Values
	Log           zerolog.Logger

	// BacktestOrders collects the orders synthesized by a backtest
	// context; other contexts leave it empty.
	BacktestOrders []*db.Order

	placeOrder OrderDelegate
}

// ExecuteEffects runs the FSM's order-placement requests through the
// context's delegate. Signal-only contexts have no delegate and treat the
// effects as inert.
func (bc *Context) ExecuteEffects(ctx context.Context, impl Implementation, tick market.Candle, effects []OrderEffect) error {
	if bc.placeOrder == nil {
		return nil
	}
	for _, eff := range effects {
		if _, err := bc.placeOrder(ctx, bc, impl, tick, eff.Buy); err != nil {
			return err
		}
		metrics.RecordOrder(eff.Buy)
	}
	return nil
}

// orderProps is the derived sizing and exit levels for one order.
type orderProps struct {
	Quantity      decimal.Decimal
	Gross         decimal.Decimal
	Fees          decimal.Decimal
	TargetPrice   decimal.Decimal
	StopLossPrice decimal.Decimal
}

// computeOrderProps derives an order's quantity, gross, simulated fee and
// the exit prices recorded into FSM state at buy time. Buys commit the
// allocation item's amount capped by its wager limit; sells close out the
// previously bought quantity.
func computeOrderProps(genome *genetics.Genome, st *State, item *db.AllocationItem, tick market.Candle, buy bool) (orderProps, error) {
	price := tick.Close
	if price.IsZero() {
		return orderProps{}, fmt.Errorf("cannot size order against a zero close price")
	}

	var props orderProps
	if buy {
		maxBuyingPower := item.Amount.Mul(item.MaxWagerPct)
		props.Quantity = maxBuyingPower.Div(price)
		props.Gross = price.Mul(props.Quantity).Neg()
	} else {
		props.Quantity = st.PrevQuantity
		props.Gross = price.Mul(props.Quantity)
	}
	props.Fees = props.Gross.Abs().Mul(simulatedFeeRate)

	targetGene := genome.MustGene(genetics.ChromoProfit, genetics.GeneProfitTgt)
	targetPct := defaultTargetPct
	if targetGene.Active() {
		targetPct = targetGene.Decimal()
	}
	props.TargetPrice = price.Add(price.Mul(targetPct))

	stopLossGene := genome.MustGene(genetics.ChromoStopLoss, genetics.GeneStopAbs)
	props.StopLossPrice = price.Add(price.Mul(stopLossGene.Decimal()))

	return props, nil
}

// applyOrderToState records a buy's position and exit levels into the FSM
// state, or clears them on a sell. Returns the buy order id a sell closes.
func applyOrderToState(st *State, order *db.Order, props orderProps, buy bool) string {
	if buy {
		st.PrevQuantity = props.Quantity
		st.PrevPrice = order.Price
		st.PrevOrderID = order.ID.String()
		st.StopLossPrice = props.StopLossPrice
		st.TargetPrice = props.TargetPrice
		return ""
	}

	related := st.PrevOrderID
	st.PrevQuantity = decimal.Decimal{}
	st.PrevPrice = decimal.Decimal{}
	st.PrevOrderID = ""
	st.StopLossPrice = decimal.Decimal{}
	st.TargetPrice = decimal.Decimal{}
	return related
}

// buildOrder assembles the common order record for one placement.
func buildOrder(bc *Context, tick market.Candle, props orderProps, buy bool) *db.Order {
	typeID := db.OrderTypeLimitSell
	verb := "SELL"
	if buy {
		typeID = db.OrderTypeLimitBuy
		verb = "BUY"
	}

	order := &db.Order{
		ID:            uuid.New(),
		BotRunID:      bc.RunID,
		ExchangeID:    bc.Instance.ExchangeID,
		ExtOrderID:    "FAKE",
		BaseSymbolID:  bc.StateInternal.BaseSymbolID,
		QuoteSymbolID: bc.StateInternal.QuoteSymbolID,
		StateID:       db.OrderStateOpen,
		TypeID:        typeID,
		Quantity:      props.Quantity,
		Price:         tick.Close,
		Gross:         props.Gross,
		Fees:          props.Fees,
		Strike:        props.TargetPrice,
		Limit:         tick.Close,
		Opened:        tick.Ts,
	}
	order.DisplayName = fmt.Sprintf("%s %s X %s @ %s %s = %s %s",
		verb, props.Quantity.Round(8), order.BaseSymbolID, order.Price,
		order.QuoteSymbolID, props.Gross.Round(8), order.QuoteSymbolID)
	return order
}

// NewBacktestContext builds a context whose order placement is entirely
// in-memory: orders are synthesized, confirmed open-then-closed within the
// same tick, and collected on the context.
func NewBacktestContext(def *db.BotDefinition, inst *db.BotInstance, run *db.BotRun, genome *genetics.Genome, item *db.AllocationItem) *Context {
	bc := &Context{
		Def:           def,
		Instance:      inst,
		Genome:        genome,
		RunID:         run.ID,
		StateInternal: inst.StateInternal,
		Log:           log.With().Str("instance_id", inst.ID.String()).Str("mode", string(inst.ModeID)).Logger(),
	}

	bc.placeOrder = func(ctx context.Context, bc *Context, impl Implementation, tick market.Candle, buy bool) (*db.Order, error) {
		props, err := computeOrderProps(bc.Genome, bc.State, item, tick, buy)
		if err != nil {
			return nil, err
		}

		order := buildOrder(bc, tick, props, buy)
		if related := applyOrderToState(bc.State, order, props, buy); related != "" {
			if relatedID, err := uuid.Parse(related); err == nil {
				order.RelatedOrderID = &relatedID
			}
		}
		bc.BacktestOrders = append(bc.BacktestOrders, order)

		// Simulate the exchange round trip: open confirmation, then close,
		// both within the placing tick.
		newState, err := impl.HandleOrderStatusChange(bc.State, db.OrderStateOpen, tick.Ts)
		if err != nil {
			return nil, err
		}
		bc.State = newState

		closed := tick.Ts
		order.StateID = db.OrderStateClosed
		order.Closed = &closed

		newState, err = impl.HandleOrderStatusChange(bc.State, db.OrderStateClosed, tick.Ts)
		if err != nil {
			return nil, err
		}
		bc.State = newState
		return order, nil
	}
	return bc
}

// NewLiveContext builds a context for live and forward-test execution:
// order placement debits the allocation ledger and persists the order and
// instance state in one transaction. Forward-test confirmations are
// enqueued on the worker bus rather than handled inline; live
// confirmations arrive from the exchange worker.
func NewLiveContext(database *db.DB, capitalSvc *capital.Service, messenger Bus, def *db.BotDefinition, inst *db.BotInstance, run *db.BotRun, genome *genetics.Genome) *Context {
	bc := &Context{
		Def:           def,
		Instance:      inst,
		Genome:        genome,
		RunID:         run.ID,
		StateInternal: inst.StateInternal,
		Log:           log.With().Str("instance_id", inst.ID.String()).Str("mode", string(inst.ModeID)).Logger(),
	}

	bc.placeOrder = func(ctx context.Context, bc *Context, impl Implementation, tick market.Candle, buy bool) (*db.Order, error) {
		var placed *db.Order

		err := capitalSvc.Transact(ctx, inst.ID, bc.StateInternal.QuoteSymbolID, nil, func(item *db.AllocationItem, tx pgx.Tx) (*db.AllocationTransaction, error) {
			ledger, err := capitalSvc.GetAllocationLedger(ctx, tx, inst.AllocationID)
			if err != nil {
				return nil, err
			}
			// This must never happen: a test-mode bot withdrawing real funds.
			if ledger.Alloc.Live && !inst.ModeID.IsLive() {
				return nil, fmt.Errorf("FATAL: bot %s in mode %s requested a withdrawal from a live allocation", inst.ID, inst.ModeID)
			}

			props, err := computeOrderProps(bc.Genome, bc.State, item, tick, buy)
			if err != nil {
				return nil, err
			}

			order := buildOrder(bc, tick, props, buy)
			if inst.ModeID.IsLive() {
				order.Opened = time.Now()
				order.ExtOrderID = ""
			}
			if related := applyOrderToState(bc.State, order, props, buy); related != "" {
				if relatedID, err := uuid.Parse(related); err == nil {
					order.RelatedOrderID = &relatedID
				}
			}

			if err := database.InsertOrder(ctx, tx, order); err != nil {
				return nil, err
			}

			if inst.ModeID == db.ModeForwardTest {
				evt := OrderStatusEvent{
					InstanceID: inst.ID,
					RunID:      run.ID,
					OrderID:    order.ID,
					StateID:    db.OrderStateClosed,
				}
				if err := messenger.AddWorkerMessageHi(ctx, EventOrderStatus, evt); err != nil {
					return nil, err
				}
			}

			// Persist the FSM state in the same transaction as the order and
			// the ledger debit so a crash cannot leave them inconsistent.
			raw, err := bc.State.Marshal()
			if err != nil {
				return nil, err
			}
			inst.StateJSON = raw
			inst.PrevTick = time.Now()
			if err := database.UpdateBotInstance(ctx, tx, inst); err != nil {
				return nil, err
			}

			typeID := db.AllocationCredit
			if buy {
				typeID = db.AllocationDebit
			}
			placed = order
			return &db.AllocationTransaction{
				OrderID:     order.ID,
				DisplayName: order.DisplayName,
				TypeID:      typeID,
				Amount:      order.Gross,
			}, nil
		})
		if err != nil {
			return nil, err
		}
		return placed, nil
	}
	return bc
}

// NewSignalContext builds an inert context for recomputing indicators and
// signals after the fact. It is assembled from a request rather than a
// stored instance and cannot place orders.
func NewSignalContext(genomeText string, from time.Time) (*Context, error) {
	parsed, err := genetics.Parse(genomeText)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("invalid genome: %s", parsed.Errors[0])
	}

	def := &db.BotDefinition{ID: uuid.New()}
	inst := &db.BotInstance{
		ID:            uuid.New(),
		DefinitionID:  def.ID,
		ModeID:        db.ModeBackTest,
		CurrentGenome: genomeText,
		PrevTick:      from.Add(-time.Millisecond),
	}

	return &Context{
		Def:        def,
		Instance:   inst,
		Genome:     parsed.Genome,
		Log:        zerolog.Nop(),
		Indicators: map[string]indicators.Values{},
	}, nil
}
