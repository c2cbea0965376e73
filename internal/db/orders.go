package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStateFilling   OrderState = "filling"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateClosed    OrderState = "closed"
	OrderStateError     OrderState = "error"
)

// OrderType combines side and execution style.
type OrderType string

const (
	OrderTypeLimitBuy   OrderType = "buy.limit"
	OrderTypeLimitSell  OrderType = "sell.limit"
	OrderTypeMarketBuy  OrderType = "buy.market"
	OrderTypeMarketSell OrderType = "sell.market"
)

// IsBuy reports whether this order type enters a position.
func (t OrderType) IsBuy() bool {
	return t == OrderTypeLimitBuy || t == OrderTypeMarketBuy
}

// Order is one buy or sell placed within a bot run. A sell's RelatedOrderID
// links back to the buy it closes; orders are append-only within a run.
type Order struct {
	ID             uuid.UUID
	BotRunID       uuid.UUID
	ExchangeID     string
	ExtOrderID     string
	DisplayName    string
	BaseSymbolID   string
	QuoteSymbolID  string
	StateID        OrderState
	TypeID         OrderType
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Gross          decimal.Decimal
	Fees           decimal.Decimal
	Strike         decimal.Decimal
	Limit          decimal.Decimal
	RelatedOrderID *uuid.UUID
	Opened         time.Time
	Closed         *time.Time
}

// InsertOrder persists a new order.
func (db *DB) InsertOrder(ctx context.Context, tx pgx.Tx, order *Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	query := `
		INSERT INTO orders (
			id, bot_run_id, exchange_id, ext_order_id, display_name,
			base_symbol_id, quote_symbol_id, state_id, type_id, quantity,
			price, gross, fees, strike, limit_price, related_order_id,
			opened, closed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18
		)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		order.ID, order.BotRunID, order.ExchangeID, order.ExtOrderID,
		order.DisplayName, order.BaseSymbolID, order.QuoteSymbolID,
		order.StateID, order.TypeID, order.Quantity, order.Price, order.Gross,
		order.Fees, order.Strike, order.Limit, order.RelatedOrderID,
		order.Opened, order.Closed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	log.Debug().
		Str("order_id", order.ID.String()).
		Str("type", string(order.TypeID)).
		Str("display_name", order.DisplayName).
		Msg("Order inserted")
	return nil
}

// UpdateOrder rewrites an order's mutable columns.
func (db *DB) UpdateOrder(ctx context.Context, tx pgx.Tx, order *Order) error {
	query := `
		UPDATE orders
		SET state_id = $2, gross = $3, fees = $4, related_order_id = $5, closed = $6
		WHERE id = $1
	`
	_, err := db.querier(tx).Exec(ctx, query,
		order.ID, order.StateID, order.Gross, order.Fees, order.RelatedOrderID, order.Closed,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	return nil
}

// GetOrderByID returns one order.
func (db *DB) GetOrderByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Order, error) {
	query := `
		SELECT id, bot_run_id, exchange_id, ext_order_id, display_name,
		       base_symbol_id, quote_symbol_id, state_id, type_id, quantity,
		       price, gross, fees, strike, limit_price, related_order_id,
		       opened, closed
		FROM orders
		WHERE id = $1
	`
	var o Order
	err := db.querier(tx).QueryRow(ctx, query, id).Scan(
		&o.ID, &o.BotRunID, &o.ExchangeID, &o.ExtOrderID, &o.DisplayName,
		&o.BaseSymbolID, &o.QuoteSymbolID, &o.StateID, &o.TypeID,
		&o.Quantity, &o.Price, &o.Gross, &o.Fees, &o.Strike, &o.Limit,
		&o.RelatedOrderID, &o.Opened, &o.Closed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return &o, nil
}

// GetOrdersForRun returns all of a run's orders ordered by open time.
func (db *DB) GetOrdersForRun(ctx context.Context, tx pgx.Tx, runID uuid.UUID) ([]*Order, error) {
	query := `
		SELECT id, bot_run_id, exchange_id, ext_order_id, display_name,
		       base_symbol_id, quote_symbol_id, state_id, type_id, quantity,
		       price, gross, fees, strike, limit_price, related_order_id,
		       opened, closed
		FROM orders
		WHERE bot_run_id = $1
		ORDER BY opened
	`
	rows, err := db.querier(tx).Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for run %s: %w", runID, err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID, &o.BotRunID, &o.ExchangeID, &o.ExtOrderID, &o.DisplayName,
			&o.BaseSymbolID, &o.QuoteSymbolID, &o.StateID, &o.TypeID,
			&o.Quantity, &o.Price, &o.Gross, &o.Fees, &o.Strike, &o.Limit,
			&o.RelatedOrderID, &o.Opened, &o.Closed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order rows: %w", err)
	}
	return orders, nil
}
