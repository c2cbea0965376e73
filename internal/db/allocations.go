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

// AllocationTransactionType distinguishes ledger debits from credits.
type AllocationTransactionType string

const (
	AllocationDebit  AllocationTransactionType = "debit"
	AllocationCredit AllocationTransactionType = "credit"
)

// Allocation is a pot of capital granted to a strategy. Live allocations
// draw on real funds; test allocations are paper money.
type Allocation struct {
	ID         uuid.UUID
	StrategyID uuid.UUID
	Live       bool
	CreatedAt  time.Time
}

// AllocationItem is one symbol's share of an allocation, with a cap on how
// much of it a single wager may commit.
type AllocationItem struct {
	ID           uuid.UUID
	AllocationID uuid.UUID
	SymbolID     string
	Amount       decimal.Decimal
	MaxWagerPct  decimal.Decimal
}

// AllocationTransaction records one movement of funds against an item,
// linked to the order that caused it.
type AllocationTransaction struct {
	ID               uuid.UUID
	AllocationItemID uuid.UUID
	OrderID          uuid.UUID
	DisplayName      string
	TypeID           AllocationTransactionType
	Amount           decimal.Decimal
	CreatedAt        time.Time
}

// InsertAllocation persists a new allocation.
func (db *DB) InsertAllocation(ctx context.Context, tx pgx.Tx, alloc *Allocation) error {
	if alloc.ID == uuid.Nil {
		alloc.ID = uuid.New()
	}
	alloc.CreatedAt = time.Now()

	query := `
		INSERT INTO allocations (id, strategy_id, live, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := db.querier(tx).Exec(ctx, query, alloc.ID, alloc.StrategyID, alloc.Live, alloc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}

	log.Debug().
		Str("allocation_id", alloc.ID.String()).
		Bool("live", alloc.Live).
		Msg("Allocation inserted")
	return nil
}

// InsertAllocationItem persists one symbol's share of an allocation.
func (db *DB) InsertAllocationItem(ctx context.Context, tx pgx.Tx, item *AllocationItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	query := `
		INSERT INTO allocation_items (id, allocation_id, symbol_id, amount, max_wager_pct)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		item.ID, item.AllocationID, item.SymbolID, item.Amount, item.MaxWagerPct,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation item: %w", err)
	}
	return nil
}

// GetAllocationByID fetches an allocation by primary key.
func (db *DB) GetAllocationByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Allocation, error) {
	query := `SELECT id, strategy_id, live, created_at FROM allocations WHERE id = $1`

	var alloc Allocation
	err := db.querier(tx).QueryRow(ctx, query, id).Scan(
		&alloc.ID, &alloc.StrategyID, &alloc.Live, &alloc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation %s: %w", id, err)
	}
	return &alloc, nil
}

// GetAllocationItems returns the items of an allocation.
func (db *DB) GetAllocationItems(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID) ([]*AllocationItem, error) {
	query := `
		SELECT id, allocation_id, symbol_id, amount, max_wager_pct
		FROM allocation_items
		WHERE allocation_id = $1
		ORDER BY symbol_id
	`
	rows, err := db.querier(tx).Query(ctx, query, allocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation items for %s: %w", allocationID, err)
	}
	defer rows.Close()

	var items []*AllocationItem
	for rows.Next() {
		var item AllocationItem
		if err := rows.Scan(&item.ID, &item.AllocationID, &item.SymbolID, &item.Amount, &item.MaxWagerPct); err != nil {
			return nil, fmt.Errorf("failed to scan allocation item row: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allocation item rows: %w", err)
	}
	return items, nil
}

// LockAllocationItemForSymbol fetches one item of an allocation and locks
// its row for the remainder of the transaction. Used to serialize debits
// against concurrent ticks.
func (db *DB) LockAllocationItemForSymbol(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, symbolID string) (*AllocationItem, error) {
	if tx == nil {
		return nil, fmt.Errorf("allocation item lock requires an open transaction")
	}

	query := `
		SELECT id, allocation_id, symbol_id, amount, max_wager_pct
		FROM allocation_items
		WHERE allocation_id = $1 AND symbol_id = $2
		FOR UPDATE
	`
	var item AllocationItem
	err := tx.QueryRow(ctx, query, allocationID, symbolID).Scan(
		&item.ID, &item.AllocationID, &item.SymbolID, &item.Amount, &item.MaxWagerPct,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock allocation item %s/%s: %w", allocationID, symbolID, err)
	}
	return &item, nil
}

// InsertAllocationTransaction records a ledger movement.
func (db *DB) InsertAllocationTransaction(ctx context.Context, tx pgx.Tx, trn *AllocationTransaction) error {
	if trn.ID == uuid.Nil {
		trn.ID = uuid.New()
	}
	trn.CreatedAt = time.Now()

	query := `
		INSERT INTO allocation_transactions (
			id, allocation_item_id, order_id, display_name, type_id, amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		trn.ID, trn.AllocationItemID, trn.OrderID, trn.DisplayName, trn.TypeID,
		trn.Amount, trn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation transaction: %w", err)
	}
	return nil
}

// UpdateAllocationItemAmount rewrites an item's remaining amount.
func (db *DB) UpdateAllocationItemAmount(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, amount decimal.Decimal) error {
	query := `UPDATE allocation_items SET amount = $2 WHERE id = $1`
	if _, err := db.querier(tx).Exec(ctx, query, itemID, amount); err != nil {
		return fmt.Errorf("failed to update allocation item %s: %w", itemID, err)
	}
	return nil
}
