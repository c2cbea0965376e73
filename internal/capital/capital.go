// Package capital manages allocation ledgers: the pots of (real or paper)
// funds bots draw on, and the transactions recorded against them.
package capital

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/db"
)

// Ledger is an allocation together with its per-symbol items.
type Ledger struct {
	Alloc *db.Allocation
	Items []*db.AllocationItem
}

// TransactFn runs with the resolved allocation item inside the transaction
// that will also carry the order insert and instance state save. It returns
// the ledger movement to record, or an error to roll everything back.
type TransactFn func(item *db.AllocationItem, tx pgx.Tx) (*db.AllocationTransaction, error)

// Service provides capital operations over the persistence layer.
type Service struct {
	db *db.DB
}

// NewService creates a capital service.
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// GetAllocationLedger fetches an allocation and its items.
func (s *Service) GetAllocationLedger(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID) (*Ledger, error) {
	alloc, err := s.db.GetAllocationByID(ctx, tx, allocationID)
	if err != nil {
		return nil, err
	}
	items, err := s.db.GetAllocationItems(ctx, tx, allocationID)
	if err != nil {
		return nil, err
	}
	return &Ledger{Alloc: alloc, Items: items}, nil
}

// CreateAllocationForBot creates an allocation with a single item parsed
// from a spec like "1000 USDT".
func (s *Service) CreateAllocationForBot(ctx context.Context, tx pgx.Tx, strategyID uuid.UUID, allocSpec string, maxWagerPct decimal.Decimal, live bool) (*Ledger, error) {
	fields := strings.Fields(strings.TrimSpace(allocSpec))
	if len(fields) != 2 {
		return nil, fmt.Errorf("invalid allocation spec %q, expected 'amount symbol'", allocSpec)
	}
	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid allocation amount %q: %w", fields[0], err)
	}
	symbolID := strings.ToUpper(fields[1])

	if maxWagerPct.IsZero() {
		maxWagerPct = decimal.NewFromInt(1)
	}

	alloc := &db.Allocation{StrategyID: strategyID, Live: live}
	if err := s.db.InsertAllocation(ctx, tx, alloc); err != nil {
		return nil, err
	}

	item := &db.AllocationItem{
		AllocationID: alloc.ID,
		SymbolID:     symbolID,
		Amount:       amount,
		MaxWagerPct:  maxWagerPct,
	}
	if err := s.db.InsertAllocationItem(ctx, tx, item); err != nil {
		return nil, err
	}

	log.Info().
		Str("allocation_id", alloc.ID.String()).
		Str("symbol", symbolID).
		Str("amount", amount.String()).
		Bool("live", live).
		Msg("Allocation created")
	return &Ledger{Alloc: alloc, Items: []*db.AllocationItem{item}}, nil
}

// Transact resolves the allocation item backing an instance's quote symbol,
// locks it, runs fn, then records the returned ledger movement and adjusts
// the item's remaining amount. When no transaction is supplied a new one is
// opened and committed around the whole sequence.
func (s *Service) Transact(ctx context.Context, instanceID uuid.UUID, symbolID string, tx pgx.Tx, fn TransactFn) error {
	if tx == nil {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			return s.transact(ctx, instanceID, symbolID, tx, fn)
		})
	}
	return s.transact(ctx, instanceID, symbolID, tx, fn)
}

func (s *Service) transact(ctx context.Context, instanceID uuid.UUID, symbolID string, tx pgx.Tx, fn TransactFn) error {
	inst, err := s.db.GetBotInstanceByID(ctx, tx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to resolve instance %s: %w", instanceID, err)
	}

	item, err := s.db.LockAllocationItemForSymbol(ctx, tx, inst.AllocationID, symbolID)
	if err != nil {
		return fmt.Errorf("failed to resolve allocation item for %s/%s: %w", inst.AllocationID, symbolID, err)
	}

	trn, err := fn(item, tx)
	if err != nil {
		return err
	}
	if trn == nil {
		return nil
	}

	trn.AllocationItemID = item.ID
	if err := s.db.InsertAllocationTransaction(ctx, tx, trn); err != nil {
		return err
	}

	// Debits carry a negative amount, credits a positive one, so the
	// remaining balance is always a plain addition.
	remaining := item.Amount.Add(trn.Amount)
	if err := s.db.UpdateAllocationItemAmount(ctx, tx, item.ID, remaining); err != nil {
		return err
	}

	log.Debug().
		Str("instance_id", instanceID.String()).
		Str("symbol", symbolID).
		Str("amount", trn.Amount.String()).
		Str("remaining", remaining.String()).
		Msg("Allocation transaction recorded")
	return nil
}

// CompoundAnnualEstimate projects capital growth over a year by compounding
// the average daily return over 52 weekly periods.
func CompoundAnnualEstimate(capital decimal.Decimal, avgDailyPct float64) decimal.Decimal {
	weekly := 1 + avgDailyPct*7
	compounded := 1.0
	for i := 0; i < 52; i++ {
		compounded *= weekly
	}
	return capital.Mul(decimal.NewFromFloat(compounded - 1))
}
