package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

// anyArgs builds n pgxmock.AnyArg() matchers for expectations that do not
// care about the statement's arguments.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestGetBotDefinitionByName(t *testing.T) {
	database, mock := newMockDB(t)
	workspaceID := uuid.New()
	defID := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "workspace_id", "strategy_id", "name", "display_name",
		"description", "symbols", "genome", "created_at", "updated_at",
	}).AddRow(defID, workspaceID, uuid.New(), "alpha", "Backtest for 'alpha'",
		"", "BTC-USDT", "RSI-L=20", now, now)

	mock.ExpectQuery("SELECT(.+)FROM bot_definitions").
		WithArgs(workspaceID, "alpha").
		WillReturnRows(rows)

	def, err := database.GetBotDefinitionByName(context.Background(), nil, workspaceID, "alpha")
	require.NoError(t, err)
	assert.Equal(t, defID, def.ID)
	assert.Equal(t, "RSI-L=20", def.Genome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBotDefinitionByNameNotFound(t *testing.T) {
	database, mock := newMockDB(t)
	workspaceID := uuid.New()

	mock.ExpectQuery("SELECT(.+)FROM bot_definitions").
		WithArgs(workspaceID, "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := database.GetBotDefinitionByName(context.Background(), nil, workspaceID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrder(t *testing.T) {
	database, mock := newMockDB(t)

	order := &Order{
		BotRunID:      uuid.New(),
		ExchangeID:    "binance",
		BaseSymbolID:  "BTC",
		QuoteSymbolID: "USDT",
		StateID:       OrderStateOpen,
		TypeID:        OrderTypeLimitBuy,
		Quantity:      decimal.RequireFromString("0.5"),
		Price:         decimal.NewFromInt(20000),
		Gross:         decimal.NewFromInt(-10000),
		Opened:        time.Now(),
	}

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(anyArgs(18)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := database.InsertOrder(context.Background(), nil, order)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, order.ID, "insert assigns an id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrdersForRun(t *testing.T) {
	database, mock := newMockDB(t)
	runID := uuid.New()
	opened := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "bot_run_id", "exchange_id", "ext_order_id", "display_name",
		"base_symbol_id", "quote_symbol_id", "state_id", "type_id", "quantity",
		"price", "gross", "fees", "strike", "limit_price", "related_order_id",
		"opened", "closed",
	}).AddRow(
		uuid.New(), runID, "binance", "FAKE", "BUY 0.5 X BTC",
		"BTC", "USDT", OrderStateClosed, OrderTypeLimitBuy,
		decimal.RequireFromString("0.5"), decimal.NewFromInt(20000),
		decimal.NewFromInt(-10000), decimal.NewFromInt(20),
		decimal.NewFromInt(20040), decimal.NewFromInt(20000),
		(*uuid.UUID)(nil), opened, (*time.Time)(nil),
	)

	mock.ExpectQuery("SELECT(.+)FROM orders").
		WithArgs(runID).
		WillReturnRows(rows)

	orders, err := database.GetOrdersForRun(context.Background(), nil, runID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, OrderTypeLimitBuy, orders[0].TypeID)
	assert.True(t, orders[0].Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mutation_sets").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := database.WithTx(context.Background(), func(tx pgx.Tx) error {
		return database.InsertMutationSet(context.Background(), tx, &MutationSet{
			TypeID: MutationSetManualMutateBackTest,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	database, mock := newMockDB(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := database.WithTx(context.Background(), func(tx pgx.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStopBotRunMarksError(t *testing.T) {
	database, mock := newMockDB(t)
	instanceID := uuid.New()

	mock.ExpectExec("UPDATE bot_runs").
		WithArgs(instanceID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bot_instances").
		WithArgs(instanceID, RunStateError).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := database.StopBotRun(context.Background(), nil, instanceID, "simulation failed")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
