package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/genetick/genetick/internal/market"
)

// Mode determines how a bot's orders are executed: simulated in-memory,
// persisted but paper-executed, or routed to a real exchange.
type Mode string

const (
	ModeBackTest    Mode = "test-back"
	ModeForwardTest Mode = "test-forward"
	ModeLive        Mode = "live"
	ModeLiveTest    Mode = "test-live"
)

// IsLive reports whether this mode draws on real funds.
func (m Mode) IsLive() bool {
	return m == ModeLive || m == ModeLiveTest
}

// RunState is the lifecycle state of a bot instance.
type RunState string

const (
	RunStateNew          RunState = "new"
	RunStateInitializing RunState = "initializing"
	RunStateActive       RunState = "active"
	RunStatePaused       RunState = "paused"
	RunStateStopped      RunState = "stopped"
	RunStateError        RunState = "error"
)

// StateInternal carries the resolved symbol pair for an instance. Unlike the
// FSM state it is written once at instance creation and never by ticks.
type StateInternal struct {
	BaseSymbolID  string `json:"base_symbol_id"`
	QuoteSymbolID string `json:"quote_symbol_id"`
}

// BotDefinition is the template a bot instance is stamped from.
type BotDefinition struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	StrategyID  uuid.UUID
	Name        string
	DisplayName string
	Description string
	Symbols     string
	Genome      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BotInstance is one runnable bot: a definition bound to a genome, an
// allocation and a mode. StateJSON is owned by the FSM and rewritten after
// every tick; RunState is owned by the runner and context builders.
type BotInstance struct {
	ID            uuid.UUID
	DefinitionID  uuid.UUID
	AllocationID  uuid.UUID
	ExchangeID    string
	Name          string
	Build         string
	TypeID        string
	ModeID        Mode
	ResID         market.Resolution
	Symbols       string
	CurrentGenome string
	RunState      RunState
	PrevTick      time.Time
	StateInternal StateInternal
	StateJSON     json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BotRun is one simulation or live session window for an instance.
type BotRun struct {
	ID         uuid.UUID
	InstanceID uuid.UUID
	Active     bool
	From       time.Time
	To         *time.Time
}

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// InsertBotDefinition persists a new definition.
func (db *DB) InsertBotDefinition(ctx context.Context, tx pgx.Tx, def *BotDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	query := `
		INSERT INTO bot_definitions (
			id, workspace_id, strategy_id, name, display_name, description,
			symbols, genome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		def.ID, def.WorkspaceID, def.StrategyID, def.Name, def.DisplayName,
		def.Description, def.Symbols, def.Genome, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bot definition: %w", err)
	}

	log.Debug().
		Str("definition_id", def.ID.String()).
		Str("name", def.Name).
		Msg("Bot definition inserted")
	return nil
}

// GetBotDefinitionByName looks a definition up by workspace and name.
// Returns ErrNotFound when no such definition exists.
func (db *DB) GetBotDefinitionByName(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, name string) (*BotDefinition, error) {
	query := `
		SELECT id, workspace_id, strategy_id, name, display_name, description,
		       symbols, genome, created_at, updated_at
		FROM bot_definitions
		WHERE workspace_id = $1 AND name = $2
	`
	var def BotDefinition
	err := db.querier(tx).QueryRow(ctx, query, workspaceID, name).Scan(
		&def.ID, &def.WorkspaceID, &def.StrategyID, &def.Name, &def.DisplayName,
		&def.Description, &def.Symbols, &def.Genome, &def.CreatedAt, &def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot definition %q: %w", name, err)
	}
	return &def, nil
}

// GetBotDefinitionByID fetches a definition by primary key.
func (db *DB) GetBotDefinitionByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*BotDefinition, error) {
	query := `
		SELECT id, workspace_id, strategy_id, name, display_name, description,
		       symbols, genome, created_at, updated_at
		FROM bot_definitions
		WHERE id = $1
	`
	var def BotDefinition
	err := db.querier(tx).QueryRow(ctx, query, id).Scan(
		&def.ID, &def.WorkspaceID, &def.StrategyID, &def.Name, &def.DisplayName,
		&def.Description, &def.Symbols, &def.Genome, &def.CreatedAt, &def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot definition %s: %w", id, err)
	}
	return &def, nil
}

// InsertBotInstance persists a new instance.
func (db *DB) InsertBotInstance(ctx context.Context, tx pgx.Tx, inst *BotInstance) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.StateJSON == nil {
		inst.StateJSON = json.RawMessage("{}")
	}

	internal, err := json.Marshal(inst.StateInternal)
	if err != nil {
		return fmt.Errorf("failed to marshal instance internal state: %w", err)
	}

	query := `
		INSERT INTO bot_instances (
			id, definition_id, allocation_id, exchange_id, name, build, type_id,
			mode_id, res_id, symbols, current_genome, run_state, prev_tick,
			state_internal, state_json, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = db.querier(tx).Exec(ctx, query,
		inst.ID, inst.DefinitionID, inst.AllocationID, inst.ExchangeID, inst.Name,
		inst.Build, inst.TypeID, inst.ModeID, inst.ResID, inst.Symbols,
		inst.CurrentGenome, inst.RunState, inst.PrevTick, internal,
		[]byte(inst.StateJSON), inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bot instance: %w", err)
	}

	log.Debug().
		Str("instance_id", inst.ID.String()).
		Str("name", inst.Name).
		Str("mode", string(inst.ModeID)).
		Msg("Bot instance inserted")
	return nil
}

// GetBotInstanceByID fetches an instance by primary key.
func (db *DB) GetBotInstanceByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*BotInstance, error) {
	query := `
		SELECT id, definition_id, allocation_id, exchange_id, name, build, type_id,
		       mode_id, res_id, symbols, current_genome, run_state, prev_tick,
		       state_internal, state_json, created_at, updated_at
		FROM bot_instances
		WHERE id = $1
	`
	var (
		inst     BotInstance
		internal []byte
		stateRaw []byte
	)
	err := db.querier(tx).QueryRow(ctx, query, id).Scan(
		&inst.ID, &inst.DefinitionID, &inst.AllocationID, &inst.ExchangeID,
		&inst.Name, &inst.Build, &inst.TypeID, &inst.ModeID, &inst.ResID,
		&inst.Symbols, &inst.CurrentGenome, &inst.RunState, &inst.PrevTick,
		&internal, &stateRaw, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot instance %s: %w", id, err)
	}

	if len(internal) > 0 {
		if err := json.Unmarshal(internal, &inst.StateInternal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance internal state: %w", err)
		}
	}
	inst.StateJSON = json.RawMessage(stateRaw)
	return &inst, nil
}

// ListRunnableBotInstances returns the new and active instances in any of
// the given modes, oldest-ticked first so starved instances come up first.
// New instances are included so the worker can open their first run.
func (db *DB) ListRunnableBotInstances(ctx context.Context, tx pgx.Tx, modes ...Mode) ([]*BotInstance, error) {
	query := `
		SELECT id, definition_id, allocation_id, exchange_id, name, build, type_id,
		       mode_id, res_id, symbols, current_genome, run_state, prev_tick,
		       state_internal, state_json, created_at, updated_at
		FROM bot_instances
		WHERE run_state = ANY($1) AND mode_id = ANY($2)
		ORDER BY prev_tick
	`
	modeIDs := make([]string, len(modes))
	for i, m := range modes {
		modeIDs[i] = string(m)
	}

	rows, err := db.querier(tx).Query(ctx, query, []string{string(RunStateNew), string(RunStateActive)}, modeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query active bot instances: %w", err)
	}
	defer rows.Close()

	var instances []*BotInstance
	for rows.Next() {
		var (
			inst     BotInstance
			internal []byte
			stateRaw []byte
		)
		err := rows.Scan(
			&inst.ID, &inst.DefinitionID, &inst.AllocationID, &inst.ExchangeID,
			&inst.Name, &inst.Build, &inst.TypeID, &inst.ModeID, &inst.ResID,
			&inst.Symbols, &inst.CurrentGenome, &inst.RunState, &inst.PrevTick,
			&internal, &stateRaw, &inst.CreatedAt, &inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot instance row: %w", err)
		}
		if len(internal) > 0 {
			if err := json.Unmarshal(internal, &inst.StateInternal); err != nil {
				return nil, fmt.Errorf("failed to unmarshal instance internal state: %w", err)
			}
		}
		inst.StateJSON = json.RawMessage(stateRaw)
		instances = append(instances, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bot instance rows: %w", err)
	}
	return instances, nil
}

// GetActiveRunForInstance returns the open run window for an instance.
func (db *DB) GetActiveRunForInstance(ctx context.Context, tx pgx.Tx, instanceID uuid.UUID) (*BotRun, error) {
	query := `
		SELECT id, instance_id, active, run_from, run_to
		FROM bot_runs
		WHERE instance_id = $1 AND active
	`
	var run BotRun
	err := db.querier(tx).QueryRow(ctx, query, instanceID).Scan(
		&run.ID, &run.InstanceID, &run.Active, &run.From, &run.To,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active run for instance %s: %w", instanceID, err)
	}
	return &run, nil
}

// UpdateBotInstance rewrites the mutable columns of an instance: genome,
// run state, tick bookkeeping and FSM state.
func (db *DB) UpdateBotInstance(ctx context.Context, tx pgx.Tx, inst *BotInstance) error {
	inst.UpdatedAt = time.Now()

	internal, err := json.Marshal(inst.StateInternal)
	if err != nil {
		return fmt.Errorf("failed to marshal instance internal state: %w", err)
	}

	query := `
		UPDATE bot_instances
		SET current_genome = $2, run_state = $3, mode_id = $4, res_id = $5,
		    prev_tick = $6, state_internal = $7, state_json = $8, updated_at = $9
		WHERE id = $1
	`
	_, err = db.querier(tx).Exec(ctx, query,
		inst.ID, inst.CurrentGenome, inst.RunState, inst.ModeID, inst.ResID,
		inst.PrevTick, internal, []byte(inst.StateJSON), inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update bot instance %s: %w", inst.ID, err)
	}
	return nil
}

// StartBotRun opens a new run window for an instance and marks it active.
func (db *DB) StartBotRun(ctx context.Context, tx pgx.Tx, instanceID uuid.UUID) (*BotRun, error) {
	run := &BotRun{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Active:     true,
		From:       time.Now(),
	}

	query := `
		INSERT INTO bot_runs (id, instance_id, active, run_from, run_to)
		VALUES ($1, $2, $3, $4, NULL)
	`
	if _, err := db.querier(tx).Exec(ctx, query, run.ID, run.InstanceID, run.Active, run.From); err != nil {
		return nil, fmt.Errorf("failed to start bot run: %w", err)
	}

	updateInstance := `UPDATE bot_instances SET run_state = $2, updated_at = NOW() WHERE id = $1`
	if _, err := db.querier(tx).Exec(ctx, updateInstance, instanceID, RunStateActive); err != nil {
		return nil, fmt.Errorf("failed to activate bot instance %s: %w", instanceID, err)
	}

	log.Info().
		Str("instance_id", instanceID.String()).
		Str("run_id", run.ID.String()).
		Msg("Bot run started")
	return run, nil
}

// StopBotRun closes the active run window for an instance. A non-empty
// errMsg marks the instance errored instead of stopped.
func (db *DB) StopBotRun(ctx context.Context, tx pgx.Tx, instanceID uuid.UUID, errMsg string) error {
	closeRun := `UPDATE bot_runs SET active = FALSE, run_to = NOW() WHERE instance_id = $1 AND active`
	if _, err := db.querier(tx).Exec(ctx, closeRun, instanceID); err != nil {
		return fmt.Errorf("failed to close bot run for %s: %w", instanceID, err)
	}

	finalState := RunStateStopped
	if errMsg != "" {
		finalState = RunStateError
	}
	updateInstance := `UPDATE bot_instances SET run_state = $2, updated_at = NOW() WHERE id = $1`
	if _, err := db.querier(tx).Exec(ctx, updateInstance, instanceID, finalState); err != nil {
		return fmt.Errorf("failed to stop bot instance %s: %w", instanceID, err)
	}

	evt := log.Info()
	if errMsg != "" {
		evt = log.Warn().Str("error", errMsg)
	}
	evt.Str("instance_id", instanceID.String()).
		Str("run_state", string(finalState)).
		Msg("Bot run stopped")
	return nil
}
