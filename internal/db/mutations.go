package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// MutationSetType classifies one fork operation by who initiated it and
// whether it mutates within a mode or elevates to a more serious one.
type MutationSetType string

const (
	MutationSetManualMutateBackTest    MutationSetType = "manual.mutate.back-test"
	MutationSetManualElevateToFwdTest  MutationSetType = "manual.elevate.to-fwd-test"
	MutationSetManualElevateToLiveTest MutationSetType = "manual.elevate.to-live-test"
	MutationSetManualElevateToLive     MutationSetType = "manual.elevate.to-live"
	MutationSetSystemMutateBackTest    MutationSetType = "system.mutate.back-test"
	MutationSetSystemElevateToFwdTest  MutationSetType = "system.elevate.to-fwd-test"
	MutationSetSystemElevateToLiveTest MutationSetType = "system.elevate.to-live-test"
	MutationSetSystemElevateToLive     MutationSetType = "system.elevate.to-live"
)

// MutationSet groups the mutations produced by one fork operation.
// ParentSetID links to the set that produced the parent instance, forming a
// lineage forest rooted at seed instances.
type MutationSet struct {
	ID          uuid.UUID
	ParentSetID *uuid.UUID
	TypeID      MutationSetType
	DisplayName string
	CreatedAt   time.Time
}

// Mutation records one gene alteration and the child instance it produced.
type Mutation struct {
	ID            uuid.UUID
	MutationSetID uuid.UUID
	ParentID      uuid.UUID
	ChildID       uuid.UUID
	Chromo        string
	Gene          string
	Value         string
	CreatedAt     time.Time
}

// InsertMutationSet persists a new mutation set.
func (db *DB) InsertMutationSet(ctx context.Context, tx pgx.Tx, set *MutationSet) error {
	if set.ID == uuid.Nil {
		set.ID = uuid.New()
	}
	set.CreatedAt = time.Now()

	query := `
		INSERT INTO mutation_sets (id, parent_set_id, type_id, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		set.ID, set.ParentSetID, set.TypeID, set.DisplayName, set.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mutation set: %w", err)
	}

	log.Debug().
		Str("mutation_set_id", set.ID.String()).
		Str("type", string(set.TypeID)).
		Msg("Mutation set inserted")
	return nil
}

// InsertMutation persists one mutation of a set.
func (db *DB) InsertMutation(ctx context.Context, tx pgx.Tx, m *Mutation) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()

	query := `
		INSERT INTO mutations (
			id, mutation_set_id, parent_id, child_id, chromo, gene, value, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := db.querier(tx).Exec(ctx, query,
		m.ID, m.MutationSetID, m.ParentID, m.ChildID, m.Chromo, m.Gene,
		m.Value, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mutation: %w", err)
	}
	return nil
}

// GetMutationsForSet returns a set's mutations in creation order.
func (db *DB) GetMutationsForSet(ctx context.Context, tx pgx.Tx, setID uuid.UUID) ([]*Mutation, error) {
	query := `
		SELECT id, mutation_set_id, parent_id, child_id, chromo, gene, value, created_at
		FROM mutations
		WHERE mutation_set_id = $1
		ORDER BY created_at
	`
	rows, err := db.querier(tx).Query(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations for set %s: %w", setID, err)
	}
	defer rows.Close()

	var mutations []*Mutation
	for rows.Next() {
		var m Mutation
		err := rows.Scan(
			&m.ID, &m.MutationSetID, &m.ParentID, &m.ChildID, &m.Chromo,
			&m.Gene, &m.Value, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation row: %w", err)
		}
		mutations = append(mutations, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mutation rows: %w", err)
	}
	return mutations, nil
}
