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
)

// InsertRunReport stores the performance report for a completed run. The
// report is kept as a JSON document since its shape evolves with the
// metrics we track.
func (db *DB) InsertRunReport(ctx context.Context, tx pgx.Tx, runID uuid.UUID, report any) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	query := `
		INSERT INTO bot_run_reports (id, bot_run_id, report, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = db.querier(tx).Exec(ctx, query, uuid.New(), runID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert run report: %w", err)
	}

	log.Debug().
		Str("run_id", runID.String()).
		Msg("Run report inserted")
	return nil
}

// GetRunReport fetches the report for a run, unmarshalling it into out.
func (db *DB) GetRunReport(ctx context.Context, tx pgx.Tx, runID uuid.UUID, out any) error {
	query := `SELECT report FROM bot_run_reports WHERE bot_run_id = $1`

	var payload []byte
	err := db.querier(tx).QueryRow(ctx, query, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get run report for %s: %w", runID, err)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal run report: %w", err)
	}
	return nil
}
