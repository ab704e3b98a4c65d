package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/sched/internal/core/system"
)

// StateRepo saves and loads scheduler snapshots (enabled flags, timer
// accumulators, run counts) so a restart resumes mid-interval.
type StateRepo struct {
	db       *DB
	serverID int
}

func NewStateRepo(db *DB, serverID int) *StateRepo {
	return &StateRepo{db: db, serverID: serverID}
}

// Save upserts every state in one batch round trip.
func (r *StateRepo) Save(ctx context.Context, states []system.SystemState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range states {
		batch.Queue(
			`INSERT INTO system_state (server_id, system_name, enabled, elapsed, runs, saved_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (server_id, system_name) DO UPDATE
			 SET enabled = EXCLUDED.enabled, elapsed = EXCLUDED.elapsed,
			     runs = EXCLUDED.runs, saved_at = EXCLUDED.saved_at`,
			stateRow(r.serverID, st)...,
		)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	return nil
}

// Load returns the last saved states for this server.
func (r *StateRepo) Load(ctx context.Context) ([]system.SystemState, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT system_name, enabled, elapsed, runs FROM system_state
		 WHERE server_id = $1 ORDER BY system_name`,
		r.serverID,
	)
	if err != nil {
		return nil, fmt.Errorf("load system state: %w", err)
	}
	return pgx.CollectRows(rows, scanState)
}

func stateRow(serverID int, st system.SystemState) []any {
	return []any{serverID, st.Name, st.Enabled, int64(st.Elapsed), int64(st.Runs)}
}

func scanState(row pgx.CollectableRow) (system.SystemState, error) {
	var (
		st      system.SystemState
		elapsed int64
		runs    int64
	)
	if err := row.Scan(&st.Name, &st.Enabled, &elapsed, &runs); err != nil {
		return st, err
	}
	st.Elapsed = time.Duration(elapsed)
	st.Runs = uint64(runs)
	return st, nil
}
