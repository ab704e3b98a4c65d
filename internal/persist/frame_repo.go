package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FrameRecord is one row of frame_log.
type FrameRecord struct {
	Frame      uint64
	WorldTime  time.Duration
	DeltaTime  time.Duration
	SystemsRun int
	Failures   int
	Took       time.Duration
}

// ErrorRecord is one row of system_error_log.
type ErrorRecord struct {
	Frame   uint64
	System  string
	Message string
}

type FrameRepo struct {
	db       *DB
	serverID int
}

func NewFrameRepo(db *DB, serverID int) *FrameRepo {
	return &FrameRepo{db: db, serverID: serverID}
}

var (
	frameLogColumns = []string{"server_id", "frame", "world_time", "delta_time", "systems_run", "failures", "took"}
	errorLogColumns = []string{"server_id", "frame", "system_name", "message"}
)

// WriteBatch copies a batch of frame summaries and system errors in a single
// transaction. Either both land or neither does.
func (r *FrameRepo) WriteBatch(ctx context.Context, frames []FrameRecord, errs []ErrorRecord) error {
	if len(frames) == 0 && len(errs) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if len(frames) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"frame_log"}, frameLogColumns,
				pgx.CopyFromSlice(len(frames), func(i int) ([]any, error) {
					return frameRow(r.serverID, frames[i]), nil
				}),
			); err != nil {
				return fmt.Errorf("frame log copy: %w", err)
			}
		}
		if len(errs) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"system_error_log"}, errorLogColumns,
				pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
					return errorRow(r.serverID, errs[i]), nil
				}),
			); err != nil {
				return fmt.Errorf("error log copy: %w", err)
			}
		}
		return nil
	})
}

// RecentErrors returns the newest system errors, newest first.
func (r *FrameRepo) RecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT frame, system_name, message FROM system_error_log
		 WHERE server_id = $1 ORDER BY id DESC LIMIT $2`,
		r.serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ErrorRecord, error) {
		var (
			e     ErrorRecord
			frame int64
		)
		err := row.Scan(&frame, &e.System, &e.Message)
		e.Frame = uint64(frame)
		return e, err
	})
}

func frameRow(serverID int, f FrameRecord) []any {
	return []any{serverID, int64(f.Frame), int64(f.WorldTime), int64(f.DeltaTime), f.SystemsRun, f.Failures, int64(f.Took)}
}

func errorRow(serverID int, e ErrorRecord) []any {
	return []any{serverID, int64(e.Frame), e.System, e.Message}
}
