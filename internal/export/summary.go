package export

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mode distinguishes operator-triggered cycles from scheduled ones.
type Mode string

const (
	ModeManual Mode = "MANUAL"
	ModeAuto   Mode = "AUTO"
)

// CycleSummary is the workspace-scoped rollup of the most recent export
// cycle. It only moves when a cycle exported at least one group.
type CycleSummary struct {
	WorkspaceID     int64
	LastExportedAt  time.Time
	NextExportAt    *time.Time
	Mode            Mode
	TotalCount      int
	SuccessfulCount int
	FailedCount     int
	UpdatedAt       time.Time
}

// ErrSummaryNotFound indicates the workspace has never completed a cycle.
var ErrSummaryNotFound = errors.New("export: cycle summary not found")

// SummaryRepository persists last-export rollups.
type SummaryRepository struct {
	pool *pgxpool.Pool
}

// NewSummaryRepository constructs the rollup repository.
func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{pool: pool}
}

// Record upserts the workspace rollup.
func (r *SummaryRepository) Record(ctx context.Context, s CycleSummary) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO last_export_details (workspace_id, last_exported_at, next_export_at, mode, total_count, successful_count, failed_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace_id)
		DO UPDATE SET last_exported_at = EXCLUDED.last_exported_at, next_export_at = EXCLUDED.next_export_at,
		              mode = EXCLUDED.mode, total_count = EXCLUDED.total_count,
		              successful_count = EXCLUDED.successful_count, failed_count = EXCLUDED.failed_count,
		              updated_at = now()`,
		s.WorkspaceID, s.LastExportedAt, s.NextExportAt, s.Mode, s.TotalCount, s.SuccessfulCount, s.FailedCount)
	return err
}

// Get fetches the rollup for one workspace.
func (r *SummaryRepository) Get(ctx context.Context, workspaceID int64) (CycleSummary, error) {
	var s CycleSummary
	err := r.pool.QueryRow(ctx, `
		SELECT workspace_id, last_exported_at, next_export_at, mode, total_count, successful_count, failed_count, updated_at
		FROM last_export_details WHERE workspace_id = $1`,
		workspaceID).Scan(&s.WorkspaceID, &s.LastExportedAt, &s.NextExportAt, &s.Mode,
		&s.TotalCount, &s.SuccessfulCount, &s.FailedCount, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleSummary{}, ErrSummaryNotFound
		}
		return CycleSummary{}, err
	}
	return s, nil
}

// ListDue returns workspaces whose scheduled export time has arrived. The
// scheduler sweep enqueues one EXPORT.P1 task per workspace returned.
func (r *SummaryRepository) ListDue(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT workspace_id FROM last_export_details WHERE next_export_at IS NOT NULL AND next_export_at <= $1 ORDER BY workspace_id`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
