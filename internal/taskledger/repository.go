package taskledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// ErrEntryNotFound indicates no task row exists for the given key.
var ErrEntryNotFound = errors.New("taskledger: entry not found")

// Repository is the persistent task ledger. Database errors propagate to the
// caller untouched; the orchestrator treats them as fatal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a task ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, workspace_id, expense_group_id, type, status, re_attempt_export, detail, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		detail []byte
	)
	if err := row.Scan(&e.ID, &e.WorkspaceID, &e.ExpenseGroupID, &e.Type, &e.Status, &e.ReAttemptExport, &detail, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	e.Detail = json.RawMessage(detail)
	return e, nil
}

// BeginAttempt is the sole admission point for an export attempt. It upserts
// the row for the (expense group, type) key back to IN_PROGRESS, overwriting
// any prior terminal state, so at most one attempt per key is ever active.
// Pass a nil groupID for workspace-scoped task types.
func (r *Repository) BeginAttempt(ctx context.Context, workspaceID int64, groupID *int64, taskType Type) (Entry, error) {
	if groupID == nil {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO task_logs (workspace_id, expense_group_id, type, status, re_attempt_export, detail)
			VALUES ($1, NULL, $2, 'IN_PROGRESS', false, '{}')
			ON CONFLICT (workspace_id, type) WHERE expense_group_id IS NULL
			DO UPDATE SET status = 'IN_PROGRESS', re_attempt_export = false, detail = '{}', updated_at = now()
			RETURNING `+entryColumns,
			workspaceID, taskType)
		return scanEntry(row)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO task_logs (workspace_id, expense_group_id, type, status, re_attempt_export, detail)
		VALUES ($1, $2, $3, 'IN_PROGRESS', false, '{}')
		ON CONFLICT (expense_group_id, type)
		DO UPDATE SET status = 'IN_PROGRESS', re_attempt_export = false, detail = '{}', updated_at = now()
		RETURNING `+entryColumns,
		workspaceID, *groupID, taskType)
	return scanEntry(row)
}

func (r *Repository) transition(ctx context.Context, entryID int64, status Status, reAttempt bool, detail json.RawMessage) error {
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE task_logs SET status = $2, re_attempt_export = $3, detail = $4, updated_at = now() WHERE id = $1`,
		entryID, status, reAttempt, []byte(detail))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Complete marks the attempt successful.
func (r *Repository) Complete(ctx context.Context, entry Entry, detail json.RawMessage) error {
	return r.transition(ctx, entry.ID, StatusComplete, false, detail)
}

// Fail marks a classified failure. Retryable failures re-enter eligibility
// on the next cycle; hard validation failures stay out until configuration
// changes and an operator re-enables them.
func (r *Repository) Fail(ctx context.Context, entry Entry, detail json.RawMessage, retryable bool) error {
	return r.transition(ctx, entry.ID, StatusFailed, retryable, detail)
}

// Fatal marks an unclassified failure. Fatal rows never re-enter automatic
// retry; they wait for manual triage.
func (r *Repository) Fatal(ctx context.Context, entry Entry, detail json.RawMessage) error {
	return r.transition(ctx, entry.ID, StatusFatal, false, detail)
}

// SetReAttemptExport is the operator lever that re-admits a permanently
// failed group into the next cycle.
func (r *Repository) SetReAttemptExport(ctx context.Context, groupID int64, taskType Type, reAttempt bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE task_logs SET re_attempt_export = $3, updated_at = now() WHERE expense_group_id = $1 AND type = $2`,
		groupID, taskType, reAttempt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Get fetches the entry for an expense group and type.
func (r *Repository) Get(ctx context.Context, groupID int64, taskType Type) (Entry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM task_logs WHERE expense_group_id = $1 AND type = $2`,
		groupID, taskType)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// EligibleForExport returns unexported groups for the fund source that may be
// attempted this cycle. Groups with no task row at all are always eligible;
// groups whose row for this type is terminal-failed with re_attempt_export
// off are excluded until an operator or configuration change flips the flag.
func (r *Repository) EligibleForExport(ctx context.Context, workspaceID int64, fundSource workunit.FundSource, taskType Type) ([]workunit.ExpenseGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.workspace_id, g.fund_source, g.employee_email, g.description, g.expense_ids,
		       g.exported_at, g.export_url, g.created_at, g.updated_at
		FROM expense_groups g
		WHERE g.workspace_id = $1
		  AND g.fund_source = $2
		  AND g.exported_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM task_logs t
			WHERE t.expense_group_id = g.id
			  AND t.type = $3
			  AND t.status IN ('FAILED', 'FATAL')
			  AND t.re_attempt_export = false
		  )
		ORDER BY g.id`,
		workspaceID, fundSource, taskType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []workunit.ExpenseGroup
	for rows.Next() {
		var (
			g           workunit.ExpenseGroup
			description []byte
		)
		if err := rows.Scan(&g.ID, &g.WorkspaceID, &g.FundSource, &g.EmployeeEmail, &description, &g.ExpenseIDs,
			&g.ExportedAt, &g.ExportURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		if len(description) > 0 {
			if err := json.Unmarshal(description, &g.Description); err != nil {
				return nil, err
			}
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// PurgeForGroups deletes task rows for groups that a configuration change
// made ineligible for export. The error store purge runs alongside this.
func (r *Repository) PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM task_logs WHERE workspace_id = $1 AND expense_group_id = ANY($2) AND status <> 'COMPLETE'`,
		workspaceID, groupIDs)
	return err
}
