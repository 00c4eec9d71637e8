package errorstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound indicates no error record exists for the key.
var ErrRecordNotFound = errors.New("errorstore: record not found")

// Repository persists deduplicated error records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an error record repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, workspace_id, expense_group_id, type, title, detail, article_link, repetition_count, is_resolved, is_parsed, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.WorkspaceID, &rec.ExpenseGroupID, &rec.Type, &rec.Title, &rec.Detail,
		&rec.ArticleLink, &rec.RepetitionCount, &rec.IsResolved, &rec.IsParsed, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Upsert writes the record for its natural key. A pre-existing row has its
// repetition counter incremented and its detail refreshed, and is reopened
// if a previous success had resolved it.
func (r *Repository) Upsert(ctx context.Context, in Input) (Record, error) {
	if in.ExpenseGroupID == nil {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO error_records (workspace_id, expense_group_id, type, title, detail, article_link, repetition_count, is_resolved, is_parsed)
			VALUES ($1, NULL, $2, $3, $4, $5, 1, false, $6)
			ON CONFLICT (workspace_id, type) WHERE expense_group_id IS NULL
			DO UPDATE SET repetition_count = error_records.repetition_count + 1,
			              title = EXCLUDED.title, detail = EXCLUDED.detail,
			              article_link = EXCLUDED.article_link, is_parsed = EXCLUDED.is_parsed,
			              is_resolved = false, updated_at = now()
			RETURNING `+recordColumns,
			in.WorkspaceID, in.Type, in.Title, in.Detail, in.ArticleLink, in.IsParsed)
		return scanRecord(row)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO error_records (workspace_id, expense_group_id, type, title, detail, article_link, repetition_count, is_resolved, is_parsed)
		VALUES ($1, $2, $3, $4, $5, $6, 1, false, $7)
		ON CONFLICT (workspace_id, expense_group_id, type)
		DO UPDATE SET repetition_count = error_records.repetition_count + 1,
		              title = EXCLUDED.title, detail = EXCLUDED.detail,
		              article_link = EXCLUDED.article_link, is_parsed = EXCLUDED.is_parsed,
		              is_resolved = false, updated_at = now()
		RETURNING `+recordColumns,
		in.WorkspaceID, *in.ExpenseGroupID, in.Type, in.Title, in.Detail, in.ArticleLink, in.IsParsed)
	return scanRecord(row)
}

// Resolve marks every open record for the group resolved after a successful
// export.
func (r *Repository) Resolve(ctx context.Context, workspaceID, groupID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE error_records SET is_resolved = true, updated_at = now()
		 WHERE workspace_id = $1 AND expense_group_id = $2 AND is_resolved = false`,
		workspaceID, groupID)
	return err
}

// Get fetches the record for one group and type.
func (r *Repository) Get(ctx context.Context, workspaceID, groupID int64, recordType Type) (Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM error_records WHERE workspace_id = $1 AND expense_group_id = $2 AND type = $3`,
		workspaceID, groupID, recordType)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListOpen returns unresolved records for a workspace, newest first.
func (r *Repository) ListOpen(ctx context.Context, workspaceID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM error_records WHERE workspace_id = $1 AND is_resolved = false ORDER BY updated_at DESC`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeForGroups deletes records for groups a configuration change made
// ineligible for export.
func (r *Repository) PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM error_records WHERE workspace_id = $1 AND expense_group_id = ANY($2)`,
		workspaceID, groupIDs)
	return err
}
