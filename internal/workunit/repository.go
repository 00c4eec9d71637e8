package workunit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerlink/ledgerlink/internal/platform/db"
)

// ErrGroupNotFound indicates the requested expense group is missing.
var ErrGroupNotFound = errors.New("workunit: expense group not found")

// ErrDuplicateGroup indicates a concurrent import already created the group.
var ErrDuplicateGroup = errors.New("workunit: expense group already exists")

// Repository provides persistence for expense groups and their members.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an expense group repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const groupColumns = `id, workspace_id, fund_source, employee_email, description, expense_ids, exported_at, export_url, created_at, updated_at`

func scanGroup(row pgx.Row) (ExpenseGroup, error) {
	var (
		g           ExpenseGroup
		description []byte
		exportedAt  *time.Time
	)
	err := row.Scan(&g.ID, &g.WorkspaceID, &g.FundSource, &g.EmployeeEmail, &description, &g.ExpenseIDs, &exportedAt, &g.ExportURL, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return ExpenseGroup{}, err
	}
	if len(description) > 0 {
		if err := json.Unmarshal(description, &g.Description); err != nil {
			return ExpenseGroup{}, fmt.Errorf("workunit: decode description: %w", err)
		}
	}
	g.ExportedAt = exportedAt
	return g, nil
}

// Get fetches one expense group by id.
func (r *Repository) Get(ctx context.Context, workspaceID, groupID int64) (ExpenseGroup, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM expense_groups WHERE workspace_id = $1 AND id = $2`,
		workspaceID, groupID)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExpenseGroup{}, ErrGroupNotFound
		}
		return ExpenseGroup{}, err
	}
	return g, nil
}

// ListByIDs fetches the given groups in one round trip.
func (r *Repository) ListByIDs(ctx context.Context, workspaceID int64, ids []int64) ([]ExpenseGroup, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM expense_groups WHERE workspace_id = $1 AND id = ANY($2) ORDER BY id`,
		workspaceID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []ExpenseGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Expenses returns the member expenses of a group.
func (r *Repository) Expenses(ctx context.Context, workspaceID, groupID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.workspace_id, e.fyle_expense_id, e.employee_email, e.employee_name,
		       e.category, e.amount, e.currency, e.fund_source, e.spent_at, e.report_id, e.exported
		FROM expenses e
		JOIN expense_groups g ON e.id = ANY(g.expense_ids)
		WHERE g.workspace_id = $1 AND g.id = $2
		ORDER BY e.id`,
		workspaceID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var (
			e      Expense
			amount string
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.FyleExpenseID, &e.EmployeeEmail, &e.EmployeeName,
			&e.Category, &amount, &e.Currency, &e.FundSource, &e.SpentAt, &e.ReportID, &e.Exported); err != nil {
			return nil, err
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("workunit: parse amount: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// MarkExported stamps the export timestamp and ledger reference URL. The
// group drops out of every eligibility query from this point on.
func (r *Repository) MarkExported(ctx context.Context, workspaceID, groupID int64, exportedAt time.Time, url string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expense_groups SET exported_at = $3, export_url = $4, updated_at = now()
		 WHERE workspace_id = $1 AND id = $2`,
		workspaceID, groupID, exportedAt, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// MarkExpensesExported flags every member expense of the group as exported.
func (r *Repository) MarkExpensesExported(ctx context.Context, workspaceID, groupID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE expenses SET exported = true
		WHERE workspace_id = $1
		  AND id = ANY(SELECT unnest(expense_ids) FROM expense_groups WHERE workspace_id = $1 AND id = $2)`,
		workspaceID, groupID)
	return err
}

// UpsertExpenses writes fetched expenses keyed on (workspace, fyle id).
// Already-exported expenses are left alone so a late webhook replay cannot
// reopen a settled group.
func (r *Repository) UpsertExpenses(ctx context.Context, workspaceID int64, expenses []Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, e := range expenses {
			_, err := tx.Exec(ctx, `
				INSERT INTO expenses (workspace_id, fyle_expense_id, employee_email, employee_name, category, amount, currency, fund_source, spent_at, report_id, exported, grouped)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, false)
				ON CONFLICT (workspace_id, fyle_expense_id)
				DO UPDATE SET employee_email = EXCLUDED.employee_email, employee_name = EXCLUDED.employee_name,
				              category = EXCLUDED.category, amount = EXCLUDED.amount, currency = EXCLUDED.currency,
				              fund_source = EXCLUDED.fund_source, spent_at = EXCLUDED.spent_at, report_id = EXCLUDED.report_id
				WHERE NOT expenses.exported`,
				workspaceID, e.FyleExpenseID, e.EmployeeEmail, e.EmployeeName, e.Category,
				e.Amount.String(), e.Currency, e.FundSource, e.SpentAt, e.ReportID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// UngroupedExpenses returns expenses not yet assigned to any group.
func (r *Repository) UngroupedExpenses(ctx context.Context, workspaceID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, fyle_expense_id, employee_email, employee_name, category, amount, currency, fund_source, spent_at, report_id, exported
		FROM expenses WHERE workspace_id = $1 AND NOT grouped ORDER BY id`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var (
			e      Expense
			amount string
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.FyleExpenseID, &e.EmployeeEmail, &e.EmployeeName,
			&e.Category, &amount, &e.Currency, &e.FundSource, &e.SpentAt, &e.ReportID, &e.Exported); err != nil {
			return nil, err
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("workunit: parse amount: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// InsertGroup persists a freshly built group and flags its members grouped.
func (r *Repository) InsertGroup(ctx context.Context, g ExpenseGroup) (int64, error) {
	description, err := json.Marshal(g.Description)
	if err != nil {
		return 0, fmt.Errorf("workunit: encode description: %w", err)
	}
	var id int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO expense_groups (workspace_id, fund_source, employee_email, description, expense_ids)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			g.WorkspaceID, g.FundSource, g.EmployeeEmail, description, g.ExpenseIDs).Scan(&id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE expenses SET grouped = true WHERE workspace_id = $1 AND id = ANY($2)`,
			g.WorkspaceID, g.ExpenseIDs)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateGroup
		}
		return 0, err
	}
	return id, nil
}

// ExportedUnpaid lists reimbursable groups already exported as bills but not
// yet settled with a vendor payment.
func (r *Repository) ExportedUnpaid(ctx context.Context, workspaceID int64) ([]ExpenseGroup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM expense_groups
		 WHERE workspace_id = $1 AND fund_source = $2 AND exported_at IS NOT NULL AND NOT paid
		 ORDER BY id`,
		workspaceID, FundSourcePersonal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []ExpenseGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// MarkPaid flags a group as settled by a vendor payment.
func (r *Repository) MarkPaid(ctx context.Context, workspaceID, groupID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expense_groups SET paid = true, updated_at = now() WHERE workspace_id = $1 AND id = $2`,
		workspaceID, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// PendingIDs lists unexported group ids for a fund source, used when routing
// configuration changes orphan previously grouped units.
func (r *Repository) PendingIDs(ctx context.Context, workspaceID int64, fundSource FundSource) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM expense_groups WHERE workspace_id = $1 AND fund_source = $2 AND exported_at IS NULL ORDER BY id`,
		workspaceID, fundSource)
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
