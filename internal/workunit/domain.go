package workunit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundSource classifies how an expense was paid.
type FundSource string

const (
	// FundSourcePersonal marks reimbursable, personally paid expenses.
	FundSourcePersonal FundSource = "PERSONAL"
	// FundSourceCorporateCard marks corporate card expenses.
	FundSourceCorporateCard FundSource = "CORPORATE_CARD"
)

// Valid reports whether the fund source is a known value.
func (f FundSource) Valid() bool {
	return f == FundSourcePersonal || f == FundSourceCorporateCard
}

// Expense is a single source-platform expense belonging to a group.
type Expense struct {
	ID            int64
	WorkspaceID   int64
	FyleExpenseID string
	EmployeeEmail string
	EmployeeName  string
	Category      string
	Amount        decimal.Decimal
	Currency      string
	FundSource    FundSource
	SpentAt       time.Time
	ReportID      string
	Exported      bool
}

// ExpenseGroup aggregates expenses that share the same grouping fields and
// will become exactly one ledger object. Once exported it is frozen: the
// export timestamp and reference URL are the only fields that still change.
type ExpenseGroup struct {
	ID            int64
	WorkspaceID   int64
	FundSource    FundSource
	EmployeeEmail string
	Description   map[string]string
	ExpenseIDs    []int64
	ExportedAt    *time.Time
	ExportURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Exported reports whether the group has already been written to the ledger.
func (g ExpenseGroup) Exported() bool {
	return g.ExportedAt != nil
}

// dedupNamespace scopes external ids so they never collide with ids minted
// by other tools writing to the same ledger account.
var dedupNamespace = uuid.MustParse("8f2b9c54-1d6a-4e0f-9b3d-6c1f1d2a7e40")

// DedupKey derives the stable external id sent with every ledger write for
// this group. Retries after a crash reuse the same key, so the ledger side
// deduplicates instead of creating a second record.
func DedupKey(g ExpenseGroup) string {
	seed := fmt.Sprintf("workspace:%d:expense-group:%d", g.WorkspaceID, g.ID)
	return uuid.NewSHA1(dedupNamespace, []byte(seed)).String()
}
