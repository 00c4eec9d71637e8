// Package fyle defines the source-platform collaborator contracts and their
// REST implementation. The pipeline depends only on the typed operations.
package fyle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a source-platform expense record.
type Expense struct {
	ID            string
	EmployeeEmail string
	EmployeeName  string
	Category      string
	SubCategory   string
	Amount        decimal.Decimal
	Currency      string
	FundSource    string
	ReportID      string
	SpentAt       time.Time
	UpdatedAt     time.Time
}

// Employee is a source-platform employee dimension record.
type Employee struct {
	ID       string
	Email    string
	FullName string
	Location string
	Active   bool
}

// Category is a source-platform category dimension record.
type Category struct {
	ID      string
	Name    string
	Enabled bool
}

// ExpenseFilter scopes an incremental expense fetch.
type ExpenseFilter struct {
	UpdatedSince time.Time
	State        string
	FundSource   string
	Cursor       string
	PageSize     int
}

// ExpensePage is one page of an incremental fetch. An empty NextCursor ends
// the sequence.
type ExpensePage struct {
	Expenses   []Expense
	NextCursor string
}

// Client is the source-platform collaborator. Listing calls paginate; the
// dimension listings occasionally hang upstream, which is why import-class
// dispatch actions run under an enforced deadline.
type Client interface {
	ListExpenses(ctx context.Context, filter ExpenseFilter) (ExpensePage, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	ListCategories(ctx context.Context) ([]Category, error)
}
