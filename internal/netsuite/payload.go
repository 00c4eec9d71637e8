package netsuite

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// Line is one expense line inside an export payload.
type Line struct {
	FyleExpenseID string
	Category      string
	Memo          string
	Amount        decimal.Decimal
	Currency      string
	SpentAt       time.Time
}

// BillPayload creates a vendor bill.
type BillPayload struct {
	ExternalID string
	VendorID   string
	Currency   string
	Memo       string
	TranDate   time.Time
	Lines      []Line
}

// ExpenseReportPayload creates an employee expense report.
type ExpenseReportPayload struct {
	ExternalID string
	EmployeeID string
	Currency   string
	Memo       string
	TranDate   time.Time
	Lines      []Line
}

// JournalEntryPayload creates a journal entry with one line per expense.
type JournalEntryPayload struct {
	ExternalID string
	EntityID   string
	Currency   string
	Memo       string
	TranDate   time.Time
	Lines      []Line
}

// CreditCardChargePayload creates a corporate card charge.
type CreditCardChargePayload struct {
	ExternalID string
	AccountID  string
	EntityID   string
	Currency   string
	Memo       string
	TranDate   time.Time
	Lines      []Line
}

// VendorPaymentPayload settles exported bills for a vendor.
type VendorPaymentPayload struct {
	ExternalID string
	VendorID   string
	Currency   string
	Amount     decimal.Decimal
	BillIDs    []string
}

func buildLines(expenses []workunit.Expense) []Line {
	lines := make([]Line, len(expenses))
	for i, e := range expenses {
		lines[i] = Line{
			FyleExpenseID: e.FyleExpenseID,
			Category:      e.Category,
			Memo:          e.EmployeeEmail + " - " + e.FyleExpenseID,
			Amount:        e.Amount,
			Currency:      e.Currency,
			SpentAt:       e.SpentAt,
		}
	}
	return lines
}

func groupCurrency(expenses []workunit.Expense) string {
	if len(expenses) == 0 {
		return ""
	}
	return expenses[0].Currency
}

func groupMemo(g workunit.ExpenseGroup) string {
	if report, ok := g.Description["report_id"]; ok {
		return "Expenses from Fyle report " + report
	}
	return "Expenses from Fyle for " + g.EmployeeEmail
}

// BuildBill maps an expense group to a bill payload. The external id is the
// group's dedup key, which makes retried writes idempotent on the ledger.
func BuildBill(g workunit.ExpenseGroup, expenses []workunit.Expense, vendorID string, tranDate time.Time) BillPayload {
	return BillPayload{
		ExternalID: workunit.DedupKey(g),
		VendorID:   vendorID,
		Currency:   groupCurrency(expenses),
		Memo:       groupMemo(g),
		TranDate:   tranDate,
		Lines:      buildLines(expenses),
	}
}

// BuildExpenseReport maps an expense group to an expense report payload.
func BuildExpenseReport(g workunit.ExpenseGroup, expenses []workunit.Expense, employeeID string, tranDate time.Time) ExpenseReportPayload {
	return ExpenseReportPayload{
		ExternalID: workunit.DedupKey(g),
		EmployeeID: employeeID,
		Currency:   groupCurrency(expenses),
		Memo:       groupMemo(g),
		TranDate:   tranDate,
		Lines:      buildLines(expenses),
	}
}

// BuildJournalEntry maps an expense group to a journal entry payload.
func BuildJournalEntry(g workunit.ExpenseGroup, expenses []workunit.Expense, entityID string, tranDate time.Time) JournalEntryPayload {
	return JournalEntryPayload{
		ExternalID: workunit.DedupKey(g),
		EntityID:   entityID,
		Currency:   groupCurrency(expenses),
		Memo:       groupMemo(g),
		TranDate:   tranDate,
		Lines:      buildLines(expenses),
	}
}

// BuildCreditCardCharge maps a corporate card group to a charge payload.
func BuildCreditCardCharge(g workunit.ExpenseGroup, expenses []workunit.Expense, accountID, entityID string, tranDate time.Time) CreditCardChargePayload {
	return CreditCardChargePayload{
		ExternalID: workunit.DedupKey(g),
		AccountID:  accountID,
		EntityID:   entityID,
		Currency:   groupCurrency(expenses),
		Memo:       groupMemo(g),
		TranDate:   tranDate,
		Lines:      buildLines(expenses),
	}
}
