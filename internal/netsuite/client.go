// Package netsuite defines the contracts the export pipeline consumes when
// talking to the ledger: typed operations, the error taxonomy callers
// classify against, and a REST transport that maps onto both.
package netsuite

import "context"

// ExportResponse identifies the record the ledger created.
type ExportResponse struct {
	InternalID string
	URL        string
}

// Client is the ledger-write collaborator. Every call either succeeds or
// returns one of *ConnectionError, *LoginError, *RateLimitError,
// *ValidationError or *Fault. Writes are idempotent on ExternalID, so a
// retried payload never creates a second record.
type Client interface {
	CreateBill(ctx context.Context, payload BillPayload) (ExportResponse, error)
	CreateExpenseReport(ctx context.Context, payload ExpenseReportPayload) (ExportResponse, error)
	CreateJournalEntry(ctx context.Context, payload JournalEntryPayload) (ExportResponse, error)
	CreateCreditCardCharge(ctx context.Context, payload CreditCardChargePayload) (ExportResponse, error)
	CreateVendorPayment(ctx context.Context, payload VendorPaymentPayload) (ExportResponse, error)
}

// Attribute is one dimension value listed from the ledger.
type Attribute struct {
	Type       string
	InternalID string
	Name       string
	Active     bool
}

// Dimensions names every ledger dimension the sync refreshes. Listing calls
// paginate without an upper bound upstream, which is why dimension sync runs
// under the dispatcher's import deadline.
var Dimensions = []string{
	"ACCOUNT", "EMPLOYEE", "VENDOR", "EXPENSE_CATEGORY",
	"LOCATION", "DEPARTMENT", "CLASS", "SUBSIDIARY", "CURRENCY", "TAX_CODE",
}

// DimensionClient lists ledger dimension values for attribute sync.
type DimensionClient interface {
	ListDimension(ctx context.Context, dimension string) ([]Attribute, error)
}
