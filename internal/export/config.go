package export

import (
	"context"
	"time"

	"github.com/ledgerlink/ledgerlink/internal/classifier"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// ObjectType is the ledger record a fund source exports to.
type ObjectType string

const (
	ObjectBill             ObjectType = "BILL"
	ObjectExpenseReport    ObjectType = "EXPENSE_REPORT"
	ObjectJournalEntry     ObjectType = "JOURNAL_ENTRY"
	ObjectCreditCardCharge ObjectType = "CREDIT_CARD_CHARGE"
)

// TaskType maps the object type to its task ledger tag.
func (o ObjectType) TaskType() taskledger.Type {
	switch o {
	case ObjectBill:
		return taskledger.TypeCreatingBill
	case ObjectExpenseReport:
		return taskledger.TypeCreatingExpenseReport
	case ObjectJournalEntry:
		return taskledger.TypeCreatingJournalEntry
	case ObjectCreditCardCharge:
		return taskledger.TypeCreatingCreditCardCharge
	}
	return ""
}

// ClassifierType maps the object type to its error catalog partition.
func (o ObjectType) ClassifierType() classifier.ExportType {
	switch o {
	case ObjectBill:
		return classifier.ExportTypeBill
	case ObjectExpenseReport:
		return classifier.ExportTypeExpenseReport
	case ObjectJournalEntry:
		return classifier.ExportTypeJournalEntry
	case ObjectCreditCardCharge:
		return classifier.ExportTypeCreditCardCharge
	}
	return ""
}

// WorkspaceConfig is the export routing configuration for one workspace. An
// empty object type disables export for that fund source.
type WorkspaceConfig struct {
	WorkspaceID             int64
	ReimbursableObject      ObjectType
	CorporateCardObject     ObjectType
	EmployeeFieldMapping    string
	CreditCardAccountID     string
	AutoExportEnabled       bool
	AutoExportInterval      time.Duration
	FetchExpensesUpdatedGap time.Duration
}

type route struct {
	fundSource workunit.FundSource
	object     ObjectType
}

// routes lists the fund source to object type mapping. A workspace may route
// both fund sources to the same or to different object types.
func (c WorkspaceConfig) routes() []route {
	var out []route
	if c.ReimbursableObject != "" {
		out = append(out, route{workunit.FundSourcePersonal, c.ReimbursableObject})
	}
	if c.CorporateCardObject != "" {
		out = append(out, route{workunit.FundSourceCorporateCard, c.CorporateCardObject})
	}
	return out
}

// ConfigStore reads workspace export configuration. Modelled as an explicit
// read-through call rather than ambient process-wide state.
type ConfigStore interface {
	Get(ctx context.Context, workspaceID int64) (WorkspaceConfig, error)
}

// CredentialStore reads and invalidates ledger credential validity.
type CredentialStore interface {
	Valid(ctx context.Context, workspaceID int64) (bool, error)
	Invalidate(ctx context.Context, workspaceID int64) error
}

// EntityLookup resolves the destination-side entity id (employee or vendor,
// per the workspace mapping) for an employee email.
type EntityLookup interface {
	DestinationEntityID(ctx context.Context, workspaceID int64, employeeEmail, mapping string) (string, error)
}

// EntityMapperAdapter exposes a ConfigStore as the classifier's entity
// mapper.
type EntityMapperAdapter struct {
	Store ConfigStore
}

// EmployeeFieldMapping implements classifier.EntityMapper.
func (a EntityMapperAdapter) EmployeeFieldMapping(ctx context.Context, workspaceID int64) (string, error) {
	cfg, err := a.Store.Get(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	return cfg.EmployeeFieldMapping, nil
}
