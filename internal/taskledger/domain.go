package taskledger

import (
	"encoding/json"
	"time"
)

// Type tags what a task attempt was trying to do.
type Type string

const (
	TypeCreatingBill             Type = "CREATING_BILL"
	TypeCreatingExpenseReport    Type = "CREATING_EXPENSE_REPORT"
	TypeCreatingJournalEntry     Type = "CREATING_JOURNAL_ENTRY"
	TypeCreatingCreditCardCharge Type = "CREATING_CREDIT_CARD_CHARGE"
	TypeCreatingVendorPayment    Type = "CREATING_VENDOR_PAYMENT"
	TypeFetchingExpenses         Type = "FETCHING_EXPENSES"
)

// Status is the lifecycle state of one task attempt.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
	StatusFatal      Status = "FATAL"
)

// Terminal reports whether the status ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusFatal
}

// Entry records one export attempt for an expense group and task type. The
// (expense_group_id, type) pair is unique, so a retried attempt overwrites
// the previous terminal row instead of adding a second one. Workspace-scoped
// tasks (vendor payment, expense fetch) carry a nil group reference and are
// unique on (workspace_id, type) instead.
type Entry struct {
	ID              int64
	WorkspaceID     int64
	ExpenseGroupID  *int64
	Type            Type
	Status          Status
	ReAttemptExport bool
	Detail          json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkspaceScoped reports whether the entry is not tied to one expense group.
func (e Entry) WorkspaceScoped() bool {
	return e.ExpenseGroupID == nil
}

// Detail payloads shown to users alongside a task row.
type FailureDetail struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// MarshalDetail encodes a failure detail, falling back to an empty object so
// a marshalling problem never masks the original task outcome.
func MarshalDetail(d FailureDetail) json.RawMessage {
	data, err := json.Marshal(d)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
