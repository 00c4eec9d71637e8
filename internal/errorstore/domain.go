package errorstore

import "time"

// Type partitions error records by origin.
type Type string

const (
	// TypeNetSuiteError covers failures raised by the ledger for one group.
	TypeNetSuiteError Type = "NETSUITE_ERROR"
	// TypeConnectionError covers workspace-wide credential and connectivity
	// failures; records of this type carry no expense group reference.
	TypeConnectionError Type = "NETSUITE_CONNECTION_ERROR"
)

// Record is one deduplicated, user-facing account of a failed export. The
// (workspace, expense group, type) key is unique; repeated identical
// failures bump RepetitionCount instead of inserting new rows.
type Record struct {
	ID              int64
	WorkspaceID     int64
	ExpenseGroupID  *int64
	Type            Type
	Title           string
	Detail          string
	ArticleLink     string
	RepetitionCount int
	IsResolved      bool
	IsParsed        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Input carries the fields written on every failed attempt.
type Input struct {
	WorkspaceID    int64
	ExpenseGroupID *int64
	Type           Type
	Title          string
	Detail         string
	ArticleLink    string
	IsParsed       bool
}
