package dispatch

import "strings"

// Action is a namespaced routing key. The namespace prefix decides the queue
// lane and whether the handler runs under the import deadline.
type Action string

const (
	// ActionDirectExport is a dashboard-triggered export, highest priority.
	ActionDirectExport Action = "EXPORT.P0.DIRECT"
	// ActionScheduledExport is a scheduler-triggered export, best effort.
	ActionScheduledExport Action = "EXPORT.P1.SCHEDULED"
	// ActionFetchExpenses pulls settled expenses from the source platform.
	ActionFetchExpenses Action = "IMPORT.EXPENSES"
	// ActionSyncDimensions refreshes ledger dimension values.
	ActionSyncDimensions Action = "IMPORT.DIMENSIONS"
	// ActionVendorPayment settles exported bills.
	ActionVendorPayment Action = "UTILITY.VENDOR_PAYMENT"
	// ActionPurgeStale cleans export state after configuration edits.
	ActionPurgeStale Action = "UTILITY.PURGE_STALE"
)

const (
	prefixExportP0 = "EXPORT.P0."
	prefixExportP1 = "EXPORT.P1."
	prefixImport   = "IMPORT."
	prefixUtility  = "UTILITY."
)

// IsImport reports whether the action runs under the enforced import
// deadline. Import handlers page through upstream listings with unbounded
// pagination and are the only ones observed to hang.
func (a Action) IsImport() bool {
	return strings.HasPrefix(string(a), prefixImport)
}

// Known reports whether the action belongs to a recognised namespace.
func (a Action) Known() bool {
	s := string(a)
	return strings.HasPrefix(s, prefixExportP0) ||
		strings.HasPrefix(s, prefixExportP1) ||
		strings.HasPrefix(s, prefixImport) ||
		strings.HasPrefix(s, prefixUtility)
}
