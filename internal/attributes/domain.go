package attributes

import "time"

// DestinationAttribute is one ledger-side dimension value synced for a
// workspace, keyed by (workspace, attribute type, destination id).
type DestinationAttribute struct {
	ID            int64
	WorkspaceID   int64
	AttributeType string
	DestinationID string
	Value         string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
