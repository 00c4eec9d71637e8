package attributes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerlink/ledgerlink/internal/platform/db"
)

// ErrAttributeNotFound indicates no synced attribute matches the reference.
var ErrAttributeNotFound = errors.New("attributes: destination attribute not found")

// Repository persists destination attributes synced from the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a destination attribute repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ResolveAttribute looks up the human-readable value for a reference.
func (r *Repository) ResolveAttribute(ctx context.Context, workspaceID int64, attributeType, destinationID string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM destination_attributes
		 WHERE workspace_id = $1 AND attribute_type = $2 AND destination_id = $3 AND active`,
		workspaceID, attributeType, destinationID).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAttributeNotFound
		}
		return "", err
	}
	return value, nil
}

// UpsertBatch writes a page of synced attributes in one transaction. The
// dimension sync job calls this once per fetched page.
func (r *Repository) UpsertBatch(ctx context.Context, workspaceID int64, attrs []DestinationAttribute) error {
	if len(attrs) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, attr := range attrs {
			_, err := tx.Exec(ctx, `
				INSERT INTO destination_attributes (workspace_id, attribute_type, destination_id, value, active)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (workspace_id, attribute_type, destination_id)
				DO UPDATE SET value = EXCLUDED.value, active = EXCLUDED.active, updated_at = now()`,
				workspaceID, attr.AttributeType, attr.DestinationID, attr.Value, attr.Active)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
