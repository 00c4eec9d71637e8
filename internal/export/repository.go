package export

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConfigNotFound indicates the workspace has no export configuration.
var ErrConfigNotFound = errors.New("export: workspace configuration not found")

// ErrEntityMappingMissing indicates an employee has no destination-side
// mapping yet, so no payload can be built for their groups.
var ErrEntityMappingMissing = errors.New("export: employee mapping missing")

// PGConfigStore reads workspace configuration rows.
type PGConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore constructs the Postgres-backed configuration store.
func NewConfigStore(pool *pgxpool.Pool) *PGConfigStore {
	return &PGConfigStore{pool: pool}
}

// Get implements ConfigStore.
func (s *PGConfigStore) Get(ctx context.Context, workspaceID int64) (WorkspaceConfig, error) {
	var (
		cfg             WorkspaceConfig
		intervalMinutes int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT workspace_id, reimbursable_object, corporate_card_object, employee_field_mapping,
		       credit_card_account_id, auto_export_enabled, auto_export_interval_minutes
		FROM workspace_configs WHERE workspace_id = $1`,
		workspaceID).Scan(&cfg.WorkspaceID, &cfg.ReimbursableObject, &cfg.CorporateCardObject,
		&cfg.EmployeeFieldMapping, &cfg.CreditCardAccountID, &cfg.AutoExportEnabled, &intervalMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkspaceConfig{}, ErrConfigNotFound
		}
		return WorkspaceConfig{}, err
	}
	cfg.AutoExportInterval = time.Duration(intervalMinutes) * time.Minute
	return cfg, nil
}

// PGCredentialStore reads and flips ledger credential validity.
type PGCredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore constructs the Postgres-backed credential store.
func NewCredentialStore(pool *pgxpool.Pool) *PGCredentialStore {
	return &PGCredentialStore{pool: pool}
}

// Valid implements CredentialStore. A workspace with no credential row has
// nothing to export with, so it reads as invalid.
func (s *PGCredentialStore) Valid(ctx context.Context, workspaceID int64) (bool, error) {
	var valid bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_valid FROM netsuite_credentials WHERE workspace_id = $1`,
		workspaceID).Scan(&valid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return valid, nil
}

// Invalidate implements CredentialStore.
func (s *PGCredentialStore) Invalidate(ctx context.Context, workspaceID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE netsuite_credentials SET is_valid = false, updated_at = now() WHERE workspace_id = $1`,
		workspaceID)
	return err
}

// PGEntityLookup resolves destination entity ids from stored employee
// mappings.
type PGEntityLookup struct {
	pool *pgxpool.Pool
}

// NewEntityLookup constructs the Postgres-backed entity lookup.
func NewEntityLookup(pool *pgxpool.Pool) *PGEntityLookup {
	return &PGEntityLookup{pool: pool}
}

// DestinationEntityID implements EntityLookup.
func (s *PGEntityLookup) DestinationEntityID(ctx context.Context, workspaceID int64, employeeEmail, mapping string) (string, error) {
	var destinationID string
	err := s.pool.QueryRow(ctx, `
		SELECT destination_id FROM employee_mappings
		WHERE workspace_id = $1 AND employee_email = $2 AND destination_type = $3`,
		workspaceID, employeeEmail, mapping).Scan(&destinationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEntityMappingMissing
		}
		return "", err
	}
	return destinationID, nil
}
