// Package importer pulls data in from the two platforms: expenses and their
// grouping from the source side, dimension values from the ledger side. Both
// run as import-class dispatch actions under the enforced deadline.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerlink/ledgerlink/internal/attributes"
	"github.com/ledgerlink/ledgerlink/internal/classifier"
	"github.com/ledgerlink/ledgerlink/internal/fyle"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// ExpenseStore is the workunit surface the importer writes to.
type ExpenseStore interface {
	UpsertExpenses(ctx context.Context, workspaceID int64, expenses []workunit.Expense) error
	UngroupedExpenses(ctx context.Context, workspaceID int64) ([]workunit.Expense, error)
	InsertGroup(ctx context.Context, g workunit.ExpenseGroup) (int64, error)
}

// TaskLog is the subset of the task ledger the importer records into.
type TaskLog interface {
	BeginAttempt(ctx context.Context, workspaceID int64, groupID *int64, taskType taskledger.Type) (taskledger.Entry, error)
	Complete(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error
	Fail(ctx context.Context, entry taskledger.Entry, detail json.RawMessage, retryable bool) error
}

// AttributeStore receives synced ledger dimension values.
type AttributeStore interface {
	UpsertBatch(ctx context.Context, workspaceID int64, attrs []attributes.DestinationAttribute) error
}

// CacheInvalidator evicts cached attribute names after a dimension refresh.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, workspaceID int64, attributeType, destinationID string) error
}

// Service fetches and groups expenses and refreshes dimensions.
type Service struct {
	source  fyle.Client
	ledger  netsuite.DimensionClient
	store   ExpenseStore
	attrs   AttributeStore
	cache   CacheInvalidator
	taskLog TaskLog
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the importer.
func NewService(source fyle.Client, ledger netsuite.DimensionClient, store ExpenseStore, attrs AttributeStore, taskLog TaskLog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:  source,
		ledger:  ledger,
		store:   store,
		attrs:   attrs,
		taskLog: taskLog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithCacheInvalidator makes dimension syncs evict stale cached names.
func (s *Service) WithCacheInvalidator(cache CacheInvalidator) {
	s.cache = cache
}

// FetchExpenses pulls pages of settled expenses updated since the cursor,
// persists them and builds new expense groups. One FETCHING_EXPENSES task
// row per workspace tracks the outcome.
func (s *Service) FetchExpenses(ctx context.Context, workspaceID int64, updatedSince time.Time) error {
	entry, err := s.taskLog.BeginAttempt(ctx, workspaceID, nil, taskledger.TypeFetchingExpenses)
	if err != nil {
		return fmt.Errorf("importer: begin fetch attempt: %w", err)
	}

	logger := s.logger.With(slog.Int64("workspace_id", workspaceID))

	fetched := 0
	filter := fyle.ExpenseFilter{UpdatedSince: updatedSince, State: "PAYMENT_PROCESSING", PageSize: 200}
	for {
		page, err := s.source.ListExpenses(ctx, filter)
		if err != nil {
			return s.failFetch(ctx, logger, entry, fmt.Errorf("importer: list expenses: %w", err))
		}
		if err := s.store.UpsertExpenses(ctx, workspaceID, convertExpenses(workspaceID, page.Expenses)); err != nil {
			return s.failFetch(ctx, logger, entry, fmt.Errorf("importer: store expenses: %w", err))
		}
		fetched += len(page.Expenses)
		if page.NextCursor == "" {
			break
		}
		filter.Cursor = page.NextCursor
	}

	ungrouped, err := s.store.UngroupedExpenses(ctx, workspaceID)
	if err != nil {
		return s.failFetch(ctx, logger, entry, fmt.Errorf("importer: load ungrouped expenses: %w", err))
	}
	groups := workunit.BuildGroups(workspaceID, ungrouped)
	for _, g := range groups {
		if _, err := s.store.InsertGroup(ctx, g); err != nil {
			// A concurrent fetch already created the group; its members are
			// flagged grouped either way.
			if errors.Is(err, workunit.ErrDuplicateGroup) {
				continue
			}
			return s.failFetch(ctx, logger, entry, fmt.Errorf("importer: insert group: %w", err))
		}
	}

	detail := taskledger.MarshalDetail(taskledger.FailureDetail{
		Message: fmt.Sprintf("Fetched %d expenses into %d groups", fetched, len(groups)),
	})
	if err := s.taskLog.Complete(ctx, entry, detail); err != nil {
		return fmt.Errorf("importer: complete fetch task: %w", err)
	}
	logger.Info("expense fetch finished", slog.Int("expenses", fetched), slog.Int("groups", len(groups)))
	return nil
}

func (s *Service) failFetch(ctx context.Context, logger *slog.Logger, entry taskledger.Entry, err error) error {
	detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: err.Error()})
	if ferr := s.taskLog.Fail(ctx, entry, detail, true); ferr != nil {
		logger.Error("record fetch failure", slog.Any("error", ferr))
	}
	return err
}

func convertExpenses(workspaceID int64, in []fyle.Expense) []workunit.Expense {
	out := make([]workunit.Expense, len(in))
	for i, e := range in {
		out[i] = workunit.Expense{
			WorkspaceID:   workspaceID,
			FyleExpenseID: e.ID,
			EmployeeEmail: e.EmployeeEmail,
			EmployeeName:  e.EmployeeName,
			Category:      e.Category,
			Amount:        e.Amount,
			Currency:      e.Currency,
			FundSource:    workunit.FundSource(e.FundSource),
			SpentAt:       e.SpentAt,
			ReportID:      e.ReportID,
		}
	}
	return out
}

// SyncDimensions refreshes every ledger dimension into the destination
// attribute store, which the error classifier resolves references against.
func (s *Service) SyncDimensions(ctx context.Context, workspaceID int64) error {
	logger := s.logger.With(slog.Int64("workspace_id", workspaceID))
	for _, dimension := range netsuite.Dimensions {
		values, err := s.ledger.ListDimension(ctx, dimension)
		if err != nil {
			return fmt.Errorf("importer: list dimension %s: %w", dimension, err)
		}
		batch := make([]attributes.DestinationAttribute, len(values))
		for i, v := range values {
			batch[i] = attributes.DestinationAttribute{
				WorkspaceID:   workspaceID,
				AttributeType: classifier.NormalizeAttributeType(v.Type),
				DestinationID: v.InternalID,
				Value:         v.Name,
				Active:        v.Active,
			}
		}
		if err := s.attrs.UpsertBatch(ctx, workspaceID, batch); err != nil {
			return fmt.Errorf("importer: store dimension %s: %w", dimension, err)
		}
		if s.cache != nil {
			for _, attr := range batch {
				if err := s.cache.Invalidate(ctx, workspaceID, attr.AttributeType, attr.DestinationID); err != nil {
					logger.Warn("attribute cache invalidate", slog.String("dimension", dimension), slog.Any("error", err))
					break
				}
			}
		}
		logger.Info("dimension synced", slog.String("dimension", dimension), slog.Int("values", len(values)))
	}
	return nil
}
