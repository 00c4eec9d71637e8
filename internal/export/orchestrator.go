// Package export drives expense groups through the per-object-type export
// state machine: eligibility, at-most-one attempt per (group, type), ledger
// write, and failure classification into the task ledger and error store.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerlink/ledgerlink/internal/classifier"
	"github.com/ledgerlink/ledgerlink/internal/errorstore"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// TaskLog is the task ledger surface the orchestrator drives.
type TaskLog interface {
	BeginAttempt(ctx context.Context, workspaceID int64, groupID *int64, taskType taskledger.Type) (taskledger.Entry, error)
	Complete(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error
	Fail(ctx context.Context, entry taskledger.Entry, detail json.RawMessage, retryable bool) error
	Fatal(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error
	EligibleForExport(ctx context.Context, workspaceID int64, fundSource workunit.FundSource, taskType taskledger.Type) ([]workunit.ExpenseGroup, error)
	PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error
}

// GroupStore is the expense group surface the orchestrator mutates.
type GroupStore interface {
	Expenses(ctx context.Context, workspaceID, groupID int64) ([]workunit.Expense, error)
	MarkExported(ctx context.Context, workspaceID, groupID int64, exportedAt time.Time, url string) error
	MarkExpensesExported(ctx context.Context, workspaceID, groupID int64) error
	PendingIDs(ctx context.Context, workspaceID int64, fundSource workunit.FundSource) ([]int64, error)
	ExportedUnpaid(ctx context.Context, workspaceID int64) ([]workunit.ExpenseGroup, error)
	MarkPaid(ctx context.Context, workspaceID, groupID int64) error
}

// ErrorSink is the deduplicated error record surface.
type ErrorSink interface {
	Upsert(ctx context.Context, in errorstore.Input) (errorstore.Record, error)
	Resolve(ctx context.Context, workspaceID, groupID int64) error
	PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error
}

// Classifier translates raw ledger error messages.
type Classifier interface {
	Classify(ctx context.Context, workspaceID int64, exportType classifier.ExportType, message string) classifier.Result
}

// Summaries records end-of-cycle rollups.
type Summaries interface {
	Record(ctx context.Context, s CycleSummary) error
}

// OrchestratorParams collects dependencies for NewOrchestrator.
type OrchestratorParams struct {
	Config     ConfigStore
	Creds      CredentialStore
	TaskLog    TaskLog
	Groups     GroupStore
	Errors     ErrorSink
	Classifier Classifier
	Entities   EntityLookup
	Ledger     netsuite.Client
	Summaries  Summaries
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Orchestrator runs export cycles for workspaces.
type Orchestrator struct {
	config     ConfigStore
	creds      CredentialStore
	taskLog    TaskLog
	groups     GroupStore
	errs       ErrorSink
	classifier Classifier
	entities   EntityLookup
	ledger     netsuite.Client
	summaries  Summaries
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Config == nil || p.Creds == nil || p.TaskLog == nil || p.Groups == nil ||
		p.Errors == nil || p.Classifier == nil || p.Entities == nil || p.Ledger == nil || p.Summaries == nil {
		return nil, errors.New("export: orchestrator missing dependencies")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:     p.Config,
		creds:      p.Creds,
		taskLog:    p.TaskLog,
		groups:     p.Groups,
		errs:       p.Errors,
		classifier: p.Classifier,
		entities:   p.Entities,
		ledger:     p.Ledger,
		summaries:  p.Summaries,
		metrics:    p.Metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the clock for deterministic tests.
func (o *Orchestrator) WithClock(clock func() time.Time) {
	if clock != nil {
		o.now = clock
	}
}

// RunCycle exports every eligible expense group for the workspace, one fund
// source route at a time. Credential validity is re-checked before each
// group's admission so an invalidation mid-cycle halts further attempts
// immediately, not at the next cycle. Database-layer errors abort the cycle
// and propagate.
func (o *Orchestrator) RunCycle(ctx context.Context, workspaceID int64, mode Mode) (CycleSummary, error) {
	tracker := o.metrics.Track(mode)
	summary, err := o.runCycle(ctx, workspaceID, mode)
	return summary, tracker.End(err)
}

func (o *Orchestrator) runCycle(ctx context.Context, workspaceID int64, mode Mode) (CycleSummary, error) {
	cfg, err := o.config.Get(ctx, workspaceID)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("export: load config for workspace %d: %w", workspaceID, err)
	}

	logger := o.logger.With(slog.Int64("workspace_id", workspaceID), slog.String("mode", string(mode)))

	var total, succeeded, failed int
	halted := false

	for _, rt := range cfg.routes() {
		if halted {
			break
		}
		taskType := rt.object.TaskType()
		groups, err := o.taskLog.EligibleForExport(ctx, workspaceID, rt.fundSource, taskType)
		if err != nil {
			return CycleSummary{}, fmt.Errorf("export: eligibility for %s: %w", rt.fundSource, err)
		}
		total += len(groups)

		for _, group := range groups {
			valid, err := o.creds.Valid(ctx, workspaceID)
			if err != nil {
				return CycleSummary{}, fmt.Errorf("export: credential check: %w", err)
			}
			if !valid {
				logger.Warn("credentials invalid, halting cycle")
				halted = true
				break
			}

			entry, err := o.taskLog.BeginAttempt(ctx, workspaceID, &group.ID, taskType)
			if err != nil {
				return CycleSummary{}, fmt.Errorf("export: begin attempt for group %d: %w", group.ID, err)
			}

			resp, err := o.exportGroup(ctx, cfg, rt.object, group)
			if err == nil {
				if err := o.recordSuccess(ctx, entry, group, rt.object, resp); err != nil {
					return CycleSummary{}, err
				}
				succeeded++
				o.metrics.CountGroup(workspaceID, "exported")
				continue
			}

			failed++
			o.metrics.CountGroup(workspaceID, "failed")
			halted = o.recordFailure(ctx, logger, cfg, rt.object, group, entry, err)
			if halted {
				break
			}
		}
	}

	summary := CycleSummary{
		WorkspaceID:     workspaceID,
		TotalCount:      total,
		SuccessfulCount: succeeded,
		FailedCount:     failed,
		Mode:            mode,
	}
	if succeeded > 0 {
		summary.LastExportedAt = o.now()
		if cfg.AutoExportEnabled && cfg.AutoExportInterval > 0 {
			next := summary.LastExportedAt.Add(cfg.AutoExportInterval)
			summary.NextExportAt = &next
		}
		if err := o.summaries.Record(ctx, summary); err != nil {
			return summary, fmt.Errorf("export: record cycle summary: %w", err)
		}
	}

	logger.Info("export cycle finished",
		slog.Int("total", total), slog.Int("succeeded", succeeded), slog.Int("failed", failed), slog.Bool("halted", halted))
	return summary, nil
}

func (o *Orchestrator) exportGroup(ctx context.Context, cfg WorkspaceConfig, object ObjectType, group workunit.ExpenseGroup) (netsuite.ExportResponse, error) {
	expenses, err := o.groups.Expenses(ctx, group.WorkspaceID, group.ID)
	if err != nil {
		return netsuite.ExportResponse{}, fmt.Errorf("export: load expenses for group %d: %w", group.ID, err)
	}

	entityID, err := o.entities.DestinationEntityID(ctx, group.WorkspaceID, group.EmployeeEmail, cfg.EmployeeFieldMapping)
	if err != nil {
		return netsuite.ExportResponse{}, err
	}

	tranDate := o.now()
	switch object {
	case ObjectBill:
		return o.ledger.CreateBill(ctx, netsuite.BuildBill(group, expenses, entityID, tranDate))
	case ObjectExpenseReport:
		return o.ledger.CreateExpenseReport(ctx, netsuite.BuildExpenseReport(group, expenses, entityID, tranDate))
	case ObjectJournalEntry:
		return o.ledger.CreateJournalEntry(ctx, netsuite.BuildJournalEntry(group, expenses, entityID, tranDate))
	case ObjectCreditCardCharge:
		return o.ledger.CreateCreditCardCharge(ctx, netsuite.BuildCreditCardCharge(group, expenses, cfg.CreditCardAccountID, entityID, tranDate))
	}
	return netsuite.ExportResponse{}, fmt.Errorf("export: unsupported object type %q", object)
}

func (o *Orchestrator) recordSuccess(ctx context.Context, entry taskledger.Entry, group workunit.ExpenseGroup, object ObjectType, resp netsuite.ExportResponse) error {
	detail := taskledger.MarshalDetail(taskledger.FailureDetail{
		Message: fmt.Sprintf("Created %s %s", object, resp.InternalID),
		URL:     resp.URL,
	})
	if err := o.taskLog.Complete(ctx, entry, detail); err != nil {
		return fmt.Errorf("export: complete task for group %d: %w", group.ID, err)
	}
	if err := o.groups.MarkExported(ctx, group.WorkspaceID, group.ID, o.now(), resp.URL); err != nil {
		return fmt.Errorf("export: mark group %d exported: %w", group.ID, err)
	}
	if err := o.groups.MarkExpensesExported(ctx, group.WorkspaceID, group.ID); err != nil {
		return fmt.Errorf("export: mark expenses exported for group %d: %w", group.ID, err)
	}
	if err := o.errs.Resolve(ctx, group.WorkspaceID, group.ID); err != nil {
		return fmt.Errorf("export: resolve errors for group %d: %w", group.ID, err)
	}
	return nil
}

// recordFailure maps a ledger-write failure onto the task ledger and error
// store. It returns true when the cycle must halt (credential failures).
// Ledger-client error types never leak past this boundary.
func (o *Orchestrator) recordFailure(ctx context.Context, logger *slog.Logger, cfg WorkspaceConfig, object ObjectType, group workunit.ExpenseGroup, entry taskledger.Entry, err error) bool {
	logger = logger.With(slog.Int64("expense_group_id", group.ID), slog.String("task_type", string(entry.Type)))

	var (
		rateErr *netsuite.RateLimitError
		valErr  *netsuite.ValidationError
		fault   *netsuite.Fault
	)

	switch {
	case netsuite.IsCredentialError(err):
		detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: err.Error()})
		if ferr := o.taskLog.Fail(ctx, entry, detail, true); ferr != nil {
			logger.Error("record credential failure", slog.Any("error", ferr))
		}
		if _, uerr := o.errs.Upsert(ctx, errorstore.Input{
			WorkspaceID: group.WorkspaceID,
			Type:        errorstore.TypeConnectionError,
			Title:       "NetSuite connection expired",
			Detail:      err.Error(),
		}); uerr != nil {
			logger.Error("record connection error", slog.Any("error", uerr))
		}
		if ierr := o.creds.Invalidate(ctx, group.WorkspaceID); ierr != nil {
			logger.Error("invalidate credentials", slog.Any("error", ierr))
		}
		logger.Warn("ledger credentials rejected, halting cycle", slog.Any("error", err))
		return true

	case errors.As(err, &rateErr):
		o.persistClassified(ctx, logger, object, group, entry, rateErr.Message, true)
		return false

	case errors.As(err, &valErr):
		o.persistClassified(ctx, logger, object, group, entry, valErr.Message(), false)
		return false

	case errors.As(err, &fault):
		o.persistClassified(ctx, logger, object, group, entry, fault.Message, true)
		return false

	case errors.Is(err, ErrEntityMappingMissing):
		message := fmt.Sprintf("Employee %s is not mapped to a NetSuite %s", group.EmployeeEmail, cfg.EmployeeFieldMapping)
		detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: message})
		if ferr := o.taskLog.Fail(ctx, entry, detail, false); ferr != nil {
			logger.Error("record mapping failure", slog.Any("error", ferr))
		}
		if _, uerr := o.errs.Upsert(ctx, errorstore.Input{
			WorkspaceID:    group.WorkspaceID,
			ExpenseGroupID: &group.ID,
			Type:           errorstore.TypeNetSuiteError,
			Title:          "Employee mapping missing",
			Detail:         message,
		}); uerr != nil {
			logger.Error("record mapping error", slog.Any("error", uerr))
		}
		return false

	default:
		detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: err.Error()})
		if ferr := o.taskLog.Fatal(ctx, entry, detail); ferr != nil {
			logger.Error("record fatal failure", slog.Any("error", ferr))
		}
		logger.Error("unclassified export failure", slog.Any("error", err))
		return false
	}
}

func (o *Orchestrator) persistClassified(ctx context.Context, logger *slog.Logger, object ObjectType, group workunit.ExpenseGroup, entry taskledger.Entry, message string, retryable bool) {
	result := o.classifier.Classify(ctx, group.WorkspaceID, object.ClassifierType(), message)

	detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: result.Message})
	if err := o.taskLog.Fail(ctx, entry, detail, retryable); err != nil {
		logger.Error("record task failure", slog.Any("error", err))
	}
	if _, err := o.errs.Upsert(ctx, errorstore.Input{
		WorkspaceID:    group.WorkspaceID,
		ExpenseGroupID: &group.ID,
		Type:           errorstore.TypeNetSuiteError,
		Title:          fmt.Sprintf("Failed to create %s", object),
		Detail:         result.Message,
		ArticleLink:    result.ArticleLink,
		IsParsed:       result.Parsed,
	}); err != nil {
		logger.Error("record export error", slog.Any("error", err))
	}
}

// PurgeStale deletes pending task and error rows for fund sources the
// workspace no longer routes anywhere. Run after configuration edits so
// users do not keep seeing errors for groups that will never export.
func (o *Orchestrator) PurgeStale(ctx context.Context, workspaceID int64) error {
	cfg, err := o.config.Get(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("export: load config for workspace %d: %w", workspaceID, err)
	}

	routed := map[workunit.FundSource]bool{}
	for _, rt := range cfg.routes() {
		routed[rt.fundSource] = true
	}

	for _, fs := range []workunit.FundSource{workunit.FundSourcePersonal, workunit.FundSourceCorporateCard} {
		if routed[fs] {
			continue
		}
		ids, err := o.groups.PendingIDs(ctx, workspaceID, fs)
		if err != nil {
			return fmt.Errorf("export: pending ids for %s: %w", fs, err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := o.taskLog.PurgeForGroups(ctx, workspaceID, ids); err != nil {
			return fmt.Errorf("export: purge task rows: %w", err)
		}
		if err := o.errs.PurgeForGroups(ctx, workspaceID, ids); err != nil {
			return fmt.Errorf("export: purge error records: %w", err)
		}
		o.logger.Info("purged stale export state",
			slog.Int64("workspace_id", workspaceID), slog.String("fund_source", string(fs)), slog.Int("groups", len(ids)))
	}
	return nil
}
