package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ledgerlink/ledgerlink/internal/errorstore"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// CreateVendorPayments settles exported, unpaid bill groups. The task is
// workspace-scoped: one attempt row keyed on (workspace, type), no group
// reference. Only workspaces exporting bills for personal expenses have
// anything to settle.
func (o *Orchestrator) CreateVendorPayments(ctx context.Context, workspaceID int64) error {
	cfg, err := o.config.Get(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("export: load config for workspace %d: %w", workspaceID, err)
	}
	if cfg.ReimbursableObject != ObjectBill {
		return nil
	}

	groups, err := o.groups.ExportedUnpaid(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("export: load unpaid groups: %w", err)
	}
	if len(groups) == 0 {
		return nil
	}

	entry, err := o.taskLog.BeginAttempt(ctx, workspaceID, nil, taskledger.TypeCreatingVendorPayment)
	if err != nil {
		return fmt.Errorf("export: begin vendor payment attempt: %w", err)
	}

	logger := o.logger.With(slog.Int64("workspace_id", workspaceID))
	paid := 0
	for _, group := range groups {
		payload, err := o.buildVendorPayment(ctx, cfg, group)
		if err != nil {
			return o.failVendorPayment(ctx, logger, entry, err)
		}
		if _, err := o.ledger.CreateVendorPayment(ctx, payload); err != nil {
			return o.failVendorPayment(ctx, logger, entry, err)
		}
		if err := o.groups.MarkPaid(ctx, workspaceID, group.ID); err != nil {
			return fmt.Errorf("export: mark group %d paid: %w", group.ID, err)
		}
		paid++
	}

	detail := taskledger.MarshalDetail(taskledger.FailureDetail{
		Message: fmt.Sprintf("Created %d vendor payments", paid),
	})
	if err := o.taskLog.Complete(ctx, entry, detail); err != nil {
		return fmt.Errorf("export: complete vendor payment task: %w", err)
	}
	logger.Info("vendor payments created", slog.Int("count", paid))
	return nil
}

func (o *Orchestrator) buildVendorPayment(ctx context.Context, cfg WorkspaceConfig, group workunit.ExpenseGroup) (netsuite.VendorPaymentPayload, error) {
	expenses, err := o.groups.Expenses(ctx, group.WorkspaceID, group.ID)
	if err != nil {
		return netsuite.VendorPaymentPayload{}, fmt.Errorf("export: load expenses for group %d: %w", group.ID, err)
	}
	vendorID, err := o.entities.DestinationEntityID(ctx, group.WorkspaceID, group.EmployeeEmail, cfg.EmployeeFieldMapping)
	if err != nil {
		return netsuite.VendorPaymentPayload{}, err
	}

	amount := decimal.Zero
	currency := ""
	for _, e := range expenses {
		amount = amount.Add(e.Amount)
		currency = e.Currency
	}
	return netsuite.VendorPaymentPayload{
		ExternalID: workunit.DedupKey(group) + ":payment",
		VendorID:   vendorID,
		Currency:   currency,
		Amount:     amount,
		BillIDs:    []string{workunit.DedupKey(group)},
	}, nil
}

func (o *Orchestrator) failVendorPayment(ctx context.Context, logger *slog.Logger, entry taskledger.Entry, err error) error {
	detail := taskledger.MarshalDetail(taskledger.FailureDetail{Message: err.Error()})

	if netsuite.IsCredentialError(err) {
		if ferr := o.taskLog.Fail(ctx, entry, detail, true); ferr != nil {
			logger.Error("record vendor payment failure", slog.Any("error", ferr))
		}
		if ierr := o.creds.Invalidate(ctx, entry.WorkspaceID); ierr != nil {
			logger.Error("invalidate credentials", slog.Any("error", ierr))
		}
		return nil
	}

	retryable := netsuite.IsRateLimited(err)
	if ferr := o.taskLog.Fail(ctx, entry, detail, retryable); ferr != nil {
		logger.Error("record vendor payment failure", slog.Any("error", ferr))
	}
	if _, uerr := o.errs.Upsert(ctx, errorstore.Input{
		WorkspaceID: entry.WorkspaceID,
		Type:        errorstore.TypeNetSuiteError,
		Title:       "Failed to create vendor payment",
		Detail:      err.Error(),
	}); uerr != nil {
		logger.Error("record vendor payment error", slog.Any("error", uerr))
	}
	logger.Warn("vendor payment failed", slog.Any("error", err))
	return nil
}
