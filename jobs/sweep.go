package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerlink/ledgerlink/internal/dispatch"
)

// DueLister reports workspaces whose scheduled export time has arrived.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]int64, error)
}

// SweepJob fans one EXPORT.P1 task out per workspace that is due for an
// automatic export. It runs from the scheduler, not the dispatcher, because
// it has no workspace of its own.
type SweepJob struct {
	due    DueLister
	client *Client
	logger *slog.Logger
	clock  func() time.Time
}

// NewSweepJob wires dependencies for the sweep handler.
func NewSweepJob(due DueLister, client *Client, logger *slog.Logger) *SweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepJob{
		due:    due,
		client: client,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes scheduler sweep tasks.
func (j *SweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.due == nil || j.client == nil {
		return errors.New("jobs: sweep handler not configured")
	}
	workspaces, err := j.due.ListDue(ctx, j.clock())
	if err != nil {
		j.logger.Error("list due workspaces", slog.Any("error", err))
		return err
	}
	for _, workspaceID := range workspaces {
		env := dispatch.Envelope{Action: dispatch.ActionScheduledExport, WorkspaceID: workspaceID}
		if _, err := j.client.Enqueue(ctx, env, asynq.MaxRetry(2)); err != nil {
			j.logger.Error("enqueue scheduled export", slog.Int64("workspace_id", workspaceID), slog.Any("error", err))
			return err
		}
	}
	if len(workspaces) > 0 {
		j.logger.Info("scheduled exports enqueued", slog.Int("workspaces", len(workspaces)))
	}
	return nil
}
