package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/ledgerlink/ledgerlink/internal/dispatch"
)

// Queue names, in descending priority. Dashboard-triggered exports must not
// starve behind background batches or long imports.
const (
	QueueExportP0 = "export_p0"
	QueueExportP1 = "export_p1"
	QueueImport   = "import"
	QueueUtility  = "utility"
)

// QueueWeights is the asynq priority map shared by every worker.
var QueueWeights = map[string]int{
	QueueExportP0: 6,
	QueueExportP1: 3,
	QueueImport:   2,
	QueueUtility:  1,
}

// QueueFor maps an action namespace to its queue lane.
func QueueFor(action dispatch.Action) string {
	s := string(action)
	switch {
	case strings.HasPrefix(s, "EXPORT.P0."):
		return QueueExportP0
	case strings.HasPrefix(s, "EXPORT.P1."):
		return QueueExportP1
	case strings.HasPrefix(s, "IMPORT."):
		return QueueImport
	default:
		return QueueUtility
	}
}

// NewTask wraps a dispatch envelope as an asynq task. The task type is the
// action string itself, so the worker mux routes on namespace prefixes.
func NewTask(env dispatch.Envelope) (*asynq.Task, error) {
	if !env.Action.Known() {
		return nil, fmt.Errorf("jobs: action %q outside known namespaces", env.Action)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(string(env.Action), data), nil
}

// TaskTypeSweep is the scheduler-owned task that fans out due auto exports.
// It is not a dispatch action: it carries no workspace of its own.
const TaskTypeSweep = "scheduler:sweep"

// NewSweepTask constructs the sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil)
}
