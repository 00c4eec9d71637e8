// Package dispatch routes action messages from the queues to their handlers.
// The action set is closed and resolved at startup; only the untrusted
// message boundary has an unknown-action branch.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
)

// Envelope is the inbound message shape.
type Envelope struct {
	Action      Action          `json:"action" validate:"required"`
	WorkspaceID int64           `json:"workspace_id" validate:"required,gt=0"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Handler processes one envelope.
type Handler func(ctx context.Context, env Envelope) error

// TimeoutError is returned when an import-class handler exceeds the armed
// deadline.
type TimeoutError struct {
	Action Action
	Limit  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatch: action %s exceeded %s import timeout", e.Action, e.Limit)
}

// Recorder persists failed events for replay.
type Recorder interface {
	Record(ctx context.Context, event FailedEvent) error
}

// Dispatcher owns the closed action registry.
type Dispatcher struct {
	handlers      map[Action]Handler
	importTimeout time.Duration
	validate      *validator.Validate
	failures      Recorder
	logger        *slog.Logger
	clock         func() time.Time

	// onDisarm observes deadline disarm for tests; nil in production.
	onDisarm func(Action)
}

// NewDispatcher constructs a dispatcher with the given import deadline.
func NewDispatcher(importTimeout time.Duration, failures Recorder, logger *slog.Logger) *Dispatcher {
	if importTimeout <= 0 {
		importTimeout = 20 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers:      make(map[Action]Handler),
		importTimeout: importTimeout,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		failures:      failures,
		logger:        logger,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// Register binds an action to its handler. Registration happens once at
// startup; duplicates and blanks are programming errors surfaced early.
func (d *Dispatcher) Register(action Action, handler Handler) error {
	if action == "" || handler == nil {
		return fmt.Errorf("dispatch: invalid registration for action %q", action)
	}
	if !action.Known() {
		return fmt.Errorf("dispatch: action %q outside known namespaces", action)
	}
	if _, exists := d.handlers[action]; exists {
		return fmt.Errorf("dispatch: action %q already registered", action)
	}
	d.handlers[action] = handler
	return nil
}

// Dispatch validates, routes and runs the envelope, then acknowledges it no
// matter what happened: handler failures become durable failed-event rows
// for replay instead of requeues, so a poison message cannot loop. The nil
// return is the acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	if err := d.validate.Struct(env); err != nil {
		d.logger.Warn("dropping malformed dispatch message", slog.Any("error", err))
		return nil
	}

	err := d.Process(ctx, env)
	if err == nil {
		return nil
	}

	event := FailedEvent{
		RoutingKey:  string(env.Action),
		WorkspaceID: env.WorkspaceID,
		Payload:     env.Data,
		Traceback:   err.Error(),
		CreatedAt:   d.clock(),
	}
	if d.failures != nil {
		if rerr := d.failures.Record(ctx, event); rerr != nil {
			d.logger.Error("persist failed event", slog.String("action", string(env.Action)), slog.Any("error", rerr))
		}
	}
	d.logger.Error("dispatch handler failed",
		slog.String("action", string(env.Action)), slog.Int64("workspace_id", env.WorkspaceID), slog.Any("error", err))
	return nil
}

// Process routes and runs the envelope, returning the handler's outcome.
// Unknown actions are logged and dropped, not retried: a malformed dispatch
// is not the ledger's fault and retrying it wastes worker capacity.
func (d *Dispatcher) Process(ctx context.Context, env Envelope) error {
	handler, ok := d.handlers[env.Action]
	if !ok {
		d.logger.Warn("unknown dispatch action, dropping",
			slog.String("action", string(env.Action)), slog.Int64("workspace_id", env.WorkspaceID))
		return nil
	}

	if env.Action.IsImport() {
		return d.runWithDeadline(ctx, env, handler)
	}
	return invoke(ctx, env, handler)
}

// runWithDeadline arms the import deadline before invocation and disarms it
// on every exit path, success or failure.
func (d *Dispatcher) runWithDeadline(ctx context.Context, env Envelope, handler Handler) error {
	ctx, cancel := context.WithTimeout(ctx, d.importTimeout)
	defer func() {
		cancel()
		if d.onDisarm != nil {
			d.onDisarm(env.Action)
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- invoke(ctx, env, handler)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{Action: env.Action, Limit: d.importTimeout}
	}
}

// invoke shields the dispatcher from handler panics; a panic is a handler
// failure like any other and must not take the worker down.
func invoke(ctx context.Context, env Envelope, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic for %s: %v\n%s", env.Action, r, debug.Stack())
		}
	}()
	return handler(ctx, env)
}
