package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerlink/ledgerlink/internal/dispatch"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Queue   string
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Dispatcher  *dispatch.Dispatcher
	SweepJob    *SweepJob
	Logger      *slog.Logger
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Every dispatch-action task funnels
// through the dispatcher; the mux only distinguishes namespace prefixes so
// unknown actions within a namespace still reach the dispatcher's
// unknown-action branch and get dropped there.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("jobs: dispatcher is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      QueueWeights,
	})

	mux := asynq.NewServeMux()
	dispatchHandler := newDispatchHandler(cfg.Dispatcher, cfg.Logger)
	mux.HandleFunc("EXPORT.", dispatchHandler)
	mux.HandleFunc("IMPORT.", dispatchHandler)
	mux.HandleFunc("UTILITY.", dispatchHandler)
	if cfg.SweepJob != nil {
		mux.HandleFunc(TaskTypeSweep, cfg.SweepJob.Handle)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			opts := entry.Options
			if entry.Queue != "" {
				opts = append(opts, asynq.Queue(entry.Queue))
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, opts...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// newDispatchHandler decodes the envelope and hands it to the dispatcher.
// The dispatcher acknowledges by returning nil regardless of handler
// outcome, so asynq never redelivers a captured failure.
func newDispatchHandler(d *dispatch.Dispatcher, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var env dispatch.Envelope
		if err := json.Unmarshal(t.Payload(), &env); err != nil {
			if logger != nil {
				logger.Warn("undecodable dispatch payload", slog.String("type", t.Type()), slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return d.Dispatch(ctx, env)
	}
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits dispatch envelopes to the queues.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// Enqueue routes the envelope to its priority lane.
func (c *Client) Enqueue(ctx context.Context, env dispatch.Envelope, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := NewTask(env)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueFor(env.Action))}, opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
