package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ledgerlink/ledgerlink/internal/app"
	"github.com/ledgerlink/ledgerlink/internal/attributes"
	"github.com/ledgerlink/ledgerlink/internal/classifier"
	"github.com/ledgerlink/ledgerlink/internal/dispatch"
	"github.com/ledgerlink/ledgerlink/internal/errorstore"
	"github.com/ledgerlink/ledgerlink/internal/export"
	"github.com/ledgerlink/ledgerlink/internal/fyle"
	"github.com/ledgerlink/ledgerlink/internal/importer"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/platform/cache"
	"github.com/ledgerlink/ledgerlink/internal/platform/db"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
	"github.com/ledgerlink/ledgerlink/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	groups := workunit.NewRepository(pool)
	taskLog := taskledger.NewRepository(pool)
	errRepo := errorstore.NewRepository(pool)
	configStore := export.NewConfigStore(pool)
	credStore := export.NewCredentialStore(pool)
	entityLookup := export.NewEntityLookup(pool)
	summaries := export.NewSummaryRepository(pool)
	attrRepo := attributes.NewRepository(pool)
	failedEvents := dispatch.NewFailedEventRepository(pool)

	resolver := attributes.NewCachedResolver(attrRepo, redisClient, cfg.AttributeCacheTTL)
	classify := classifier.NewService(resolver, export.EntityMapperAdapter{Store: configStore})

	ledger := netsuite.NewRESTClient(cfg.NetSuiteBaseURL, cfg.NetSuiteAccountID, cfg.NetSuiteToken)
	source := fyle.NewHTTPClient(cfg.FyleBaseURL, cfg.FyleToken)

	orchestrator, err := export.NewOrchestrator(export.OrchestratorParams{
		Config:     configStore,
		Creds:      credStore,
		TaskLog:    taskLog,
		Groups:     groups,
		Errors:     errRepo,
		Classifier: classify,
		Entities:   entityLookup,
		Ledger:     ledger,
		Summaries:  summaries,
		Metrics:    export.NewMetrics(prometheus.DefaultRegisterer),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("init orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	imports := importer.NewService(source, ledger, groups, attrRepo, taskLog, logger)
	imports.WithCacheInvalidator(resolver)

	exportLock := cache.NewLock(redisClient, 30*time.Minute)

	dispatcher := dispatch.NewDispatcher(cfg.ImportTimeout, failedEvents, logger)
	if err := registerHandlers(dispatcher, orchestrator, imports, exportLock, logger); err != nil {
		logger.Error("register dispatch handlers", slog.Any("error", err))
		os.Exit(1)
	}

	sweep := jobs.NewSweepJob(summaries, queueClient, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Dispatcher:  dispatcher,
		SweepJob:    sweep,
		Logger:      logger,
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewSweepTask(), Queue: jobs.QueueUtility},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("ledgerlink worker starting",
		slog.Int("concurrency", cfg.WorkerConcurrency), slog.Duration("import_timeout", cfg.ImportTimeout))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// fetchOptions is the optional payload for IMPORT.EXPENSES messages.
type fetchOptions struct {
	UpdatedSince time.Time `json:"updated_since"`
}

func registerHandlers(d *dispatch.Dispatcher, orchestrator *export.Orchestrator, imports *importer.Service, lock *cache.Lock, logger *slog.Logger) error {
	runExport := func(mode export.Mode) dispatch.Handler {
		return func(ctx context.Context, env dispatch.Envelope) error {
			key := cache.ExportLockKey(env.WorkspaceID)
			acquired, err := lock.Acquire(ctx, key)
			if err != nil {
				logger.Warn("export lock unavailable, proceeding", slog.Any("error", err))
			}
			if !acquired {
				logger.Info("export cycle already running, skipping",
					slog.Int64("workspace_id", env.WorkspaceID), slog.String("mode", string(mode)))
				return nil
			}
			defer func() {
				if err := lock.Release(ctx, key); err != nil {
					logger.Warn("export lock release", slog.Any("error", err))
				}
			}()
			_, err = orchestrator.RunCycle(ctx, env.WorkspaceID, mode)
			return err
		}
	}

	handlers := map[dispatch.Action]dispatch.Handler{
		dispatch.ActionDirectExport:    runExport(export.ModeManual),
		dispatch.ActionScheduledExport: runExport(export.ModeAuto),
		dispatch.ActionFetchExpenses: func(ctx context.Context, env dispatch.Envelope) error {
			var opts fetchOptions
			if len(env.Data) > 0 {
				if err := json.Unmarshal(env.Data, &opts); err != nil {
					return err
				}
			}
			return imports.FetchExpenses(ctx, env.WorkspaceID, opts.UpdatedSince)
		},
		dispatch.ActionSyncDimensions: func(ctx context.Context, env dispatch.Envelope) error {
			return imports.SyncDimensions(ctx, env.WorkspaceID)
		},
		dispatch.ActionVendorPayment: func(ctx context.Context, env dispatch.Envelope) error {
			return orchestrator.CreateVendorPayments(ctx, env.WorkspaceID)
		},
		dispatch.ActionPurgeStale: func(ctx context.Context, env dispatch.Envelope) error {
			return orchestrator.PurgeStale(ctx, env.WorkspaceID)
		},
	}
	for action, handler := range handlers {
		if err := d.Register(action, handler); err != nil {
			return err
		}
	}
	return nil
}
