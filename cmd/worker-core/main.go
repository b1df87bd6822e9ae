package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/bootstrap"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/jobs"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	temporal "github.com/bhulekhchain/title-registry/internal/providers/temporal"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/workflows"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerCoreConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "worker-core",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting worker core")

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	httpClient := adapter.NewHTTPClient(30 * time.Second)

	ledgerClient := bootstrap.NewLedgerClient(cfg.Ledger, jsonAdapter)
	heights := bootstrap.NewHeightProvider(cfg.Ledger, ledgerClient, clock)

	anchoring, err := bootstrap.NewAnchoring(ctx, cfg.Anchor, cfg.Ledger, dataStore, ledgerClient, heights, jsonAdapter, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize anchoring", zap.Error(err))
	}
	defer anchoring.Close()

	// Connect to Temporal with logger integration
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewZapLoggerAdapter(logger.Default()),
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to Temporal", zap.Error(err), zap.String("host_port", cfg.Temporal.HostPort))
	}
	defer temporalClient.Close()
	logger.InfoCtx(ctx, "Connected to Temporal", zap.String("namespace", cfg.Temporal.Namespace))

	temporalWorker := worker.New(
		temporalClient,
		cfg.Temporal.TaskQueue,
		worker.Options{
			MaxConcurrentActivityExecutionSize: cfg.Temporal.MaxConcurrentActivityExecutionSize,
			WorkerActivitiesPerSecond:          cfg.Temporal.WorkerActivitiesPerSecond,
			MaxConcurrentActivityTaskPollers:   cfg.Temporal.MaxConcurrentActivityTaskPollers,
			Interceptors:                       []interceptor.WorkerInterceptor{temporal.NewSentryActivityInterceptor()},
		})
	logger.InfoCtx(ctx, "Created Temporal worker", zap.String("task_queue", cfg.Temporal.TaskQueue))

	executor := workflows.NewExecutor(dataStore, anchoring.Service, jsonAdapter, clock, httpClient, adapter.NewActivity())
	workerCore := workflows.NewWorkerCore(executor, workflows.WorkerCoreConfig{})

	// Register workflows
	temporalWorker.RegisterWorkflow(workerCore.AnchorScope)
	temporalWorker.RegisterWorkflow(workerCore.NotifyWebhookClients)
	temporalWorker.RegisterWorkflow(workerCore.DeliverWebhook)

	// Register activities
	temporalWorker.RegisterActivity(executor.AnchorStateRoot)
	temporalWorker.RegisterActivity(executor.GetActiveWebhookClientsByEventType)
	temporalWorker.RegisterActivity(executor.GetWebhookClientByID)
	temporalWorker.RegisterActivity(executor.CreateWebhookDeliveryRecord)
	temporalWorker.RegisterActivity(executor.DeliverWebhookHTTP)
	temporalWorker.RegisterActivity(executor.RecordDeadLetter)
	logger.InfoCtx(ctx, "Registered workflows and activities")

	if err := temporalWorker.Start(); err != nil {
		logger.FatalCtx(ctx, "Failed to start worker", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Worker started and listening for tasks")

	// The relay drains the outbox into the audit chain and the job queue
	queue := jobs.NewQueue(jobs.Config{TaskQueue: cfg.Temporal.TaskQueue}, temporalClient, jsonAdapter)
	relay := outbox.NewRelay(outbox.Config{
		BatchSize:      cfg.Outbox.BatchSize,
		PollInterval:   cfg.Outbox.PollInterval,
		Lease:          cfg.Outbox.Lease,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		InitialBackoff: cfg.Outbox.InitialBackoff,
		MaxBackoff:     cfg.Outbox.MaxBackoff,
	}, dataStore, map[schema.OutboxTopic]outbox.Handler{
		schema.OutboxTopicAuditAppend:    outbox.AuditHandler(audit.NewService(dataStore, jsonAdapter), jsonAdapter),
		schema.OutboxTopicAnchorTrigger:  outbox.EnqueueHandler(queue),
		schema.OutboxTopicTransferNotify: outbox.EnqueueHandler(queue),
	}, clock)

	errCh := make(chan error, 1)
	go func() {
		if err := relay.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", relay.Name()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	if err := relay.Stop(shutdownCtx); err != nil {
		logger.Warn("Outbox relay did not stop cleanly", zap.Error(err))
	}
	cancel()
	temporalWorker.Stop()
	logger.Info("Worker stopped")
}
