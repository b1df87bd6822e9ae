package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/bootstrap"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/emitter"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/providers/jetstream"
	"github.com/bhulekhchain/title-registry/internal/providers/ledgerfeed"
	"github.com/bhulekhchain/title-registry/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadLedgerEventEmitterConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "ledger-event-emitter",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ledger Event Emitter")

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	ledgerClient := bootstrap.NewLedgerClient(cfg.Ledger, jsonAdapter)
	heights := bootstrap.NewHeightProvider(cfg.Ledger, ledgerClient, clockAdapter)

	// Initialize NATS publisher
	natsPublisher, err := jetstream.NewPublisher(
		ctx,
		jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer natsPublisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	ledgerSubscriber := ledgerfeed.NewSubscriber(ledgerfeed.Config{
		Channel:      cfg.Ledger.Channel,
		PollInterval: cfg.Emitter.PollInterval,
		BatchSize:    cfg.Emitter.BatchSize,
	}, ledgerClient, heights, clockAdapter)
	defer ledgerSubscriber.Close()

	eventEmitter := emitter.NewEmitter(
		ledgerSubscriber,
		natsPublisher,
		dataStore,
		emitter.Config{
			Channel:         cfg.Ledger.Channel,
			StartBlock:      cfg.Emitter.StartBlock,
			CursorSaveFreq:  2,                // Save every 2 blocks
			CursorSaveDelay: 30 * time.Second, // Or every 30 seconds
		},
		clockAdapter,
	)
	defer eventEmitter.Close()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for emitter errors
	errCh := make(chan error, 1)

	// Start the emitter
	go func() {
		if err := eventEmitter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "emitter"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Ledger Event Emitter stopped")
}
