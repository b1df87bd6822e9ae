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
	"github.com/bhulekhchain/title-registry/internal/bridge"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/logger"
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
	cfg, err := config.LoadEventBridgeConfig(*configFile, *envPath)
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
			"service": "event-bridge",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Event Bridge")

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	// Create bridge
	eventBridge, err := bridge.NewBridge(
		bridge.Config{
			URL:                cfg.NATS.URL,
			StreamName:         cfg.NATS.StreamName,
			ConsumerName:       cfg.NATS.ConsumerName,
			MaxReconnects:      cfg.NATS.MaxReconnects,
			ReconnectWait:      cfg.NATS.ReconnectWait,
			ConnectionName:     cfg.NATS.ConnectionName,
			AckWaitTimeout:     cfg.NATS.AckWait,
			MaxDeliver:         cfg.NATS.MaxDeliver,
			OwnershipWorkers:   cfg.Sync.OwnershipWorkers,
			EncumbranceWorkers: cfg.Sync.EncumbranceWorkers,
			DisputeWorkers:     cfg.Sync.DisputeWorkers,
			QueueSize:          cfg.Sync.QueueSize,
			MaxRetries:         cfg.Sync.MaxRetries,
			RetryDelay:         cfg.Sync.RetryDelay,
		},
		adapter.NewNatsJetStream(),
		dataStore,
		adapter.NewJSON(),
		adapter.NewClock(),
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create event bridge", zap.Error(err))
	}
	defer eventBridge.Close()
	logger.InfoCtx(ctx, "Event bridge created", zap.String("stream", cfg.NATS.StreamName), zap.String("consumer", cfg.NATS.ConsumerName))

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for bridge errors
	errCh := make(chan error, 1)

	// Start the bridge
	go func() {
		if err := eventBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "bridge"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	logger.Info("Event Bridge stopped")
}
