package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/bootstrap"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/stampduty"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/sweeper"
	"github.com/bhulekhchain/title-registry/internal/transfer"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
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
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Sweeper")

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to open database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()

	ledgerClient := bootstrap.NewLedgerClient(cfg.Ledger, jsonAdapter)
	heights := bootstrap.NewHeightProvider(cfg.Ledger, ledgerClient, clock)

	anchoring, err := bootstrap.NewAnchoring(ctx, cfg.Anchor, cfg.Ledger, dataStore, ledgerClient, heights, jsonAdapter, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize anchoring", zap.Error(err))
	}
	defer anchoring.Close()

	transfers := transfer.NewService(
		transfer.Config{CoolingPeriod: cfg.Transfer.CoolingPeriod},
		dataStore,
		ledgerClient,
		stampduty.NewCalculator(ledgerClient),
		clock,
		jsonAdapter,
	)

	sweepers := []sweeper.Sweeper{
		sweeper.NewFinalitySweeper(sweeper.Config{
			Interval:  cfg.FinalitySweeper.Interval,
			BatchSize: cfg.FinalitySweeper.BatchSize,
		}, transfers, clock),
		sweeper.NewAnchorReconcileSweeper(sweeper.Config{
			Interval:  cfg.AnchorSweeper.Interval,
			BatchSize: cfg.AnchorSweeper.BatchSize,
		}, anchoring.Service, clock),
		sweeper.NewAuditVerifySweeper(sweeper.Config{
			Interval: cfg.AuditVerifySweeper.Interval,
		}, audit.NewService(dataStore, jsonAdapter), clock),
	}

	// Start every sweeper; the first failure cancels the others
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sweepers {
		logger.InfoCtx(ctx, "Starting sweeper", zap.String("name", s.Name()))
		g.Go(func() error {
			if err := s.Start(gctx); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case <-gctx.Done():
	}

	// Cancel context to stop the sweepers
	cancel()

	// Give the sweepers time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for _, s := range sweepers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.ErrorCtx(shutdownCtx, err, zap.String("name", s.Name()))
		}
	}
	if err := g.Wait(); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	logger.InfoCtx(shutdownCtx, "Sweeper stopped")
}
