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

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/api/middleware"
	"github.com/bhulekhchain/title-registry/internal/api/server"
	"github.com/bhulekhchain/title-registry/internal/api/shared/executor"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/bootstrap"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/property"
	"github.com/bhulekhchain/title-registry/internal/stampduty"
	"github.com/bhulekhchain/title-registry/internal/store"
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
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
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
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting title registry API")

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

	exec := executor.NewExecutor(
		transfers,
		property.NewReader(ledgerClient, dataStore),
		anchoring.Service,
		audit.NewService(dataStore, jsonAdapter),
		dataStore,
		jsonAdapter,
	)

	srv := server.New(server.Config{
		Debug:          cfg.Debug,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}, exec)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
