// Package bootstrap builds the collaborators shared by the service binaries
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/anchor"
	"github.com/bhulekhchain/title-registry/internal/block"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/providers/ethereum"
	"github.com/bhulekhchain/title-registry/internal/ratelimit"
	"github.com/bhulekhchain/title-registry/internal/store"
)

// PUBLIC_LEDGER_LIMITER is the shared budget name of public-ledger commits
const PUBLIC_LEDGER_LIMITER = "public-ledger"

// OpenDatabase connects to the mirror. When a read host is configured, reads
// are routed to it and writes stay on the primary.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.ReadHost != "" {
		err = db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: []gorm.Dialector{postgres.Open(cfg.ReadDSN())},
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to register read replica: %w", err)
		}
		logger.InfoCtx(ctx, "Registered read replica", zap.String("read_host", cfg.ReadHost))
	}

	if err := store.ConfigureConnectionPool(db, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Connected to database",
		zap.String("host", cfg.Host),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// NewLedgerClient creates the permissioned ledger gateway client
func NewLedgerClient(cfg config.LedgerConfig, jsonAdapter adapter.JSON) ledger.Client {
	return ledger.NewClient(adapter.NewHTTPClient(cfg.Timeout), jsonAdapter, ledger.Config{
		GatewayURL: cfg.GatewayURL,
		Channel:    cfg.Channel,
		APIKey:     cfg.APIKey,
	})
}

// NewHeightProvider creates the cached ledger height provider
func NewHeightProvider(cfg config.LedgerConfig, client ledger.Client, clock adapter.Clock) block.HeightProvider {
	return block.NewHeightProvider(block.NewLedgerFetcher(client), block.Config{
		TTL:         cfg.HeightTTL,
		StaleWindow: cfg.HeightStaleWindow,
	}, clock)
}

// Anchoring holds the anchoring service and the connections it owns
type Anchoring struct {
	Service anchor.Service
	public  ethereum.AnchorClient
	limiter ratelimit.Limiter
}

// Close releases the public ledger connection and the rate limiter
func (a *Anchoring) Close() {
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			logger.Warn("Failed to close rate limiter", zap.Error(err))
		}
	}
	if a.public != nil {
		a.public.Close()
	}
}

// NewAnchoring dials the public ledger and builds the anchoring service
func NewAnchoring(
	ctx context.Context,
	cfg config.AnchorConfig,
	ledgerCfg config.LedgerConfig,
	st store.AnchorStore,
	client ledger.Client,
	heights block.HeightProvider,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) (*Anchoring, error) {
	ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.PublicLedger.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial public ledger: %w", err)
	}

	public, err := ethereum.NewAnchorClient(ctx, ethClient, ethereum.AnchorConfig{
		PrivateKey:     cfg.PublicLedger.PrivateKey,
		ChainID:        cfg.PublicLedger.ChainID,
		ConfirmTimeout: cfg.PublicLedger.ConfirmTimeout,
		PollInterval:   cfg.PublicLedger.PollInterval,
	})
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	logger.InfoCtx(ctx, "Connected to public ledger", zap.String("network", public.Network()))

	rc := adapter.NewRedisClient(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB)
	limiter, err := ratelimit.NewLimiter(PUBLIC_LEDGER_LIMITER, cfg.RateLimit, rc, clock)
	if err != nil {
		public.Close()
		return nil, err
	}

	svc := anchor.NewService(anchor.Config{
		Channel:          ledgerCfg.Channel,
		VerifiedCacheTTL: cfg.VerifiedCacheTTL,
		ReconcileAfter:   cfg.ReconcileAfter,
		BroadcastTimeout: cfg.BroadcastTimeout,
	}, st, client, heights, public, limiter, jsonAdapter, clock)

	return &Anchoring{Service: svc, public: public, limiter: limiter}, nil
}
