package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

// HeightProvider provides cached access to the permissioned ledger's block height.
// Every anchoring scope and the event emitter read the same channel height, so one
// gateway query serves all of them for TTL.
//
//go:generate mockgen -source=height.go -destination=../mocks/block_height.go -package=mocks -mock_names=HeightProvider=MockHeightProvider,HeightFetcher=MockHeightFetcher
type HeightProvider interface {
	// Height returns the number of committed blocks, potentially from cache
	Height(ctx context.Context) (uint64, error)
}

// HeightFetcher reads the current height from the ledger
type HeightFetcher interface {
	FetchHeight(ctx context.Context) (uint64, error)
}

// Config holds configuration for the HeightProvider
type Config struct {
	// TTL is how long a fetched height is served without asking the ledger
	TTL time.Duration

	// StaleWindow is how long a cached height may still be served when the ledger
	// cannot be reached. A stale height only shortens the next anchored range.
	StaleWindow time.Duration
}

type cachedHeight struct {
	height    uint64
	fetchedAt time.Time
}

type heightProvider struct {
	fetcher HeightFetcher
	config  Config
	clock   adapter.Clock
	group   singleflight.Group

	mu     sync.RWMutex
	cached *cachedHeight
}

// NewHeightProvider creates a HeightProvider with caching
func NewHeightProvider(fetcher HeightFetcher, config Config, clock adapter.Clock) HeightProvider {
	return &heightProvider{
		fetcher: fetcher,
		config:  config,
		clock:   clock,
	}
}

func (p *heightProvider) Height(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()

	now := p.clock.Now()
	if cached != nil && now.Sub(cached.fetchedAt) < p.config.TTL {
		return cached.height, nil
	}

	// Concurrent callers with an expired cache share one fetch
	v, err, _ := p.group.Do("height", func() (interface{}, error) {
		return p.fetcher.FetchHeight(ctx)
	})
	if err != nil {
		if cached != nil && now.Sub(cached.fetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Serving stale ledger height",
				zap.Uint64("height", cached.height), zap.Error(err))
			return cached.height, nil
		}
		return 0, fmt.Errorf("failed to fetch ledger height and no valid cache available: %w", err)
	}

	height := v.(uint64)
	p.mu.Lock()
	if p.cached == nil || height >= p.cached.height {
		p.cached = &cachedHeight{height: height, fetchedAt: now}
	}
	p.mu.Unlock()

	return height, nil
}

type ledgerFetcher struct {
	client ledger.Client
}

// NewLedgerFetcher reads the height through the ledger's GetChainHeight query
func NewLedgerFetcher(client ledger.Client) HeightFetcher {
	return &ledgerFetcher{client: client}
}

func (f *ledgerFetcher) FetchHeight(ctx context.Context) (uint64, error) {
	return ledger.ChainHeight(ctx, f.client)
}
