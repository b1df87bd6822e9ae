package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/config"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

const (
	healthCheckInterval = 10 * time.Second
	unavailableBackoff  = 100 * time.Millisecond
)

// Limiter is a process-spanning token bucket. Every worker sharing the Redis key
// draws from the same budget; when Redis is down each process falls back to a
// reduced local share.
//
//go:generate mockgen -source=limiter.go -destination=../mocks/ratelimit.go -package=mocks -mock_names=Limiter=MockRateLimiter
type Limiter interface {
	// Wait blocks until a token is granted, the context ends or MaxWait elapses
	Wait(ctx context.Context) error

	// Close stops the health monitor and closes the Redis connection
	Close() error
}

type limiter struct {
	config         config.RateLimiterConfig
	key            string
	limit          redis_rate.Limit
	redis          adapter.RedisClient
	distributed    adapter.RedisRateLimiter
	local          *rate.Limiter
	preFilter      *rate.Limiter
	clock          adapter.Clock
	redisAvailable atomic.Bool
	closed         atomic.Bool
	closeOnce      sync.Once
	done           chan struct{}
}

// NewLimiter creates a limiter for one named budget, e.g. "public-ledger"
func NewLimiter(name string, cfg config.RateLimiterConfig, rc adapter.RedisClient, clock adapter.Clock) (Limiter, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid rate limiter configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	available := true
	if err := rc.Ping(ctx); err != nil {
		available = false
		if !cfg.EnableLocalFallback {
			return nil, fmt.Errorf("redis unavailable and fallback disabled: %w", err)
		}
		logger.Warn("Redis unavailable, using local rate limit", zap.String("limiter", name), zap.Error(err))
	}

	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	localInterval := time.Duration(float64(interval) / cfg.LocalFallbackMultiplier)

	l := &limiter{
		config:      cfg,
		key:         cfg.RedisKeyPrefix + name,
		limit:       redis_rate.PerMinute(cfg.RequestsPerMinute),
		redis:       rc,
		distributed: rc.NewRateLimiter(),
		local:       rate.NewLimiter(rate.Every(localInterval), cfg.Burst),
		preFilter:   rate.NewLimiter(rate.Every(interval), cfg.Burst),
		clock:       clock,
		done:        make(chan struct{}),
	}
	l.redisAvailable.Store(available)

	go l.monitorRedisHealth()

	logger.Info("Rate limiter initialized",
		zap.String("limiter", name),
		zap.Int("requestsPerMinute", cfg.RequestsPerMinute),
		zap.Bool("redisAvailable", available),
		zap.Bool("localFallback", cfg.EnableLocalFallback),
	)
	return l, nil
}

func (l *limiter) Wait(ctx context.Context) error {
	if l.closed.Load() {
		return fmt.Errorf("rate limiter is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.MaxWait)
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if l.redisAvailable.Load() {
			retryAfter, err := l.tryDistributed(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				l.redisAvailable.Store(false)
				if !l.config.EnableLocalFallback {
					return fmt.Errorf("redis rate limiter unavailable: %w", err)
				}
				logger.WarnCtx(ctx, "Redis rate limiter error, falling back to local", zap.String("key", l.key), zap.Error(err))
			case retryAfter == 0:
				return nil
			default:
				// Spread retries of competing workers over 50-150% of the hint
				jitter := time.Duration(float64(retryAfter) * (0.5 + rand.Float64())) //nolint:gosec,G404
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-l.clock.After(jitter):
				}
				continue
			}
		}

		if l.config.EnableLocalFallback {
			return l.local.Wait(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(unavailableBackoff):
		}
	}
}

// tryDistributed returns 0 when a token was granted, otherwise the suggested wait
func (l *limiter) tryDistributed(ctx context.Context) (time.Duration, error) {
	// The local pre-filter keeps a burst of waiters from hammering Redis
	if err := l.preFilter.Wait(ctx); err != nil {
		return 0, err
	}

	res, err := l.distributed.Allow(ctx, l.key, l.limit)
	if err != nil {
		return 0, err
	}
	if res.Allowed > 0 {
		return 0, nil
	}

	logger.DebugCtx(ctx, "Rate limit token unavailable, waiting",
		zap.String("key", l.key),
		zap.Duration("retryAfter", res.RetryAfter))
	if res.RetryAfter <= 0 {
		return unavailableBackoff, nil
	}
	return res.RetryAfter, nil
}

func (l *limiter) monitorRedisHealth() {
	ticker := l.clock.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := l.redis.Ping(ctx)
		cancel()

		available := err == nil
		if !l.redisAvailable.Swap(available) && available {
			logger.Info("Redis connection restored", zap.String("key", l.key))
		}
	}
}

func (l *limiter) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		if closeErr := l.redis.Close(); closeErr != nil {
			logger.Warn("Error closing Redis connection", zap.Error(closeErr))
			err = closeErr
		}
	})
	return err
}

func validateConfig(cfg *config.RateLimiterConfig) error {
	if cfg.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = "title-registry:limiter:"
	}
	if cfg.LocalFallbackMultiplier <= 0 {
		cfg.LocalFallbackMultiplier = 0.5
	}
	return nil
}
