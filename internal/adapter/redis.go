package adapter

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client used by the global anchor limiter
//
//go:generate mockgen -source=redis.go -destination=../mocks/redis.go -package=mocks
type RedisClient interface {
	Ping(ctx context.Context) error
	NewRateLimiter() RedisRateLimiter
	Close() error
}

type redisClient struct {
	client *redis.Client
}

// NewRedisClient connects to the limiter's Redis. Timeouts are short and
// retries minimal so a Redis outage surfaces quickly and the limiter falls
// back to its local share instead of stalling anchor submissions.
func NewRedisClient(addr, password string, db int) RedisClient {
	return &redisClient{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			PoolSize:     4,
			MaxRetries:   1,
		}),
	}
}

func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClient) NewRateLimiter() RedisRateLimiter {
	return &gcraLimiter{limiter: redis_rate.NewLimiter(r.client)}
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

// RedisRateLimiter is a GCRA limiter shared by every process using the same key
type RedisRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

type gcraLimiter struct {
	limiter *redis_rate.Limiter
}

func (g *gcraLimiter) Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	return g.limiter.Allow(ctx, key, limit)
}
