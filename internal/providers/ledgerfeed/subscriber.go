package ledgerfeed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/block"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/messaging"
)

const (
	DEFAULT_POLL_INTERVAL = 2 * time.Second
	DEFAULT_BATCH_SIZE    = 100
)

// Config holds the configuration for polling the ledger event feed
type Config struct {
	Channel      string
	PollInterval time.Duration
	BatchSize    int
}

type subscriber struct {
	client  ledger.Client
	heights block.HeightProvider
	clock   adapter.Clock
	config  Config
}

// NewSubscriber creates a subscriber that polls committed blocks for registry events
func NewSubscriber(cfg Config, client ledger.Client, heights block.HeightProvider, clock adapter.Clock) messaging.Subscriber {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DEFAULT_POLL_INTERVAL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DEFAULT_BATCH_SIZE
	}
	return &subscriber{
		client:  client,
		heights: heights,
		clock:   clock,
		config:  cfg,
	}
}

func (s *subscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	return s.heights.Height(ctx)
}

// SubscribeEvents reads [next, height-1] in batches, delivering events in block order.
// A failed read is retried on the next poll; a failed handler stops the subscription.
func (s *subscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler, progress messaging.ProgressHandler) error {
	next := fromBlock
	logger.InfoCtx(ctx, "Polling ledger event feed",
		zap.String("channel", s.config.Channel),
		zap.Uint64("fromBlock", next))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		height, err := s.heights.Height(ctx)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to read ledger height", zap.Error(err))
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}
		if next >= height {
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		end := next + uint64(s.config.BatchSize) - 1
		if end > height-1 {
			end = height - 1
		}

		events, err := ledger.BlockRangeEvents(ctx, s.client, next, end)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to read block events",
				zap.Uint64("start", next),
				zap.Uint64("end", end),
				zap.Error(err))
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		for i := range events {
			event := events[i]
			if event.BlockNumber < next || event.BlockNumber > end {
				return fmt.Errorf("ledger returned event %s of block %d outside [%d, %d]",
					event.EventID, event.BlockNumber, next, end)
			}
			if err := handler(&event); err != nil {
				return err
			}
		}

		next = end + 1
		if progress != nil {
			progress(next)
		}
	}
}

func (s *subscriber) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.config.PollInterval):
		return nil
	}
}

func (s *subscriber) Close() {}
