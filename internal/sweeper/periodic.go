package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

// Config holds the cadence of a periodic sweeper
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// cycleFunc runs one sweep and returns how many items it handled. A full batch
// makes the sweeper run again immediately instead of waiting for the interval.
type cycleFunc func(ctx context.Context, limit int) (int, error)

var _ Sweeper = (*periodicSweeper)(nil)

// periodicSweeper runs a cycle every interval until stopped
type periodicSweeper struct {
	name      string
	config    Config
	cycle     cycleFunc
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

func newPeriodicSweeper(name string, config Config, clock adapter.Clock, cycle cycleFunc) *periodicSweeper {
	return &periodicSweeper{
		name:      name,
		config:    config,
		cycle:     cycle,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (s *periodicSweeper) Name() string {
	return s.name
}

func (s *periodicSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting sweeper",
		zap.String("sweeper", s.name),
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize))

	for {
		handled, err := s.cycle(ctx, s.config.BatchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, fmt.Errorf("%s cycle failed: %w", s.name, err))
		}

		wait := s.config.Interval
		if err == nil && handled >= s.config.BatchSize && s.config.BatchSize > 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Sweeper stopping due to context cancellation", zap.String("sweeper", s.name))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Sweeper stop requested", zap.String("sweeper", s.name))
			return nil
		case <-s.clock.After(wait):
		}
	}
}

func (s *periodicSweeper) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping sweeper", zap.String("sweeper", s.name))
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Sweeper stopped gracefully", zap.String("sweeper", s.name))
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Sweeper stop interrupted by context timeout", zap.String("sweeper", s.name))
		return ctx.Err()
	}
}
