package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/messaging"
	"github.com/bhulekhchain/title-registry/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	Channel         string
	StartBlock      uint64
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
}

// Emitter defines the interface for the event emitter
//
//go:generate mockgen -source=emitter.go -destination=../mocks/emitter.go -package=mocks -mock_names=Emitter=MockEmitter
type Emitter interface {
	// Run starts the event emitter
	Run(ctx context.Context) error
	// Close closes the emitter and cleans up resources
	Close()
}

// emitter reads the ledger event feed and publishes every event to JetStream
type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	store      store.CursorStore
	config     Config
	clock      adapter.Clock
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	st store.CursorStore,
	cfg Config,
	clock adapter.Clock,
) Emitter {
	return &emitter{
		subscriber: sub,
		publisher:  pub,
		store:      st,
		config:     cfg,
		clock:      clock,
	}
}

// Run starts the event emitter. The cursor only moves past a block once all its
// events were published, so a restart replays at most the unsaved tail.
func (e *emitter) Run(ctx context.Context) error {
	startBlock := e.config.StartBlock
	if startBlock == 0 {
		next, err := e.store.GetBlockCursor(ctx, e.config.Channel)
		if err != nil {
			return fmt.Errorf("failed to get block cursor: %w", err)
		}
		startBlock = next
		logger.InfoCtx(ctx, "Resuming from block cursor",
			zap.String("channel", e.config.Channel),
			zap.Uint64("block", startBlock))
	} else {
		logger.InfoCtx(ctx, "Starting from configured block",
			zap.String("channel", e.config.Channel),
			zap.Uint64("block", startBlock))
	}

	lastSavedBlock := startBlock
	lastSaveTime := e.clock.Now()

	handler := func(event *domain.LedgerEvent) error {
		if err := e.publisher.PublishEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
		}
		return nil
	}

	progress := func(next uint64) {
		shouldSave := next-lastSavedBlock >= e.config.CursorSaveFreq ||
			e.clock.Since(lastSaveTime) >= e.config.CursorSaveDelay
		if !shouldSave {
			return
		}
		if err := e.store.SetBlockCursor(ctx, e.config.Channel, next); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to save block cursor: %w", err), zap.Uint64("block", next))
			return
		}
		lastSavedBlock = next
		lastSaveTime = e.clock.Now()
	}

	logger.InfoCtx(ctx, "Starting ledger event subscription", zap.String("channel", e.config.Channel))
	return e.subscriber.SubscribeEvents(ctx, startBlock, handler, progress)
}

// Close closes the emitter and cleans up resources
func (e *emitter) Close() {
	e.subscriber.Close()
	e.publisher.Close()
}
