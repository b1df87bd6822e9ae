package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// Handler performs the side effect of one outbox entry. It must be idempotent on
// entry.ID because a lease can expire while the handler still runs.
type Handler func(ctx context.Context, entry schema.OutboxEntry) error

// Queue is the durable job queue the relay hands asynchronous work to
type Queue interface {
	Enqueue(ctx context.Context, topic schema.OutboxTopic, key string, payload []byte) error
}

// Config holds the relay settings
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	Lease          time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Relay dispatches committed outbox entries to their handlers
//
//go:generate mockgen -source=relay.go -destination=../mocks/outbox_relay.go -package=mocks -mock_names=Relay=MockOutboxRelay,Queue=MockJobQueue
type Relay interface {
	// Start polls until the context is canceled or Stop is called
	Start(ctx context.Context) error
	// Stop waits for the current batch to finish
	Stop(ctx context.Context) error
	// Name returns the relay's name for logging
	Name() string
	// RunOnce claims and dispatches one batch and returns how many entries were claimed
	RunOnce(ctx context.Context) (int, error)
}

type relay struct {
	config    Config
	store     store.OutboxStore
	handlers  map[schema.OutboxTopic]Handler
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewRelay creates a relay. Entries whose topic has no handler are parked as dead.
func NewRelay(cfg Config, st store.OutboxStore, handlers map[schema.OutboxTopic]Handler, clock adapter.Clock) Relay {
	return &relay{
		config:    cfg,
		store:     st,
		handlers:  handlers,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (r *relay) Name() string {
	return "outbox-relay"
}

func (r *relay) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay already running")
	}
	defer func() {
		r.running.Store(false)
		close(r.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting outbox relay",
		zap.Int("batchSize", r.config.BatchSize),
		zap.Duration("pollInterval", r.config.PollInterval),
		zap.Int("maxAttempts", r.config.MaxAttempts))

	ticker := r.clock.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain full batches back to back, then wait for the next tick
		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err)
		}
		if err == nil && n >= r.config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Outbox relay stopping due to context cancellation")
			return nil
		case <-r.stopChan:
			logger.InfoCtx(ctx, "Outbox relay stop requested")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *relay) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}
	close(r.stopChan)

	select {
	case <-r.stoppedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for relay to stop: %w", ctx.Err())
	}
}

// RunOnce dispatches entries in creation order so audit entries of one scope are
// chained in the order their changes committed
func (r *relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.store.ClaimOutboxEntries(ctx, r.clock.Now(), r.config.Lease, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox entries: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return len(entries), ctx.Err()
		}
		r.dispatch(ctx, entry)
	}
	return len(entries), nil
}

func (r *relay) dispatch(ctx context.Context, entry schema.OutboxEntry) {
	fields := []zap.Field{
		zap.String("outboxID", entry.ID),
		zap.String("topic", string(entry.Topic)),
		zap.String("aggregateID", entry.AggregateID),
		zap.Int("attempt", entry.Attempts),
	}

	handler, ok := r.handlers[entry.Topic]
	if !ok {
		r.bury(ctx, entry, fmt.Errorf("no handler for outbox topic %s", entry.Topic), fields)
		return
	}

	err := handler(ctx, entry)
	if err == nil {
		if err := r.store.MarkOutboxDone(ctx, entry.ID, r.clock.Now()); err != nil {
			logger.ErrorCtx(ctx, err, fields...)
		}
		logger.DebugCtx(ctx, "Outbox entry dispatched", fields...)
		return
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) || domain.IsValidationClass(err) || entry.Attempts >= r.config.MaxAttempts {
		r.bury(ctx, entry, err, fields)
		return
	}

	next := r.clock.Now().Add(r.retryDelay(entry.Attempts))
	logger.WarnCtx(ctx, "Outbox dispatch failed, will retry",
		append(fields, zap.Error(err), zap.Time("nextAttemptAt", next))...)
	if err := r.store.MarkOutboxRetry(ctx, entry.ID, next, err.Error()); err != nil {
		logger.ErrorCtx(ctx, err, fields...)
	}
}

// bury parks the entry and raises an alert. A lost audit entry breaks the
// verifiability of its scope from that point on.
func (r *relay) bury(ctx context.Context, entry schema.OutboxEntry, cause error, fields []zap.Field) {
	kind := "outbox_dead_letter"
	if entry.Topic == schema.OutboxTopicAuditAppend {
		kind = "audit_write_lost"
	}
	logger.Alert(ctx, kind, cause, fields...)

	if err := r.store.MarkOutboxDead(ctx, entry.ID, r.clock.Now(), cause.Error()); err != nil {
		logger.ErrorCtx(ctx, err, fields...)
	}
}

// retryDelay is the exponential backoff delay before attempt+1
func (r *relay) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialBackoff
	b.MaxInterval = r.config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// =============================================================================
// Handlers
// =============================================================================

// AuditHandler appends the entry's intent to the audit chain, keyed by the outbox id
func AuditHandler(svc audit.Service, j adapter.JSON) Handler {
	return func(ctx context.Context, entry schema.OutboxEntry) error {
		var intent audit.Intent
		if err := j.Unmarshal(entry.Payload, &intent); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to unmarshal audit intent: %w", err))
		}
		sourceID := entry.ID
		_, err := svc.Append(ctx, &sourceID, intent)
		return err
	}
}

// EnqueueHandler forwards the entry to the job queue. The outbox id is the job's
// idempotency key.
func EnqueueHandler(q Queue) Handler {
	return func(ctx context.Context, entry schema.OutboxEntry) error {
		return q.Enqueue(ctx, entry.Topic, entry.ID, entry.Payload)
	}
}
