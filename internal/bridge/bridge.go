package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/transfer"
)

const (
	DEFAULT_WORKERS    = 4
	DEFAULT_QUEUE_SIZE = 256
)

// Config holds the configuration for the event bridge
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int

	// Workers per event class; a class at zero uses DEFAULT_WORKERS
	OwnershipWorkers   int
	EncumbranceWorkers int
	DisputeWorkers     int
	QueueSize          int

	// MaxRetries is the number of in-process projection attempts per delivery
	MaxRetries int
	RetryDelay time.Duration
}

// Bridge consumes ledger events from JetStream and projects them onto the mirror
type Bridge interface {
	// Run consumes until ctx is cancelled
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	store  store.ProjectionStore
	json   adapter.JSON
	clock  adapter.Clock
	config Config
}

// NewBridge connects to NATS and creates a new event bridge
func NewBridge(
	cfg Config,
	natsJS adapter.NatsJetStream,
	st store.ProjectionStore,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) (Bridge, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(fmt.Errorf("disconnected from NATS: %w", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	return &bridge{
		nc:     nc,
		js:     js,
		store:  st,
		json:   jsonAdapter,
		clock:  clock,
		config: cfg,
	}, nil
}

// Run starts the event bridge
func (b *bridge) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting event bridge",
		zap.String("stream", b.config.StreamName),
		zap.String("consumer", b.config.ConsumerName))

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: domain.EventSubjectPrefix + ".>",
	})
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	pools := b.newPools(ctx)
	defer func() {
		for class, pool := range pools {
			pool.StopAndWait()
			logger.InfoCtx(ctx, "Sync worker pool stopped",
				zap.String("class", string(class)),
				zap.Uint64("completed", pool.CompletedTasks()),
				zap.Uint64("failed", pool.FailedTasks()))
		}
	}()

	sub, err := consumer.Consume(func(msg adapter.Message) {
		b.dispatch(ctx, pools, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.InfoCtx(ctx, "Started consuming ledger events")

	<-ctx.Done()
	logger.InfoCtx(ctx, "Shutting down event bridge")
	return ctx.Err()
}

// newPools creates one bounded pool per event class so a burst of one class
// cannot starve the others
func (b *bridge) newPools(ctx context.Context) map[domain.EventClass]pond.Pool {
	sizes := map[domain.EventClass]int{
		domain.EventClassOwnership:   b.config.OwnershipWorkers,
		domain.EventClassEncumbrance: b.config.EncumbranceWorkers,
		domain.EventClassDispute:     b.config.DisputeWorkers,
	}
	queueSize := b.config.QueueSize
	if queueSize <= 0 {
		queueSize = DEFAULT_QUEUE_SIZE
	}

	pools := make(map[domain.EventClass]pond.Pool, len(sizes))
	for class, workers := range sizes {
		if workers <= 0 {
			workers = DEFAULT_WORKERS
		}
		pools[class] = pond.NewPool(workers,
			pond.WithQueueSize(queueSize),
			pond.WithContext(ctx))
		logger.InfoCtx(ctx, "Sync worker pool created",
			zap.String("class", string(class)),
			zap.Int("workers", workers),
			zap.Int("queue_size", queueSize))
	}
	return pools
}

// dispatch parses the envelope and hands the message to its class pool
func (b *bridge) dispatch(ctx context.Context, pools map[domain.EventClass]pond.Pool, msg adapter.Message) {
	var event domain.LedgerEvent
	if err := b.json.Unmarshal(msg.Data(), &event); err != nil {
		b.deadLetter(ctx, msg, nil, domain.Wrap(domain.CodeValidation, "unparseable ledger event", err))
		return
	}

	pool, ok := pools[event.Type.Class()]
	if !ok {
		pool = pools[domain.EventClassOwnership]
	}
	pool.Submit(func() {
		b.handleMessage(ctx, msg, &event)
	})
}

// handleMessage projects one event. Ack on success, Nak for redelivery while
// deliveries remain, dead letter once they are exhausted.
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message, event *domain.LedgerEvent) {
	var delivered uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		delivered = metadata.NumDelivered
	}

	logger.InfoCtx(ctx, "Received ledger event",
		zap.String("eventID", event.EventID),
		zap.String("type", string(event.Type)),
		zap.Uint64("block", event.BlockNumber),
		zap.String("txID", event.TxID),
		zap.Uint64("deliveryCount", delivered))

	payload, err := event.Decode()
	if err != nil {
		b.deadLetter(ctx, msg, event, err)
		return
	}

	if err := b.projectWithRetry(ctx, event, payload); err != nil {
		if domain.IsValidationClass(err) || (b.config.MaxDeliver > 0 && delivered >= uint64(b.config.MaxDeliver)) {
			b.deadLetter(ctx, msg, event, err)
			return
		}

		logger.WarnCtx(ctx, "Projection failed, redelivering",
			zap.String("eventID", event.EventID),
			zap.Uint64("deliveryCount", delivered),
			zap.Error(err))
		if err := msg.NakWithDelay(b.config.RetryDelay); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to NAK message: %w", err))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to ACK message: %w", err), zap.String("eventID", event.EventID))
	}
}

func (b *bridge) projectWithRetry(ctx context.Context, event *domain.LedgerEvent, payload domain.EventPayload) error {
	in, err := b.projectionInput(event, payload)
	if err != nil {
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(b.config.RetryDelay), uint64(b.config.MaxRetries-1))
	operation := func() error {
		err := b.project(ctx, in, payload)
		if err != nil && domain.IsValidationClass(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.WarnCtx(ctx, "Projection attempt failed",
			zap.String("eventID", event.EventID),
			zap.Duration("next_retry_in", next),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
}

// project is the exhaustive dispatch table from event variant to mirror upsert
func (b *bridge) project(ctx context.Context, in store.ProjectionInput, payload domain.EventPayload) error {
	switch p := payload.(type) {
	case *domain.PropertyRegistered:
		return b.store.ProjectPropertyRegistered(ctx, in, p)
	case *domain.TransferCompleted:
		return b.store.ProjectTransferCompleted(ctx, in, p)
	case *domain.EncumbranceAdded:
		return b.store.ProjectEncumbranceAdded(ctx, in, p)
	case *domain.EncumbranceReleased:
		return b.store.ProjectEncumbranceReleased(ctx, in, p)
	case *domain.DisputeFlagged:
		return b.store.ProjectDisputeFlagged(ctx, in, p)
	case *domain.DisputeResolved:
		return b.store.ProjectDisputeResolved(ctx, in, p)
	default:
		return domain.Errorf(domain.CodeValidation, "no projection for %T", payload)
	}
}

// projectionInput attaches the land audit intent; its id derives from the event
// so replays collapse onto one outbox row. A completed transfer also carries the
// execution jobs in case the orchestrator never wrote them.
func (b *bridge) projectionInput(event *domain.LedgerEvent, payload domain.EventPayload) (store.ProjectionInput, error) {
	propertyID := payload.Property().String()
	intent, err := audit.NewIntent(b.json, domain.System(), domain.AuditActionLandProjected,
		domain.AuditResourceLand, propertyID, nil, payload, event.Timestamp)
	if err != nil {
		return store.ProjectionInput{}, err
	}

	entry, err := outbox.NewAuditEntry(b.json,
		outbox.DeterministicID(string(schema.OutboxTopicAuditAppend), event.EventID),
		intent, b.clock.Now())
	if err != nil {
		return store.ProjectionInput{}, err
	}
	in := store.ProjectionInput{Event: event, Audit: &entry}

	if p, ok := payload.(*domain.TransferCompleted); ok && p.TransferID != "" {
		effects, err := transfer.ProjectedExecutionEffects(b.json, p, event.TxID, b.clock.Now())
		if err != nil {
			return store.ProjectionInput{}, err
		}
		in.TransferEffects = effects
	}
	return in, nil
}

// deadLetter records the event for manual reconciliation, raises the fatal sync
// alert and terminates the message
func (b *bridge) deadLetter(ctx context.Context, msg adapter.Message, event *domain.LedgerEvent, cause error) {
	failure := schema.SyncFailure{
		Subject: msg.Subject(),
		Payload: datatypes.JSON(msg.Data()),
		Error:   cause.Error(),
	}
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		failure.Deliveries = metadata.NumDelivered
	}
	if event != nil {
		failure.EventID = event.EventID
		failure.EventType = string(event.Type)
	}
	if failure.EventID == "" {
		failure.EventID = outbox.DeterministicID(msg.Subject(), string(msg.Data()))
	}

	logger.Alert(ctx, "sync_fatal", cause,
		zap.String("eventID", failure.EventID),
		zap.String("subject", failure.Subject),
		zap.Uint64("deliveries", failure.Deliveries))

	if err := b.store.RecordSyncFailure(ctx, failure); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to record sync failure: %w", err), zap.String("eventID", failure.EventID))
		// keep it on the stream so the failure is not lost
		if err := msg.Nak(); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to NAK message: %w", err))
		}
		return
	}

	if err := msg.Term(); err != nil {
		if !errors.Is(err, nats.ErrMsgAlreadyAckd) {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to terminate message: %w", err))
		}
	}
}

// Close closes the bridge and cleans up resources
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}

	b.nc.Close()
}
