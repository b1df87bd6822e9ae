package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/providers/temporal"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/webhook"
	"github.com/bhulekhchain/title-registry/internal/workflows"
)

// Config holds the job queue settings
type Config struct {
	TaskQueue string
	// NotifyRunTimeout bounds the fan-out of one transfer notification
	NotifyRunTimeout time.Duration
}

type queue struct {
	config       Config
	orchestrator temporal.TemporalOrchestrator
	json         adapter.JSON
	// workerCore provides the workflow method references; it is never executed here
	workerCore workflows.WorkerCore
}

// NewQueue creates an outbox.Queue that starts Temporal workflows
func NewQueue(cfg Config, orchestrator temporal.TemporalOrchestrator, jsonAdapter adapter.JSON) outbox.Queue {
	if cfg.NotifyRunTimeout <= 0 {
		cfg.NotifyRunTimeout = time.Hour
	}
	return &queue{
		config:       cfg,
		orchestrator: orchestrator,
		json:         jsonAdapter,
		workerCore:   workflows.NewWorkerCore(nil, workflows.WorkerCoreConfig{}),
	}
}

// Enqueue starts the workflow serving the topic. Enqueueing the same key twice
// is a no-op for notifications and a coalesced trigger for anchoring.
func (q *queue) Enqueue(ctx context.Context, topic schema.OutboxTopic, key string, payload []byte) error {
	switch topic {
	case schema.OutboxTopicAnchorTrigger:
		return q.enqueueAnchor(ctx, payload)
	case schema.OutboxTopicTransferNotify:
		return q.enqueueNotify(ctx, key, payload)
	default:
		return domain.Errorf(domain.CodeValidation, "no job for topic %q", topic)
	}
}

func (q *queue) enqueueAnchor(ctx context.Context, payload []byte) error {
	var trigger domain.AnchorTrigger
	if err := q.json.Unmarshal(payload, &trigger); err != nil {
		return domain.Wrap(domain.CodeValidation, "malformed anchor trigger", err)
	}
	if trigger.Scope == "" {
		return domain.Errorf(domain.CodeValidation, "anchor trigger without scope")
	}

	workflowID := workflows.AnchorWorkflowID(trigger.Scope)
	options := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             q.config.TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	_, err := q.orchestrator.SignalWithStartWorkflow(ctx, workflowID, workflows.SignalAnchorTrigger, trigger,
		options, q.workerCore.AnchorScope, trigger)
	if err != nil {
		return fmt.Errorf("failed to signal anchor workflow: %w", err)
	}

	logger.DebugCtx(ctx, "Anchor trigger delivered",
		zap.String("workflowID", workflowID),
		zap.String("txID", trigger.TxID))
	return nil
}

func (q *queue) enqueueNotify(ctx context.Context, key string, payload []byte) error {
	var event webhook.WebhookEvent
	if err := q.json.Unmarshal(payload, &event); err != nil {
		return domain.Wrap(domain.CodeValidation, "malformed transfer notification", err)
	}

	workflowID := workflows.WebhookNotifyWorkflowID(key)
	options := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             q.config.TaskQueue,
		WorkflowRunTimeout:    q.config.NotifyRunTimeout,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}

	_, err := q.orchestrator.ExecuteWorkflow(ctx, options, q.workerCore.NotifyWebhookClients, event)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			logger.DebugCtx(ctx, "Transfer notification already started", zap.String("workflowID", workflowID))
			return nil
		}
		return fmt.Errorf("failed to start notification workflow: %w", err)
	}

	logger.DebugCtx(ctx, "Transfer notification started",
		zap.String("workflowID", workflowID),
		zap.String("eventType", event.EventType))
	return nil
}
