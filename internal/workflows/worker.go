package workflows

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/webhook"
)

// WorkerCore defines the durable jobs of the registry
//
//go:generate mockgen -source=worker.go -destination=../mocks/worker_core.go -package=mocks -mock_names=WorkerCore=MockCoreWorker
type WorkerCore interface {
	// AnchorScope anchors one scope and keeps anchoring while triggers keep arriving.
	// At most one execution runs per scope; its workflow id is AnchorWorkflowID(scope).
	AnchorScope(ctx workflow.Context, trigger domain.AnchorTrigger) error

	// NotifyWebhookClients fans a transfer event out to every subscribed client
	NotifyWebhookClients(ctx workflow.Context, event webhook.WebhookEvent) error

	// DeliverWebhook delivers one event to one client with retries
	DeliverWebhook(ctx workflow.Context, clientID string, event webhook.WebhookEvent) error
}

type WorkerCoreConfig struct {
	// AnchorMaxAttempts bounds the attempts of one anchoring run before it is dead-lettered
	AnchorMaxAttempts int32
	// AnchorActivityTimeout bounds a single anchoring attempt
	AnchorActivityTimeout time.Duration
	// AnchorRunsPerExecution is the number of runs before the workflow continues as new
	AnchorRunsPerExecution int
	// WebhookAttempts is used for clients that registered without a retry limit
	WebhookAttempts int32
	// WebhookDeliveryTimeout bounds the delivery workflow of one event to one client
	WebhookDeliveryTimeout time.Duration
}

// workerCore is the concrete implementation of WorkerCore
type workerCore struct {
	config   WorkerCoreConfig
	executor Executor
}

// NewWorkerCore creates a new worker core instance
func NewWorkerCore(executor Executor, config WorkerCoreConfig) WorkerCore {
	if config.AnchorMaxAttempts <= 0 {
		config.AnchorMaxAttempts = 5
	}
	if config.AnchorActivityTimeout <= 0 {
		config.AnchorActivityTimeout = 5 * time.Minute
	}
	if config.AnchorRunsPerExecution <= 0 {
		config.AnchorRunsPerExecution = 100
	}
	if config.WebhookAttempts <= 0 {
		config.WebhookAttempts = 5
	}
	if config.WebhookDeliveryTimeout <= 0 {
		config.WebhookDeliveryTimeout = time.Hour
	}
	return &workerCore{
		executor: executor,
		config:   config,
	}
}
