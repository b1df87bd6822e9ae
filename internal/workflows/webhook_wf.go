package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/webhook"
)

// WebhookNotifyWorkflowID is the id of the fan-out workflow for one outbox entry
func WebhookNotifyWorkflowID(key string) string {
	return "webhook-notify-" + key
}

// WebhookDeliveryWorkflowID is the id of the delivery workflow of one event to one client
func WebhookDeliveryWorkflowID(clientID, eventID string) string {
	return fmt.Sprintf("webhook-delivery-%s-%s", clientID, eventID)
}

// storeActivityOptions covers the short database lookups around a delivery
func storeActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
}

// NotifyWebhookClients announces a transfer transition to every subscribed
// bank, sub-registrar office or citizen app. Each client gets its own
// delivery workflow, abandoned on completion so a slow endpoint never holds
// the fan-out open.
func (w *workerCore) NotifyWebhookClients(ctx workflow.Context, event webhook.WebhookEvent) error {
	fields := []zap.Field{
		zap.String("eventID", event.EventID),
		zap.String("eventType", event.EventType),
		zap.String("transferID", event.Data.TransferID),
		zap.String("propertyID", string(event.Data.PropertyID)),
	}
	logger.InfoWf(ctx, "Notifying webhook clients", fields...)

	lookupCtx := workflow.WithActivityOptions(ctx, storeActivityOptions(30*time.Second))
	var clients []*schema.WebhookClient
	if err := workflow.ExecuteActivity(lookupCtx, w.executor.GetActiveWebhookClientsByEventType, event.EventType).
		Get(lookupCtx, &clients); err != nil {
		return err
	}
	if len(clients) == 0 {
		logger.InfoWf(ctx, "No webhook clients subscribed", fields...)
		return nil
	}

	pending := make(map[string]workflow.ChildWorkflowFuture, len(clients))
	for _, client := range clients {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID:            WebhookDeliveryWorkflowID(client.ClientID, event.EventID),
			WorkflowRunTimeout:    w.config.WebhookDeliveryTimeout,
			WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
			ParentClosePolicy:     enums.PARENT_CLOSE_POLICY_ABANDON,
		})
		pending[client.ClientID] = workflow.ExecuteChildWorkflow(childCtx, w.DeliverWebhook, client.ClientID, event)
	}

	// Wait only for the children to start; delivery outcomes are tracked per child
	started := 0
	for _, client := range clients {
		var execution workflow.Execution
		if err := pending[client.ClientID].GetChildWorkflowExecution().Get(ctx, &execution); err != nil {
			// An already-started delivery from a replayed outbox entry lands here too
			logger.WarnWf(ctx, "Webhook delivery not started",
				append(fields, zap.String("clientID", client.ClientID), zap.Error(err))...)
			continue
		}
		started++
	}

	logger.InfoWf(ctx, "Webhook clients notified",
		append(fields, zap.Int("clients", len(clients)), zap.Int("started", started))...)
	return nil
}

// DeliverWebhook posts one event to one client, retrying with exponential
// backoff up to the client's retry limit. An exhausted delivery is parked as
// a dead letter so operators can replay it.
func (w *workerCore) DeliverWebhook(ctx workflow.Context, clientID string, event webhook.WebhookEvent) error {
	lookupCtx := workflow.WithActivityOptions(ctx, storeActivityOptions(10*time.Second))

	var client *schema.WebhookClient
	if err := workflow.ExecuteActivity(lookupCtx, w.executor.GetWebhookClientByID, clientID).Get(lookupCtx, &client); err != nil {
		return err
	}
	if client == nil || !client.IsActive {
		logger.InfoWf(ctx, "Webhook client gone or deactivated, skipping",
			zap.String("clientID", clientID), zap.String("eventID", event.EventID))
		return nil
	}

	info := workflow.GetInfo(ctx)
	record := &schema.WebhookDelivery{
		ClientID:      client.ClientID,
		EventID:       event.EventID,
		EventType:     event.EventType,
		WorkflowID:    info.WorkflowExecution.ID,
		WorkflowRunID: info.WorkflowExecution.RunID,
	}
	var deliveryID uint64
	if err := workflow.ExecuteActivity(lookupCtx, w.executor.CreateWebhookDeliveryRecord, record, event).
		Get(lookupCtx, &deliveryID); err != nil {
		return err
	}

	attempts := w.config.WebhookAttempts
	if client.RetryMaxAttempts > 0 {
		attempts = int32(client.RetryMaxAttempts) //nolint:gosec,G115
	}
	// 5s, 10s, 20s, 40s ...
	postCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    attempts,
		},
	})

	var result webhook.DeliveryResult
	err := workflow.ExecuteActivity(postCtx, w.executor.DeliverWebhookHTTP, client, event, deliveryID).Get(postCtx, &result)
	if err != nil {
		logger.WarnWf(ctx, "Webhook delivery exhausted retries",
			zap.String("clientID", clientID),
			zap.String("eventID", event.EventID),
			zap.Int32("attempts", attempts),
			zap.Error(err))
		w.deadLetterDelivery(ctx, client.ClientID, event, attempts, err)
		return err
	}

	logger.InfoWf(ctx, "Webhook delivered",
		zap.String("clientID", clientID),
		zap.String("eventID", event.EventID),
		zap.Int("statusCode", result.StatusCode))
	return nil
}

func (w *workerCore) deadLetterDelivery(ctx workflow.Context, clientID string, event webhook.WebhookEvent, attempts int32, cause error) {
	info := workflow.GetInfo(ctx)
	letter := DeadLetter{
		Source:  info.WorkflowExecution.ID + "/" + info.WorkflowExecution.RunID,
		Topic:   string(schema.OutboxTopicTransferNotify),
		Key:     clientID + "/" + event.EventID,
		Error:   cause.Error(),
		Attempt: attempts,
	}

	deadLetterCtx := workflow.WithActivityOptions(ctx, storeActivityOptions(30*time.Second))
	if err := workflow.ExecuteActivity(deadLetterCtx, w.executor.RecordDeadLetter, letter).Get(deadLetterCtx, nil); err != nil {
		logger.ErrorWf(ctx, err, zap.String("clientID", clientID), zap.String("eventID", event.EventID))
	}
}
