package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/anchor"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/webhook"
)

const (
	maxWebhookResponseBody = 4 * 1024

	// ErrTypeValidation marks activity failures Temporal must not retry
	ErrTypeValidation    = "ValidationError"
	// ErrTypeIntegrityHold marks anchoring refused while an audit scope is on integrity hold
	ErrTypeIntegrityHold = "IntegrityHold"
)

// Executor defines the interface for executing activities
//
//go:generate mockgen -source=executor.go -destination=../mocks/executor_core.go -package=mocks -mock_names=Executor=MockCoreExecutor
type Executor interface {
	// =============================================================================
	// Anchoring Activities
	// =============================================================================

	// AnchorStateRoot anchors the scope up to the current ledger height. Returns nil
	// when nothing new was committed since the last anchor.
	AnchorStateRoot(ctx context.Context, scope domain.AnchorScope) (*AnchorOutcome, error)

	// =============================================================================
	// Webhook Activities
	// =============================================================================

	// GetActiveWebhookClientsByEventType retrieves active webhook clients matching the event type
	GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error)

	// GetWebhookClientByID retrieves a webhook client by client ID
	GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error)

	// CreateWebhookDeliveryRecord creates a new webhook delivery record
	CreateWebhookDeliveryRecord(ctx context.Context, delivery *schema.WebhookDelivery, event webhook.WebhookEvent) (uint64, error)

	// DeliverWebhookHTTP performs the actual HTTP delivery of a webhook with signature
	DeliverWebhookHTTP(ctx context.Context, client *schema.WebhookClient, event webhook.WebhookEvent, deliveryID uint64) (webhook.DeliveryResult, error)

	// =============================================================================
	// Dead Letter Activities
	// =============================================================================

	// RecordDeadLetter parks a job that exhausted its retries and raises an alert
	RecordDeadLetter(ctx context.Context, letter DeadLetter) error
}

// AnchorOutcome summarizes one anchoring run
type AnchorOutcome struct {
	AnchorID   string              `json:"anchor_id"`
	Scope      domain.AnchorScope  `json:"scope"`
	StartBlock uint64              `json:"start_block"`
	EndBlock   uint64              `json:"end_block"`
	Status     schema.AnchorStatus `json:"status"`
	PublicTxID string              `json:"public_tx_id"`
}

// DeadLetter identifies a failed job
type DeadLetter struct {
	// Source is unique per failed execution, e.g. workflow id and run id
	Source  string          `json:"source"`
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error"`
	Attempt int32           `json:"attempt"`
}

// executor is the concrete implementation of Executor
type executor struct {
	store            store.Store
	anchors          anchor.Service
	json             adapter.JSON
	clock            adapter.Clock
	httpClient       adapter.HTTPClient
	temporalActivity adapter.Activity
}

// NewExecutor creates a new executor instance
func NewExecutor(
	store store.Store,
	anchors anchor.Service,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
	httpClient adapter.HTTPClient,
	temporalActivity adapter.Activity,
) Executor {
	return &executor{
		store:            store,
		anchors:          anchors,
		json:             jsonAdapter,
		clock:            clock,
		httpClient:       httpClient,
		temporalActivity: temporalActivity,
	}
}

// =============================================================================
// Anchoring Activities
// =============================================================================

// AnchorStateRoot anchors one scope. Validation failures are not retried.
func (e *executor) AnchorStateRoot(ctx context.Context, scope domain.AnchorScope) (*AnchorOutcome, error) {
	a, err := e.anchors.AnchorStateRoot(ctx, scope)
	if err != nil {
		if domain.IsValidationClass(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeValidation, err)
		}
		if errors.Is(err, domain.ErrChainIntegrityViolation) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeIntegrityHold, err)
		}
		return nil, err
	}
	if a == nil {
		return nil, nil
	}

	return &AnchorOutcome{
		AnchorID:   a.AnchorID,
		Scope:      a.Scope,
		StartBlock: a.StartBlock,
		EndBlock:   a.EndBlock,
		Status:     a.Status,
		PublicTxID: a.PublicTxID,
	}, nil
}

// =============================================================================
// Webhook Activities
// =============================================================================

// GetActiveWebhookClientsByEventType retrieves active webhook clients matching the event type
func (e *executor) GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error) {
	return e.store.GetActiveWebhookClientsByEventType(ctx, eventType)
}

// GetWebhookClientByID retrieves a webhook client by client ID
func (e *executor) GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error) {
	return e.store.GetWebhookClientByID(ctx, clientID)
}

// CreateWebhookDeliveryRecord creates a new webhook delivery record
func (e *executor) CreateWebhookDeliveryRecord(ctx context.Context, delivery *schema.WebhookDelivery, event webhook.WebhookEvent) (uint64, error) {
	eventJSON, err := e.json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal webhook event: %w", err)
	}
	delivery.Payload = eventJSON
	delivery.TransferID = event.Data.TransferID
	delivery.PropertyID = string(event.Data.PropertyID)

	if err := e.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		return 0, err
	}
	return delivery.ID, nil
}

// DeliverWebhookHTTP performs the actual HTTP delivery of a webhook with HMAC signature
// This activity will be automatically retried by Temporal with exponential backoff
func (e *executor) DeliverWebhookHTTP(ctx context.Context, client *schema.WebhookClient, event webhook.WebhookEvent, deliveryID uint64) (webhook.DeliveryResult, error) {
	attempt := e.temporalActivity.Attempt(ctx)

	logger.InfoCtx(ctx, "Attempting webhook delivery",
		zap.String("clientID", client.ClientID),
		zap.String("eventID", event.EventID),
		zap.String("workflowID", e.temporalActivity.WorkflowID(ctx)),
		zap.Int32("attempt", attempt))

	payload, signature, timestamp, err := webhook.GenerateSignedPayload(e.json, client.WebhookSecret, event, e.clock.Now())
	if err != nil {
		e.updateDeliveryStatus(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, nil, "", err.Error())
		return webhook.DeliveryResult{Success: false, Error: err.Error()},
			temporal.NewNonRetryableApplicationError(err.Error(), "failed to generate signed payload", err)
	}

	headers := map[string]string{
		"Content-Type":         "application/json",
		"X-Webhook-Signature":  signature,
		"X-Webhook-Event-ID":   event.EventID,
		"X-Webhook-Event-Type": event.EventType,
		"X-Webhook-Timestamp":  fmt.Sprintf("%d", timestamp),
		"User-Agent":           "Title-Registry-Webhook/1.0",
	}

	resp, err := e.httpClient.PostNoRetry(ctx, client.WebhookURL, headers, bytes.NewReader(payload))
	if err != nil {
		logger.ErrorCtx(ctx, errors.New("failed to post webhook HTTP request"),
			zap.Error(err), zap.String("clientID", client.ClientID))
		e.updateDeliveryStatus(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, nil, "", err.Error())

		// Return error to trigger Temporal retry
		return webhook.DeliveryResult{Success: false, Error: err.Error()}, err
	}

	body := resp.Body
	if len(body) > maxWebhookResponseBody {
		body = body[:maxWebhookResponseBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d", resp.StatusCode)
		logger.WarnCtx(ctx, "Webhook endpoint rejected delivery",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("clientID", client.ClientID))
		e.updateDeliveryStatus(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, &resp.StatusCode, string(body), err.Error())

		return webhook.DeliveryResult{Success: false, StatusCode: resp.StatusCode, Body: string(body)}, err
	}

	e.updateDeliveryStatus(ctx, client, deliveryID, schema.WebhookDeliveryStatusSuccess, attempt, &resp.StatusCode, string(body), "")
	return webhook.DeliveryResult{Success: true, StatusCode: resp.StatusCode, Body: string(body)}, nil
}

func (e *executor) updateDeliveryStatus(ctx context.Context, client *schema.WebhookClient, deliveryID uint64, status schema.WebhookDeliveryStatus, attempt int32, code *int, body, errMsg string) {
	if err := e.store.UpdateWebhookDeliveryStatus(ctx, deliveryID, status, int(attempt), code, body, errMsg); err != nil {
		logger.ErrorCtx(ctx, errors.New("failed to update webhook delivery status"),
			zap.Error(err),
			zap.String("clientID", client.ClientID))
	}
}

// =============================================================================
// Dead Letter Activities
// =============================================================================

// RecordDeadLetter stores the failed job next to dead-lettered sync events
func (e *executor) RecordDeadLetter(ctx context.Context, letter DeadLetter) error {
	logger.Alert(ctx, "job_dead_letter", errors.New(letter.Error),
		zap.String("source", letter.Source),
		zap.String("topic", letter.Topic),
		zap.String("key", letter.Key),
		zap.Int32("attempt", letter.Attempt))

	err := e.store.RecordSyncFailure(ctx, schema.SyncFailure{
		EventID:    letter.Source,
		EventType:  letter.Topic,
		Subject:    letter.Key,
		Payload:    []byte(letter.Payload),
		Error:      letter.Error,
		Deliveries: uint64(letter.Attempt), //nolint:gosec,G115
	})
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}
