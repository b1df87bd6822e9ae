package dto

import (
	"fmt"
	"net/url"
	"strings"

	apierrors "github.com/bhulekhchain/title-registry/internal/api/shared/errors"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/webhook"
)

const (
	// MAX_RETRY_MAX_ATTEMPTS caps webhook delivery attempts per client
	MAX_RETRY_MAX_ATTEMPTS = 10

	// DEFAULT_RETRY_MAX_ATTEMPTS is used when the client does not choose
	DEFAULT_RETRY_MAX_ATTEMPTS = 5

	// MAX_REASON_LENGTH bounds free-text objection and cancellation reasons
	MAX_REASON_LENGTH = 2000

	// MAX_ORGANIZATION_LENGTH bounds the subscriber's display name
	MAX_ORGANIZATION_LENGTH = 200
)

// InitiateTransferRequest represents the request body for opening a transfer.
// Field-level rules are enforced by the orchestrator.
type InitiateTransferRequest struct {
	PropertyID    string   `json:"property_id"`
	SellerHash    string   `json:"seller_hash"`
	BuyerHash     string   `json:"buyer_hash"`
	BuyerName     string   `json:"buyer_name"`
	SaleAmount    int64    `json:"sale_amount"`
	WitnessHashes []string `json:"witness_hashes"`
}

// ConfirmStampDutyRequest represents the request body for recording a payment receipt
type ConfirmStampDutyRequest struct {
	ReceiptHash string `json:"receipt_hash"`
}

// Validate validates the request body
func (r *ConfirmStampDutyRequest) Validate() error {
	if r.ReceiptHash == "" {
		return apierrors.NewValidationError("receipt_hash is required")
	}
	return nil
}

// SubmitSignatureRequest represents the request body for one signatory's signature
type SubmitSignatureRequest struct {
	Signatory domain.Signatory `json:"signatory"`
	Proof     string           `json:"proof"`
}

// Validate validates the request body
func (r *SubmitSignatureRequest) Validate() error {
	if !r.Signatory.IsValid() {
		return apierrors.NewValidationError(fmt.Sprintf("unsupported signatory: %s. Supported: %v", r.Signatory, domain.AllSignatories))
	}
	if r.Proof == "" {
		return apierrors.NewValidationError("proof is required")
	}
	return nil
}

// ReasonRequest represents the request body of objection and cancellation
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Validate validates the request body
func (r *ReasonRequest) Validate() error {
	if r.Reason == "" {
		return apierrors.NewValidationError("reason is required")
	}
	if len(r.Reason) > MAX_REASON_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("reason must be at most %d characters", MAX_REASON_LENGTH))
	}
	return nil
}

// CreateWebhookClientRequest represents the request body for creating a webhook client
type CreateWebhookClientRequest struct {
	Organization     string   `json:"organization"`
	WebhookURL       string   `json:"webhook_url"`
	EventFilters     []string `json:"event_filters"`
	RetryMaxAttempts *int     `json:"retry_max_attempts,omitempty"`
}

// Validate validates the request body. Plain HTTP endpoints are accepted only in debug mode.
func (r *CreateWebhookClientRequest) Validate(debug bool) error {
	organization := strings.TrimSpace(r.Organization)
	if organization == "" {
		return apierrors.NewValidationError("organization is required")
	}
	if len(organization) > MAX_ORGANIZATION_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("organization must be at most %d characters", MAX_ORGANIZATION_LENGTH))
	}

	if r.WebhookURL == "" {
		return apierrors.NewValidationError("webhook_url is required")
	}

	u, err := url.Parse(r.WebhookURL)
	if err != nil || u.Host == "" {
		return apierrors.NewValidationError("webhook_url must be a valid URL")
	}
	if u.Scheme != "https" && !(debug && u.Scheme == "http") {
		return apierrors.NewValidationError("webhook_url must be a valid HTTPS URL")
	}

	if len(r.EventFilters) == 0 {
		return apierrors.NewValidationError("event_filters is required and must not be empty")
	}
	for _, eventType := range r.EventFilters {
		if !webhook.IsValidEventType(eventType) {
			return apierrors.NewValidationError(fmt.Sprintf("unsupported event type: %s. Supported types: %v", eventType, webhook.SupportedEventTypes))
		}
	}

	if r.RetryMaxAttempts != nil {
		if *r.RetryMaxAttempts < 0 || *r.RetryMaxAttempts > MAX_RETRY_MAX_ATTEMPTS {
			return apierrors.NewValidationError(fmt.Sprintf("retry_max_attempts must be between 0 and %d", MAX_RETRY_MAX_ATTEMPTS))
		}
	}

	return nil
}
