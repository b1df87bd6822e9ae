package webhook

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// Event type constants
const (
	// EventTypeTransferRegistered is fired when the ledger accepted a transfer and
	// the objection window opened
	EventTypeTransferRegistered = "transfer.registered"

	// EventTypeTransferFinalized is fired when the objection window closed without objection
	EventTypeTransferFinalized = "transfer.finalized"

	// EventTypeTransferObjected is fired when an objection halted finality
	EventTypeTransferObjected = "transfer.objection_raised"

	// EventTypeTransferCancelled is fired when a transfer was cancelled before execution
	EventTypeTransferCancelled = "transfer.cancelled"

	// EventTypeWildcard is a special filter that matches all event types
	EventTypeWildcard = "*"
)

// SupportedEventTypes lists the event types a client may subscribe to
var SupportedEventTypes = []string{
	EventTypeTransferRegistered,
	EventTypeTransferFinalized,
	EventTypeTransferObjected,
	EventTypeTransferCancelled,
	EventTypeWildcard,
}

// IsValidEventType reports whether eventType can be used as a filter
func IsValidEventType(eventType string) bool {
	for _, t := range SupportedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// EventTypeFor maps a transfer status to the event announcing it, "" when the
// status is not announced
func EventTypeFor(status domain.TransferStatus) string {
	switch status {
	case domain.TransferStatusRegisteredPendingFinality:
		return EventTypeTransferRegistered
	case domain.TransferStatusRegisteredFinal:
		return EventTypeTransferFinalized
	case domain.TransferStatusObjectionRaised:
		return EventTypeTransferObjected
	case domain.TransferStatusCancelled:
		return EventTypeTransferCancelled
	}
	return ""
}

// WebhookEvent represents a webhook event to be delivered to clients
type WebhookEvent struct {
	// EventID is a unique identifier for this event (ULID for time-sortable uniqueness)
	EventID string `json:"event_id"`
	// EventType is the type of event (e.g., "transfer.registered")
	EventType string `json:"event_type"`
	// Timestamp is when the event was generated
	Timestamp time.Time `json:"timestamp"`
	// Data contains the event-specific payload
	Data EventData `json:"data"`
}

// EventData contains the webhook event payload. Party identities are never
// included; subscribers look them up with their own credentials.
type EventData struct {
	TransferID        string                `json:"transfer_id"`
	PropertyID        domain.PropertyID     `json:"property_id"`
	Status            domain.TransferStatus `json:"status"`
	LedgerTxID        string                `json:"ledger_tx_id,omitempty"`
	CoolingPeriodEnds *time.Time            `json:"cooling_period_ends,omitempty"`
}

// DeliveryResult represents the result of a webhook delivery attempt
type DeliveryResult struct {
	// Success indicates whether the delivery was successful
	Success bool
	// StatusCode is the HTTP status code returned by the webhook endpoint
	StatusCode int
	// Body is the response body (limited to 4KB)
	Body string
	// Error contains error details if delivery failed
	Error string
}
