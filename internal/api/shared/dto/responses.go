package dto

import "time"

// ChainVerificationResponse reports the outcome of replaying one audit scope
type ChainVerificationResponse struct {
	ResourceType    string `json:"resource_type"`
	Valid           bool   `json:"valid"`
	EntriesVerified int64  `json:"entries_verified"`
	BrokenEntryID   string `json:"broken_entry_id,omitempty"`
	BrokenSequence  int64  `json:"broken_sequence,omitempty"`
}

// CreateWebhookClientResponse represents the response for creating a webhook client
type CreateWebhookClientResponse struct {
	ClientID         string    `json:"client_id"`
	Organization     string    `json:"organization"`
	WebhookURL       string    `json:"webhook_url"`
	WebhookSecret    string    `json:"webhook_secret"`
	EventFilters     []string  `json:"event_filters"`
	IsActive         bool      `json:"is_active"`
	RetryMaxAttempts int       `json:"retry_max_attempts"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
