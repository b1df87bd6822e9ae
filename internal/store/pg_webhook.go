package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// GetActiveWebhookClientsByEventType retrieves active clients subscribed to the event type or to "*"
func (s *pgStore) GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error) {
	var clients []*schema.WebhookClient

	// event_filters is a JSON array; @> tests membership
	err := s.db.WithContext(ctx).
		Where("is_active").
		Where("event_filters @> ?::jsonb OR event_filters @> ?::jsonb",
			fmt.Sprintf(`[%q]`, eventType),
			`["*"]`).
		Find(&clients).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook clients by event type: %w", err)
	}
	return clients, nil
}

// GetWebhookClientByID retrieves a webhook client, nil when absent
func (s *pgStore) GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error) {
	var client schema.WebhookClient
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook client: %w", err)
	}
	return &client, nil
}

// CreateWebhookClient registers a subscriber
func (s *pgStore) CreateWebhookClient(ctx context.Context, input CreateWebhookClientInput) (*schema.WebhookClient, error) {
	now := time.Now().UTC()
	client := &schema.WebhookClient{
		ClientID:         input.ClientID,
		Organization:     input.Organization,
		WebhookURL:       input.WebhookURL,
		WebhookSecret:    input.WebhookSecret,
		EventFilters:     input.EventFilters,
		IsActive:         input.IsActive,
		RetryMaxAttempts: input.RetryMaxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}
	return client, nil
}

// CreateWebhookDelivery records a delivery. A retried activity for the same
// client and event gets the existing row back in delivery.
func (s *pgStore) CreateWebhookDelivery(ctx context.Context, delivery *schema.WebhookDelivery) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).Create(delivery)
		if res.Error != nil {
			return fmt.Errorf("failed to create webhook delivery: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		if err := tx.Where("client_id = ? AND event_id = ?", delivery.ClientID, delivery.EventID).
			First(delivery).Error; err != nil {
			return fmt.Errorf("failed to load existing webhook delivery: %w", err)
		}
		return nil
	})
}

// UpdateWebhookDeliveryStatus updates the status and result of a delivery
func (s *pgStore) UpdateWebhookDeliveryStatus(ctx context.Context, deliveryID uint64, status schema.WebhookDeliveryStatus, attempts int, responseStatus *int, responseBody, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"delivery_status": status,
		"attempts":        attempts,
		"response_body":   truncate(responseBody, 4096),
		"last_attempt_at": now,
		"updated_at":      now,
	}
	if responseStatus != nil {
		updates["response_status"] = *responseStatus
	}
	if errorMessage != "" {
		updates["error_message"] = truncate(errorMessage, 1024)
	}

	err := s.db.WithContext(ctx).
		Model(&schema.WebhookDelivery{}).
		Where("id = ?", deliveryID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery status: %w", err)
	}
	return nil
}
