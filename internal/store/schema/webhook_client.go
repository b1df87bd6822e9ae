package schema

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookClient is a subscriber to transfer notifications: a bank holding a
// lien, a sub-registrar office or a citizen app.
type WebhookClient struct {
	ID           uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	ClientID     string `gorm:"column:client_id;not null;unique;type:varchar(36)"`
	Organization string `gorm:"column:organization;not null;default:'';type:text"`
	// WebhookURL must be https
	WebhookURL string `gorm:"column:webhook_url;not null;type:text"`
	// WebhookSecret keys the HMAC-SHA256 signature; it is returned once, at registration
	WebhookSecret string `gorm:"column:webhook_secret;not null;type:text"`
	// EventFilters is a JSON array of event types, or ["*"]
	EventFilters     datatypes.JSON `gorm:"column:event_filters;not null;type:jsonb"`
	IsActive         bool           `gorm:"column:is_active;not null;default:true"`
	RetryMaxAttempts int            `gorm:"column:retry_max_attempts;not null;default:5"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

func (WebhookClient) TableName() string {
	return "webhook_clients"
}
