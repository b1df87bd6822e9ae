package schema

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookDeliveryStatus tracks one delivery through its retries
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusSuccess WebhookDeliveryStatus = "success"
	// WebhookDeliveryStatusFailed is set after every failed attempt; a later
	// attempt may still move the delivery to success
	WebhookDeliveryStatusFailed WebhookDeliveryStatus = "failed"
)

// WebhookDelivery records the delivery of one transfer event to one client.
// (client_id, event_id) is unique, so a replayed outbox entry never produces
// a second row.
type WebhookDelivery struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	ClientID string `gorm:"column:client_id;not null;type:varchar(36)"`
	// EventID is the outbox entry id of the announced transition
	EventID    string `gorm:"column:event_id;not null;type:varchar(255)"`
	EventType  string `gorm:"column:event_type;not null;type:varchar(50)"`
	TransferID string `gorm:"column:transfer_id;not null;default:'';type:varchar(64)"`
	PropertyID string `gorm:"column:property_id;not null;default:'';type:varchar(64)"`
	// Payload is the event exactly as signed and posted
	Payload        datatypes.JSON        `gorm:"column:payload;not null;type:jsonb"`
	WorkflowID     string                `gorm:"column:workflow_id;not null;type:varchar(255)"`
	WorkflowRunID  string                `gorm:"column:workflow_run_id;type:varchar(255)"`
	DeliveryStatus WebhookDeliveryStatus `gorm:"column:delivery_status;not null;default:pending"`
	Attempts       int                   `gorm:"column:attempts;not null;default:0"`
	LastAttemptAt  *time.Time            `gorm:"column:last_attempt_at;type:timestamptz"`
	ResponseStatus *int                  `gorm:"column:response_status"`
	// ResponseBody is truncated to 4KB
	ResponseBody string    `gorm:"column:response_body;type:text"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
