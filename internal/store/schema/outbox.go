package schema

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxTopic names the side effect an outbox row requests
type OutboxTopic string

const (
	// OutboxTopicAuditAppend appends an audit chain entry
	OutboxTopicAuditAppend OutboxTopic = "audit.append"
	// OutboxTopicAnchorTrigger requests an anchoring run for a scope
	OutboxTopicAnchorTrigger OutboxTopic = "anchor.trigger"
	// OutboxTopicTransferNotify notifies webhook clients about a transfer transition
	OutboxTopicTransferNotify OutboxTopic = "transfer.notify"
)

// OutboxStatus is the relay state of an outbox row
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusDone    OutboxStatus = "done"
	OutboxStatusDead    OutboxStatus = "dead"
)

// OutboxEntry represents the outbox table - side effects written in the same
// transaction as the state change and relayed after commit
type OutboxEntry struct {
	// ID is a UUID; consumers use it as their idempotency key
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// Topic selects the dispatcher
	Topic OutboxTopic `gorm:"column:topic;not null;type:text"`
	// AggregateID is the transfer, property or scope the effect is about
	AggregateID string `gorm:"column:aggregate_id;not null;type:text"`
	// Payload is the topic-specific JSON body
	Payload datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	// Status is pending, done or dead
	Status OutboxStatus `gorm:"column:status;not null;type:text;default:pending"`
	// Attempts is the number of relay attempts so far
	Attempts int `gorm:"column:attempts;not null;default:0"`
	// NextAttemptAt is when the row becomes claimable again
	NextAttemptAt time.Time `gorm:"column:next_attempt_at;not null;default:now();type:timestamptz"`
	// LastError is the last dispatch failure
	LastError string `gorm:"column:last_error;type:text"`
	// CreatedAt is the commit timestamp of the originating change
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// ProcessedAt is set when the row reaches done or dead
	ProcessedAt *time.Time `gorm:"column:processed_at;type:timestamptz"`
}

// TableName specifies the table name for the OutboxEntry model
func (OutboxEntry) TableName() string {
	return "outbox"
}
