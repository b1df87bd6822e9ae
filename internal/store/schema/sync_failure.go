package schema

import (
	"time"

	"gorm.io/datatypes"
)

// SyncFailure represents the sync_failures table - dead-lettered ledger events
// that need manual reconciliation of the mirror
type SyncFailure struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventID    string         `gorm:"column:event_id;not null;type:text;uniqueIndex"`
	EventType  string         `gorm:"column:event_type;not null;type:text"`
	Subject    string         `gorm:"column:subject;not null;type:text"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb"`
	Error      string         `gorm:"column:error;not null;type:text"`
	Deliveries uint64         `gorm:"column:deliveries;not null;default:0"`
	Resolved   bool           `gorm:"column:resolved;not null;default:false"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the SyncFailure model
func (SyncFailure) TableName() string {
	return "sync_failures"
}
