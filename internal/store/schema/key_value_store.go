package schema

import "time"

// KeyValueStore represents the key_value_store table. The ledger event emitter
// keeps its block cursor here under "ledger_cursor:<channel>" and audit scopes
// on integrity hold live under "audit_integrity_hold:<scope>".
type KeyValueStore struct {
	Key       string    `gorm:"column:key;primaryKey;type:text"`
	Value     string    `gorm:"column:value;not null;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime;type:timestamptz"`
}

// TableName specifies the table name for the KeyValueStore model
func (KeyValueStore) TableName() string {
	return "key_value_store"
}
