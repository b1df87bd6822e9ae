package schema

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// AuditEntry represents the audit_entries table - append-only, hash-chained per resource type
type AuditEntry struct {
	// ID is a UUID
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// ResourceType is the chain scope
	ResourceType domain.AuditResourceType `gorm:"column:resource_type;not null;type:text;uniqueIndex:idx_audit_scope_seq"`
	// ScopeSequence orders entries within one scope, starting at 1
	ScopeSequence int64 `gorm:"column:scope_sequence;not null;uniqueIndex:idx_audit_scope_seq"`
	// SourceID is the outbox entry that produced this row; appends are idempotent on it
	SourceID *string `gorm:"column:source_id;type:varchar(36);uniqueIndex"`
	// Timestamp is when the audited action happened
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// ActorHash and ActorRole identify who acted
	ActorHash string      `gorm:"column:actor_hash;not null;type:text"`
	ActorRole domain.Role `gorm:"column:actor_role;not null;type:text"`
	// Action is the audited state change
	Action domain.AuditAction `gorm:"column:action;not null;type:text"`
	// ResourceID identifies the resource within its type
	ResourceID string `gorm:"column:resource_id;not null;type:text;index"`
	// BeforeHash and AfterHash are content hashes of the state, never raw values
	BeforeHash string `gorm:"column:before_hash;type:text"`
	AfterHash  string `gorm:"column:after_hash;type:text"`
	// PreviousEntryHash links to the prior entry of the scope (genesis constant for the first)
	PreviousEntryHash string `gorm:"column:previous_entry_hash;not null;type:varchar(64)"`
	// EntryHash = sha256(PreviousEntryHash || canonical(entry without hash fields))
	EntryHash string `gorm:"column:entry_hash;not null;type:varchar(64)"`
	// CreatedAt is the insert timestamp
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// AuditChainHead represents the audit_chain_heads table - the persisted tip of each scope.
// Updated in the same transaction as the entry insert.
type AuditChainHead struct {
	ResourceType  domain.AuditResourceType `gorm:"column:resource_type;primaryKey;type:text"`
	LastEntryHash string                   `gorm:"column:last_entry_hash;not null;type:varchar(64)"`
	LastSequence  int64                    `gorm:"column:last_sequence;not null;default:0"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the AuditChainHead model
func (AuditChainHead) TableName() string {
	return "audit_chain_heads"
}
