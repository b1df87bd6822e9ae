package schema

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// AnchorStatus tracks an anchor through reservation, commitment and verification
type AnchorStatus string

const (
	// AnchorStatusReserved means the block range is claimed but nothing was committed yet
	AnchorStatusReserved AnchorStatus = "reserved"
	// AnchorStatusCommitted means the note is on the public ledger
	AnchorStatusCommitted AnchorStatus = "committed"
	// AnchorStatusDegraded means a ledger was unreachable; the public tx id is synthetic
	AnchorStatusDegraded AnchorStatus = "degraded"
)

// AnchorRecord represents the anchors table - one row per anchoring operation.
// Per scope, ranges are contiguous: start_block = previous end_block + 1.
type AnchorRecord struct {
	// AnchorID is a UUID
	AnchorID string `gorm:"column:anchor_id;primaryKey;type:varchar(36)"`
	// Scope is the jurisdiction (state code)
	Scope domain.AnchorScope `gorm:"column:scope;not null;type:text;uniqueIndex:idx_anchors_scope_start"`
	// StartBlock and EndBlock bound the covered ledger range, inclusive
	StartBlock uint64 `gorm:"column:start_block;not null;uniqueIndex:idx_anchors_scope_start"`
	EndBlock   uint64 `gorm:"column:end_block;not null"`
	// StateRoot is the commitment over the range, "sha256:<hex>"
	StateRoot string `gorm:"column:state_root;type:text"`
	// TxCount is the number of ledger transactions in the range
	TxCount int `gorm:"column:tx_count;not null;default:0"`
	// PublicTxID is the public-ledger transaction carrying the note, or "pending-<anchor_id>" when degraded
	PublicTxID string `gorm:"column:public_tx_id;type:text"`
	// PublicRound is the public-ledger block the note was included in
	PublicRound uint64 `gorm:"column:public_round;not null;default:0"`
	// BroadcastAt is when the public transaction was last broadcast
	BroadcastAt *time.Time `gorm:"column:broadcast_at;type:timestamptz"`
	// LedgerTxID is the RecordAnchor transaction on the permissioned ledger
	LedgerTxID *string `gorm:"column:ledger_tx_id;type:text"`
	// Status is reserved, committed or degraded
	Status AnchorStatus `gorm:"column:status;not null;type:text"`
	// Verified is true once inclusion on the public ledger was confirmed
	Verified bool `gorm:"column:verified;not null;default:false"`
	// Attempts counts reconciliation attempts for degraded anchors
	Attempts int `gorm:"column:attempts;not null;default:0"`
	// LastError is the last commit or lookup failure
	LastError string `gorm:"column:last_error;type:text"`
	// CreatedAt is the reservation timestamp
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last status change
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the AnchorRecord model
func (AnchorRecord) TableName() string {
	return "anchors"
}

// AnchorHead represents the anchor_heads table - the next unanchored block per scope.
// Locked FOR UPDATE while reserving a range.
type AnchorHead struct {
	Scope          domain.AnchorScope `gorm:"column:scope;primaryKey;type:text"`
	NextStartBlock uint64             `gorm:"column:next_start_block;not null;default:0"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the AnchorHead model
func (AnchorHead) TableName() string {
	return "anchor_heads"
}
