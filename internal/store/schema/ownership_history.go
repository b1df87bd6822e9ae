package schema

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// AcquisitionType describes how an owner acquired the parcel
type AcquisitionType string

const (
	// AcquisitionTypeRegistration is the initial registration (sequence 1)
	AcquisitionTypeRegistration AcquisitionType = "REGISTRATION"
	// AcquisitionTypeSale is a registered transfer
	AcquisitionTypeSale AcquisitionType = "SALE"
)

// OwnershipHistoryEntry represents the ownership_history table - append-only provenance chain.
// Sequence numbers are strictly increasing per property with no gaps.
type OwnershipHistoryEntry struct {
	// PropertyID and SequenceNumber form the natural key
	PropertyID     domain.PropertyID `gorm:"column:property_id;primaryKey;type:text"`
	SequenceNumber int64             `gorm:"column:sequence_number;primaryKey"`
	// OwnerHash is the owner from this entry on
	OwnerHash string `gorm:"column:owner_hash;not null;type:text"`
	// OwnerName is the owner's display name
	OwnerName string `gorm:"column:owner_name;not null;type:text"`
	// PreviousOwnerHash is empty for the registration entry
	PreviousOwnerHash string `gorm:"column:previous_owner_hash;type:text"`
	// AcquisitionType is REGISTRATION or SALE
	AcquisitionType AcquisitionType `gorm:"column:acquisition_type;not null;type:text"`
	// TransferID references the transfer for SALE entries
	TransferID *string `gorm:"column:transfer_id;type:varchar(26)"`
	// SaleAmount is the consideration in paisa for SALE entries
	SaleAmount int64 `gorm:"column:sale_amount;not null;default:0"`
	// TxID is the ledger transaction that recorded the change
	TxID string `gorm:"column:tx_id;type:text"`
	// RecordedAt is the ledger timestamp of the change
	RecordedAt time.Time `gorm:"column:recorded_at;not null;type:timestamptz"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the OwnershipHistoryEntry model
func (OwnershipHistoryEntry) TableName() string {
	return "ownership_history"
}
