package schema

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// Encumbrance represents the encumbrances table - mortgages, liens and court attachments
type Encumbrance struct {
	EncumbranceID string            `gorm:"column:encumbrance_id;primaryKey;type:text"`
	PropertyID    domain.PropertyID `gorm:"column:property_id;not null;type:text;index"`
	Category      string            `gorm:"column:category;not null;type:text"`
	HolderName    string            `gorm:"column:holder_name;type:text"`
	// Status is sticky once RELEASED; a late ENCUMBRANCE_ADDED never reactivates it
	Status    domain.LienState `gorm:"column:status;not null;type:text"`
	TxID      string           `gorm:"column:tx_id;type:text"`
	CreatedAt time.Time        `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time        `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Encumbrance model
func (Encumbrance) TableName() string {
	return "encumbrances"
}

// Dispute represents the disputes table
type Dispute struct {
	DisputeID  string            `gorm:"column:dispute_id;primaryKey;type:text"`
	PropertyID domain.PropertyID `gorm:"column:property_id;not null;type:text;index"`
	Category   string            `gorm:"column:category;not null;type:text"`
	// Status is sticky once RELEASED (resolved)
	Status    domain.LienState `gorm:"column:status;not null;type:text"`
	TxID      string           `gorm:"column:tx_id;type:text"`
	CreatedAt time.Time        `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time        `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Dispute model
func (Dispute) TableName() string {
	return "disputes"
}
