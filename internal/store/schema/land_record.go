package schema

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// LandRecord represents the land_records table - mirror of the ledger's land record
type LandRecord struct {
	// PropertyID is the hierarchical parcel identifier (e.g. AP-GNT-TNL-SKM-142-3)
	PropertyID domain.PropertyID `gorm:"column:property_id;primaryKey;type:text"`
	// StateCode is the first segment of the property id and the anchoring scope
	StateCode string `gorm:"column:state_code;not null;type:varchar(2)"`
	// DistrictCode, TehsilCode and VillageCode locate the parcel for circle-rate lookups
	DistrictCode string `gorm:"column:district_code;not null;type:text"`
	TehsilCode   string `gorm:"column:tehsil_code;not null;type:text"`
	VillageCode  string `gorm:"column:village_code;not null;type:text"`
	// OwnerHash is the SHA-256 identity hash of the current owner
	OwnerHash string `gorm:"column:owner_hash;not null;type:text"`
	// OwnerName is the owner's display name
	OwnerName string `gorm:"column:owner_name;not null;type:text"`
	// AreaCentiSqM is the parcel area in hundredths of a square metre
	AreaCentiSqM int64 `gorm:"column:area_centi_sqm;not null"`
	// Status is the lifecycle status of the parcel
	Status domain.LandStatus `gorm:"column:status;not null;type:text"`
	// DisputeStatus is recomputed from the number of open disputes
	DisputeStatus domain.DisputeStatus `gorm:"column:dispute_status;not null;type:text"`
	// EncumbranceStatus is recomputed from the number of active encumbrances
	EncumbranceStatus domain.EncumbranceStatus `gorm:"column:encumbrance_status;not null;type:text"`
	// CoolingPeriodEnds is set while an executed transfer is within its objection window
	CoolingPeriodEnds *time.Time `gorm:"column:cooling_period_ends;type:timestamptz"`
	// ProvenanceSequence is the sequence number of the latest ownership history entry
	ProvenanceSequence int64 `gorm:"column:provenance_sequence;not null;default:0"`
	// LastTxID is the last permissioned-ledger transaction that touched this parcel
	LastTxID string `gorm:"column:last_tx_id;type:text"`
	// CreatedAt is the timestamp when the parcel was first mirrored
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last mirror write
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LandRecord model
func (LandRecord) TableName() string {
	return "land_records"
}

// HasActiveCooling reports whether the objection window is still open at now
func (l *LandRecord) HasActiveCooling(now time.Time) bool {
	return l.CoolingPeriodEnds != nil && now.Before(*l.CoolingPeriodEnds)
}

// TransferableBy returns the coded reason the parcel cannot be sold by seller at now, or nil
func (l *LandRecord) TransferableBy(seller string, now time.Time) error {
	switch {
	case l.Status == domain.LandStatusTransferInProgress:
		return domain.Errorf(domain.CodeTransferInvalidState, "property %s already has a transfer in progress", l.PropertyID)
	case l.Status != domain.LandStatusActive:
		return domain.Errorf(domain.CodeLandFrozen, "property %s is %s", l.PropertyID, l.Status)
	case l.DisputeStatus != domain.DisputeStatusClear:
		return domain.Errorf(domain.CodeLandDisputed, "property %s has an unresolved dispute", l.PropertyID)
	case l.EncumbranceStatus != domain.EncumbranceStatusClear:
		return domain.Errorf(domain.CodeLandEncumbered, "property %s has an active encumbrance", l.PropertyID)
	case l.HasActiveCooling(now):
		return domain.Errorf(domain.CodeLandCoolingPeriod, "property %s is in its cooling period until %s",
			l.PropertyID, l.CoolingPeriodEnds.Format(time.RFC3339))
	case l.OwnerHash != seller:
		return domain.Errorf(domain.CodeTransferInvalidOwner, "seller is not the current owner of %s", l.PropertyID)
	}
	return nil
}
