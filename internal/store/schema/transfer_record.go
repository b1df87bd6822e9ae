package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// TransferRecord represents the transfer_records table - one row per transfer attempt.
// Rows are never deleted; CANCELLED and REGISTERED_FINAL are terminal.
type TransferRecord struct {
	// ID is a ULID, time-sortable
	ID string `gorm:"column:id;primaryKey;type:varchar(26)"`
	// PropertyID references the land record being transferred
	PropertyID domain.PropertyID `gorm:"column:property_id;not null;type:text"`
	// SellerHash and BuyerHash are identity hashes of the parties
	SellerHash string `gorm:"column:seller_hash;not null;type:text"`
	BuyerHash  string `gorm:"column:buyer_hash;not null;type:text"`
	// BuyerName is the buyer's display name carried to the ledger on execution
	BuyerName string `gorm:"column:buyer_name;not null;type:text"`
	// SaleAmount is the declared consideration in paisa
	SaleAmount int64 `gorm:"column:sale_amount;not null"`
	// StampDuty is the fee breakdown computed at initiation
	StampDuty datatypes.JSONType[domain.StampDutyBreakdown] `gorm:"column:stamp_duty;not null;type:jsonb"`
	// StampDutyReceiptHash is the hash of the payment receipt, set on confirmation
	StampDutyReceiptHash *string `gorm:"column:stamp_duty_receipt_hash;type:text"`
	// Witness1Hash and Witness2Hash identify the two witnesses
	Witness1Hash string `gorm:"column:witness1_hash;not null;type:text"`
	Witness2Hash string `gorm:"column:witness2_hash;not null;type:text"`
	// Signature flags, one per required signatory
	SellerSigned   bool `gorm:"column:seller_signed;not null;default:false"`
	BuyerSigned    bool `gorm:"column:buyer_signed;not null;default:false"`
	Witness1Signed bool `gorm:"column:witness1_signed;not null;default:false"`
	Witness2Signed bool `gorm:"column:witness2_signed;not null;default:false"`
	// Status is the workflow state
	Status domain.TransferStatus `gorm:"column:status;not null;type:text"`
	// StatusHistory is the ordered list of transitions
	StatusHistory datatypes.JSONSlice[domain.StatusChange] `gorm:"column:status_history;not null;type:jsonb"`
	// CoolingPeriodEnds is set on execution
	CoolingPeriodEnds *time.Time `gorm:"column:cooling_period_ends;type:timestamptz"`
	// LedgerTxID is the ExecuteTransfer transaction id
	LedgerTxID *string `gorm:"column:ledger_tx_id;type:text"`
	// FinalizeTxID is the FinalizeAfterCooling transaction id
	FinalizeTxID *string `gorm:"column:finalize_tx_id;type:text"`
	// ObjectionReason is set when an objection halts finality
	ObjectionReason *string `gorm:"column:objection_reason;type:text"`
	// CancellationReason is set on cancel
	CancellationReason *string `gorm:"column:cancellation_reason;type:text"`
	// Version is bumped on every write; writers compare it to fail closed on races
	Version int64 `gorm:"column:version;not null;default:1"`
	// CreatedAt is the timestamp of initiation
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last transition
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the TransferRecord model
func (TransferRecord) TableName() string {
	return "transfer_records"
}

// Signed reports the flag of one signatory
func (t *TransferRecord) Signed(s domain.Signatory) bool {
	switch s {
	case domain.SignatorySeller:
		return t.SellerSigned
	case domain.SignatoryBuyer:
		return t.BuyerSigned
	case domain.SignatoryWitness1:
		return t.Witness1Signed
	case domain.SignatoryWitness2:
		return t.Witness2Signed
	}
	return false
}

// AllSigned reports whether every required signatory has signed
func (t *TransferRecord) AllSigned() bool {
	return t.SellerSigned && t.BuyerSigned && t.Witness1Signed && t.Witness2Signed
}

// SignatureColumn maps a signatory to its flag column
func SignatureColumn(s domain.Signatory) string {
	switch s {
	case domain.SignatorySeller:
		return "seller_signed"
	case domain.SignatoryBuyer:
		return "buyer_signed"
	case domain.SignatoryWitness1:
		return "witness1_signed"
	case domain.SignatoryWitness2:
		return "witness2_signed"
	}
	return ""
}

// StatusHistoryJSON renders one history entry as a single-element jsonb array for appending
func StatusHistoryJSON(c domain.StatusChange) (string, error) {
	raw, err := json.Marshal([]domain.StatusChange{c})
	if err != nil {
		return "", fmt.Errorf("failed to marshal status change: %w", err)
	}
	return string(raw), nil
}
