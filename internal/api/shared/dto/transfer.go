package dto

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// SignaturesResponse holds one flag per required signatory
type SignaturesResponse struct {
	Seller   bool `json:"seller"`
	Buyer    bool `json:"buyer"`
	Witness1 bool `json:"witness_1"`
	Witness2 bool `json:"witness_2"`
}

// TransferResponse represents a transfer in API responses
type TransferResponse struct {
	ID                   string                    `json:"id"`
	PropertyID           string                    `json:"property_id"`
	SellerHash           string                    `json:"seller_hash"`
	BuyerHash            string                    `json:"buyer_hash"`
	BuyerName            string                    `json:"buyer_name"`
	SaleAmount           int64                     `json:"sale_amount"`
	StampDuty            domain.StampDutyBreakdown `json:"stamp_duty"`
	StampDutyReceiptHash *string                   `json:"stamp_duty_receipt_hash,omitempty"`
	WitnessHashes        []string                  `json:"witness_hashes"`
	Signatures           SignaturesResponse        `json:"signatures"`
	Status               domain.TransferStatus     `json:"status"`
	StatusHistory        []domain.StatusChange     `json:"status_history"`
	CoolingPeriodEnds    *time.Time                `json:"cooling_period_ends,omitempty"`
	LedgerTxID           *string                   `json:"ledger_tx_id,omitempty"`
	FinalizeTxID         *string                   `json:"finalize_tx_id,omitempty"`
	ObjectionReason      *string                   `json:"objection_reason,omitempty"`
	CancellationReason   *string                   `json:"cancellation_reason,omitempty"`
	Version              int64                     `json:"version"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// MapTransferToDTO maps a transfer record to its response
func MapTransferToDTO(t *schema.TransferRecord) *TransferResponse {
	if t == nil {
		return nil
	}

	history := []domain.StatusChange(t.StatusHistory)
	if history == nil {
		history = []domain.StatusChange{}
	}

	return &TransferResponse{
		ID:                   t.ID,
		PropertyID:           t.PropertyID.String(),
		SellerHash:           t.SellerHash,
		BuyerHash:            t.BuyerHash,
		BuyerName:            t.BuyerName,
		SaleAmount:           t.SaleAmount,
		StampDuty:            t.StampDuty.Data(),
		StampDutyReceiptHash: t.StampDutyReceiptHash,
		WitnessHashes:        []string{t.Witness1Hash, t.Witness2Hash},
		Signatures: SignaturesResponse{
			Seller:   t.SellerSigned,
			Buyer:    t.BuyerSigned,
			Witness1: t.Witness1Signed,
			Witness2: t.Witness2Signed,
		},
		Status:             t.Status,
		StatusHistory:      history,
		CoolingPeriodEnds:  t.CoolingPeriodEnds,
		LedgerTxID:         t.LedgerTxID,
		FinalizeTxID:       t.FinalizeTxID,
		ObjectionReason:    t.ObjectionReason,
		CancellationReason: t.CancellationReason,
		Version:            t.Version,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}
