package transfer

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// snapshot is the audited state of a transfer. Parties appear only as identity
// hashes and the buyer's display name is left out.
type snapshot struct {
	ID                   string                    `json:"id"`
	PropertyID           domain.PropertyID         `json:"property_id"`
	SellerHash           string                    `json:"seller_hash"`
	BuyerHash            string                    `json:"buyer_hash"`
	SaleAmount           int64                     `json:"sale_amount"`
	StampDuty            domain.StampDutyBreakdown `json:"stamp_duty"`
	StampDutyReceiptHash *string                   `json:"stamp_duty_receipt_hash,omitempty"`
	WitnessHashes        [2]string                 `json:"witness_hashes"`
	Signed               map[domain.Signatory]bool `json:"signed"`
	Status               domain.TransferStatus     `json:"status"`
	CoolingPeriodEnds    *time.Time                `json:"cooling_period_ends,omitempty"`
	LedgerTxID           *string                   `json:"ledger_tx_id,omitempty"`
	FinalizeTxID         *string                   `json:"finalize_tx_id,omitempty"`
	ObjectionReason      *string                   `json:"objection_reason,omitempty"`
	CancellationReason   *string                   `json:"cancellation_reason,omitempty"`
}

func snapshotOf(t *schema.TransferRecord) snapshot {
	signed := make(map[domain.Signatory]bool, len(domain.AllSignatories))
	for _, s := range domain.AllSignatories {
		signed[s] = t.Signed(s)
	}

	var cooling *time.Time
	if t.CoolingPeriodEnds != nil {
		c := t.CoolingPeriodEnds.UTC().Truncate(time.Microsecond)
		cooling = &c
	}

	return snapshot{
		ID:                   t.ID,
		PropertyID:           t.PropertyID,
		SellerHash:           t.SellerHash,
		BuyerHash:            t.BuyerHash,
		SaleAmount:           t.SaleAmount,
		StampDuty:            t.StampDuty.Data(),
		StampDutyReceiptHash: t.StampDutyReceiptHash,
		WitnessHashes:        [2]string{t.Witness1Hash, t.Witness2Hash},
		Signed:               signed,
		Status:               t.Status,
		CoolingPeriodEnds:    cooling,
		LedgerTxID:           t.LedgerTxID,
		FinalizeTxID:         t.FinalizeTxID,
		ObjectionReason:      t.ObjectionReason,
		CancellationReason:   t.CancellationReason,
	}
}
