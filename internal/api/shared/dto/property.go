package dto

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// OwnershipHistoryEntryResponse is one link of a property's provenance chain
type OwnershipHistoryEntryResponse struct {
	SequenceNumber    int64                  `json:"sequence_number"`
	OwnerHash         string                 `json:"owner_hash"`
	OwnerName         string                 `json:"owner_name"`
	PreviousOwnerHash string                 `json:"previous_owner_hash,omitempty"`
	AcquisitionType   schema.AcquisitionType `json:"acquisition_type"`
	TransferID        *string                `json:"transfer_id,omitempty"`
	SaleAmount        int64                  `json:"sale_amount"`
	TxID              string                 `json:"tx_id"`
	RecordedAt        time.Time              `json:"recorded_at"`
}

// OwnershipHistoryResponse represents a property's provenance chain, oldest first
type OwnershipHistoryResponse struct {
	PropertyID string                          `json:"property_id"`
	Entries    []OwnershipHistoryEntryResponse `json:"entries"`
}

// MapOwnershipHistoryToDTO maps mirrored history rows to the response
func MapOwnershipHistoryToDTO(propertyID string, entries []schema.OwnershipHistoryEntry) *OwnershipHistoryResponse {
	resp := &OwnershipHistoryResponse{
		PropertyID: propertyID,
		Entries:    make([]OwnershipHistoryEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, OwnershipHistoryEntryResponse{
			SequenceNumber:    e.SequenceNumber,
			OwnerHash:         e.OwnerHash,
			OwnerName:         e.OwnerName,
			PreviousOwnerHash: e.PreviousOwnerHash,
			AcquisitionType:   e.AcquisitionType,
			TransferID:        e.TransferID,
			SaleAmount:        e.SaleAmount,
			TxID:              e.TxID,
			RecordedAt:        e.RecordedAt,
		})
	}
	return resp
}
