package dto

import (
	"time"

	"github.com/bhulekhchain/title-registry/internal/anchor"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// AnchorResponse represents a published state-root commitment
type AnchorResponse struct {
	AnchorID    string              `json:"anchor_id"`
	StartBlock  uint64              `json:"start_block"`
	EndBlock    uint64              `json:"end_block"`
	StateRoot   string              `json:"state_root"`
	TxCount     int                 `json:"tx_count"`
	PublicTxID  string              `json:"public_tx_id,omitempty"`
	PublicRound uint64              `json:"public_round,omitempty"`
	Status      schema.AnchorStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

// AnchorVerificationResponse reports whether a property's scope is provably anchored
type AnchorVerificationResponse struct {
	PropertyID string          `json:"property_id"`
	Scope      string          `json:"scope"`
	Network    string          `json:"network"`
	Verified   bool            `json:"verified"`
	Degraded   bool            `json:"degraded"`
	Anchor     *AnchorResponse `json:"anchor,omitempty"`
}

// MapVerificationToDTO maps an anchor verification to the response
func MapVerificationToDTO(v *anchor.Verification) *AnchorVerificationResponse {
	resp := &AnchorVerificationResponse{
		PropertyID: v.PropertyID.String(),
		Scope:      string(v.Scope),
		Network:    v.Network,
		Verified:   v.Verified,
		Degraded:   v.Degraded,
	}
	if a := v.Anchor; a != nil {
		resp.Anchor = &AnchorResponse{
			AnchorID:    a.AnchorID,
			StartBlock:  a.StartBlock,
			EndBlock:    a.EndBlock,
			StateRoot:   a.StateRoot,
			TxCount:     a.TxCount,
			PublicTxID:  a.PublicTxID,
			PublicRound: a.PublicRound,
			Status:      a.Status,
			CreatedAt:   a.CreatedAt,
		}
	}
	return resp
}
