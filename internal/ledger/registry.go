package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// Property is the authoritative land record as returned by GetProperty
type Property struct {
	PropertyID         domain.PropertyID        `json:"property_id"`
	OwnerHash          string                   `json:"owner_hash"`
	OwnerName          string                   `json:"owner_name"`
	AreaCentiSqM       int64                    `json:"area_centi_sqm"`
	Status             domain.LandStatus        `json:"status"`
	DisputeStatus      domain.DisputeStatus     `json:"dispute_status"`
	EncumbranceStatus  domain.EncumbranceStatus `json:"encumbrance_status"`
	CoolingPeriodEnds  *time.Time               `json:"cooling_period_ends,omitempty"`
	ProvenanceSequence int64                    `json:"provenance_sequence"`
	LastTxID           string                   `json:"last_tx_id"`
}

// ExecuteTransferArgs is the payload of the ExecuteTransfer chaincode call
type ExecuteTransferArgs struct {
	TransferID        string            `json:"transfer_id"`
	PropertyID        domain.PropertyID `json:"property_id"`
	SellerHash        string            `json:"seller_hash"`
	BuyerHash         string            `json:"buyer_hash"`
	BuyerName         string            `json:"buyer_name"`
	SaleAmount        int64             `json:"sale_amount"`
	StampDutyAmount   int64             `json:"stamp_duty_amount"`
	WitnessHashes     []string          `json:"witness_hashes"`
	CoolingPeriodEnds time.Time         `json:"cooling_period_ends"`
}

// AnchorArgs is the payload of the RecordAnchor chaincode call
type AnchorArgs struct {
	AnchorID      string `json:"anchor_id"`
	Scope         string `json:"scope"`
	StartBlock    uint64 `json:"start_block"`
	EndBlock      uint64 `json:"end_block"`
	StateRoot     string `json:"state_root"`
	TxCount       int    `json:"tx_count"`
	PublicTxID    string `json:"public_tx_id"`
	PublicRound   uint64 `json:"public_round"`
	PublicNetwork string `json:"public_network"`
}

// RateConfig is a state's stamp-duty configuration in basis points
type RateConfig struct {
	StateCode      string `json:"state_code"`
	StampDutyBP    int64  `json:"stamp_duty_bp"`
	RegistrationBP int64  `json:"registration_bp"`
	SurchargeBP    int64  `json:"surcharge_bp"`
}

// GetProperty reads the authoritative land record
func GetProperty(ctx context.Context, c Client, id domain.PropertyID) (*Property, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnGetProperty, id.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.Errorf(domain.CodeLandNotFound, "property %s not found on ledger", id)
		}
		return nil, err
	}

	var p Property
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed property record", err)
	}
	return &p, nil
}

// ExecuteTransfer commits the ownership change on the ledger
func ExecuteTransfer(ctx context.Context, c Client, args ExecuteTransferArgs) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execute args: %w", err)
	}
	return c.Submit(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnExecuteTransfer, string(raw))
}

// FinalizeAfterCooling clears the ledger's cooling marker once the objection window closed
func FinalizeAfterCooling(ctx context.Context, c Client, transferID string, propertyID domain.PropertyID) (string, error) {
	return c.Submit(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnFinalizeAfterCooling, transferID, propertyID.String())
}

// RecordAnchor stores the public commitment reference on the permissioned ledger
func RecordAnchor(ctx context.Context, c Client, args AnchorArgs) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal anchor args: %w", err)
	}
	return c.Submit(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnRecordAnchor, string(raw))
}

// ChainHeight returns the number of committed blocks on the channel
func ChainHeight(ctx context.Context, c Client) (uint64, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnGetChainHeight)
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed chain height", err)
	}
	return height, nil
}

// BlockRangeTxDigests returns the hex transaction digests of [start, end] in block order
func BlockRangeTxDigests(ctx context.Context, c Client, start, end uint64) ([]string, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnGetBlockTxDigests,
		strconv.FormatUint(start, 10), strconv.FormatUint(end, 10))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var digests []string
	if err := json.Unmarshal(raw, &digests); err != nil {
		return nil, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed tx digest list", err)
	}
	return digests, nil
}

// CircleRate returns the per-square-metre circle rate in paisa for the property's tehsil.
// A tehsil without a published rate yields 0.
func CircleRate(ctx context.Context, c Client, id domain.PropertyID) (int64, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeStampDuty, domain.LedgerFnGetCircleRate,
		id.StateCode(), id.DistrictCode(), id.TehsilCode())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var rate int64
	if err := json.Unmarshal(raw, &rate); err != nil {
		return 0, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed circle rate", err)
	}
	return rate, nil
}

// StampDutyConfig returns the state's configured rates, or nil when the state has none
func StampDutyConfig(ctx context.Context, c Client, stateCode string) (*RateConfig, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeStampDuty, domain.LedgerFnGetStampDutyConfig, stateCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RateConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed stamp duty config", err)
	}
	return &cfg, nil
}

// BlockRangeEvents returns the registry events committed in [start, end] in block order
func BlockRangeEvents(ctx context.Context, c Client, start, end uint64) ([]domain.LedgerEvent, error) {
	raw, err := c.Evaluate(ctx, domain.ChaincodeLandRegistry, domain.LedgerFnGetBlockEvents,
		strconv.FormatUint(start, 10), strconv.FormatUint(end, 10))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var events []domain.LedgerEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed block event list", err)
	}
	return events, nil
}
