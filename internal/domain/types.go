package domain

import "time"

// LandStatus is the lifecycle status of a land record
type LandStatus string

const (
	LandStatusActive             LandStatus = "ACTIVE"
	LandStatusTransferInProgress LandStatus = "TRANSFER_IN_PROGRESS"
	LandStatusFrozen             LandStatus = "FROZEN"
	LandStatusGovernmentAcquired LandStatus = "GOVERNMENT_ACQUIRED"
)

// DisputeStatus is the aggregate dispute flag of a land record
type DisputeStatus string

const (
	DisputeStatusClear    DisputeStatus = "CLEAR"
	DisputeStatusDisputed DisputeStatus = "DISPUTED"
)

// EncumbranceStatus is the aggregate encumbrance flag of a land record
type EncumbranceStatus string

const (
	EncumbranceStatusClear      EncumbranceStatus = "CLEAR"
	EncumbranceStatusEncumbered EncumbranceStatus = "ENCUMBERED"
)

// LienState is the state of a single encumbrance or dispute row
type LienState string

const (
	LienStateActive   LienState = "ACTIVE"
	LienStateReleased LienState = "RELEASED"
)

// TransferStatus is the state of a transfer in the registration workflow
type TransferStatus string

const (
	TransferStatusInitiated                 TransferStatus = "INITIATED"
	TransferStatusStampDutyPending          TransferStatus = "STAMP_DUTY_PENDING"
	TransferStatusStampDutyPaid             TransferStatus = "STAMP_DUTY_PAID"
	TransferStatusSignaturesPending         TransferStatus = "SIGNATURES_PENDING"
	TransferStatusSignaturesComplete        TransferStatus = "SIGNATURES_COMPLETE"
	TransferStatusRegisteredPendingFinality TransferStatus = "REGISTERED_PENDING_FINALITY"
	TransferStatusObjectionRaised           TransferStatus = "OBJECTION_RAISED"
	TransferStatusRegisteredFinal           TransferStatus = "REGISTERED_FINAL"
	TransferStatusCancelled                 TransferStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusRegisteredFinal || s == TransferStatusCancelled
}

// IsCancellable reports whether the transfer has not reached the ledger yet
func (s TransferStatus) IsCancellable() bool {
	switch s {
	case TransferStatusInitiated, TransferStatusStampDutyPending, TransferStatusStampDutyPaid, TransferStatusSignaturesPending:
		return true
	}
	return false
}

// TerminalTransferStatuses lists the statuses excluded from the one-active-transfer rule
var TerminalTransferStatuses = []TransferStatus{TransferStatusRegisteredFinal, TransferStatusCancelled}

// Signatory is a party whose signature is required on the deed
type Signatory string

const (
	SignatorySeller   Signatory = "SELLER"
	SignatoryBuyer    Signatory = "BUYER"
	SignatoryWitness1 Signatory = "WITNESS_1"
	SignatoryWitness2 Signatory = "WITNESS_2"
)

// AllSignatories lists every required signatory
var AllSignatories = []Signatory{SignatorySeller, SignatoryBuyer, SignatoryWitness1, SignatoryWitness2}

// IsValid reports whether s is a known signatory
func (s Signatory) IsValid() bool {
	for _, v := range AllSignatories {
		if v == s {
			return true
		}
	}
	return false
}

// StampDutyBreakdown is the fee computation attached to a transfer.
// All amounts are paisa; rates are basis points (1/100 of a percent).
type StampDutyBreakdown struct {
	State           string `json:"state"`
	CircleRateValue int64  `json:"circle_rate_value"`
	DeclaredValue   int64  `json:"declared_value"`
	ApplicableValue int64  `json:"applicable_value"`
	StampDutyRateBP int64  `json:"stamp_duty_rate_bp"`
	StampDutyAmount int64  `json:"stamp_duty_amount"`
	RegistrationBP  int64  `json:"registration_bp"`
	RegistrationFee int64  `json:"registration_fee"`
	SurchargeBP     int64  `json:"surcharge_bp"`
	SurchargeAmount int64  `json:"surcharge_amount"`
	TotalFees       int64  `json:"total_fees"`
}

// StatusChange is one entry of a transfer's status history
type StatusChange struct {
	Status    TransferStatus `json:"status"`
	At        time.Time      `json:"at"`
	ActorHash string         `json:"actor_hash"`
}

// AnchorScope is the anchoring partition. Scopes are state codes.
type AnchorScope string

// AuditResourceType is the per-scope partition of the audit chain
type AuditResourceType string

const (
	AuditResourceTransfer AuditResourceType = "transfer"
	AuditResourceLand     AuditResourceType = "land"
	AuditResourceAnchor   AuditResourceType = "anchor"
)

// AuditAction names an audited state change
type AuditAction string

const (
	AuditActionTransferInitiated  AuditAction = "TRANSFER_INITIATED"
	AuditActionStampDutyConfirmed AuditAction = "STAMP_DUTY_CONFIRMED"
	AuditActionSignatureSubmitted AuditAction = "SIGNATURE_SUBMITTED"
	AuditActionTransferExecuted   AuditAction = "TRANSFER_EXECUTED"
	AuditActionObjectionFiled     AuditAction = "OBJECTION_FILED"
	AuditActionTransferFinalized  AuditAction = "TRANSFER_FINALIZED"
	AuditActionTransferCancelled  AuditAction = "TRANSFER_CANCELLED"
	AuditActionLandProjected      AuditAction = "LAND_PROJECTED"
	AuditActionAnchorRecorded     AuditAction = "ANCHOR_RECORDED"
	AuditActionAnchorReconciled   AuditAction = "ANCHOR_RECONCILED"
)

// AnchorTrigger is the payload of an anchor.trigger job. The scope is anchored up
// to the current ledger height; TxID names the transaction that caused the trigger.
type AnchorTrigger struct {
	Scope      AnchorScope `json:"scope"`
	TxID       string      `json:"tx_id,omitempty"`
	PropertyID PropertyID  `json:"property_id,omitempty"`
}
