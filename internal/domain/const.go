package domain

import "time"

const (
	// CoolingPeriod is the objection window after execution
	CoolingPeriod = 72 * time.Hour

	// RequiredWitnesses is the number of witnesses on every transfer deed
	RequiredWitnesses = 2

	// GenesisHash is the previous-hash of the first audit entry in every scope
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// SystemActor is the identity used for background workers (sync, sweeper, relay)
	SystemActor = "system"
)

// Chaincode names on the permissioned ledger
const (
	ChaincodeLandRegistry = "land-registry"
	ChaincodeStampDuty    = "stamp-duty"
)

// Ledger function names
const (
	LedgerFnGetProperty          = "GetProperty"
	LedgerFnExecuteTransfer      = "ExecuteTransfer"
	LedgerFnFinalizeAfterCooling = "FinalizeAfterCooling"
	LedgerFnRecordAnchor         = "RecordAnchor"
	LedgerFnGetChainHeight       = "GetChainHeight"
	LedgerFnGetBlockTxDigests    = "GetBlockRangeTxDigests"
	LedgerFnGetBlockEvents       = "GetBlockRangeEvents"
	LedgerFnGetCircleRate        = "GetCircleRate"
	LedgerFnGetStampDutyConfig   = "GetStampDutyConfig"
)

// Role is the actor role carried by the session token
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleRegistrar Role = "registrar"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

// Actor identifies who performs an operation. IdentityHash is a SHA-256 of the
// citizen identifier; raw identifiers never reach the registry.
type Actor struct {
	IdentityHash string `json:"identity_hash"`
	Role         Role   `json:"role"`
}

// IsOfficial reports whether the actor may execute or finalize a registration
func (a Actor) IsOfficial() bool {
	return a.Role == RoleRegistrar || a.Role == RoleAdmin || a.Role == RoleSystem
}

// System returns the actor used by background jobs
func System() Actor {
	return Actor{IdentityHash: SystemActor, Role: RoleSystem}
}
