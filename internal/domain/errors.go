package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, client-visible classification of a registry error
type ErrorCode string

const (
	CodeValidation              ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized            ErrorCode = "UNAUTHORIZED"
	CodeLandNotFound            ErrorCode = "LAND_NOT_FOUND"
	CodeLandDisputed            ErrorCode = "LAND_DISPUTED"
	CodeLandEncumbered          ErrorCode = "LAND_ENCUMBERED"
	CodeLandFrozen              ErrorCode = "LAND_FROZEN"
	CodeLandCoolingPeriod       ErrorCode = "LAND_COOLING_PERIOD"
	CodeTransferNotFound        ErrorCode = "TRANSFER_NOT_FOUND"
	CodeTransferInvalidOwner    ErrorCode = "TRANSFER_INVALID_OWNER"
	CodeTransferInvalidState    ErrorCode = "TRANSFER_INVALID_STATE"
	CodeLedgerUnavailable       ErrorCode = "LEDGER_UNAVAILABLE"
	CodeLedgerTimeout           ErrorCode = "LEDGER_TIMEOUT"
	CodeLedgerEndorsementFailed ErrorCode = "LEDGER_ENDORSEMENT_FAILED"
	CodeAnchorFailed            ErrorCode = "ANCHOR_FAILED"
	CodeChainIntegrityViolation ErrorCode = "CHAIN_INTEGRITY_VIOLATION"
)

// Error is a coded registry error. Two errors match under errors.Is when
// their codes are equal, so callers compare against the Err* sentinels.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrValidation              = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrUnauthorized            = &Error{Code: CodeUnauthorized, Message: "actor is not permitted to perform this action"}
	ErrLandNotFound            = &Error{Code: CodeLandNotFound, Message: "land record not found"}
	ErrLandDisputed            = &Error{Code: CodeLandDisputed, Message: "land record has an unresolved dispute"}
	ErrLandEncumbered          = &Error{Code: CodeLandEncumbered, Message: "land record has an active encumbrance"}
	ErrLandFrozen              = &Error{Code: CodeLandFrozen, Message: "land record is not available for transfer"}
	ErrLandCoolingPeriod       = &Error{Code: CodeLandCoolingPeriod, Message: "cooling period is active"}
	ErrTransferNotFound        = &Error{Code: CodeTransferNotFound, Message: "transfer not found"}
	ErrTransferInvalidOwner    = &Error{Code: CodeTransferInvalidOwner, Message: "seller is not the current owner"}
	ErrTransferInvalidState    = &Error{Code: CodeTransferInvalidState, Message: "transfer is not in a valid state for this operation"}
	ErrLedgerUnavailable       = &Error{Code: CodeLedgerUnavailable, Message: "ledger is unavailable"}
	ErrLedgerTimeout           = &Error{Code: CodeLedgerTimeout, Message: "ledger call timed out"}
	ErrLedgerEndorsementFailed = &Error{Code: CodeLedgerEndorsementFailed, Message: "ledger rejected the transaction"}
	ErrAnchorFailed            = &Error{Code: CodeAnchorFailed, Message: "anchoring failed"}
	ErrChainIntegrityViolation = &Error{Code: CodeChainIntegrityViolation, Message: "audit chain integrity violation"}
)

// ErrPublicTxUnconfirmed is returned with a tx id when a public commitment was broadcast
// but not seen in a block before the confirmation timeout
var ErrPublicTxUnconfirmed = errors.New("public ledger transaction not confirmed")

// Errorf builds a coded error with a specific message
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf returns the registry code carried by err, or "" when err is not coded
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidationClass reports whether err is a caller mistake that must not be retried
func IsValidationClass(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeUnauthorized,
		CodeLandNotFound, CodeLandDisputed, CodeLandEncumbered, CodeLandFrozen, CodeLandCoolingPeriod,
		CodeTransferNotFound, CodeTransferInvalidOwner, CodeTransferInvalidState:
		return true
	}
	return false
}

// IsLedgerClass reports whether err originates from the permissioned ledger
func IsLedgerClass(err error) bool {
	switch CodeOf(err) {
	case CodeLedgerUnavailable, CodeLedgerTimeout, CodeLedgerEndorsementFailed:
		return true
	}
	return false
}
