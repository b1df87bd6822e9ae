package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/stampduty"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// Config holds the orchestrator settings
type Config struct {
	// CoolingPeriod is the objection window opened by execution
	CoolingPeriod time.Duration
}

// InitiateRequest opens a transfer
type InitiateRequest struct {
	PropertyID    string   `json:"property_id"`
	SellerHash    string   `json:"seller_hash"`
	BuyerHash     string   `json:"buyer_hash"`
	BuyerName     string   `json:"buyer_name"`
	SaleAmount    int64    `json:"sale_amount"`
	WitnessHashes []string `json:"witness_hashes"`
}

// FinalizeDueResult summarizes one finality sweep
type FinalizeDueResult struct {
	Due       int
	Finalized int
	Skipped   int
	Failed    int
}

// Service drives a transfer from initiation to finality. Every transition is a
// guarded write on the expected status and version; a losing writer gets
// domain.ErrTransferInvalidState and nothing is changed.
//
//go:generate mockgen -source=service.go -destination=../mocks/transfer_service.go -package=mocks -mock_names=Service=MockTransferService
type Service interface {
	// Initiate prices the sale and opens a transfer in STAMP_DUTY_PENDING
	Initiate(ctx context.Context, actor domain.Actor, req InitiateRequest) (*schema.TransferRecord, error)
	// ConfirmStampDuty records the payment receipt
	ConfirmStampDuty(ctx context.Context, actor domain.Actor, transferID, receiptHash string) (*schema.TransferRecord, error)
	// SubmitSignature sets one signatory's flag. Resubmission is a no-op.
	SubmitSignature(ctx context.Context, actor domain.Actor, transferID string, signatory domain.Signatory, proof string) (*schema.TransferRecord, error)
	// Execute commits the transfer on the ledger and opens the cooling period
	Execute(ctx context.Context, actor domain.Actor, transferID string) (*schema.TransferRecord, error)
	// FileObjection halts finality while the cooling period is open
	FileObjection(ctx context.Context, actor domain.Actor, transferID, reason string) (*schema.TransferRecord, error)
	// Finalize closes the transfer once the cooling period elapsed without objection
	Finalize(ctx context.Context, actor domain.Actor, transferID string) (*schema.TransferRecord, error)
	// Cancel abandons a transfer before execution and releases the property
	Cancel(ctx context.Context, actor domain.Actor, transferID, reason string) (*schema.TransferRecord, error)
	// GetTransferStatus returns the current transfer
	GetTransferStatus(ctx context.Context, transferID string) (*schema.TransferRecord, error)
	// FinalizeDue finalizes up to limit transfers whose cooling period elapsed. Nothing is
	// finalized while an audit scope is on integrity hold.
	FinalizeDue(ctx context.Context, limit int) (FinalizeDueResult, error)
}

type service struct {
	config     Config
	store      store.Store
	ledger     ledger.Client
	calculator stampduty.Calculator
	clock      adapter.Clock
	json       adapter.JSON
}

// NewService creates the transfer orchestrator
func NewService(cfg Config, st store.Store, ledgerClient ledger.Client, calculator stampduty.Calculator, clock adapter.Clock, jsonAdapter adapter.JSON) Service {
	if cfg.CoolingPeriod <= 0 {
		cfg.CoolingPeriod = domain.CoolingPeriod
	}
	return &service{
		config:     cfg,
		store:      st,
		ledger:     ledgerClient,
		calculator: calculator,
		clock:      clock,
		json:       jsonAdapter,
	}
}

// =============================================================================
// Initiation
// =============================================================================

func (s *service) Initiate(ctx context.Context, actor domain.Actor, req InitiateRequest) (*schema.TransferRecord, error) {
	propertyID, err := domain.ParsePropertyID(req.PropertyID)
	if err != nil {
		return nil, err
	}
	if err := validateParties(req); err != nil {
		return nil, err
	}
	if actor.IdentityHash != req.SellerHash && !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only the seller or a registrar may initiate a transfer")
	}

	now := s.clock.Now().UTC()

	// Fast rejection with the precise reason; the claim in CreateTransfer is authoritative
	land, err := s.store.GetLand(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if err := land.TransferableBy(req.SellerHash, now); err != nil {
		return nil, err
	}

	breakdown, err := s.calculator.Calculate(ctx, propertyID, land.AreaCentiSqM, req.SaleAmount)
	if err != nil {
		return nil, err
	}

	t := schema.TransferRecord{
		ID:           ulid.MustNewDefault(now).String(),
		PropertyID:   propertyID,
		SellerHash:   req.SellerHash,
		BuyerHash:    req.BuyerHash,
		BuyerName:    strings.TrimSpace(req.BuyerName),
		SaleAmount:   req.SaleAmount,
		Witness1Hash: req.WitnessHashes[0],
		Witness2Hash: req.WitnessHashes[1],
		Status:       domain.TransferStatusStampDutyPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.StampDuty = datatypes.NewJSONType(*breakdown)
	t.StatusHistory = append(t.StatusHistory,
		domain.StatusChange{Status: domain.TransferStatusInitiated, At: now, ActorHash: actor.IdentityHash},
		domain.StatusChange{Status: domain.TransferStatusStampDutyPending, At: now, ActorHash: actor.IdentityHash},
	)

	auditEntry, err := s.auditEntry("", actor, domain.AuditActionTransferInitiated, nil, &t, now)
	if err != nil {
		return nil, err
	}

	err = s.store.CreateTransfer(ctx, store.CreateTransferInput{
		Transfer: t,
		Now:      now,
		Outbox:   []schema.OutboxEntry{auditEntry},
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Transfer initiated",
		zap.String("transferID", t.ID),
		zap.String("propertyID", propertyID.String()),
		zap.Int64("applicableValue", breakdown.ApplicableValue),
		zap.Int64("totalFees", breakdown.TotalFees))
	return &t, nil
}

func validateParties(req InitiateRequest) error {
	if req.SellerHash == "" || req.BuyerHash == "" {
		return domain.Errorf(domain.CodeValidation, "seller and buyer are required")
	}
	if req.SellerHash == req.BuyerHash {
		return domain.Errorf(domain.CodeValidation, "seller and buyer must differ")
	}
	if strings.TrimSpace(req.BuyerName) == "" {
		return domain.Errorf(domain.CodeValidation, "buyer name is required")
	}
	if req.SaleAmount <= 0 {
		return domain.Errorf(domain.CodeValidation, "sale amount must be positive")
	}
	if len(req.WitnessHashes) != domain.RequiredWitnesses {
		return domain.Errorf(domain.CodeValidation, "exactly %d witnesses are required, got %d",
			domain.RequiredWitnesses, len(req.WitnessHashes))
	}
	w1, w2 := req.WitnessHashes[0], req.WitnessHashes[1]
	if w1 == "" || w2 == "" || w1 == w2 {
		return domain.Errorf(domain.CodeValidation, "witnesses must be two distinct identities")
	}
	for _, w := range req.WitnessHashes {
		if w == req.SellerHash || w == req.BuyerHash {
			return domain.Errorf(domain.CodeValidation, "a party to the sale cannot witness it")
		}
	}
	return nil
}

// =============================================================================
// Pre-execution transitions
// =============================================================================

func (s *service) ConfirmStampDuty(ctx context.Context, actor domain.Actor, transferID, receiptHash string) (*schema.TransferRecord, error) {
	if strings.TrimSpace(receiptHash) == "" {
		return nil, domain.Errorf(domain.CodeValidation, "receipt hash is required")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !isParty(actor, t) && !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only a party or a registrar may confirm stamp duty")
	}
	if t.Status != domain.TransferStatusStampDutyPending {
		return nil, invalidState(t, "confirm stamp duty")
	}

	now := s.clock.Now().UTC()
	next := *t
	next.Status = domain.TransferStatusStampDutyPaid
	next.StampDutyReceiptHash = &receiptHash

	return s.transition(ctx, actor, t, &next, domain.AuditActionStampDutyConfirmed, now, store.TransferTransition{
		Columns: map[string]interface{}{"stamp_duty_receipt_hash": receiptHash},
	})
}

func (s *service) SubmitSignature(ctx context.Context, actor domain.Actor, transferID string, signatory domain.Signatory, proof string) (*schema.TransferRecord, error) {
	if !signatory.IsValid() {
		return nil, domain.Errorf(domain.CodeValidation, "unknown signatory %q", signatory)
	}
	if strings.TrimSpace(proof) == "" {
		return nil, domain.Errorf(domain.CodeValidation, "signature proof is required")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if actor.IdentityHash != signatoryHash(t, signatory) && !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "actor is not the %s of transfer %s", signatory, t.ID)
	}

	switch t.Status {
	case domain.TransferStatusStampDutyPaid, domain.TransferStatusSignaturesPending:
	case domain.TransferStatusSignaturesComplete:
		// every flag is already set, so this is a resubmission
		return t, nil
	default:
		return nil, invalidState(t, "sign")
	}
	if t.Signed(signatory) {
		return t, nil
	}

	now := s.clock.Now().UTC()
	next := *t
	setSigned(&next, signatory)
	next.Status = domain.TransferStatusSignaturesPending
	if next.AllSigned() {
		next.Status = domain.TransferStatusSignaturesComplete
	}

	updated, err := s.transition(ctx, actor, t, &next, domain.AuditActionSignatureSubmitted, now, store.TransferTransition{
		Columns: map[string]interface{}{schema.SignatureColumn(signatory): true},
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Signature recorded",
		zap.String("transferID", t.ID),
		zap.String("signatory", string(signatory)),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, actor domain.Actor, transferID, reason string) (*schema.TransferRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Errorf(domain.CodeValidation, "cancellation reason is required")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !isParty(actor, t) && !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only a party or a registrar may cancel a transfer")
	}
	if !t.Status.IsCancellable() {
		return nil, invalidState(t, "cancel")
	}

	now := s.clock.Now().UTC()
	next := *t
	next.Status = domain.TransferStatusCancelled
	next.CancellationReason = &reason

	notify, err := notifyEntry(s.json, &next, now)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, actor, t, &next, domain.AuditActionTransferCancelled, now, store.TransferTransition{
		Columns: map[string]interface{}{"cancellation_reason": reason},
		Land: &store.LandUpdate{
			PropertyID:     t.PropertyID,
			ExpectedStatus: []domain.LandStatus{domain.LandStatusTransferInProgress},
			Columns:        map[string]interface{}{"status": domain.LandStatusActive},
		},
		Outbox: []schema.OutboxEntry{notify},
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Transfer cancelled", zap.String("transferID", t.ID))
	return updated, nil
}

// =============================================================================
// Execution and finality
// =============================================================================

func (s *service) Execute(ctx context.Context, actor domain.Actor, transferID string) (*schema.TransferRecord, error) {
	if !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only a registrar may execute a transfer")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransferStatusSignaturesComplete {
		return nil, invalidState(t, "execute")
	}

	// Holds may have appeared since initiation
	land, err := s.store.GetLand(ctx, t.PropertyID)
	if err != nil {
		return nil, err
	}
	if err := executable(land, t); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	coolingEnds := now.Add(s.config.CoolingPeriod)
	sequence := land.ProvenanceSequence + 1

	txID, err := ledger.ExecuteTransfer(ctx, s.ledger, ledger.ExecuteTransferArgs{
		TransferID:        t.ID,
		PropertyID:        t.PropertyID,
		SellerHash:        t.SellerHash,
		BuyerHash:         t.BuyerHash,
		BuyerName:         t.BuyerName,
		SaleAmount:        t.SaleAmount,
		StampDutyAmount:   t.StampDuty.Data().StampDutyAmount,
		WitnessHashes:     []string{t.Witness1Hash, t.Witness2Hash},
		CoolingPeriodEnds: coolingEnds,
	})
	if err != nil {
		logger.WarnCtx(ctx, "Ledger rejected transfer execution",
			zap.String("transferID", t.ID), zap.Error(err))
		return nil, err
	}

	next := *t
	next.Status = domain.TransferStatusRegisteredPendingFinality
	next.CoolingPeriodEnds = &coolingEnds
	next.LedgerTxID = &txID

	auditEntry, err := s.auditEntry(ExecutedAuditID(t.ID, txID), actor, domain.AuditActionTransferExecuted, t, &next, now)
	if err != nil {
		return nil, err
	}
	sideEffects, err := ExecutionEffects(s.json, &next, txID, now)
	if err != nil {
		return nil, err
	}

	saleTransferID := t.ID
	updated, err := s.transitionWithAudit(ctx, actor, t, &next, auditEntry, now, store.TransferTransition{
		Columns: map[string]interface{}{
			"cooling_period_ends": coolingEnds,
			"ledger_tx_id":        txID,
		},
		Land: &store.LandUpdate{
			PropertyID:       t.PropertyID,
			ExpectedStatus:   []domain.LandStatus{domain.LandStatusTransferInProgress},
			ExpectedSequence: &land.ProvenanceSequence,
			Columns: map[string]interface{}{
				"owner_hash":          t.BuyerHash,
				"owner_name":          t.BuyerName,
				"status":              domain.LandStatusActive,
				"cooling_period_ends": coolingEnds,
				"provenance_sequence": sequence,
				"last_tx_id":          txID,
			},
		},
		History: &schema.OwnershipHistoryEntry{
			PropertyID:        t.PropertyID,
			SequenceNumber:    sequence,
			OwnerHash:         t.BuyerHash,
			OwnerName:         t.BuyerName,
			PreviousOwnerHash: t.SellerHash,
			AcquisitionType:   schema.AcquisitionTypeSale,
			TransferID:        &saleTransferID,
			SaleAmount:        t.SaleAmount,
			TxID:              txID,
			RecordedAt:        now,
		},
		Outbox: sideEffects,
	})
	if err != nil {
		return s.reconcileExecution(ctx, t.ID, txID, append([]schema.OutboxEntry{auditEntry}, sideEffects...), err)
	}

	logger.InfoCtx(ctx, "Transfer registered on ledger",
		zap.String("transferID", t.ID),
		zap.String("txID", txID),
		zap.Int64("sequence", sequence),
		zap.Time("coolingPeriodEnds", coolingEnds))
	return updated, nil
}

// reconcileExecution handles a mirror write that failed after the ledger committed.
// The sync pipeline may already have projected the ledger event; then only the
// audit intent and side effects may be missing. Otherwise the gap stays open
// until it does.
func (s *service) reconcileExecution(ctx context.Context, transferID, txID string, sideEffects []schema.OutboxEntry, cause error) (*schema.TransferRecord, error) {
	current, err := s.store.GetTransfer(ctx, transferID)
	if err == nil && current.LedgerTxID != nil && *current.LedgerTxID == txID {
		if err := s.store.InsertOutboxEntries(ctx, sideEffects); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to write execution side effects: %w", err),
				zap.String("transferID", transferID), zap.String("txID", txID))
		}
		return current, nil
	}

	logger.Alert(ctx, "transfer_mirror_gap", cause,
		zap.String("transferID", transferID),
		zap.String("txID", txID))
	return nil, fmt.Errorf("transfer %s committed on ledger as %s but mirror update failed: %w", transferID, txID, cause)
}

func (s *service) FileObjection(ctx context.Context, actor domain.Actor, transferID, reason string) (*schema.TransferRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Errorf(domain.CodeValidation, "objection reason is required")
	}
	if actor.IdentityHash == "" {
		return nil, domain.Errorf(domain.CodeUnauthorized, "objections require an identified actor")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransferStatusRegisteredPendingFinality {
		return nil, invalidState(t, "object to")
	}

	now := s.clock.Now().UTC()
	if t.CoolingPeriodEnds == nil || !now.Before(*t.CoolingPeriodEnds) {
		return nil, domain.Errorf(domain.CodeTransferInvalidState, "objection window of transfer %s has closed", t.ID)
	}

	next := *t
	next.Status = domain.TransferStatusObjectionRaised
	next.ObjectionReason = &reason

	notify, err := notifyEntry(s.json, &next, now)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, actor, t, &next, domain.AuditActionObjectionFiled, now, store.TransferTransition{
		Columns: map[string]interface{}{"objection_reason": reason},
		Outbox:  []schema.OutboxEntry{notify},
	})
	if err != nil {
		return nil, err
	}

	logger.WarnCtx(ctx, "Objection raised, finality halted", zap.String("transferID", t.ID))
	return updated, nil
}

func (s *service) Finalize(ctx context.Context, actor domain.Actor, transferID string) (*schema.TransferRecord, error) {
	if !actor.IsOfficial() {
		return nil, domain.Errorf(domain.CodeUnauthorized, "only a registrar may finalize a transfer")
	}

	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransferStatusRegisteredPendingFinality {
		return nil, invalidState(t, "finalize")
	}

	now := s.clock.Now().UTC()
	if t.CoolingPeriodEnds != nil && now.Before(*t.CoolingPeriodEnds) {
		return nil, domain.Errorf(domain.CodeLandCoolingPeriod, "cooling period of transfer %s ends at %s",
			t.ID, t.CoolingPeriodEnds.Format(time.RFC3339))
	}

	txID, err := ledger.FinalizeAfterCooling(ctx, s.ledger, t.ID, t.PropertyID)
	if err != nil {
		return nil, err
	}

	next := *t
	next.Status = domain.TransferStatusRegisteredFinal
	next.FinalizeTxID = &txID

	notify, err := notifyEntry(s.json, &next, now)
	if err != nil {
		return nil, err
	}

	tr := store.TransferTransition{
		Columns: map[string]interface{}{"finalize_tx_id": txID},
		Outbox:  []schema.OutboxEntry{notify},
	}
	if t.CoolingPeriodEnds != nil {
		// only clear the marker this transfer set
		tr.Land = &store.LandUpdate{
			PropertyID:          t.PropertyID,
			ExpectedCoolingEnds: t.CoolingPeriodEnds,
			Optional:            true,
			Columns:             map[string]interface{}{"cooling_period_ends": nil},
		}
	}

	updated, err := s.transition(ctx, actor, t, &next, domain.AuditActionTransferFinalized, now, tr)
	if err != nil {
		return s.reconcileFinality(ctx, t.ID, txID, err)
	}

	logger.InfoCtx(ctx, "Transfer finalized",
		zap.String("transferID", t.ID),
		zap.String("finalizeTxID", txID))
	return updated, nil
}

// reconcileFinality handles a mirror write that failed after the ledger
// finalized. A concurrent finalization of the same commit is success; anything
// else is a mirror gap and never reads as a lost race.
func (s *service) reconcileFinality(ctx context.Context, transferID, txID string, cause error) (*schema.TransferRecord, error) {
	current, err := s.store.GetTransfer(ctx, transferID)
	if err == nil && current.Status == domain.TransferStatusRegisteredFinal &&
		current.FinalizeTxID != nil && *current.FinalizeTxID == txID {
		return current, nil
	}

	logger.Alert(ctx, "transfer_mirror_gap", cause,
		zap.String("transferID", transferID),
		zap.String("finalizeTxID", txID))
	return nil, fmt.Errorf("transfer %s finalized on ledger as %s but mirror update failed: %v", transferID, txID, cause)
}

func (s *service) FinalizeDue(ctx context.Context, limit int) (FinalizeDueResult, error) {
	var result FinalizeDueResult

	holds, err := s.store.GetIntegrityHolds(ctx)
	if err != nil {
		return result, err
	}
	if err := audit.HoldError(holds); err != nil {
		logger.WarnCtx(ctx, "Automatic finality halted", zap.Error(err))
		return result, err
	}

	due, err := s.store.ListTransfersDueForFinality(ctx, s.clock.Now().UTC(), limit)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	system := domain.System()
	for _, t := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		_, err := s.Finalize(ctx, system, t.ID)
		switch {
		case err == nil:
			result.Finalized++
		case errors.Is(err, domain.ErrTransferInvalidState):
			// objection or another sweeper won the race
			result.Skipped++
		default:
			result.Failed++
			logger.ErrorCtx(ctx, fmt.Errorf("failed to finalize transfer: %w", err), zap.String("transferID", t.ID))
		}
	}
	return result, nil
}

func (s *service) GetTransferStatus(ctx context.Context, transferID string) (*schema.TransferRecord, error) {
	if transferID == "" {
		return nil, domain.Errorf(domain.CodeValidation, "transfer id is required")
	}
	return s.store.GetTransfer(ctx, transferID)
}

// =============================================================================
// Helpers
// =============================================================================

// transition writes the guarded change from current to next together with the
// status history entry and the audit intent
func (s *service) transition(ctx context.Context, actor domain.Actor, current, next *schema.TransferRecord, action domain.AuditAction, now time.Time, tr store.TransferTransition) (*schema.TransferRecord, error) {
	auditEntry, err := s.auditEntry("", actor, action, current, next, now)
	if err != nil {
		return nil, err
	}
	return s.transitionWithAudit(ctx, actor, current, next, auditEntry, now, tr)
}

func (s *service) transitionWithAudit(ctx context.Context, actor domain.Actor, current, next *schema.TransferRecord, auditEntry schema.OutboxEntry, now time.Time, tr store.TransferTransition) (*schema.TransferRecord, error) {
	tr.TransferID = current.ID
	tr.ExpectedStatus = []domain.TransferStatus{current.Status}
	tr.ExpectedVersion = current.Version
	tr.NewStatus = next.Status
	if next.Status != current.Status {
		tr.Change = &domain.StatusChange{Status: next.Status, At: now, ActorHash: actor.IdentityHash}
	}
	tr.Outbox = append([]schema.OutboxEntry{auditEntry}, tr.Outbox...)

	return s.store.ApplyTransferTransition(ctx, tr)
}

func (s *service) auditEntry(id string, actor domain.Actor, action domain.AuditAction, before, after *schema.TransferRecord, now time.Time) (schema.OutboxEntry, error) {
	var beforeState, afterState interface{}
	if before != nil {
		beforeState = snapshotOf(before)
	}
	if after != nil {
		afterState = snapshotOf(after)
	}

	intent, err := audit.NewIntent(s.json, actor, action, domain.AuditResourceTransfer, after.ID, beforeState, afterState, now)
	if err != nil {
		return schema.OutboxEntry{}, err
	}
	return outbox.NewAuditEntry(s.json, id, intent, now)
}

func executable(land *schema.LandRecord, t *schema.TransferRecord) error {
	switch {
	case land.Status != domain.LandStatusTransferInProgress:
		return domain.Errorf(domain.CodeLandFrozen, "property %s is %s", land.PropertyID, land.Status)
	case land.DisputeStatus != domain.DisputeStatusClear:
		return domain.Errorf(domain.CodeLandDisputed, "property %s has an unresolved dispute", land.PropertyID)
	case land.EncumbranceStatus != domain.EncumbranceStatusClear:
		return domain.Errorf(domain.CodeLandEncumbered, "property %s has an active encumbrance", land.PropertyID)
	case land.OwnerHash != t.SellerHash:
		return domain.Errorf(domain.CodeTransferInvalidOwner, "seller is no longer the owner of %s", land.PropertyID)
	}
	return nil
}

func invalidState(t *schema.TransferRecord, op string) error {
	return domain.Errorf(domain.CodeTransferInvalidState, "cannot %s transfer %s in %s", op, t.ID, t.Status)
}

func isParty(actor domain.Actor, t *schema.TransferRecord) bool {
	return actor.IdentityHash != "" && (actor.IdentityHash == t.SellerHash || actor.IdentityHash == t.BuyerHash)
}

func signatoryHash(t *schema.TransferRecord, s domain.Signatory) string {
	switch s {
	case domain.SignatorySeller:
		return t.SellerHash
	case domain.SignatoryBuyer:
		return t.BuyerHash
	case domain.SignatoryWitness1:
		return t.Witness1Hash
	case domain.SignatoryWitness2:
		return t.Witness2Hash
	}
	return ""
}

func setSigned(t *schema.TransferRecord, s domain.Signatory) {
	switch s {
	case domain.SignatorySeller:
		t.SellerSigned = true
	case domain.SignatoryBuyer:
		t.BuyerSigned = true
	case domain.SignatoryWitness1:
		t.Witness1Signed = true
	case domain.SignatoryWitness2:
		t.Witness2Signed = true
	}
}
