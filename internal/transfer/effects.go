package transfer

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/webhook"
)

// ExecutedAuditID is the outbox id of the TRANSFER_EXECUTED intent for one
// ledger commit. The orchestrator and the sync pipeline derive the same id, so
// whichever writes first wins and the other collapses onto it.
func ExecutedAuditID(transferID, txID string) string {
	return outbox.DeterministicID(string(schema.OutboxTopicAuditAppend),
		transferID, string(domain.AuditActionTransferExecuted), txID)
}

// ExecutionEffects builds the anchor trigger and the status notification owed by
// a transfer the ledger has executed as txID
func ExecutionEffects(j adapter.JSON, t *schema.TransferRecord, txID string, now time.Time) ([]schema.OutboxEntry, error) {
	anchorEntry, err := outbox.NewEntry(j,
		outbox.DeterministicID(string(schema.OutboxTopicAnchorTrigger), txID),
		schema.OutboxTopicAnchorTrigger,
		string(t.PropertyID.Scope()),
		domain.AnchorTrigger{Scope: t.PropertyID.Scope(), TxID: txID, PropertyID: t.PropertyID},
		now)
	if err != nil {
		return nil, err
	}

	notify, err := notifyEntry(j, t, now)
	if err != nil {
		return nil, err
	}
	return []schema.OutboxEntry{anchorEntry, notify}, nil
}

// ProjectedExecutionEffects builds every job of an execution the sync pipeline
// applied to the mirror before the orchestrator did: the audit intent, the
// anchor trigger and the notification. Ids match the orchestrator's.
func ProjectedExecutionEffects(j adapter.JSON, p *domain.TransferCompleted, txID string, now time.Time) ([]schema.OutboxEntry, error) {
	before := schema.TransferRecord{
		ID:         p.TransferID,
		PropertyID: p.PropertyID,
		SellerHash: p.SellerHash,
		BuyerHash:  p.BuyerHash,
		BuyerName:  p.BuyerName,
		SaleAmount: p.SaleAmount,
		Status:     domain.TransferStatusSignaturesComplete,
	}
	after := before
	after.Status = domain.TransferStatusRegisteredPendingFinality
	ends := p.CoolingPeriodEnds
	after.CoolingPeriodEnds = &ends
	after.LedgerTxID = &txID

	intent, err := audit.NewIntent(j, domain.System(), domain.AuditActionTransferExecuted,
		domain.AuditResourceTransfer, p.TransferID, snapshotOf(&before), snapshotOf(&after), now)
	if err != nil {
		return nil, err
	}
	auditEntry, err := outbox.NewAuditEntry(j, ExecutedAuditID(p.TransferID, txID), intent, now)
	if err != nil {
		return nil, err
	}

	effects, err := ExecutionEffects(j, &after, txID, now)
	if err != nil {
		return nil, err
	}
	return append([]schema.OutboxEntry{auditEntry}, effects...), nil
}

func notifyEntry(j adapter.JSON, t *schema.TransferRecord, now time.Time) (schema.OutboxEntry, error) {
	event := webhook.WebhookEvent{
		EventID:   ulid.MustNewDefault(now).String(),
		EventType: webhook.EventTypeFor(t.Status),
		Timestamp: now,
		Data: webhook.EventData{
			TransferID:        t.ID,
			PropertyID:        t.PropertyID,
			Status:            t.Status,
			CoolingPeriodEnds: t.CoolingPeriodEnds,
		},
	}
	if t.LedgerTxID != nil {
		event.Data.LedgerTxID = *t.LedgerTxID
	}

	return outbox.NewEntry(j,
		outbox.DeterministicID(string(schema.OutboxTopicTransferNotify), t.ID, string(t.Status)),
		schema.OutboxTopicTransferNotify,
		t.ID,
		event,
		now)
}
