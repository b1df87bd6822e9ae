package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// LandStore reads mirrored land records
type LandStore interface {
	// GetLand retrieves a land record, domain.ErrLandNotFound when absent
	GetLand(ctx context.Context, id domain.PropertyID) (*schema.LandRecord, error)
	// GetOwnershipHistory returns the provenance chain of a property, oldest first
	GetOwnershipHistory(ctx context.Context, id domain.PropertyID) ([]schema.OwnershipHistoryEntry, error)
}

// TransferStore persists the transfer workflow
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -aux_files=github.com/bhulekhchain/title-registry/internal/store=cursor_store.go
type TransferStore interface {
	LandStore
	// CreateTransfer claims the property and inserts the transfer in one transaction.
	// The claim fails closed when the property is no longer transferable by the seller.
	CreateTransfer(ctx context.Context, input CreateTransferInput) error
	// GetTransfer retrieves a transfer, domain.ErrTransferNotFound when absent
	GetTransfer(ctx context.Context, id string) (*schema.TransferRecord, error)
	// ApplyTransferTransition applies a guarded state change with its land, history and
	// outbox writes atomically. A stale status or version yields domain.ErrTransferInvalidState.
	ApplyTransferTransition(ctx context.Context, t TransferTransition) (*schema.TransferRecord, error)
	// ListTransfersDueForFinality returns pending-finality transfers whose cooling period ended before now
	ListTransfersDueForFinality(ctx context.Context, now time.Time, limit int) ([]schema.TransferRecord, error)
}

// ProjectionStore applies ledger events to the mirror. Every method is idempotent
// under redelivery and tolerant of out-of-order release and resolve events.
type ProjectionStore interface {
	ProjectPropertyRegistered(ctx context.Context, in ProjectionInput, p *domain.PropertyRegistered) error
	ProjectTransferCompleted(ctx context.Context, in ProjectionInput, p *domain.TransferCompleted) error
	ProjectEncumbranceAdded(ctx context.Context, in ProjectionInput, p *domain.EncumbranceAdded) error
	ProjectEncumbranceReleased(ctx context.Context, in ProjectionInput, p *domain.EncumbranceReleased) error
	ProjectDisputeFlagged(ctx context.Context, in ProjectionInput, p *domain.DisputeFlagged) error
	ProjectDisputeResolved(ctx context.Context, in ProjectionInput, p *domain.DisputeResolved) error
	// RecordSyncFailure dead-letters an event that exhausted its deliveries
	RecordSyncFailure(ctx context.Context, failure schema.SyncFailure) error
}

// AnchorStore persists anchors and the per-scope range head
type AnchorStore interface {
	// ReserveAnchorRange locks the scope head and claims [next, height-1]. Returns nil when
	// no new block exists since the last anchor.
	ReserveAnchorRange(ctx context.Context, scope domain.AnchorScope, height uint64, anchorID string) (*schema.AnchorRecord, error)
	// CompleteAnchor records the commitment result and its outbox side effects
	CompleteAnchor(ctx context.Context, input CompleteAnchorInput) error
	// GetAnchor retrieves an anchor by id, nil when absent
	GetAnchor(ctx context.Context, anchorID string) (*schema.AnchorRecord, error)
	// GetLatestAnchor retrieves the highest anchor of a scope, nil when the scope was never anchored
	GetLatestAnchor(ctx context.Context, scope domain.AnchorScope) (*schema.AnchorRecord, error)
	// MarkAnchorVerified sets the verified flag
	MarkAnchorVerified(ctx context.Context, anchorID string) error
	// ListUnverifiedAnchors returns anchors not yet confirmed on the public ledger or not yet
	// recorded on the permissioned ledger, untouched since before, oldest first
	ListUnverifiedAnchors(ctx context.Context, before time.Time, limit int) ([]schema.AnchorRecord, error)
	// GetIntegrityHolds returns the reason of every audit scope on integrity hold
	GetIntegrityHolds(ctx context.Context) (map[domain.AuditResourceType]string, error)
}

// AuditStore persists the audit hash chain
type AuditStore interface {
	// AppendAuditEntry locks the scope head, calls build with the previous hash and the next
	// sequence, and inserts the result while advancing the head. When sourceID was already
	// appended the existing entry is returned with created=false.
	AppendAuditEntry(ctx context.Context, resourceType domain.AuditResourceType, sourceID *string, build AuditEntryBuilder) (entry *schema.AuditEntry, created bool, err error)
	// ListAuditEntries returns entries of one scope ordered by sequence, starting after afterSeq
	ListAuditEntries(ctx context.Context, resourceType domain.AuditResourceType, afterSeq int64, limit int) ([]schema.AuditEntry, error)
	// ListAuditEntriesByResource returns every entry about one resource in chain order
	ListAuditEntriesByResource(ctx context.Context, resourceType domain.AuditResourceType, resourceID string) ([]schema.AuditEntry, error)
	// HoldIntegrity puts a scope on integrity hold. An existing hold keeps its first reason.
	// Holds are cleared by an operator once the chain is repaired.
	HoldIntegrity(ctx context.Context, resourceType domain.AuditResourceType, reason string) error
}

// AuditEntryBuilder produces the next chain entry given the scope tip
type AuditEntryBuilder func(previousHash string, sequence int64) (*schema.AuditEntry, error)

// OutboxStore is used by the relay
type OutboxStore interface {
	// InsertOutboxEntries writes entries outside a transition; duplicates by id are ignored
	InsertOutboxEntries(ctx context.Context, entries []schema.OutboxEntry) error
	// ClaimOutboxEntries leases due pending rows with FOR UPDATE SKIP LOCKED
	ClaimOutboxEntries(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]schema.OutboxEntry, error)
	MarkOutboxDone(ctx context.Context, id string, now time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error
	MarkOutboxDead(ctx context.Context, id string, now time.Time, errMsg string) error
}

// WebhookStore persists webhook clients and deliveries
type WebhookStore interface {
	GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error)
	GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error)
	CreateWebhookClient(ctx context.Context, input CreateWebhookClientInput) (*schema.WebhookClient, error)
	CreateWebhookDelivery(ctx context.Context, delivery *schema.WebhookDelivery) error
	UpdateWebhookDeliveryStatus(ctx context.Context, deliveryID uint64, status schema.WebhookDeliveryStatus, attempts int, responseStatus *int, responseBody, errorMessage string) error
}

// Store defines the interface for mirror database operations
type Store interface {
	TransferStore
	ProjectionStore
	AnchorStore
	AuditStore
	OutboxStore
	WebhookStore
	CursorStore
}

// CreateTransferInput is the initiation write
type CreateTransferInput struct {
	Transfer schema.TransferRecord
	// Now is compared against the land's cooling period in the claim
	Now    time.Time
	Outbox []schema.OutboxEntry
}

// TransferTransition is one guarded state change of a transfer
type TransferTransition struct {
	TransferID      string
	ExpectedStatus  []domain.TransferStatus
	ExpectedVersion int64
	NewStatus       domain.TransferStatus
	// Change is appended to the status history; nil when the status does not change
	Change *domain.StatusChange
	// Columns holds additional transfer column updates
	Columns map[string]interface{}
	Land    *LandUpdate
	History *schema.OwnershipHistoryEntry
	Outbox  []schema.OutboxEntry
}

// LandUpdate is the land-row side of a transition
type LandUpdate struct {
	PropertyID     domain.PropertyID
	ExpectedStatus []domain.LandStatus
	// ExpectedSequence guards provenance_sequence when non-nil
	ExpectedSequence *int64
	// ExpectedCoolingEnds guards cooling_period_ends when non-nil
	ExpectedCoolingEnds *time.Time
	// Optional skips the land update instead of failing when a guard misses
	Optional bool
	Columns  map[string]interface{}
}

// ProjectionInput carries the event envelope and the audit side effect of a projection
type ProjectionInput struct {
	Event *domain.LedgerEvent
	// Audit is inserted with ON CONFLICT DO NOTHING so replays do not duplicate it
	Audit *schema.OutboxEntry
	// TransferEffects are the orchestrator's execution jobs, written only when
	// the projection itself moves the transfer out of SIGNATURES_COMPLETE
	TransferEffects []schema.OutboxEntry
}

// CompleteAnchorInput is the outcome of committing a reserved anchor
type CompleteAnchorInput struct {
	AnchorID    string
	StateRoot   string
	TxCount     int
	PublicTxID  string
	PublicRound uint64
	BroadcastAt *time.Time
	LedgerTxID  *string
	Status      schema.AnchorStatus
	Verified    bool
	LastError   string
	Outbox      []schema.OutboxEntry
}

// CreateWebhookClientInput registers a webhook subscriber
type CreateWebhookClientInput struct {
	ClientID         string
	Organization     string
	WebhookURL       string
	WebhookSecret    string
	EventFilters     datatypes.JSON
	IsActive         bool
	RetryMaxAttempts int
}
