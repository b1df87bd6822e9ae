package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

const verifyPageSize = 500

// Intent is an audit entry waiting to be chained. It travels as the payload of
// an audit.append outbox entry written in the same transaction as the change.
type Intent struct {
	ActorHash    string                   `json:"actor_hash"`
	ActorRole    domain.Role              `json:"actor_role"`
	Action       domain.AuditAction       `json:"action"`
	ResourceType domain.AuditResourceType `json:"resource_type"`
	ResourceID   string                   `json:"resource_id"`
	BeforeHash   string                   `json:"before_hash,omitempty"`
	AfterHash    string                   `json:"after_hash,omitempty"`
	At           time.Time                `json:"at"`
}

// NewIntent builds an intent, hashing the before and after state
func NewIntent(j adapter.JSON, actor domain.Actor, action domain.AuditAction, resourceType domain.AuditResourceType, resourceID string, before, after interface{}, at time.Time) (*Intent, error) {
	beforeHash, err := HashState(j, before)
	if err != nil {
		return nil, err
	}
	afterHash, err := HashState(j, after)
	if err != nil {
		return nil, err
	}
	return &Intent{
		ActorHash:    actor.IdentityHash,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BeforeHash:   beforeHash,
		AfterHash:    afterHash,
		At:           at,
	}, nil
}

// Service appends to and verifies the audit chain
//
//go:generate mockgen -source=service.go -destination=../mocks/audit_service.go -package=mocks -mock_names=Service=MockAuditService
type Service interface {
	// Append chains the intent onto its resource-type scope. sourceID makes the
	// append idempotent; redelivering the same source returns the existing entry.
	Append(ctx context.Context, sourceID *string, intent Intent) (*schema.AuditEntry, error)

	// VerifyScope replays the whole chain of a scope and returns the number of entries verified.
	// A broken chain puts the scope on integrity hold, which halts automatic finality and anchoring.
	VerifyScope(ctx context.Context, resourceType domain.AuditResourceType) (int64, error)
}

type service struct {
	store store.AuditStore
	json  adapter.JSON
}

// NewService creates an audit service
func NewService(s store.AuditStore, j adapter.JSON) Service {
	return &service{store: s, json: j}
}

func (s *service) Append(ctx context.Context, sourceID *string, intent Intent) (*schema.AuditEntry, error) {
	if intent.ResourceType == "" || intent.ResourceID == "" || intent.Action == "" {
		return nil, domain.Errorf(domain.CodeValidation, "audit intent requires resource type, resource id and action")
	}

	build := func(previousHash string, sequence int64) (*schema.AuditEntry, error) {
		e := &schema.AuditEntry{
			ID:                uuid.NewString(),
			ResourceType:      intent.ResourceType,
			ScopeSequence:     sequence,
			Timestamp:         NormalizeTimestamp(intent.At),
			ActorHash:         intent.ActorHash,
			ActorRole:         intent.ActorRole,
			Action:            intent.Action,
			ResourceID:        intent.ResourceID,
			BeforeHash:        intent.BeforeHash,
			AfterHash:         intent.AfterHash,
			PreviousEntryHash: previousHash,
		}
		hash, err := EntryHash(s.json, previousHash, e)
		if err != nil {
			return nil, err
		}
		e.EntryHash = hash
		return e, nil
	}

	entry, created, err := s.store.AppendAuditEntry(ctx, intent.ResourceType, sourceID, build)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	if created {
		logger.DebugCtx(ctx, "audit entry appended",
			zap.String("resourceType", string(entry.ResourceType)),
			zap.Int64("sequence", entry.ScopeSequence),
			zap.String("action", string(entry.Action)))
	}
	return entry, nil
}

func (s *service) VerifyScope(ctx context.Context, resourceType domain.AuditResourceType) (int64, error) {
	var (
		after    int64
		previous = domain.GenesisHash
		verified int64
	)

	for {
		page, err := s.store.ListAuditEntries(ctx, resourceType, after, verifyPageSize)
		if err != nil {
			return verified, fmt.Errorf("failed to list audit entries: %w", err)
		}
		if len(page) == 0 {
			return verified, nil
		}

		previous, err = VerifyFrom(s.json, previous, page)
		if err != nil {
			var v *Violation
			if errors.As(err, &v) {
				v.Position += int(verified)
				logger.Alert(ctx, "audit_chain_integrity", err,
					zap.String("resourceType", string(resourceType)),
					zap.String("entryID", v.EntryID),
					zap.Int64("sequence", v.Sequence))
				if herr := s.store.HoldIntegrity(ctx, resourceType, v.Error()); herr != nil {
					logger.ErrorCtx(ctx, fmt.Errorf("failed to hold audit scope: %w", herr),
						zap.String("resourceType", string(resourceType)))
				}
			}
			return verified, err
		}

		verified += int64(len(page))
		after = page[len(page)-1].ScopeSequence
		if len(page) < verifyPageSize {
			return verified, nil
		}
	}
}
