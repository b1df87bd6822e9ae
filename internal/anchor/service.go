package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/audit"
	"github.com/bhulekhchain/title-registry/internal/block"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/outbox"
	"github.com/bhulekhchain/title-registry/internal/ratelimit"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// SyntheticTxPrefix marks the public tx id of an anchor whose commitment could not be published
const SyntheticTxPrefix = "pending-"

// PublicLedger is the public chain the commitments are published on
type PublicLedger interface {
	Commit(ctx context.Context, note []byte) (txID string, round uint64, err error)
	Lookup(ctx context.Context, txID string) (confirmed bool, round uint64, err error)
	Network() string
}

// Note is the canonical JSON document published for each anchor
type Note struct {
	Version    int                `json:"v"`
	AnchorID   string             `json:"anchor_id"`
	Scope      domain.AnchorScope `json:"scope"`
	Channel    string             `json:"channel"`
	StartBlock uint64             `json:"start_block"`
	EndBlock   uint64             `json:"end_block"`
	StateRoot  string             `json:"state_root"`
	TxCount    int                `json:"tx_count"`
}

// Verification is the result of VerifyAnchor
type Verification struct {
	PropertyID domain.PropertyID    `json:"property_id"`
	Scope      domain.AnchorScope   `json:"scope"`
	Anchor     *schema.AnchorRecord `json:"anchor,omitempty"`
	Network    string               `json:"network"`
	Verified   bool                 `json:"verified"`
	Degraded   bool                 `json:"degraded"`
	Cached     bool                 `json:"cached"`
}

// Config holds the anchoring settings
type Config struct {
	// Channel is the permissioned ledger channel whose blocks are anchored
	Channel string
	// VerifiedCacheTTL is how long a confirmed inclusion is served without a lookup
	VerifiedCacheTTL time.Duration
	// ReconcileAfter is how long an incomplete anchor is left alone before reconciliation
	ReconcileAfter time.Duration
	// BroadcastTimeout is how long an unconfirmed public transaction may stay pending
	// before the note is committed again
	BroadcastTimeout time.Duration
}

// Service anchors ledger block ranges on the public ledger
//
//go:generate mockgen -source=service.go -destination=../mocks/anchor_service.go -package=mocks -mock_names=Service=MockAnchorService,PublicLedger=MockPublicLedger
type Service interface {
	// AnchorStateRoot commits the scope's next unanchored block range. Returns nil
	// when no block was committed since the previous anchor. Refused while an audit
	// scope is on integrity hold.
	AnchorStateRoot(ctx context.Context, scope domain.AnchorScope) (*schema.AnchorRecord, error)

	// VerifyAnchor confirms the latest anchor of the property's scope is included on the public ledger
	VerifyAnchor(ctx context.Context, propertyID domain.PropertyID) (*Verification, error)

	// ReconcileUnverified completes degraded and interrupted anchors and returns how many were completed
	ReconcileUnverified(ctx context.Context, limit int) (int, error)
}

type service struct {
	config  Config
	store   store.AnchorStore
	ledger  ledger.Client
	heights block.HeightProvider
	public  PublicLedger
	limiter ratelimit.Limiter
	json    adapter.JSON
	clock   adapter.Clock

	verified *cache.Cache

	scopeMu sync.Mutex
	scopes  map[domain.AnchorScope]*sync.Mutex
}

// NewService creates an anchoring service
func NewService(
	cfg Config,
	st store.AnchorStore,
	ledgerClient ledger.Client,
	heights block.HeightProvider,
	public PublicLedger,
	limiter ratelimit.Limiter,
	j adapter.JSON,
	clock adapter.Clock,
) Service {
	if cfg.VerifiedCacheTTL <= 0 {
		cfg.VerifiedCacheTTL = time.Hour
	}
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 10 * time.Minute
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 30 * time.Minute
	}
	return &service{
		config:   cfg,
		store:    st,
		ledger:   ledgerClient,
		heights:  heights,
		public:   public,
		limiter:  limiter,
		json:     j,
		clock:    clock,
		verified: cache.New(cfg.VerifiedCacheTTL, 2*cfg.VerifiedCacheTTL),
		scopes:   make(map[domain.AnchorScope]*sync.Mutex),
	}
}

// lockScope serializes anchoring of one scope inside this process. Other processes
// are excluded by the scope's workflow id and the head row lock.
func (s *service) lockScope(scope domain.AnchorScope) func() {
	s.scopeMu.Lock()
	mu, ok := s.scopes[scope]
	if !ok {
		mu = &sync.Mutex{}
		s.scopes[scope] = mu
	}
	s.scopeMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// =============================================================================
// Anchoring
// =============================================================================

func (s *service) AnchorStateRoot(ctx context.Context, scope domain.AnchorScope) (*schema.AnchorRecord, error) {
	if scope == "" {
		return nil, domain.Errorf(domain.CodeValidation, "anchor scope is required")
	}
	holds, err := s.store.GetIntegrityHolds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read integrity holds: %w", err)
	}
	if err := audit.HoldError(holds); err != nil {
		logger.WarnCtx(ctx, "Anchoring halted", zap.String("scope", string(scope)), zap.Error(err))
		return nil, err
	}

	unlock := s.lockScope(scope)
	defer unlock()

	height, err := s.heights.Height(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeAnchorFailed, "failed to read ledger height", err)
	}

	reserved, err := s.store.ReserveAnchorRange(ctx, scope, height, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to reserve anchor range: %w", err)
	}
	if reserved == nil {
		logger.DebugCtx(ctx, "Nothing to anchor", zap.String("scope", string(scope)), zap.Uint64("height", height))
		return nil, nil
	}

	fields := []zap.Field{
		zap.String("anchorID", reserved.AnchorID),
		zap.String("scope", string(scope)),
		zap.Uint64("startBlock", reserved.StartBlock),
		zap.Uint64("endBlock", reserved.EndBlock),
	}
	logger.InfoCtx(ctx, "Anchor range reserved", fields...)

	return s.complete(ctx, reserved, domain.AuditActionAnchorRecorded, fields)
}

// complete drives a reserved or degraded anchor as far as the ledgers allow and
// persists the outcome. Only a failure to persist is returned; unreachable ledgers
// leave the anchor degraded for reconciliation.
func (s *service) complete(ctx context.Context, a *schema.AnchorRecord, action domain.AuditAction, fields []zap.Field) (*schema.AnchorRecord, error) {
	result := *a
	var failures []string

	if result.StateRoot == "" {
		digests, err := ledger.BlockRangeTxDigests(ctx, s.ledger, a.StartBlock, a.EndBlock)
		if err != nil {
			failures = append(failures, fmt.Sprintf("tx digests: %v", err))
		} else {
			result.StateRoot = StateRoot(a.StartBlock, a.EndBlock, digests)
			result.TxCount = len(digests)
		}
	}

	confirmed := false
	if result.StateRoot != "" {
		var err error
		confirmed, err = s.publish(ctx, &result)
		if err != nil {
			failures = append(failures, fmt.Sprintf("public ledger: %v", err))
		}
	}
	if result.PublicTxID == "" {
		result.PublicTxID = SyntheticTxPrefix + a.AnchorID
	}

	if confirmed && result.LedgerTxID == nil {
		txID, err := ledger.RecordAnchor(ctx, s.ledger, ledger.AnchorArgs{
			AnchorID:      result.AnchorID,
			Scope:         string(result.Scope),
			StartBlock:    result.StartBlock,
			EndBlock:      result.EndBlock,
			StateRoot:     result.StateRoot,
			TxCount:       result.TxCount,
			PublicTxID:    result.PublicTxID,
			PublicRound:   result.PublicRound,
			PublicNetwork: s.public.Network(),
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("record anchor: %v", err))
		} else {
			result.LedgerTxID = &txID
		}
	}

	result.Verified = confirmed
	result.Status = schema.AnchorStatusCommitted
	result.LastError = ""
	if !confirmed || result.LedgerTxID == nil {
		result.Status = schema.AnchorStatusDegraded
		result.LastError = strings.Join(failures, "; ")
	}

	input := store.CompleteAnchorInput{
		AnchorID:    result.AnchorID,
		StateRoot:   result.StateRoot,
		TxCount:     result.TxCount,
		PublicTxID:  result.PublicTxID,
		PublicRound: result.PublicRound,
		BroadcastAt: result.BroadcastAt,
		LedgerTxID:  result.LedgerTxID,
		Status:      result.Status,
		Verified:    result.Verified,
		LastError:   result.LastError,
	}
	if result.Status == schema.AnchorStatusCommitted {
		entry, err := s.auditEntry(action, a, &result)
		if err != nil {
			return nil, err
		}
		input.Outbox = []schema.OutboxEntry{entry}
	}
	if err := s.store.CompleteAnchor(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to complete anchor: %w", err)
	}

	fields = append(fields,
		zap.String("status", string(result.Status)),
		zap.String("publicTxID", result.PublicTxID),
		zap.Int("txCount", result.TxCount))
	if result.Status == schema.AnchorStatusDegraded {
		logger.WarnCtx(ctx, "Anchor recorded in degraded mode", append(fields, zap.String("reason", result.LastError))...)
	} else {
		s.verified.SetDefault(result.AnchorID, true)
		logger.InfoCtx(ctx, "Anchor committed", fields...)
	}
	return &result, nil
}

// publish makes sure the note is on the public ledger, reusing an earlier broadcast
// when it has since been included. A broadcast still pending within the broadcast
// timeout is left to confirm instead of being committed a second time.
func (s *service) publish(ctx context.Context, a *schema.AnchorRecord) (bool, error) {
	if a.PublicTxID != "" && !strings.HasPrefix(a.PublicTxID, SyntheticTxPrefix) {
		ok, round, err := s.public.Lookup(ctx, a.PublicTxID)
		if err != nil {
			return false, err
		}
		if ok {
			a.PublicRound = round
			return true, nil
		}
		if a.BroadcastAt != nil && s.clock.Now().Sub(*a.BroadcastAt) < s.config.BroadcastTimeout {
			return false, fmt.Errorf("%s broadcast at %s: %w",
				a.PublicTxID, a.BroadcastAt.Format(time.RFC3339), domain.ErrPublicTxUnconfirmed)
		}
	}

	note, err := s.json.Canonicalize(Note{
		Version:    1,
		AnchorID:   a.AnchorID,
		Scope:      a.Scope,
		Channel:    s.config.Channel,
		StartBlock: a.StartBlock,
		EndBlock:   a.EndBlock,
		StateRoot:  a.StateRoot,
		TxCount:    a.TxCount,
	})
	if err != nil {
		return false, fmt.Errorf("failed to canonicalize anchor note: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	txID, round, err := s.public.Commit(ctx, note)
	if txID != "" {
		broadcastAt := s.clock.Now().UTC()
		a.PublicTxID = txID
		a.BroadcastAt = &broadcastAt
	}
	if err != nil {
		if !errors.Is(err, domain.ErrPublicTxUnconfirmed) {
			a.PublicTxID = ""
			a.BroadcastAt = nil
		}
		return false, err
	}
	a.PublicRound = round
	return true, nil
}

func (s *service) auditEntry(action domain.AuditAction, before, after *schema.AnchorRecord) (schema.OutboxEntry, error) {
	now := s.clock.Now()
	intent, err := audit.NewIntent(s.json, domain.System(), action, domain.AuditResourceAnchor, after.AnchorID,
		anchorState(before), anchorState(after), now)
	if err != nil {
		return schema.OutboxEntry{}, err
	}
	return outbox.NewAuditEntry(s.json, outbox.DeterministicID("anchor", after.AnchorID, string(action), after.PublicTxID), intent, now)
}

func anchorState(a *schema.AnchorRecord) map[string]interface{} {
	return map[string]interface{}{
		"scope":        a.Scope,
		"start_block":  a.StartBlock,
		"end_block":    a.EndBlock,
		"state_root":   a.StateRoot,
		"tx_count":     a.TxCount,
		"public_tx_id": a.PublicTxID,
		"status":       a.Status,
	}
}

// =============================================================================
// Verification
// =============================================================================

func (s *service) VerifyAnchor(ctx context.Context, propertyID domain.PropertyID) (*Verification, error) {
	id, err := domain.ParsePropertyID(string(propertyID))
	if err != nil {
		return nil, err
	}

	v := &Verification{PropertyID: id, Scope: id.Scope(), Network: s.public.Network()}
	latest, err := s.store.GetLatestAnchor(ctx, v.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest anchor: %w", err)
	}
	if latest == nil {
		return v, nil
	}
	v.Anchor = latest

	if _, ok := s.verified.Get(latest.AnchorID); ok {
		v.Verified = true
		v.Cached = true
		return v, nil
	}

	if latest.PublicTxID == "" || strings.HasPrefix(latest.PublicTxID, SyntheticTxPrefix) {
		v.Degraded = true
		return v, nil
	}

	ok, round, err := s.public.Lookup(ctx, latest.PublicTxID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeAnchorFailed, "public ledger lookup failed", err)
	}
	if !ok {
		v.Degraded = latest.Status == schema.AnchorStatusDegraded
		return v, nil
	}

	v.Verified = true
	s.verified.SetDefault(latest.AnchorID, true)
	if !latest.Verified {
		if err := s.store.MarkAnchorVerified(ctx, latest.AnchorID); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("anchorID", latest.AnchorID))
		}
		latest.Verified = true
		latest.PublicRound = round
	}
	return v, nil
}

// =============================================================================
// Reconciliation
// =============================================================================

func (s *service) ReconcileUnverified(ctx context.Context, limit int) (int, error) {
	anchors, err := s.store.ListUnverifiedAnchors(ctx, s.clock.Now().Add(-s.config.ReconcileAfter), limit)
	if err != nil {
		return 0, err
	}

	completed := 0
	for i := range anchors {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		a := anchors[i]
		fields := []zap.Field{
			zap.String("anchorID", a.AnchorID),
			zap.String("scope", string(a.Scope)),
			zap.Int("attempts", a.Attempts),
		}

		unlock := s.lockScope(a.Scope)
		result, err := s.complete(ctx, &a, domain.AuditActionAnchorReconciled, fields)
		unlock()
		if err != nil {
			logger.ErrorCtx(ctx, err, fields...)
			continue
		}
		if result.Status == schema.AnchorStatusCommitted {
			completed++
		}
	}
	return completed, nil
}
