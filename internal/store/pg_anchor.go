package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// ReserveAnchorRange locks the scope head and claims [next, height-1] for a new anchor
func (s *pgStore) ReserveAnchorRange(ctx context.Context, scope domain.AnchorScope, height uint64, anchorID string) (*schema.AnchorRecord, error) {
	var reserved *schema.AnchorRecord
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head := schema.AnchorHead{Scope: scope, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoNothing: true,
		}).Create(&head).Error; err != nil {
			return fmt.Errorf("failed to ensure anchor head: %w", err)
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scope = ?", scope).
			First(&head).Error; err != nil {
			return fmt.Errorf("failed to lock anchor head: %w", err)
		}

		if height == 0 || head.NextStartBlock > height-1 {
			return nil
		}

		anchor := schema.AnchorRecord{
			AnchorID:   anchorID,
			Scope:      scope,
			StartBlock: head.NextStartBlock,
			EndBlock:   height - 1,
			Status:     schema.AnchorStatusReserved,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&anchor).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.Errorf(domain.CodeAnchorFailed, "range starting at %d already anchored for %s",
					anchor.StartBlock, scope)
			}
			return fmt.Errorf("failed to insert anchor: %w", err)
		}

		if err := tx.Model(&schema.AnchorHead{}).
			Where("scope = ?", scope).
			Updates(map[string]interface{}{
				"next_start_block": anchor.EndBlock + 1,
				"updated_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("failed to advance anchor head: %w", err)
		}

		reserved = &anchor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// CompleteAnchor records the commitment result of a reserved or degraded anchor
func (s *pgStore) CompleteAnchor(ctx context.Context, input CompleteAnchorInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&schema.AnchorRecord{}).
			Where("anchor_id = ?", input.AnchorID).
			Updates(map[string]interface{}{
				"state_root":   input.StateRoot,
				"tx_count":     input.TxCount,
				"public_tx_id": input.PublicTxID,
				"public_round": input.PublicRound,
				"broadcast_at": input.BroadcastAt,
				"ledger_tx_id": input.LedgerTxID,
				"status":       input.Status,
				"verified":     input.Verified,
				"last_error":   truncate(input.LastError, 2048),
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete anchor: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("anchor %s not found", input.AnchorID)
		}

		return insertOutbox(tx, input.Outbox)
	})
}

// GetAnchor retrieves an anchor by id
func (s *pgStore) GetAnchor(ctx context.Context, anchorID string) (*schema.AnchorRecord, error) {
	var anchor schema.AnchorRecord
	err := s.db.WithContext(ctx).Where("anchor_id = ?", anchorID).First(&anchor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get anchor: %w", err)
	}
	return &anchor, nil
}

// GetLatestAnchor retrieves the anchor with the highest end block of a scope
func (s *pgStore) GetLatestAnchor(ctx context.Context, scope domain.AnchorScope) (*schema.AnchorRecord, error) {
	var anchor schema.AnchorRecord
	err := s.primary(ctx).
		Where("scope = ?", scope).
		Order("end_block DESC").
		First(&anchor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest anchor: %w", err)
	}
	return &anchor, nil
}

// MarkAnchorVerified sets the verified flag once the public commitment was confirmed
func (s *pgStore) MarkAnchorVerified(ctx context.Context, anchorID string) error {
	err := s.db.WithContext(ctx).Model(&schema.AnchorRecord{}).
		Where("anchor_id = ?", anchorID).
		Updates(map[string]interface{}{
			"verified":   true,
			"status":     schema.AnchorStatusCommitted,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark anchor verified: %w", err)
	}
	return nil
}

// ListUnverifiedAnchors returns anchors missing public confirmation or the ledger cross-reference
func (s *pgStore) ListUnverifiedAnchors(ctx context.Context, before time.Time, limit int) ([]schema.AnchorRecord, error) {
	var anchors []schema.AnchorRecord
	err := s.db.WithContext(ctx).
		Where("verified = ? OR ledger_tx_id IS NULL", false).
		Where("updated_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Find(&anchors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unverified anchors: %w", err)
	}
	return anchors, nil
}
