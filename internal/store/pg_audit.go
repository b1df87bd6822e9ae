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

// AppendAuditEntry appends one entry to a scope's chain under the head lock
func (s *pgStore) AppendAuditEntry(ctx context.Context, resourceType domain.AuditResourceType, sourceID *string, build AuditEntryBuilder) (*schema.AuditEntry, bool, error) {
	var (
		result  *schema.AuditEntry
		created bool
	)
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head := schema.AuditChainHead{
			ResourceType:  resourceType,
			LastEntryHash: domain.GenesisHash,
			UpdatedAt:     now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_type"}},
			DoNothing: true,
		}).Create(&head).Error; err != nil {
			return fmt.Errorf("failed to ensure audit chain head: %w", err)
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("resource_type = ?", resourceType).
			First(&head).Error; err != nil {
			return fmt.Errorf("failed to lock audit chain head: %w", err)
		}

		// checked under the lock so a concurrent append of the same source has committed
		if sourceID != nil {
			var existing schema.AuditEntry
			err := tx.Where("source_id = ?", *sourceID).First(&existing).Error
			if err == nil {
				result = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to look up audit source: %w", err)
			}
		}

		sequence := head.LastSequence + 1
		entry, err := build(head.LastEntryHash, sequence)
		if err != nil {
			return err
		}
		entry.ResourceType = resourceType
		entry.ScopeSequence = sequence
		entry.SourceID = sourceID
		entry.CreatedAt = now

		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}

		if err := tx.Model(&schema.AuditChainHead{}).
			Where("resource_type = ?", resourceType).
			Updates(map[string]interface{}{
				"last_entry_hash": entry.EntryHash,
				"last_sequence":   sequence,
				"updated_at":      now,
			}).Error; err != nil {
			return fmt.Errorf("failed to advance audit chain head: %w", err)
		}

		result = entry
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// ListAuditEntries returns a page of one scope's chain in sequence order
func (s *pgStore) ListAuditEntries(ctx context.Context, resourceType domain.AuditResourceType, afterSeq int64, limit int) ([]schema.AuditEntry, error) {
	var entries []schema.AuditEntry
	err := s.db.WithContext(ctx).
		Where("resource_type = ?", resourceType).
		Where("scope_sequence > ?", afterSeq).
		Order("scope_sequence ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// ListAuditEntriesByResource returns the entries about one resource in chain order
func (s *pgStore) ListAuditEntriesByResource(ctx context.Context, resourceType domain.AuditResourceType, resourceID string) ([]schema.AuditEntry, error) {
	var entries []schema.AuditEntry
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("scope_sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by resource: %w", err)
	}
	return entries, nil
}
