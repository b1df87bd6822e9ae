package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

const integrityHoldPrefix = "audit_integrity_hold:"

func integrityHoldKey(resourceType domain.AuditResourceType) string {
	return integrityHoldPrefix + string(resourceType)
}

// HoldIntegrity puts a scope on integrity hold
func (s *pgStore) HoldIntegrity(ctx context.Context, resourceType domain.AuditResourceType, reason string) error {
	now := time.Now().UTC()
	kv := schema.KeyValueStore{
		Key:       integrityHoldKey(resourceType),
		Value:     reason,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set integrity hold: %w", err)
	}
	return nil
}

// GetIntegrityHolds returns every held scope with its reason
func (s *pgStore) GetIntegrityHolds(ctx context.Context) (map[domain.AuditResourceType]string, error) {
	var rows []schema.KeyValueStore
	err := s.db.WithContext(ctx).
		Where("key LIKE ?", integrityHoldPrefix+"%").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get integrity holds: %w", err)
	}

	holds := make(map[domain.AuditResourceType]string, len(rows))
	for _, kv := range rows {
		holds[domain.AuditResourceType(strings.TrimPrefix(kv.Key, integrityHoldPrefix))] = kv.Value
	}
	return holds, nil
}
