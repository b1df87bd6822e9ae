package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// CursorStore persists the ledger event emitter's resume point
type CursorStore interface {
	// GetBlockCursor retrieves the next block to read for a channel, 0 when never set
	GetBlockCursor(ctx context.Context, channel string) (uint64, error)
	// SetBlockCursor stores the next block to read for a channel
	SetBlockCursor(ctx context.Context, channel string, blockNumber uint64) error
}

func cursorKey(channel string) string {
	return fmt.Sprintf("ledger_cursor:%s", channel)
}

// GetBlockCursor retrieves the next block to read for a channel
func (s *pgStore) GetBlockCursor(ctx context.Context, channel string) (uint64, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", cursorKey(channel)).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}

	blockNumber, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}
	return blockNumber, nil
}

// SetBlockCursor stores the next block to read for a channel
func (s *pgStore) SetBlockCursor(ctx context.Context, channel string, blockNumber uint64) error {
	now := time.Now().UTC()
	kv := schema.KeyValueStore{
		Key:       cursorKey(channel),
		Value:     strconv.FormatUint(blockNumber, 10),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}
	return nil
}
