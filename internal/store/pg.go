package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

func hasDBResolver(db *gorm.DB) bool {
	return db != nil && db.Callback().Query().Get("gorm:db_resolver") != nil
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// If any of the pool settings are 0, defaults are used:
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
// database/sql treats MaxOpenConns=0 as unlimited, so zero is never passed through.
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// primary pins reads that must observe the caller's own writes to the primary
func (s *pgStore) primary(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if hasDBResolver(db) {
		db = db.Clauses(dbresolver.Write)
	}
	return db
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =============================================================================
// Land records
// =============================================================================

// GetLand retrieves a land record
func (s *pgStore) GetLand(ctx context.Context, id domain.PropertyID) (*schema.LandRecord, error) {
	var land schema.LandRecord
	err := s.db.WithContext(ctx).Where("property_id = ?", id).First(&land).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Errorf(domain.CodeLandNotFound, "property %s not found", id)
		}
		return nil, fmt.Errorf("failed to get land record: %w", err)
	}
	return &land, nil
}

// GetOwnershipHistory returns the provenance chain of a property, oldest first
func (s *pgStore) GetOwnershipHistory(ctx context.Context, id domain.PropertyID) ([]schema.OwnershipHistoryEntry, error) {
	var entries []schema.OwnershipHistoryEntry
	err := s.db.WithContext(ctx).
		Where("property_id = ?", id).
		Order("sequence_number ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership history: %w", err)
	}
	return entries, nil
}

// =============================================================================
// Transfers
// =============================================================================

// CreateTransfer claims the property and inserts the transfer
func (s *pgStore) CreateTransfer(ctx context.Context, input CreateTransferInput) error {
	t := input.Transfer
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Claim the property; every precondition is part of the guard
		res := tx.Model(&schema.LandRecord{}).
			Where("property_id = ?", t.PropertyID).
			Where("status = ?", domain.LandStatusActive).
			Where("dispute_status = ?", domain.DisputeStatusClear).
			Where("encumbrance_status = ?", domain.EncumbranceStatusClear).
			Where("cooling_period_ends IS NULL OR cooling_period_ends <= ?", input.Now).
			Where("owner_hash = ?", t.SellerHash).
			Updates(map[string]interface{}{
				"status":     domain.LandStatusTransferInProgress,
				"updated_at": input.Now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim land record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var land schema.LandRecord
			if err := tx.Where("property_id = ?", t.PropertyID).First(&land).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.Errorf(domain.CodeLandNotFound, "property %s not found", t.PropertyID)
				}
				return fmt.Errorf("failed to reload land record: %w", err)
			}
			if err := land.TransferableBy(t.SellerHash, input.Now); err != nil {
				return err
			}
			return domain.Errorf(domain.CodeTransferInvalidState, "property %s changed concurrently", t.PropertyID)
		}

		// 2. Insert the transfer; the partial unique index backs the claim
		if err := tx.Create(&t).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.Errorf(domain.CodeTransferInvalidState, "property %s already has an active transfer", t.PropertyID)
			}
			return fmt.Errorf("failed to create transfer: %w", err)
		}

		// 3. Side effects
		return insertOutbox(tx, input.Outbox)
	})
}

// GetTransfer retrieves a transfer by id
func (s *pgStore) GetTransfer(ctx context.Context, id string) (*schema.TransferRecord, error) {
	var t schema.TransferRecord
	err := s.primary(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Errorf(domain.CodeTransferNotFound, "transfer %s not found", id)
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &t, nil
}

// ApplyTransferTransition applies a guarded transfer state change
func (s *pgStore) ApplyTransferTransition(ctx context.Context, t TransferTransition) (*schema.TransferRecord, error) {
	var updated schema.TransferRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if t.Change != nil {
			now = t.Change.At
		}

		updates := map[string]interface{}{
			"status":     t.NewStatus,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}
		for k, v := range t.Columns {
			updates[k] = v
		}
		if t.Change != nil {
			entry, err := schema.StatusHistoryJSON(*t.Change)
			if err != nil {
				return err
			}
			updates["status_history"] = gorm.Expr("status_history || ?::jsonb", entry)
		}

		// 1. Guarded transfer update
		res := tx.Model(&schema.TransferRecord{}).
			Where("id = ?", t.TransferID).
			Where("status IN ?", t.ExpectedStatus).
			Where("version = ?", t.ExpectedVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update transfer: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.Errorf(domain.CodeTransferInvalidState,
				"transfer %s is no longer in %v at version %d", t.TransferID, t.ExpectedStatus, t.ExpectedVersion)
		}

		// 2. Land side
		if t.Land != nil {
			q := tx.Model(&schema.LandRecord{}).Where("property_id = ?", t.Land.PropertyID)
			if len(t.Land.ExpectedStatus) > 0 {
				q = q.Where("status IN ?", t.Land.ExpectedStatus)
			}
			if t.Land.ExpectedSequence != nil {
				q = q.Where("provenance_sequence = ?", *t.Land.ExpectedSequence)
			}
			if t.Land.ExpectedCoolingEnds != nil {
				q = q.Where("cooling_period_ends = ?", *t.Land.ExpectedCoolingEnds)
			}
			landUpdates := map[string]interface{}{"updated_at": now}
			for k, v := range t.Land.Columns {
				landUpdates[k] = v
			}
			res := q.Updates(landUpdates)
			if res.Error != nil {
				return fmt.Errorf("failed to update land record: %w", res.Error)
			}
			if res.RowsAffected == 0 && !t.Land.Optional {
				return domain.Errorf(domain.CodeTransferInvalidState,
					"land record %s changed concurrently", t.Land.PropertyID)
			}
		}

		// 3. Provenance
		if t.History != nil {
			if err := tx.Create(t.History).Error; err != nil {
				if isUniqueViolation(err) {
					return domain.Errorf(domain.CodeTransferInvalidState,
						"ownership history %s#%d already exists", t.History.PropertyID, t.History.SequenceNumber)
				}
				return fmt.Errorf("failed to append ownership history: %w", err)
			}
		}

		// 4. Side effects
		if err := insertOutbox(tx, t.Outbox); err != nil {
			return err
		}

		return tx.Where("id = ?", t.TransferID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListTransfersDueForFinality returns transfers whose objection window closed
func (s *pgStore) ListTransfersDueForFinality(ctx context.Context, now time.Time, limit int) ([]schema.TransferRecord, error) {
	var transfers []schema.TransferRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.TransferStatusRegisteredPendingFinality).
		Where("cooling_period_ends <= ?", now).
		Order("cooling_period_ends ASC").
		Limit(limit).
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers due for finality: %w", err)
	}
	return transfers, nil
}

// =============================================================================
// Outbox
// =============================================================================

func insertOutbox(tx *gorm.DB, entries []schema.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&entries).Error
	if err != nil {
		return fmt.Errorf("failed to insert outbox entries: %w", err)
	}
	return nil
}

// InsertOutboxEntries writes entries outside a transition
func (s *pgStore) InsertOutboxEntries(ctx context.Context, entries []schema.OutboxEntry) error {
	return insertOutbox(s.db.WithContext(ctx), entries)
}

// ClaimOutboxEntries leases due pending rows
func (s *pgStore) ClaimOutboxEntries(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]schema.OutboxEntry, error) {
	var claimed []schema.OutboxEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", schema.OutboxStatusPending).
			Where("next_attempt_at <= ?", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return fmt.Errorf("failed to select outbox entries: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
			claimed[i].Attempts++
			claimed[i].NextAttemptAt = now.Add(lease)
		}
		err := tx.Model(&schema.OutboxEntry{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"attempts":        gorm.Expr("attempts + 1"),
				"next_attempt_at": now.Add(lease),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to lease outbox entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkOutboxDone completes an entry
func (s *pgStore) MarkOutboxDone(ctx context.Context, id string, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&schema.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       schema.OutboxStatusDone,
			"processed_at": now,
			"last_error":   "",
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry done: %w", err)
	}
	return nil
}

// MarkOutboxRetry records a failure and reschedules the entry
func (s *pgStore) MarkOutboxRetry(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&schema.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_attempt_at": nextAttemptAt,
			"last_error":      truncate(errMsg, 1024),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule outbox entry: %w", err)
	}
	return nil
}

// MarkOutboxDead parks an entry after its attempts are exhausted
func (s *pgStore) MarkOutboxDead(ctx context.Context, id string, now time.Time, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&schema.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       schema.OutboxStatusDead,
			"processed_at": now,
			"last_error":   truncate(errMsg, 1024),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry dead: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
