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

// errLandNotMirrored is retryable: the registration event has not been projected yet
var errLandNotMirrored = errors.New("land record not mirrored yet")

// lockLand serializes projections touching the same property so that flag
// recomputation always observes the other writer's committed lien rows
func lockLand(tx *gorm.DB, id domain.PropertyID) (bool, error) {
	var land schema.LandRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("property_id").
		Where("property_id = ?", id).
		First(&land).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock land record: %w", err)
	}
	return true, nil
}

const recomputeFlagsSQL = `
UPDATE land_records SET
	encumbrance_status = CASE WHEN (
		SELECT count(*) FROM encumbrances e WHERE e.property_id = land_records.property_id AND e.status = 'ACTIVE'
	) > 0 THEN 'ENCUMBERED' ELSE 'CLEAR' END,
	dispute_status = CASE WHEN (
		SELECT count(*) FROM disputes d WHERE d.property_id = land_records.property_id AND d.status = 'ACTIVE'
	) > 0 THEN 'DISPUTED' ELSE 'CLEAR' END,
	updated_at = ?
WHERE property_id = ?`

// recomputeFlags derives the aggregate flags from the remaining active rows
func recomputeFlags(tx *gorm.DB, id domain.PropertyID, now time.Time) error {
	if err := tx.Exec(recomputeFlagsSQL, now, id).Error; err != nil {
		return fmt.Errorf("failed to recompute land flags: %w", err)
	}
	return nil
}

func insertAudit(tx *gorm.DB, in ProjectionInput) error {
	if in.Audit == nil {
		return nil
	}
	return insertOutbox(tx, []schema.OutboxEntry{*in.Audit})
}

// ProjectPropertyRegistered mirrors a newly registered parcel and its first provenance entry
func (s *pgStore) ProjectPropertyRegistered(ctx context.Context, in ProjectionInput, p *domain.PropertyRegistered) error {
	ev := in.Event
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		land := schema.LandRecord{
			PropertyID:         p.PropertyID,
			StateCode:          p.PropertyID.StateCode(),
			DistrictCode:       p.PropertyID.DistrictCode(),
			TehsilCode:         p.PropertyID.TehsilCode(),
			VillageCode:        p.PropertyID.VillageCode(),
			OwnerHash:          p.OwnerHash,
			OwnerName:          p.OwnerName,
			AreaCentiSqM:       p.AreaCentiSqM,
			Status:             domain.LandStatusActive,
			DisputeStatus:      domain.DisputeStatusClear,
			EncumbranceStatus:  domain.EncumbranceStatusClear,
			ProvenanceSequence: 1,
			LastTxID:           ev.TxID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "property_id"}},
			DoNothing: true,
		}).Create(&land).Error; err != nil {
			return fmt.Errorf("failed to insert land record: %w", err)
		}

		history := schema.OwnershipHistoryEntry{
			PropertyID:      p.PropertyID,
			SequenceNumber:  1,
			OwnerHash:       p.OwnerHash,
			OwnerName:       p.OwnerName,
			AcquisitionType: schema.AcquisitionTypeRegistration,
			TxID:            ev.TxID,
			RecordedAt:      ev.Timestamp,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "property_id"}, {Name: "sequence_number"}},
			DoNothing: true,
		}).Create(&history).Error; err != nil {
			return fmt.Errorf("failed to insert registration history: %w", err)
		}

		// liens may have been projected before the registration arrived
		if err := recomputeFlags(tx, p.PropertyID, now); err != nil {
			return err
		}
		return insertAudit(tx, in)
	})
}

// ProjectTransferCompleted appends the provenance entry and moves ownership forward.
// Ownership only moves to a higher sequence, so replays and stale events are no-ops.
func (s *pgStore) ProjectTransferCompleted(ctx context.Context, in ProjectionInput, p *domain.TransferCompleted) error {
	ev := in.Event
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := lockLand(tx, p.PropertyID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", p.PropertyID, errLandNotMirrored)
		}

		transferID := p.TransferID
		history := schema.OwnershipHistoryEntry{
			PropertyID:        p.PropertyID,
			SequenceNumber:    p.Sequence,
			OwnerHash:         p.BuyerHash,
			OwnerName:         p.BuyerName,
			PreviousOwnerHash: p.SellerHash,
			AcquisitionType:   schema.AcquisitionTypeSale,
			TransferID:        &transferID,
			SaleAmount:        p.SaleAmount,
			TxID:              ev.TxID,
			RecordedAt:        ev.Timestamp,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "property_id"}, {Name: "sequence_number"}},
			DoNothing: true,
		}).Create(&history).Error; err != nil {
			return fmt.Errorf("failed to insert ownership history: %w", err)
		}

		landUpdates := map[string]interface{}{
			"owner_hash":          p.BuyerHash,
			"owner_name":          p.BuyerName,
			"provenance_sequence": p.Sequence,
			"last_tx_id":          ev.TxID,
			"cooling_period_ends": p.CoolingPeriodEnds,
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				domain.LandStatusTransferInProgress, domain.LandStatusActive),
			"updated_at": now,
		}
		if err := tx.Model(&schema.LandRecord{}).
			Where("property_id = ?", p.PropertyID).
			Where("provenance_sequence < ?", p.Sequence).
			Updates(landUpdates).Error; err != nil {
			return fmt.Errorf("failed to advance land ownership: %w", err)
		}

		// close the gap left when the orchestrator crashed after the ledger commit
		change, err := schema.StatusHistoryJSON(domain.StatusChange{
			Status:    domain.TransferStatusRegisteredPendingFinality,
			At:        now,
			ActorHash: domain.SystemActor,
		})
		if err != nil {
			return err
		}
		result := tx.Model(&schema.TransferRecord{}).
			Where("id = ?", p.TransferID).
			Where("status = ?", domain.TransferStatusSignaturesComplete).
			Updates(map[string]interface{}{
				"status":              domain.TransferStatusRegisteredPendingFinality,
				"cooling_period_ends": p.CoolingPeriodEnds,
				"ledger_tx_id":        ev.TxID,
				"status_history":      gorm.Expr("status_history || ?::jsonb", change),
				"version":             gorm.Expr("version + 1"),
				"updated_at":          now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to reconcile transfer record: %w", result.Error)
		}
		if result.RowsAffected == 1 && len(in.TransferEffects) > 0 {
			if err := insertOutbox(tx, in.TransferEffects); err != nil {
				return err
			}
		}

		return insertAudit(tx, in)
	})
}

// ProjectEncumbranceAdded upserts an encumbrance. A row already RELEASED stays released.
func (s *pgStore) ProjectEncumbranceAdded(ctx context.Context, in ProjectionInput, p *domain.EncumbranceAdded) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockLand(tx, p.PropertyID); err != nil {
			return err
		}

		row := schema.Encumbrance{
			EncumbranceID: p.EncumbranceID,
			PropertyID:    p.PropertyID,
			Category:      p.Category,
			HolderName:    p.HolderName,
			Status:        domain.LienStateActive,
			TxID:          in.Event.TxID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "encumbrance_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"category":    gorm.Expr("EXCLUDED.category"),
				"holder_name": gorm.Expr("EXCLUDED.holder_name"),
				"status": gorm.Expr("CASE WHEN encumbrances.status = ? THEN encumbrances.status ELSE EXCLUDED.status END",
					domain.LienStateReleased),
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert encumbrance: %w", err)
		}

		if err := recomputeFlags(tx, p.PropertyID, now); err != nil {
			return err
		}
		return insertAudit(tx, in)
	})
}

// ProjectEncumbranceReleased marks an encumbrance released, creating a tombstone when
// the release arrives before the add
func (s *pgStore) ProjectEncumbranceReleased(ctx context.Context, in ProjectionInput, p *domain.EncumbranceReleased) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockLand(tx, p.PropertyID); err != nil {
			return err
		}

		row := schema.Encumbrance{
			EncumbranceID: p.EncumbranceID,
			PropertyID:    p.PropertyID,
			Status:        domain.LienStateReleased,
			TxID:          in.Event.TxID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "encumbrance_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":     domain.LienStateReleased,
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to release encumbrance: %w", err)
		}

		if err := recomputeFlags(tx, p.PropertyID, now); err != nil {
			return err
		}
		return insertAudit(tx, in)
	})
}

// ProjectDisputeFlagged upserts a dispute. A resolved dispute stays resolved.
func (s *pgStore) ProjectDisputeFlagged(ctx context.Context, in ProjectionInput, p *domain.DisputeFlagged) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockLand(tx, p.PropertyID); err != nil {
			return err
		}

		row := schema.Dispute{
			DisputeID:  p.DisputeID,
			PropertyID: p.PropertyID,
			Category:   p.Category,
			Status:     domain.LienStateActive,
			TxID:       in.Event.TxID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dispute_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"category": gorm.Expr("EXCLUDED.category"),
				"status": gorm.Expr("CASE WHEN disputes.status = ? THEN disputes.status ELSE EXCLUDED.status END",
					domain.LienStateReleased),
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert dispute: %w", err)
		}

		if err := recomputeFlags(tx, p.PropertyID, now); err != nil {
			return err
		}
		return insertAudit(tx, in)
	})
}

// ProjectDisputeResolved marks a dispute resolved
func (s *pgStore) ProjectDisputeResolved(ctx context.Context, in ProjectionInput, p *domain.DisputeResolved) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockLand(tx, p.PropertyID); err != nil {
			return err
		}

		row := schema.Dispute{
			DisputeID:  p.DisputeID,
			PropertyID: p.PropertyID,
			Status:     domain.LienStateReleased,
			TxID:       in.Event.TxID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dispute_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":     domain.LienStateReleased,
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to resolve dispute: %w", err)
		}

		if err := recomputeFlags(tx, p.PropertyID, now); err != nil {
			return err
		}
		return insertAudit(tx, in)
	})
}

// RecordSyncFailure dead-letters an event; repeated failures of the same event update the row
func (s *pgStore) RecordSyncFailure(ctx context.Context, failure schema.SyncFailure) error {
	now := time.Now().UTC()
	failure.CreatedAt = now
	failure.UpdatedAt = now
	failure.Error = truncate(failure.Error, 4096)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"error":      failure.Error,
			"deliveries": failure.Deliveries,
			"resolved":   false,
			"updated_at": now,
		}),
	}).Create(&failure).Error
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return nil
}
