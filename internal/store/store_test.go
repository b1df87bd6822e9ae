package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

const (
	testSeller = "seller-hash-0001"
	testBuyer  = "buyer-hash-0002"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestEvent(t *testing.T, blockNumber uint64, payload domain.EventPayload) *domain.LedgerEvent {
	ev, err := domain.NewLedgerEvent(uuid.NewString(), blockNumber, fmt.Sprintf("tx-%d", blockNumber), time.Now().UTC(), payload)
	require.NoError(t, err)
	return ev
}

func buildTestAuditOutbox(aggregateID string) *schema.OutboxEntry {
	now := time.Now().UTC()
	return &schema.OutboxEntry{
		ID:            uuid.NewString(),
		Topic:         schema.OutboxTopicAuditAppend,
		AggregateID:   aggregateID,
		Payload:       datatypes.JSON(`{}`),
		Status:        schema.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// registerTestLand projects a registration so the land row and its first history entry exist
func registerTestLand(t *testing.T, s Store, id domain.PropertyID, owner string) {
	p := &domain.PropertyRegistered{
		PropertyID:   id,
		OwnerHash:    owner,
		OwnerName:    "Lakshmi Devi",
		AreaCentiSqM: 25000,
	}
	err := s.ProjectPropertyRegistered(context.Background(), ProjectionInput{Event: buildTestEvent(t, 1, p)}, p)
	require.NoError(t, err)
}

func buildTestTransfer(id domain.PropertyID, seller string) schema.TransferRecord {
	now := time.Now().UTC()
	return schema.TransferRecord{
		ID:         ulid.Make().String(),
		PropertyID: id,
		SellerHash: seller,
		BuyerHash:  testBuyer,
		BuyerName:  "Ravi Kumar",
		SaleAmount: 500000000,
		StampDuty: datatypes.NewJSONType(domain.StampDutyBreakdown{
			State:           id.StateCode(),
			DeclaredValue:   500000000,
			ApplicableValue: 500000000,
			StampDutyRateBP: 500,
			StampDutyAmount: 25000000,
			RegistrationBP:  50,
			RegistrationFee: 2500000,
			TotalFees:       27500000,
		}),
		Witness1Hash: "witness-hash-1",
		Witness2Hash: "witness-hash-2",
		Status:       domain.TransferStatusStampDutyPending,
		StatusHistory: datatypes.JSONSlice[domain.StatusChange]{
			{Status: domain.TransferStatusInitiated, At: now, ActorHash: seller},
			{Status: domain.TransferStatusStampDutyPending, At: now, ActorHash: seller},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func createTestTransfer(t *testing.T, s Store, id domain.PropertyID) schema.TransferRecord {
	transfer := buildTestTransfer(id, testSeller)
	err := s.CreateTransfer(context.Background(), CreateTransferInput{
		Transfer: transfer,
		Now:      time.Now().UTC(),
		Outbox:   []schema.OutboxEntry{*buildTestAuditOutbox(transfer.ID)},
	})
	require.NoError(t, err)
	return transfer
}

// =============================================================================
// Test: CreateTransfer
// =============================================================================

func testCreateTransfer(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("claims the property and stores the transfer", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-12-1")
		registerTestLand(t, store, id, testSeller)

		transfer := createTestTransfer(t, store, id)

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LandStatusTransferInProgress, land.Status)

		got, err := store.GetTransfer(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusStampDutyPending, got.Status)
		assert.Equal(t, int64(25000000), got.StampDuty.Data().StampDutyAmount)
		assert.Len(t, got.StatusHistory, 2)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("second initiation on the same property is rejected", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-12-2")
		registerTestLand(t, store, id, testSeller)
		createTestTransfer(t, store, id)

		err := store.CreateTransfer(ctx, CreateTransferInput{
			Transfer: buildTestTransfer(id, testSeller),
			Now:      time.Now().UTC(),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("seller who is not the owner is rejected", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-12-3")
		registerTestLand(t, store, id, testSeller)

		err := store.CreateTransfer(ctx, CreateTransferInput{
			Transfer: buildTestTransfer(id, "someone-else"),
			Now:      time.Now().UTC(),
		})
		assert.ErrorIs(t, err, domain.ErrTransferInvalidOwner)
	})

	t.Run("encumbered property is rejected", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-12-4")
		registerTestLand(t, store, id, testSeller)
		lien := &domain.EncumbranceAdded{EncumbranceID: "ENC-1", PropertyID: id, Category: "MORTGAGE", HolderName: "SBI"}
		require.NoError(t, store.ProjectEncumbranceAdded(ctx, ProjectionInput{Event: buildTestEvent(t, 2, lien)}, lien))

		err := store.CreateTransfer(ctx, CreateTransferInput{
			Transfer: buildTestTransfer(id, testSeller),
			Now:      time.Now().UTC(),
		})
		assert.ErrorIs(t, err, domain.ErrLandEncumbered)
	})

	t.Run("property in its cooling period is rejected", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-12-5")
		registerTestLand(t, store, id, testSeller)
		completed := &domain.TransferCompleted{
			TransferID:        ulid.Make().String(),
			PropertyID:        id,
			SellerHash:        "previous-owner",
			BuyerHash:         testSeller,
			BuyerName:         "Lakshmi Devi",
			SaleAmount:        100,
			Sequence:          2,
			CoolingPeriodEnds: time.Now().UTC().Add(domain.CoolingPeriod),
		}
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: buildTestEvent(t, 3, completed)}, completed))

		err := store.CreateTransfer(ctx, CreateTransferInput{
			Transfer: buildTestTransfer(id, testSeller),
			Now:      time.Now().UTC(),
		})
		assert.ErrorIs(t, err, domain.ErrLandCoolingPeriod)
	})

	t.Run("unknown property", func(t *testing.T) {
		err := store.CreateTransfer(ctx, CreateTransferInput{
			Transfer: buildTestTransfer("TG-HYD-SRL-MDP-99-9", testSeller),
			Now:      time.Now().UTC(),
		})
		assert.ErrorIs(t, err, domain.ErrLandNotFound)
	})

	t.Run("unknown transfer", func(t *testing.T) {
		_, err := store.GetTransfer(ctx, ulid.Make().String())
		assert.ErrorIs(t, err, domain.ErrTransferNotFound)
	})
}

// =============================================================================
// Test: ApplyTransferTransition
// =============================================================================

func testApplyTransferTransition(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("guarded update bumps version and appends history", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-1")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		now := time.Now().UTC()
		updated, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusSignaturesPending,
			Change:          &domain.StatusChange{Status: domain.TransferStatusSignaturesPending, At: now, ActorHash: "official"},
			Columns:         map[string]interface{}{"stamp_duty_receipt_hash": "receipt-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSignaturesPending, updated.Status)
		assert.Equal(t, int64(2), updated.Version)
		require.NotNil(t, updated.StampDutyReceiptHash)
		assert.Equal(t, "receipt-1", *updated.StampDutyReceiptHash)
		require.Len(t, updated.StatusHistory, 3)
		assert.Equal(t, domain.TransferStatusSignaturesPending, updated.StatusHistory[2].Status)
	})

	t.Run("stale version loses", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-2")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 7,
			NewStatus:       domain.TransferStatusSignaturesPending,
		})
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("unexpected status loses", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-3")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusSignaturesComplete},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusRegisteredPendingFinality,
		})
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("execution moves ownership and appends provenance atomically", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-4")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		now := time.Now().UTC()
		ends := now.Add(domain.CoolingPeriod)
		seq := int64(1)
		transferID := transfer.ID
		updated, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusRegisteredPendingFinality,
			Change:          &domain.StatusChange{Status: domain.TransferStatusRegisteredPendingFinality, At: now, ActorHash: "official"},
			Columns: map[string]interface{}{
				"ledger_tx_id":        "ledger-tx-1",
				"cooling_period_ends": ends,
			},
			Land: &LandUpdate{
				PropertyID:       id,
				ExpectedStatus:   []domain.LandStatus{domain.LandStatusTransferInProgress},
				ExpectedSequence: &seq,
				Columns: map[string]interface{}{
					"owner_hash":          testBuyer,
					"owner_name":          "Ravi Kumar",
					"status":              domain.LandStatusActive,
					"cooling_period_ends": ends,
					"provenance_sequence": 2,
					"last_tx_id":          "ledger-tx-1",
				},
			},
			History: &schema.OwnershipHistoryEntry{
				PropertyID:        id,
				SequenceNumber:    2,
				OwnerHash:         testBuyer,
				OwnerName:         "Ravi Kumar",
				PreviousOwnerHash: testSeller,
				AcquisitionType:   schema.AcquisitionTypeSale,
				TransferID:        &transferID,
				SaleAmount:        transfer.SaleAmount,
				TxID:              "ledger-tx-1",
				RecordedAt:        now,
			},
		})
		require.NoError(t, err)
		require.NotNil(t, updated.CoolingPeriodEnds)

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testBuyer, land.OwnerHash)
		assert.Equal(t, domain.LandStatusActive, land.Status)
		assert.Equal(t, int64(2), land.ProvenanceSequence)

		history, err := store.GetOwnershipHistory(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, testSeller, history[1].PreviousOwnerHash)
		assert.Equal(t, testBuyer, history[1].OwnerHash)
	})

	t.Run("land guard failure rolls back the transfer update", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-5")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		stale := int64(42)
		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusRegisteredPendingFinality,
			Land: &LandUpdate{
				PropertyID:       id,
				ExpectedSequence: &stale,
				Columns:          map[string]interface{}{"owner_hash": testBuyer},
			},
		})
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)

		got, err := store.GetTransfer(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusStampDutyPending, got.Status)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("cancellation frees the property for a new transfer", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-13-6")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusCancelled,
			Columns:         map[string]interface{}{"cancellation_reason": "buyer withdrew"},
			Land: &LandUpdate{
				PropertyID:     id,
				ExpectedStatus: []domain.LandStatus{domain.LandStatusTransferInProgress},
				Columns:        map[string]interface{}{"status": domain.LandStatusActive},
			},
		})
		require.NoError(t, err)

		createTestTransfer(t, store, id)
	})
}

// =============================================================================
// Test: ListTransfersDueForFinality
// =============================================================================

func testListTransfersDueForFinality(t *testing.T, store Store) {
	ctx := context.Background()

	due := domain.PropertyID("TG-HYD-SRL-MDP-14-1")
	notDue := domain.PropertyID("TG-HYD-SRL-MDP-14-2")
	registerTestLand(t, store, due, testSeller)
	registerTestLand(t, store, notDue, testSeller)

	now := time.Now().UTC()
	markPending := func(id domain.PropertyID, ends time.Time) string {
		transfer := createTestTransfer(t, store, id)
		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusRegisteredPendingFinality,
			Columns:         map[string]interface{}{"cooling_period_ends": ends},
		})
		require.NoError(t, err)
		return transfer.ID
	}

	dueID := markPending(due, now.Add(-time.Minute))
	markPending(notDue, now.Add(time.Hour))

	transfers, err := store.ListTransfersDueForFinality(ctx, now, 100)
	require.NoError(t, err)

	var ids []string
	for _, tr := range transfers {
		ids = append(ids, tr.ID)
	}
	assert.Contains(t, ids, dueID)
	assert.Len(t, ids, 1)
}

// =============================================================================
// Test: Projections
// =============================================================================

func testProjectPropertyRegistered(t *testing.T, store Store) {
	ctx := context.Background()
	id := domain.PropertyID("AP-GNT-TNL-SKM-142-3")

	p := &domain.PropertyRegistered{PropertyID: id, OwnerHash: testSeller, OwnerName: "Lakshmi Devi", AreaCentiSqM: 40000}
	ev := buildTestEvent(t, 10, p)
	audit := buildTestAuditOutbox(id.String())

	for i := 0; i < 2; i++ {
		require.NoError(t, store.ProjectPropertyRegistered(ctx, ProjectionInput{Event: ev, Audit: audit}, p))
	}

	land, err := store.GetLand(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "AP", land.StateCode)
	assert.Equal(t, "GNT", land.DistrictCode)
	assert.Equal(t, "TNL", land.TehsilCode)
	assert.Equal(t, "SKM", land.VillageCode)
	assert.Equal(t, domain.LandStatusActive, land.Status)
	assert.Equal(t, int64(1), land.ProvenanceSequence)

	history, err := store.GetOwnershipHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schema.AcquisitionTypeRegistration, history[0].AcquisitionType)

	claimed, err := store.ClaimOutboxEntries(ctx, time.Now().UTC().Add(time.Second), time.Minute, 100)
	require.NoError(t, err)
	var matches int
	for _, e := range claimed {
		if e.ID == audit.ID {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func testProjectTransferCompleted(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("replay is a no-op", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-15-1")
		registerTestLand(t, store, id, testSeller)

		p := &domain.TransferCompleted{
			TransferID:        ulid.Make().String(),
			PropertyID:        id,
			SellerHash:        testSeller,
			BuyerHash:         testBuyer,
			BuyerName:         "Ravi Kumar",
			SaleAmount:        500000000,
			Sequence:          2,
			CoolingPeriodEnds: time.Now().UTC().Add(domain.CoolingPeriod),
		}
		ev := buildTestEvent(t, 20, p)
		for i := 0; i < 3; i++ {
			require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: ev}, p))
		}

		history, err := store.GetOwnershipHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, 2)

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testBuyer, land.OwnerHash)
		assert.Equal(t, int64(2), land.ProvenanceSequence)
		assert.True(t, land.HasActiveCooling(time.Now().UTC()))
	})

	t.Run("older sequence does not move ownership back", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-15-2")
		registerTestLand(t, store, id, testSeller)

		newer := &domain.TransferCompleted{
			TransferID: ulid.Make().String(), PropertyID: id,
			SellerHash: "owner-2", BuyerHash: "owner-3", Sequence: 3,
			CoolingPeriodEnds: time.Now().UTC().Add(domain.CoolingPeriod),
		}
		older := &domain.TransferCompleted{
			TransferID: ulid.Make().String(), PropertyID: id,
			SellerHash: testSeller, BuyerHash: "owner-2", Sequence: 2,
			CoolingPeriodEnds: time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: buildTestEvent(t, 31, newer)}, newer))
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: buildTestEvent(t, 30, older)}, older))

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "owner-3", land.OwnerHash)
		assert.Equal(t, int64(3), land.ProvenanceSequence)

		history, err := store.GetOwnershipHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("land not yet mirrored is retryable", func(t *testing.T) {
		p := &domain.TransferCompleted{TransferID: ulid.Make().String(), PropertyID: "TG-HYD-SRL-MDP-15-9", Sequence: 2}
		err := store.ProjectTransferCompleted(ctx, ProjectionInput{Event: buildTestEvent(t, 40, p)}, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, errLandNotMirrored)
	})

	t.Run("closes a transfer stuck after its ledger commit", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-15-3")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)
		_, err := store.ApplyTransferTransition(ctx, TransferTransition{
			TransferID:      transfer.ID,
			ExpectedStatus:  []domain.TransferStatus{domain.TransferStatusStampDutyPending},
			ExpectedVersion: 1,
			NewStatus:       domain.TransferStatusSignaturesComplete,
		})
		require.NoError(t, err)

		p := &domain.TransferCompleted{
			TransferID: transfer.ID, PropertyID: id,
			SellerHash: testSeller, BuyerHash: testBuyer, BuyerName: "Ravi Kumar",
			SaleAmount: transfer.SaleAmount, Sequence: 2,
			CoolingPeriodEnds: time.Now().UTC().Add(domain.CoolingPeriod),
		}
		effects := buildTestTransferEffects(transfer.ID)
		ev := buildTestEvent(t, 41, p)
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: ev, TransferEffects: effects}, p))

		got, err := store.GetTransfer(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusRegisteredPendingFinality, got.Status)
		require.NotNil(t, got.LedgerTxID)
		assert.Equal(t, "tx-41", *got.LedgerTxID)

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.LandStatusActive, land.Status)

		// the transfer has moved, so a redelivery writes no further jobs
		redelivered := buildTestTransferEffects(transfer.ID)
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: ev, TransferEffects: redelivered}, p))

		claimed := claimedOutboxIDs(t, store)
		for _, e := range effects {
			assert.Contains(t, claimed, e.ID, e.Topic)
		}
		for _, e := range redelivered {
			assert.NotContains(t, claimed, e.ID, e.Topic)
		}
	})

	t.Run("transfer already moved by the orchestrator writes no jobs", func(t *testing.T) {
		id := domain.PropertyID("TG-HYD-SRL-MDP-15-4")
		registerTestLand(t, store, id, testSeller)
		transfer := createTestTransfer(t, store, id)

		p := &domain.TransferCompleted{
			TransferID: transfer.ID, PropertyID: id,
			SellerHash: testSeller, BuyerHash: testBuyer,
			SaleAmount: transfer.SaleAmount, Sequence: 2,
			CoolingPeriodEnds: time.Now().UTC().Add(domain.CoolingPeriod),
		}
		effects := buildTestTransferEffects(transfer.ID)
		require.NoError(t, store.ProjectTransferCompleted(ctx, ProjectionInput{Event: buildTestEvent(t, 42, p), TransferEffects: effects}, p))

		got, err := store.GetTransfer(ctx, transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusStampDutyPending, got.Status)

		claimed := claimedOutboxIDs(t, store)
		for _, e := range effects {
			assert.NotContains(t, claimed, e.ID, e.Topic)
		}
	})
}

// buildTestTransferEffects mirrors the three execution jobs of a transfer
func buildTestTransferEffects(transferID string) []schema.OutboxEntry {
	effects := make([]schema.OutboxEntry, 0, 3)
	for _, topic := range []schema.OutboxTopic{
		schema.OutboxTopicAuditAppend,
		schema.OutboxTopicAnchorTrigger,
		schema.OutboxTopicTransferNotify,
	} {
		e := buildTestAuditOutbox(transferID)
		e.Topic = topic
		effects = append(effects, *e)
	}
	return effects
}

// claimedOutboxIDs leases every due outbox row and returns the ids
func claimedOutboxIDs(t *testing.T, store Store) map[string]bool {
	claimed, err := store.ClaimOutboxEntries(context.Background(), time.Now().UTC().Add(time.Second), time.Minute, 1000)
	require.NoError(t, err)
	ids := make(map[string]bool, len(claimed))
	for _, e := range claimed {
		ids[e.ID] = true
	}
	return ids
}

func testProjectLiens(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("flags follow the active row count", func(t *testing.T) {
		id := domain.PropertyID("MH-PUN-HVL-KTR-7-1")
		registerTestLand(t, store, id, testSeller)

		for _, encID := range []string{"ENC-A", "ENC-B"} {
			p := &domain.EncumbranceAdded{EncumbranceID: encID, PropertyID: id, Category: "MORTGAGE", HolderName: "HDFC"}
			require.NoError(t, store.ProjectEncumbranceAdded(ctx, ProjectionInput{Event: buildTestEvent(t, 50, p)}, p))
		}

		release := &domain.EncumbranceReleased{EncumbranceID: "ENC-A", PropertyID: id}
		require.NoError(t, store.ProjectEncumbranceReleased(ctx, ProjectionInput{Event: buildTestEvent(t, 51, release)}, release))

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.EncumbranceStatusEncumbered, land.EncumbranceStatus)

		release = &domain.EncumbranceReleased{EncumbranceID: "ENC-B", PropertyID: id}
		require.NoError(t, store.ProjectEncumbranceReleased(ctx, ProjectionInput{Event: buildTestEvent(t, 52, release)}, release))

		land, err = store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.EncumbranceStatusClear, land.EncumbranceStatus)
	})

	t.Run("release before add stays released", func(t *testing.T) {
		id := domain.PropertyID("MH-PUN-HVL-KTR-7-2")
		registerTestLand(t, store, id, testSeller)

		release := &domain.EncumbranceReleased{EncumbranceID: "ENC-C", PropertyID: id}
		require.NoError(t, store.ProjectEncumbranceReleased(ctx, ProjectionInput{Event: buildTestEvent(t, 61, release)}, release))

		add := &domain.EncumbranceAdded{EncumbranceID: "ENC-C", PropertyID: id, Category: "LEASE", HolderName: "Tenant"}
		require.NoError(t, store.ProjectEncumbranceAdded(ctx, ProjectionInput{Event: buildTestEvent(t, 60, add)}, add))

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.EncumbranceStatusClear, land.EncumbranceStatus)
	})

	t.Run("dispute flag and resolution", func(t *testing.T) {
		id := domain.PropertyID("MH-PUN-HVL-KTR-7-3")
		registerTestLand(t, store, id, testSeller)

		flag := &domain.DisputeFlagged{DisputeID: "DSP-1", PropertyID: id, Category: "BOUNDARY"}
		for i := 0; i < 2; i++ {
			require.NoError(t, store.ProjectDisputeFlagged(ctx, ProjectionInput{Event: buildTestEvent(t, 70, flag)}, flag))
		}

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusDisputed, land.DisputeStatus)

		resolve := &domain.DisputeResolved{DisputeID: "DSP-1", PropertyID: id}
		require.NoError(t, store.ProjectDisputeResolved(ctx, ProjectionInput{Event: buildTestEvent(t, 71, resolve)}, resolve))
		// a late redelivery of the flag must not reopen it
		require.NoError(t, store.ProjectDisputeFlagged(ctx, ProjectionInput{Event: buildTestEvent(t, 70, flag)}, flag))

		land, err = store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusClear, land.DisputeStatus)
	})

	t.Run("liens projected before registration are reflected once registered", func(t *testing.T) {
		id := domain.PropertyID("MH-PUN-HVL-KTR-7-4")
		flag := &domain.DisputeFlagged{DisputeID: "DSP-2", PropertyID: id, Category: "INHERITANCE"}
		require.NoError(t, store.ProjectDisputeFlagged(ctx, ProjectionInput{Event: buildTestEvent(t, 80, flag)}, flag))

		registerTestLand(t, store, id, testSeller)

		land, err := store.GetLand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeStatusDisputed, land.DisputeStatus)
	})
}

func testRecordSyncFailure(t *testing.T, store Store) {
	ctx := context.Background()

	failure := schema.SyncFailure{
		EventID:    uuid.NewString(),
		EventType:  string(domain.EventTransferCompleted),
		Subject:    "ledger.events.TG.TRANSFER_COMPLETED",
		Payload:    datatypes.JSON(`{"property_id":"TG-HYD-SRL-MDP-1-1"}`),
		Error:      "land record not mirrored yet",
		Deliveries: 5,
	}
	require.NoError(t, store.RecordSyncFailure(ctx, failure))

	failure.Deliveries = 6
	failure.Error = "still failing"
	require.NoError(t, store.RecordSyncFailure(ctx, failure))
}

// =============================================================================
// Test: Anchors
// =============================================================================

func testAnchors(t *testing.T, store Store) {
	ctx := context.Background()
	scope := domain.AnchorScope("TG")

	anchor, err := store.ReserveAnchorRange(ctx, scope, 0, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, anchor, "empty chain has nothing to anchor")

	first, err := store.ReserveAnchorRange(ctx, scope, 101, uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, uint64(0), first.StartBlock)
	assert.Equal(t, uint64(100), first.EndBlock)

	none, err := store.ReserveAnchorRange(ctx, scope, 101, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, none, "no new block since the last anchor")

	second, err := store.ReserveAnchorRange(ctx, scope, 150, uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, uint64(101), second.StartBlock)
	assert.Equal(t, uint64(149), second.EndBlock)

	ledgerTx := "ledger-anchor-tx"
	require.NoError(t, store.CompleteAnchor(ctx, CompleteAnchorInput{
		AnchorID:    first.AnchorID,
		StateRoot:   "sha256:" + domain.GenesisHash,
		TxCount:     12,
		PublicTxID:  "0xabc",
		PublicRound: 991,
		LedgerTxID:  &ledgerTx,
		Status:      schema.AnchorStatusCommitted,
		Verified:    true,
		Outbox:      []schema.OutboxEntry{*buildTestAuditOutbox(first.AnchorID)},
	}))
	require.NoError(t, store.CompleteAnchor(ctx, CompleteAnchorInput{
		AnchorID:   second.AnchorID,
		StateRoot:  "sha256:" + domain.GenesisHash,
		PublicTxID: "pending-" + second.AnchorID,
		Status:     schema.AnchorStatusDegraded,
		LastError:  "public ledger unreachable",
	}))

	got, err := store.GetAnchor(ctx, first.AnchorID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Verified)
	assert.Equal(t, 12, got.TxCount)
	assert.Equal(t, 1, got.Attempts)

	latest, err := store.GetLatestAnchor(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.AnchorID, latest.AnchorID)

	unverified, err := store.ListUnverifiedAnchors(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	assert.Equal(t, second.AnchorID, unverified[0].AnchorID)

	require.NoError(t, store.MarkAnchorVerified(ctx, second.AnchorID))
	unverified, err = store.ListUnverifiedAnchors(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1, "still missing the ledger cross-reference")

	require.NoError(t, store.CompleteAnchor(ctx, CompleteAnchorInput{
		AnchorID:    second.AnchorID,
		StateRoot:   "sha256:" + domain.GenesisHash,
		PublicTxID:  "0xdef",
		PublicRound: 1002,
		LedgerTxID:  &ledgerTx,
		Status:      schema.AnchorStatusCommitted,
		Verified:    true,
	}))
	unverified, err = store.ListUnverifiedAnchors(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, unverified)

	missing, err := store.GetAnchor(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = store.CompleteAnchor(ctx, CompleteAnchorInput{AnchorID: uuid.NewString(), Status: schema.AnchorStatusCommitted})
	assert.Error(t, err)
}

// =============================================================================
// Test: Audit chain
// =============================================================================

func fakeAuditBuilder(resourceID string) AuditEntryBuilder {
	return func(previousHash string, sequence int64) (*schema.AuditEntry, error) {
		return &schema.AuditEntry{
			ID:                uuid.NewString(),
			Timestamp:         time.Now().UTC(),
			ActorHash:         "official",
			ActorRole:         domain.RoleRegistrar,
			Action:            domain.AuditActionTransferInitiated,
			ResourceID:        resourceID,
			PreviousEntryHash: previousHash,
			EntryHash:         fmt.Sprintf("%064d", sequence),
		}, nil
	}
}

func testAuditChain(t *testing.T, store Store) {
	ctx := context.Background()
	rt := domain.AuditResourceTransfer

	first, created, err := store.AppendAuditEntry(ctx, rt, nil, fakeAuditBuilder("T-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), first.ScopeSequence)
	assert.Equal(t, domain.GenesisHash, first.PreviousEntryHash)

	source := uuid.NewString()
	second, created, err := store.AppendAuditEntry(ctx, rt, &source, fakeAuditBuilder("T-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(2), second.ScopeSequence)
	assert.Equal(t, first.EntryHash, second.PreviousEntryHash)

	again, created, err := store.AppendAuditEntry(ctx, rt, &source, fakeAuditBuilder("T-2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, second.ID, again.ID)

	_, _, err = store.AppendAuditEntry(ctx, rt, nil, fakeAuditBuilder("T-1"))
	require.NoError(t, err)

	entries, err := store.ListAuditEntries(ctx, rt, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.ScopeSequence)
	}

	page, err := store.ListAuditEntries(ctx, rt, 2, 100)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ScopeSequence)

	byResource, err := store.ListAuditEntriesByResource(ctx, rt, "T-1")
	require.NoError(t, err)
	assert.Len(t, byResource, 2)

	other, _, err := store.AppendAuditEntry(ctx, domain.AuditResourceLand, nil, fakeAuditBuilder("L-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.ScopeSequence, "scopes have independent chains")

	_, _, err = store.AppendAuditEntry(ctx, rt, nil, func(string, int64) (*schema.AuditEntry, error) {
		return nil, fmt.Errorf("boom")
	})
	assert.Error(t, err)
}

// =============================================================================
// Test: Outbox
// =============================================================================

func testOutbox(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	due := buildTestAuditOutbox("agg-1")
	later := buildTestAuditOutbox("agg-2")
	later.NextAttemptAt = now.Add(time.Hour)
	require.NoError(t, store.InsertOutboxEntries(ctx, []schema.OutboxEntry{*due, *later}))
	// duplicate ids are ignored
	require.NoError(t, store.InsertOutboxEntries(ctx, []schema.OutboxEntry{*due}))

	claimed, err := store.ClaimOutboxEntries(ctx, now.Add(time.Second), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)

	// leased rows are not claimed again before the lease ends
	claimed, err = store.ClaimOutboxEntries(ctx, now.Add(2*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, store.MarkOutboxRetry(ctx, due.ID, now, "transient"))
	claimed, err = store.ClaimOutboxEntries(ctx, now.Add(3*time.Second), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, store.MarkOutboxDone(ctx, due.ID, now))
	require.NoError(t, store.MarkOutboxDead(ctx, later.ID, now, "exhausted"))

	claimed, err = store.ClaimOutboxEntries(ctx, now.Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

// =============================================================================
// Test: BlockCursor
// =============================================================================

func testBlockCursor(t *testing.T, store Store) {
	ctx := context.Background()

	cursor, err := store.GetBlockCursor(ctx, "land-channel")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)

	require.NoError(t, store.SetBlockCursor(ctx, "land-channel", 120))
	require.NoError(t, store.SetBlockCursor(ctx, "land-channel", 121))

	cursor, err = store.GetBlockCursor(ctx, "land-channel")
	require.NoError(t, err)
	assert.Equal(t, uint64(121), cursor)

	other, err := store.GetBlockCursor(ctx, "other-channel")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), other)
}

// =============================================================================
// Test: IntegrityHolds
// =============================================================================

func testIntegrityHolds(t *testing.T, store Store) {
	ctx := context.Background()

	holds, err := store.GetIntegrityHolds(ctx)
	require.NoError(t, err)
	assert.Empty(t, holds)

	require.NoError(t, store.HoldIntegrity(ctx, domain.AuditResourceTransfer, "entry 4 hash mismatch"))
	// the first reason is kept
	require.NoError(t, store.HoldIntegrity(ctx, domain.AuditResourceTransfer, "entry 9 hash mismatch"))

	holds, err = store.GetIntegrityHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.AuditResourceType]string{
		domain.AuditResourceTransfer: "entry 4 hash mismatch",
	}, holds)

	// cursors share the table but are not holds
	require.NoError(t, store.SetBlockCursor(ctx, "hold-channel", 7))
	holds, err = store.GetIntegrityHolds(ctx)
	require.NoError(t, err)
	assert.Len(t, holds, 1)
}

// =============================================================================
// Test: Webhooks
// =============================================================================

func testWebhooks(t *testing.T, store Store) {
	ctx := context.Background()

	all, err := store.CreateWebhookClient(ctx, CreateWebhookClientInput{
		ClientID:         uuid.NewString(),
		WebhookURL:       "https://bank.example.com/hooks",
		WebhookSecret:    "secret-1",
		EventFilters:     datatypes.JSON(`["*"]`),
		IsActive:         true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)

	executedOnly, err := store.CreateWebhookClient(ctx, CreateWebhookClientInput{
		ClientID:         uuid.NewString(),
		Organization:     "Sub-Registrar Office, Tenali",
		WebhookURL:       "https://registrar.example.com/hooks",
		WebhookSecret:    "secret-2",
		EventFilters:     datatypes.JSON(`["transfer.executed"]`),
		IsActive:         true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)

	clients, err := store.GetActiveWebhookClientsByEventType(ctx, "transfer.executed")
	require.NoError(t, err)
	assert.Len(t, clients, 2)

	clients, err = store.GetActiveWebhookClientsByEventType(ctx, "transfer.cancelled")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, all.ClientID, clients[0].ClientID)

	got, err := store.GetWebhookClientByID(ctx, executedOnly.ClientID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://registrar.example.com/hooks", got.WebhookURL)
	assert.Equal(t, "Sub-Registrar Office, Tenali", got.Organization)

	missing, err := store.GetWebhookClientByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	eventID := uuid.NewString()
	delivery := &schema.WebhookDelivery{
		ClientID:       all.ClientID,
		EventID:        eventID,
		EventType:      "transfer.executed",
		TransferID:     "x",
		PropertyID:     "AP-GNT-TNL-SKM-142-3",
		Payload:        datatypes.JSON(`{"transfer_id":"x"}`),
		WorkflowID:     "webhook-delivery-1",
		DeliveryStatus: schema.WebhookDeliveryStatusPending,
	}
	require.NoError(t, store.CreateWebhookDelivery(ctx, delivery))
	require.NotZero(t, delivery.ID)

	retried := &schema.WebhookDelivery{
		ClientID:       all.ClientID,
		EventID:        eventID,
		EventType:      "transfer.executed",
		Payload:        datatypes.JSON(`{"transfer_id":"x"}`),
		WorkflowID:     "webhook-delivery-1",
		DeliveryStatus: schema.WebhookDeliveryStatusPending,
	}
	require.NoError(t, store.CreateWebhookDelivery(ctx, retried))
	assert.Equal(t, delivery.ID, retried.ID)
	assert.Equal(t, "AP-GNT-TNL-SKM-142-3", retried.PropertyID)

	status := 200
	require.NoError(t, store.UpdateWebhookDeliveryStatus(ctx, delivery.ID, schema.WebhookDeliveryStatusSuccess, 1, &status, "ok", ""))
}

// =============================================================================
// Test Runner
// =============================================================================

// RunStoreTests runs all store tests against the given implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"CreateTransfer", testCreateTransfer},
		{"ApplyTransferTransition", testApplyTransferTransition},
		{"ListTransfersDueForFinality", testListTransfersDueForFinality},
		{"ProjectPropertyRegistered", testProjectPropertyRegistered},
		{"ProjectTransferCompleted", testProjectTransferCompleted},
		{"ProjectLiens", testProjectLiens},
		{"RecordSyncFailure", testRecordSyncFailure},
		{"Anchors", testAnchors},
		{"AuditChain", testAuditChain},
		{"Outbox", testOutbox},
		{"BlockCursor", testBlockCursor},
		{"IntegrityHolds", testIntegrityHolds},
		{"Webhooks", testWebhooks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
