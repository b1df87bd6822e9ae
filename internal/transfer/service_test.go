package transfer_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/mocks"
	"github.com/bhulekhchain/title-registry/internal/stampduty"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
	"github.com/bhulekhchain/title-registry/internal/transfer"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const (
	propertyAP = domain.PropertyID("AP-GNT-TNL-SKM-142-3")
	ownerH1    = "H1"
	buyerH2    = "H2"
	witnessW1  = "W1"
	witnessW2  = "W2"
)

var (
	t0        = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	registrar = domain.Actor{IdentityHash: "REG-1", Role: domain.RoleRegistrar}
	sellerH1  = domain.Actor{IdentityHash: ownerH1, Role: domain.RoleCitizen}
)

type testMocks struct {
	ctrl       *gomock.Controller
	store      *mocks.MockStore
	ledger     *mocks.MockLedgerClient
	calculator *mocks.MockStampDutyCalculator
	clock      *mocks.MockClock
}

func setupService(t *testing.T) (transfer.Service, *testMocks) {
	ctrl := gomock.NewController(t)
	m := &testMocks{
		ctrl:       ctrl,
		store:      mocks.NewMockStore(ctrl),
		ledger:     mocks.NewMockLedgerClient(ctrl),
		calculator: mocks.NewMockStampDutyCalculator(ctrl),
		clock:      mocks.NewMockClock(ctrl),
	}
	svc := transfer.NewService(transfer.Config{CoolingPeriod: 72 * time.Hour},
		m.store, m.ledger, m.calculator, m.clock, adapter.NewJSON())
	return svc, m
}

func activeLand() schema.LandRecord {
	return schema.LandRecord{
		PropertyID:        propertyAP,
		StateCode:         "AP",
		DistrictCode:      "GNT",
		TehsilCode:        "TNL",
		VillageCode:       "SKM",
		OwnerHash:         ownerH1,
		OwnerName:         "Owner One",
		AreaCentiSqM:      20000,
		Status:            domain.LandStatusActive,
		DisputeStatus:     domain.DisputeStatusClear,
		EncumbranceStatus: domain.EncumbranceStatusClear,
	}
}

func initiateRequest() transfer.InitiateRequest {
	return transfer.InitiateRequest{
		PropertyID:    propertyAP.String(),
		SellerHash:    ownerH1,
		BuyerHash:     buyerH2,
		BuyerName:     "Buyer Two",
		SaleAmount:    350000000,
		WitnessHashes: []string{witnessW1, witnessW2},
	}
}

func transferIn(status domain.TransferStatus) *schema.TransferRecord {
	return &schema.TransferRecord{
		ID:           "01TRANSFER0000000000000001",
		PropertyID:   propertyAP,
		SellerHash:   ownerH1,
		BuyerHash:    buyerH2,
		BuyerName:    "Buyer Two",
		SaleAmount:   350000000,
		Witness1Hash: witnessW1,
		Witness2Hash: witnessW2,
		Status:       status,
		Version:      4,
	}
}

func computeBreakdown(t *testing.T, circleRate, area, declared int64) domain.StampDutyBreakdown {
	b, err := stampduty.Compute("AP", circleRate, area, declared, stampduty.DefaultRatesFor("AP"))
	require.NoError(t, err)
	return b
}

func outboxTopics(entries []schema.OutboxEntry) []schema.OutboxTopic {
	topics := make([]schema.OutboxTopic, 0, len(entries))
	for _, e := range entries {
		topics = append(topics, e.Topic)
	}
	return topics
}

// =============================================================================
// Initiate
// =============================================================================

func TestService_Initiate(t *testing.T) {
	t.Run("opens transfer in stamp duty pending", func(t *testing.T) {
		svc, m := setupService(t)
		land := activeLand()
		breakdown := computeBreakdown(t, 1500000, land.AreaCentiSqM, 350000000)

		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.calculator.EXPECT().Calculate(gomock.Any(), propertyAP, int64(20000), int64(350000000)).Return(&breakdown, nil)
		m.store.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, in store.CreateTransferInput) error {
				assert.Equal(t, domain.TransferStatusStampDutyPending, in.Transfer.Status)
				assert.Len(t, in.Transfer.StatusHistory, 2)
				assert.Equal(t, int64(350000000), in.Transfer.StampDuty.Data().ApplicableValue)
				assert.Equal(t, t0, in.Now)
				assert.Equal(t, []schema.OutboxTopic{schema.OutboxTopicAuditAppend}, outboxTopics(in.Outbox))
				assert.NotContains(t, string(in.Outbox[0].Payload), "Buyer Two")
				return nil
			})

		tr, err := svc.Initiate(context.Background(), sellerH1, initiateRequest())
		require.NoError(t, err)
		assert.Len(t, tr.ID, 26)
		assert.Equal(t, int64(17500000), tr.StampDuty.Data().StampDutyAmount)
	})

	validation := []struct {
		name   string
		mutate func(*transfer.InitiateRequest)
	}{
		{"seller equals buyer", func(r *transfer.InitiateRequest) { r.BuyerHash = ownerH1 }},
		{"malformed property id", func(r *transfer.InitiateRequest) { r.PropertyID = "AP-GNT" }},
		{"one witness", func(r *transfer.InitiateRequest) { r.WitnessHashes = []string{witnessW1} }},
		{"duplicate witness", func(r *transfer.InitiateRequest) { r.WitnessHashes = []string{witnessW1, witnessW1} }},
		{"buyer witnesses", func(r *transfer.InitiateRequest) { r.WitnessHashes = []string{witnessW1, buyerH2} }},
		{"zero amount", func(r *transfer.InitiateRequest) { r.SaleAmount = 0 }},
	}
	for _, tc := range validation {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := setupService(t)
			req := initiateRequest()
			tc.mutate(&req)

			_, err := svc.Initiate(context.Background(), sellerH1, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("stranger cannot initiate", func(t *testing.T) {
		svc, _ := setupService(t)
		_, err := svc.Initiate(context.Background(), domain.Actor{IdentityHash: "H9", Role: domain.RoleCitizen}, initiateRequest())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	holds := []struct {
		name   string
		mutate func(*schema.LandRecord)
		want   error
	}{
		{"disputed", func(l *schema.LandRecord) { l.DisputeStatus = domain.DisputeStatusDisputed }, domain.ErrLandDisputed},
		{"encumbered", func(l *schema.LandRecord) { l.EncumbranceStatus = domain.EncumbranceStatusEncumbered }, domain.ErrLandEncumbered},
		{"frozen", func(l *schema.LandRecord) { l.Status = domain.LandStatusFrozen }, domain.ErrLandFrozen},
		{"transfer in progress", func(l *schema.LandRecord) { l.Status = domain.LandStatusTransferInProgress }, domain.ErrTransferInvalidState},
		{"cooling", func(l *schema.LandRecord) { ends := t0.Add(time.Hour); l.CoolingPeriodEnds = &ends }, domain.ErrLandCoolingPeriod},
		{"not owner", func(l *schema.LandRecord) { l.OwnerHash = "H9" }, domain.ErrTransferInvalidOwner},
	}
	for _, tc := range holds {
		t.Run(tc.name, func(t *testing.T) {
			svc, m := setupService(t)
			land := activeLand()
			tc.mutate(&land)

			m.clock.EXPECT().Now().Return(t0)
			m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)

			_, err := svc.Initiate(context.Background(), registrar, initiateRequest())
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("lost claim race", func(t *testing.T) {
		svc, m := setupService(t)
		land := activeLand()
		breakdown := computeBreakdown(t, 0, land.AreaCentiSqM, 350000000)

		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.calculator.EXPECT().Calculate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&breakdown, nil)
		m.store.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).
			Return(domain.Errorf(domain.CodeTransferInvalidState, "property already has an active transfer"))

		_, err := svc.Initiate(context.Background(), sellerH1, initiateRequest())
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})
}

// =============================================================================
// Stamp duty and signatures
// =============================================================================

func TestService_ConfirmStampDuty(t *testing.T) {
	t.Run("pending to paid", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusStampDutyPending)

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, []domain.TransferStatus{domain.TransferStatusStampDutyPending}, tr.ExpectedStatus)
				assert.Equal(t, int64(4), tr.ExpectedVersion)
				assert.Equal(t, domain.TransferStatusStampDutyPaid, tr.NewStatus)
				assert.Equal(t, "rcpt-1", tr.Columns["stamp_duty_receipt_hash"])
				require.NotNil(t, tr.Change)
				assert.Equal(t, sellerH1.IdentityHash, tr.Change.ActorHash)
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		tr, err := svc.ConfirmStampDuty(context.Background(), sellerH1, current.ID, "rcpt-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusStampDutyPaid, tr.Status)
	})

	t.Run("twice is invalid state", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusStampDutyPaid)
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		_, err := svc.ConfirmStampDuty(context.Background(), sellerH1, current.ID, "rcpt-1")
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("unknown transfer", func(t *testing.T) {
		svc, m := setupService(t)
		m.store.EXPECT().GetTransfer(gomock.Any(), "nope").Return(nil, domain.Errorf(domain.CodeTransferNotFound, "transfer nope not found"))

		_, err := svc.ConfirmStampDuty(context.Background(), registrar, "nope", "rcpt-1")
		assert.ErrorIs(t, err, domain.ErrTransferNotFound)
	})
}

func TestService_SubmitSignature(t *testing.T) {
	t.Run("resubmission is a no-op", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesPending)
		current.SellerSigned = true
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		tr, err := svc.SubmitSignature(context.Background(), sellerH1, current.ID, domain.SignatorySeller, "sig")
		require.NoError(t, err)
		assert.Equal(t, int64(4), tr.Version)
	})

	t.Run("last flag completes", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesPending)
		current.SellerSigned, current.BuyerSigned, current.Witness2Signed = true, true, true

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusSignaturesComplete, tr.NewStatus)
				assert.Equal(t, true, tr.Columns["witness1_signed"])
				next := *current
				next.Status = tr.NewStatus
				next.Witness1Signed = true
				return &next, nil
			})

		tr, err := svc.SubmitSignature(context.Background(), domain.Actor{IdentityHash: witnessW1, Role: domain.RoleCitizen},
			current.ID, domain.SignatoryWitness1, "sig")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSignaturesComplete, tr.Status)
	})

	t.Run("first flag keeps pending without a status change", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesPending)
		current.BuyerSigned = true

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusSignaturesPending, tr.NewStatus)
				assert.Nil(t, tr.Change)
				return current, nil
			})

		_, err := svc.SubmitSignature(context.Background(), sellerH1, current.ID, domain.SignatorySeller, "sig")
		require.NoError(t, err)
	})

	t.Run("someone else's slot", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusStampDutyPaid)
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		_, err := svc.SubmitSignature(context.Background(), sellerH1, current.ID, domain.SignatoryBuyer, "sig")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("before stamp duty", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusStampDutyPending)
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		_, err := svc.SubmitSignature(context.Background(), sellerH1, current.ID, domain.SignatorySeller, "sig")
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("unknown signatory", func(t *testing.T) {
		svc, _ := setupService(t)
		_, err := svc.SubmitSignature(context.Background(), registrar, "x", domain.Signatory("NOTARY"), "sig")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

// =============================================================================
// Execute
// =============================================================================

func TestService_Execute(t *testing.T) {
	t.Run("ledger failure leaves local state untouched", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesComplete)
		land := activeLand()
		land.Status = domain.LandStatusTransferInProgress

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.ledger.EXPECT().Submit(gomock.Any(), domain.ChaincodeLandRegistry, domain.LedgerFnExecuteTransfer, gomock.Any()).
			Return("", domain.Errorf(domain.CodeLedgerUnavailable, "gateway down"))

		_, err := svc.Execute(context.Background(), registrar, current.ID)
		assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	})

	t.Run("encumbrance added after initiation", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesComplete)
		land := activeLand()
		land.Status = domain.LandStatusTransferInProgress
		land.EncumbranceStatus = domain.EncumbranceStatusEncumbered

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)

		_, err := svc.Execute(context.Background(), registrar, current.ID)
		assert.ErrorIs(t, err, domain.ErrLandEncumbered)
	})

	t.Run("citizen cannot execute", func(t *testing.T) {
		svc, _ := setupService(t)
		_, err := svc.Execute(context.Background(), sellerH1, "x")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("mirror write carries ownership, history and jobs", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesComplete)
		land := activeLand()
		land.Status = domain.LandStatusTransferInProgress
		land.ProvenanceSequence = 3

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.ledger.EXPECT().Submit(gomock.Any(), domain.ChaincodeLandRegistry, domain.LedgerFnExecuteTransfer, gomock.Any()).Return("tx-exec", nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusRegisteredPendingFinality, tr.NewStatus)
				assert.Equal(t, t0.Add(72*time.Hour), tr.Columns["cooling_period_ends"])
				require.NotNil(t, tr.Land)
				assert.Equal(t, int64(3), *tr.Land.ExpectedSequence)
				assert.Equal(t, buyerH2, tr.Land.Columns["owner_hash"])
				assert.Equal(t, int64(4), tr.Land.Columns["provenance_sequence"])
				require.NotNil(t, tr.History)
				assert.Equal(t, int64(4), tr.History.SequenceNumber)
				assert.Equal(t, ownerH1, tr.History.PreviousOwnerHash)
				assert.Equal(t, []schema.OutboxTopic{
					schema.OutboxTopicAuditAppend,
					schema.OutboxTopicAnchorTrigger,
					schema.OutboxTopicTransferNotify,
				}, outboxTopics(tr.Outbox))
				assert.Contains(t, string(tr.Outbox[1].Payload), `"scope":"AP"`)
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		tr, err := svc.Execute(context.Background(), registrar, current.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusRegisteredPendingFinality, tr.Status)
	})

	t.Run("sync projected first", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesComplete)
		land := activeLand()
		land.Status = domain.LandStatusTransferInProgress
		txID := "tx-exec"
		projected := transferIn(domain.TransferStatusRegisteredPendingFinality)
		projected.LedgerTxID = &txID

		gomock.InOrder(
			m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil),
			m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(projected, nil),
		)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(txID, nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			Return(nil, domain.Errorf(domain.CodeTransferInvalidState, "changed concurrently"))
		m.store.EXPECT().InsertOutboxEntries(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, entries []schema.OutboxEntry) error {
				assert.Equal(t, []schema.OutboxTopic{
					schema.OutboxTopicAuditAppend,
					schema.OutboxTopicAnchorTrigger,
					schema.OutboxTopicTransferNotify,
				}, outboxTopics(entries))
				assert.Equal(t, transfer.ExecutedAuditID(current.ID, txID), entries[0].ID)
				assert.Contains(t, string(entries[0].Payload), string(domain.AuditActionTransferExecuted))
				return nil
			})

		tr, err := svc.Execute(context.Background(), registrar, current.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusRegisteredPendingFinality, tr.Status)
	})

	t.Run("executed audit id matches the sync pipeline", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesComplete)
		land := activeLand()
		land.Status = domain.LandStatusTransferInProgress

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.store.EXPECT().GetLand(gomock.Any(), propertyAP).Return(&land, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("tx-exec", nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				projected, err := transfer.ProjectedExecutionEffects(adapter.NewJSON(), &domain.TransferCompleted{
					TransferID:        current.ID,
					PropertyID:        propertyAP,
					SellerHash:        ownerH1,
					BuyerHash:         buyerH2,
					Sequence:          1,
					CoolingPeriodEnds: t0.Add(72 * time.Hour),
				}, "tx-exec", t0)
				require.NoError(t, err)
				require.Len(t, projected, len(tr.Outbox))
				for i := range projected {
					assert.Equal(t, projected[i].ID, tr.Outbox[i].ID)
					assert.Equal(t, projected[i].Topic, tr.Outbox[i].Topic)
				}
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		_, err := svc.Execute(context.Background(), registrar, current.ID)
		require.NoError(t, err)
	})
}

// =============================================================================
// Objection, finality, cancellation
// =============================================================================

func TestService_FileObjection(t *testing.T) {
	ends := t0.Add(72 * time.Hour)

	t.Run("within window", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(t0.Add(time.Hour))
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusObjectionRaised, tr.NewStatus)
				assert.Equal(t, "forged deed", tr.Columns["objection_reason"])
				assert.Nil(t, tr.Land)
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		tr, err := svc.FileObjection(context.Background(), domain.Actor{IdentityHash: "H7", Role: domain.RoleCitizen}, current.ID, "forged deed")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusObjectionRaised, tr.Status)
	})

	t.Run("after window", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(ends)

		_, err := svc.FileObjection(context.Background(), sellerH1, current.ID, "late")
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})
}

func TestService_Finalize(t *testing.T) {
	ends := t0.Add(72 * time.Hour)

	t.Run("before deadline", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(ends.Add(-time.Second))

		_, err := svc.Finalize(context.Background(), registrar, current.ID)
		assert.ErrorIs(t, err, domain.ErrLandCoolingPeriod)
	})

	t.Run("objection outstanding", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusObjectionRaised)
		current.CoolingPeriodEnds = &ends
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		_, err := svc.Finalize(context.Background(), registrar, current.ID)
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})

	t.Run("after deadline clears only its own marker", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(ends)
		m.ledger.EXPECT().Submit(gomock.Any(), domain.ChaincodeLandRegistry, domain.LedgerFnFinalizeAfterCooling, current.ID, propertyAP.String()).
			Return("tx-final", nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusRegisteredFinal, tr.NewStatus)
				require.NotNil(t, tr.Land)
				assert.True(t, tr.Land.Optional)
				assert.Equal(t, ends, *tr.Land.ExpectedCoolingEnds)
				assert.Contains(t, tr.Land.Columns, "cooling_period_ends")
				assert.Nil(t, tr.Land.Columns["cooling_period_ends"])
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		tr, err := svc.Finalize(context.Background(), domain.System(), current.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusRegisteredFinal, tr.Status)
	})

	t.Run("mirror write fails after ledger finality", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil).Times(2)
		m.clock.EXPECT().Now().Return(ends)
		m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), domain.LedgerFnFinalizeAfterCooling, gomock.Any(), gomock.Any()).
			Return("tx-final", nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			Return(nil, domain.Errorf(domain.CodeTransferInvalidState, "changed concurrently"))

		_, err := svc.Finalize(context.Background(), domain.System(), current.ID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrTransferInvalidState)
		assert.Contains(t, err.Error(), "tx-final")
	})

	t.Run("concurrent finalization of the same commit", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		current.CoolingPeriodEnds = &ends
		txID := "tx-final"
		final := transferIn(domain.TransferStatusRegisteredFinal)
		final.FinalizeTxID = &txID

		gomock.InOrder(
			m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil),
			m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(final, nil),
		)
		m.clock.EXPECT().Now().Return(ends)
		m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), domain.LedgerFnFinalizeAfterCooling, gomock.Any(), gomock.Any()).
			Return(txID, nil)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			Return(nil, domain.Errorf(domain.CodeTransferInvalidState, "changed concurrently"))

		tr, err := svc.Finalize(context.Background(), domain.System(), current.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusRegisteredFinal, tr.Status)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Run("releases the property", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusSignaturesPending)

		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)
		m.clock.EXPECT().Now().Return(t0)
		m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
				assert.Equal(t, domain.TransferStatusCancelled, tr.NewStatus)
				require.NotNil(t, tr.Land)
				assert.Equal(t, domain.LandStatusActive, tr.Land.Columns["status"])
				assert.Equal(t, []domain.LandStatus{domain.LandStatusTransferInProgress}, tr.Land.ExpectedStatus)
				assert.Equal(t, []schema.OutboxTopic{schema.OutboxTopicAuditAppend, schema.OutboxTopicTransferNotify}, outboxTopics(tr.Outbox))
				next := *current
				next.Status = tr.NewStatus
				return &next, nil
			})

		tr, err := svc.Cancel(context.Background(), domain.Actor{IdentityHash: buyerH2, Role: domain.RoleCitizen}, current.ID, "financing fell through")
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusCancelled, tr.Status)
	})

	t.Run("after execution", func(t *testing.T) {
		svc, m := setupService(t)
		current := transferIn(domain.TransferStatusRegisteredPendingFinality)
		m.store.EXPECT().GetTransfer(gomock.Any(), current.ID).Return(current, nil)

		_, err := svc.Cancel(context.Background(), registrar, current.ID, "too late")
		assert.ErrorIs(t, err, domain.ErrTransferInvalidState)
	})
}

func TestService_FinalizeDue(t *testing.T) {
	svc, m := setupService(t)
	ends := t0.Add(-time.Minute)
	now := t0

	due := []schema.TransferRecord{*transferIn(domain.TransferStatusRegisteredPendingFinality), *transferIn(domain.TransferStatusRegisteredPendingFinality), *transferIn(domain.TransferStatusRegisteredPendingFinality)}
	for i := range due {
		due[i].ID = []string{"T1", "T2", "T3"}[i]
		due[i].CoolingPeriodEnds = &ends
	}

	m.clock.EXPECT().Now().Return(now).AnyTimes()
	m.store.EXPECT().GetIntegrityHolds(gomock.Any()).Return(nil, nil)
	m.store.EXPECT().ListTransfersDueForFinality(gomock.Any(), now, 10).Return(due, nil)

	// T1 finalizes
	m.store.EXPECT().GetTransfer(gomock.Any(), "T1").Return(&due[0], nil)
	m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), domain.LedgerFnFinalizeAfterCooling, "T1", gomock.Any()).Return("tx-1", nil)
	m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).Return(&due[0], nil)

	// T2 got an objection in the meantime
	objected := due[1]
	objected.Status = domain.TransferStatusObjectionRaised
	m.store.EXPECT().GetTransfer(gomock.Any(), "T2").Return(&objected, nil)

	// T3 ledger down
	m.store.EXPECT().GetTransfer(gomock.Any(), "T3").Return(&due[2], nil)
	m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), domain.LedgerFnFinalizeAfterCooling, "T3", gomock.Any()).
		Return("", domain.Errorf(domain.CodeLedgerTimeout, "slow"))

	res, err := svc.FinalizeDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, transfer.FinalizeDueResult{Due: 3, Finalized: 1, Skipped: 1, Failed: 1}, res)
}

func TestService_FinalizeDue_HaltedByIntegrityHold(t *testing.T) {
	svc, m := setupService(t)

	m.store.EXPECT().GetIntegrityHolds(gomock.Any()).
		Return(map[domain.AuditResourceType]string{domain.AuditResourceTransfer: "entry 7 hash mismatch"}, nil)
	// no transfer is listed, submitted or written while the chain is held

	res, err := svc.FinalizeDue(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrChainIntegrityViolation)
	assert.Contains(t, err.Error(), string(domain.AuditResourceTransfer))
	assert.Equal(t, transfer.FinalizeDueResult{}, res)
}

func TestService_FinalizeDue_MirrorGapCountsAsFailed(t *testing.T) {
	svc, m := setupService(t)
	ends := t0.Add(-time.Minute)
	due := *transferIn(domain.TransferStatusRegisteredPendingFinality)
	due.CoolingPeriodEnds = &ends

	m.clock.EXPECT().Now().Return(t0).AnyTimes()
	m.store.EXPECT().GetIntegrityHolds(gomock.Any()).Return(map[domain.AuditResourceType]string{}, nil)
	m.store.EXPECT().ListTransfersDueForFinality(gomock.Any(), t0, 10).Return([]schema.TransferRecord{due}, nil)
	m.store.EXPECT().GetTransfer(gomock.Any(), due.ID).Return(&due, nil).Times(2)
	m.ledger.EXPECT().Submit(gomock.Any(), gomock.Any(), domain.LedgerFnFinalizeAfterCooling, due.ID, gomock.Any()).
		Return("tx-final", nil)
	m.store.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).
		Return(nil, domain.Errorf(domain.CodeTransferInvalidState, "changed concurrently"))

	res, err := svc.FinalizeDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, transfer.FinalizeDueResult{Due: 1, Failed: 1}, res)
}

// =============================================================================
// End to end
// =============================================================================

func TestService_EndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	ledgerClient := mocks.NewMockLedgerClient(ctrl)
	clock := mocks.NewMockClock(ctrl)

	fake := newRegistryFake(activeLand())
	fake.bind(st)

	now := t0
	clock.EXPECT().Now().DoAndReturn(func() time.Time { return now }).AnyTimes()

	// 15,00,000 paisa per square metre over 200 sqm is below the declared price
	ledgerClient.EXPECT().Evaluate(gomock.Any(), domain.ChaincodeStampDuty, domain.LedgerFnGetCircleRate, "AP", "GNT", "TNL").
		Return([]byte("1500000"), nil)
	ledgerClient.EXPECT().Evaluate(gomock.Any(), domain.ChaincodeStampDuty, domain.LedgerFnGetStampDutyConfig, "AP").
		Return(nil, ledger.ErrNotFound)
	ledgerClient.EXPECT().Submit(gomock.Any(), domain.ChaincodeLandRegistry, domain.LedgerFnExecuteTransfer, gomock.Any()).
		Return("tx-exec", nil)
	ledgerClient.EXPECT().Submit(gomock.Any(), domain.ChaincodeLandRegistry, domain.LedgerFnFinalizeAfterCooling, gomock.Any(), propertyAP.String()).
		Return("tx-final", nil)

	svc := transfer.NewService(transfer.Config{CoolingPeriod: domain.CoolingPeriod},
		st, ledgerClient, stampduty.NewCalculator(ledgerClient), clock, adapter.NewJSON())
	ctx := context.Background()

	tr, err := svc.Initiate(ctx, sellerH1, initiateRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusStampDutyPending, tr.Status)
	breakdown := tr.StampDuty.Data()
	assert.Equal(t, int64(350000000), breakdown.ApplicableValue)
	assert.Equal(t, int64(17500000), breakdown.StampDutyAmount)
	assert.Equal(t, int64(1750000), breakdown.RegistrationFee)
	assert.Equal(t, int64(19250000), breakdown.TotalFees)

	// a second initiation on the same property is rejected
	_, err = svc.Initiate(ctx, sellerH1, initiateRequest())
	assert.ErrorIs(t, err, domain.ErrTransferInvalidState)

	tr, err = svc.ConfirmStampDuty(ctx, sellerH1, tr.ID, "receipt-hash")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusStampDutyPaid, tr.Status)

	sign := func(hash string, s domain.Signatory) *schema.TransferRecord {
		out, err := svc.SubmitSignature(ctx, domain.Actor{IdentityHash: hash, Role: domain.RoleCitizen}, tr.ID, s, "proof-"+hash)
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, domain.TransferStatusSignaturesPending, sign(ownerH1, domain.SignatorySeller).Status)
	assert.Equal(t, domain.TransferStatusSignaturesPending, sign(buyerH2, domain.SignatoryBuyer).Status)
	assert.Equal(t, domain.TransferStatusSignaturesPending, sign(witnessW1, domain.SignatoryWitness1).Status)
	assert.Equal(t, domain.TransferStatusSignaturesComplete, sign(witnessW2, domain.SignatoryWitness2).Status)

	tr, err = svc.Execute(ctx, registrar, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRegisteredPendingFinality, tr.Status)
	require.NotNil(t, tr.CoolingPeriodEnds)
	assert.Equal(t, t0.Add(72*time.Hour), *tr.CoolingPeriodEnds)

	land, err := fake.getLand(ctx, propertyAP)
	require.NoError(t, err)
	assert.Equal(t, buyerH2, land.OwnerHash)
	assert.Equal(t, domain.LandStatusActive, land.Status)
	assert.Equal(t, int64(1), land.ProvenanceSequence)
	require.Len(t, fake.history, 1)
	assert.Equal(t, int64(1), fake.history[0].SequenceNumber)

	now = t0.Add(71 * time.Hour)
	_, err = svc.Finalize(ctx, registrar, tr.ID)
	assert.ErrorIs(t, err, domain.ErrLandCoolingPeriod)

	now = t0.Add(72 * time.Hour)
	tr, err = svc.Finalize(ctx, registrar, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRegisteredFinal, tr.Status)

	land, err = fake.getLand(ctx, propertyAP)
	require.NoError(t, err)
	assert.Nil(t, land.CoolingPeriodEnds)

	statuses := make([]domain.TransferStatus, 0, len(tr.StatusHistory))
	for _, c := range tr.StatusHistory {
		statuses = append(statuses, c.Status)
	}
	assert.Equal(t, []domain.TransferStatus{
		domain.TransferStatusInitiated,
		domain.TransferStatusStampDutyPending,
		domain.TransferStatusStampDutyPaid,
		domain.TransferStatusSignaturesPending,
		domain.TransferStatusSignaturesComplete,
		domain.TransferStatusRegisteredPendingFinality,
		domain.TransferStatusRegisteredFinal,
	}, statuses)

	topics := fake.topics()
	assert.Contains(t, topics, schema.OutboxTopicAnchorTrigger)
	assert.Contains(t, topics, schema.OutboxTopicTransferNotify)
}

func TestService_ConcurrentSignaturesFailClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(t0).AnyTimes()

	paid := transferIn(domain.TransferStatusStampDutyPaid)
	fake := newRegistryFake(activeLand())
	fake.transfers[paid.ID] = paid
	fake.bind(st)

	svc := transfer.NewService(transfer.Config{}, st, mocks.NewMockLedgerClient(ctrl), mocks.NewMockStampDutyCalculator(ctrl), clock, adapter.NewJSON())

	// both writers read version 4; the second write must lose
	stale, _ := fake.getTransfer(context.Background(), paid.ID)
	_, err := svc.SubmitSignature(context.Background(), sellerH1, paid.ID, domain.SignatorySeller, "sig")
	require.NoError(t, err)

	_, err = fake.apply(context.Background(), store.TransferTransition{
		TransferID:      stale.ID,
		ExpectedStatus:  []domain.TransferStatus{stale.Status},
		ExpectedVersion: stale.Version,
		NewStatus:       domain.TransferStatusSignaturesPending,
	})
	assert.True(t, errors.Is(err, domain.ErrTransferInvalidState))
}
