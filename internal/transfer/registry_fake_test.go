package transfer_test

import (
	"context"
	"sync"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/mocks"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// registryFake backs a MockStore with in-memory rows and the same guards as the
// postgres store, so multi-step scenarios can run without a database
type registryFake struct {
	mu        sync.Mutex
	lands     map[domain.PropertyID]*schema.LandRecord
	transfers map[string]*schema.TransferRecord
	history   []schema.OwnershipHistoryEntry
	outbox    []schema.OutboxEntry
}

func newRegistryFake(lands ...schema.LandRecord) *registryFake {
	f := &registryFake{
		lands:     map[domain.PropertyID]*schema.LandRecord{},
		transfers: map[string]*schema.TransferRecord{},
	}
	for i := range lands {
		l := lands[i]
		f.lands[l.PropertyID] = &l
	}
	return f
}

func (f *registryFake) bind(m *mocks.MockStore) {
	m.EXPECT().GetLand(gomock.Any(), gomock.Any()).DoAndReturn(f.getLand).AnyTimes()
	m.EXPECT().GetTransfer(gomock.Any(), gomock.Any()).DoAndReturn(f.getTransfer).AnyTimes()
	m.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).DoAndReturn(f.createTransfer).AnyTimes()
	m.EXPECT().ApplyTransferTransition(gomock.Any(), gomock.Any()).DoAndReturn(f.apply).AnyTimes()
}

func (f *registryFake) getLand(_ context.Context, id domain.PropertyID) (*schema.LandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lands[id]
	if !ok {
		return nil, domain.Errorf(domain.CodeLandNotFound, "property %s not found", id)
	}
	c := *l
	return &c, nil
}

func (f *registryFake) getTransfer(_ context.Context, id string) (*schema.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[id]
	if !ok {
		return nil, domain.Errorf(domain.CodeTransferNotFound, "transfer %s not found", id)
	}
	c := *t
	return &c, nil
}

func (f *registryFake) createTransfer(_ context.Context, in store.CreateTransferInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lands[in.Transfer.PropertyID]
	if !ok {
		return domain.Errorf(domain.CodeLandNotFound, "property %s not found", in.Transfer.PropertyID)
	}
	if err := l.TransferableBy(in.Transfer.SellerHash, in.Now); err != nil {
		return err
	}
	l.Status = domain.LandStatusTransferInProgress
	t := in.Transfer
	f.transfers[t.ID] = &t
	f.outbox = append(f.outbox, in.Outbox...)
	return nil
}

func (f *registryFake) apply(_ context.Context, tr store.TransferTransition) (*schema.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.transfers[tr.TransferID]
	if !ok || t.Version != tr.ExpectedVersion || !containsStatus(tr.ExpectedStatus, t.Status) {
		return nil, domain.Errorf(domain.CodeTransferInvalidState, "transfer %s changed concurrently", tr.TransferID)
	}

	next := *t
	var land *schema.LandRecord
	if tr.Land != nil {
		l := *f.lands[tr.Land.PropertyID]
		land = &l
		guarded := (len(tr.Land.ExpectedStatus) == 0 || containsLand(tr.Land.ExpectedStatus, l.Status)) &&
			(tr.Land.ExpectedSequence == nil || *tr.Land.ExpectedSequence == l.ProvenanceSequence) &&
			(tr.Land.ExpectedCoolingEnds == nil || (l.CoolingPeriodEnds != nil && l.CoolingPeriodEnds.Equal(*tr.Land.ExpectedCoolingEnds)))
		switch {
		case guarded:
			applyLandColumns(land, tr.Land.Columns)
		case tr.Land.Optional:
			land = nil
		default:
			return nil, domain.Errorf(domain.CodeTransferInvalidState, "land %s changed concurrently", tr.Land.PropertyID)
		}
	}

	next.Status = tr.NewStatus
	next.Version++
	if tr.Change != nil {
		next.StatusHistory = append(append([]domain.StatusChange{}, next.StatusHistory...), *tr.Change)
	}
	applyTransferColumns(&next, tr.Columns)

	f.transfers[next.ID] = &next
	if land != nil {
		f.lands[land.PropertyID] = land
	}
	if tr.History != nil {
		f.history = append(f.history, *tr.History)
	}
	f.outbox = append(f.outbox, tr.Outbox...)

	c := next
	return &c, nil
}

func (f *registryFake) topics() []schema.OutboxTopic {
	f.mu.Lock()
	defer f.mu.Unlock()
	var topics []schema.OutboxTopic
	for _, e := range f.outbox {
		topics = append(topics, e.Topic)
	}
	return topics
}

func applyTransferColumns(t *schema.TransferRecord, cols map[string]interface{}) {
	for k, v := range cols {
		switch k {
		case "stamp_duty_receipt_hash":
			s := v.(string)
			t.StampDutyReceiptHash = &s
		case "seller_signed":
			t.SellerSigned = v.(bool)
		case "buyer_signed":
			t.BuyerSigned = v.(bool)
		case "witness1_signed":
			t.Witness1Signed = v.(bool)
		case "witness2_signed":
			t.Witness2Signed = v.(bool)
		case "cooling_period_ends":
			c := v.(time.Time)
			t.CoolingPeriodEnds = &c
		case "ledger_tx_id":
			s := v.(string)
			t.LedgerTxID = &s
		case "finalize_tx_id":
			s := v.(string)
			t.FinalizeTxID = &s
		case "objection_reason":
			s := v.(string)
			t.ObjectionReason = &s
		case "cancellation_reason":
			s := v.(string)
			t.CancellationReason = &s
		}
	}
}

func applyLandColumns(l *schema.LandRecord, cols map[string]interface{}) {
	for k, v := range cols {
		switch k {
		case "owner_hash":
			l.OwnerHash = v.(string)
		case "owner_name":
			l.OwnerName = v.(string)
		case "status":
			l.Status = v.(domain.LandStatus)
		case "cooling_period_ends":
			if v == nil {
				l.CoolingPeriodEnds = nil
				continue
			}
			c := v.(time.Time)
			l.CoolingPeriodEnds = &c
		case "provenance_sequence":
			l.ProvenanceSequence = v.(int64)
		case "last_tx_id":
			l.LastTxID = v.(string)
		}
	}
}

func containsStatus(list []domain.TransferStatus, s domain.TransferStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsLand(list []domain.LandStatus, s domain.LandStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
