package property

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// Source names where a property view was read from
type Source string

const (
	SourceLedger Source = "ledger"
	SourceMirror Source = "mirror"
)

// View is a land record as served to readers
type View struct {
	PropertyID         domain.PropertyID        `json:"property_id"`
	OwnerHash          string                   `json:"owner_hash"`
	OwnerName          string                   `json:"owner_name"`
	AreaCentiSqM       int64                    `json:"area_centi_sqm"`
	Status             domain.LandStatus        `json:"status"`
	DisputeStatus      domain.DisputeStatus     `json:"dispute_status"`
	EncumbranceStatus  domain.EncumbranceStatus `json:"encumbrance_status"`
	CoolingPeriodEnds  *time.Time               `json:"cooling_period_ends,omitempty"`
	ProvenanceSequence int64                    `json:"provenance_sequence"`
	LastTxID           string                   `json:"last_tx_id"`
	Source             Source                   `json:"source"`
}

// Reader serves single-record property lookups
//
//go:generate mockgen -source=reader.go -destination=../mocks/property_reader.go -package=mocks -mock_names=Reader=MockPropertyReader
type Reader interface {
	// GetProperty reads the ledger and falls back to the mirror only when the ledger is unreachable
	GetProperty(ctx context.Context, id string) (*View, error)

	// GetOwnershipHistory returns the mirrored provenance chain, oldest first
	GetOwnershipHistory(ctx context.Context, id string) ([]schema.OwnershipHistoryEntry, error)
}

type reader struct {
	ledger ledger.Client
	mirror store.LandStore
}

// NewReader creates a ledger-first property reader
func NewReader(client ledger.Client, mirror store.LandStore) Reader {
	return &reader{ledger: client, mirror: mirror}
}

func (r *reader) GetProperty(ctx context.Context, id string) (*View, error) {
	propertyID, err := domain.ParsePropertyID(id)
	if err != nil {
		return nil, err
	}

	p, err := ledger.GetProperty(ctx, r.ledger, propertyID)
	if err == nil {
		return fromLedger(p), nil
	}
	if !unreachable(err) {
		return nil, err
	}

	logger.WarnCtx(ctx, "Ledger unreachable, serving property from mirror",
		zap.String("propertyID", id),
		zap.Error(err))

	land, mirrorErr := r.mirror.GetLand(ctx, propertyID)
	if mirrorErr != nil {
		if errors.Is(mirrorErr, domain.ErrLandNotFound) {
			return nil, mirrorErr
		}
		logger.ErrorCtx(ctx, mirrorErr, zap.String("propertyID", id))
		// the ledger failure is the one callers can act on
		return nil, err
	}
	return fromMirror(land), nil
}

func (r *reader) GetOwnershipHistory(ctx context.Context, id string) ([]schema.OwnershipHistoryEntry, error) {
	propertyID, err := domain.ParsePropertyID(id)
	if err != nil {
		return nil, err
	}
	return r.mirror.GetOwnershipHistory(ctx, propertyID)
}

func unreachable(err error) bool {
	return errors.Is(err, domain.ErrLedgerUnavailable) ||
		errors.Is(err, domain.ErrLedgerTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

func fromLedger(p *ledger.Property) *View {
	return &View{
		PropertyID:         p.PropertyID,
		OwnerHash:          p.OwnerHash,
		OwnerName:          p.OwnerName,
		AreaCentiSqM:       p.AreaCentiSqM,
		Status:             p.Status,
		DisputeStatus:      p.DisputeStatus,
		EncumbranceStatus:  p.EncumbranceStatus,
		CoolingPeriodEnds:  p.CoolingPeriodEnds,
		ProvenanceSequence: p.ProvenanceSequence,
		LastTxID:           p.LastTxID,
		Source:             SourceLedger,
	}
}

func fromMirror(l *schema.LandRecord) *View {
	return &View{
		PropertyID:         l.PropertyID,
		OwnerHash:          l.OwnerHash,
		OwnerName:          l.OwnerName,
		AreaCentiSqM:       l.AreaCentiSqM,
		Status:             l.Status,
		DisputeStatus:      l.DisputeStatus,
		EncumbranceStatus:  l.EncumbranceStatus,
		CoolingPeriodEnds:  l.CoolingPeriodEnds,
		ProvenanceSequence: l.ProvenanceSequence,
		LastTxID:           l.LastTxID,
		Source:             SourceMirror,
	}
}
