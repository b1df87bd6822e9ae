package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// uniquePropertyID keeps committed rows of concurrent tests apart from each other
func uniquePropertyID() domain.PropertyID {
	return domain.PropertyID("KA-BLR-ANK-HSR-" + ulid.Make().String() + "-1")
}

func cleanupProperty(t *testing.T, id domain.PropertyID) {
	t.Cleanup(func() {
		for _, table := range []string{"transfer_records", "ownership_history", "encumbrances", "disputes", "land_records"} {
			testDB.Exec("DELETE FROM "+table+" WHERE property_id = ?", id)
		}
	})
}

func testConcurrentInitiate(t *testing.T) {
	ctx := context.Background()
	s := NewPGStore(testDB)
	id := uniquePropertyID()
	cleanupProperty(t, id)
	registerTestLand(t, s, id, testSeller)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateTransfer(ctx, CreateTransferInput{
				Transfer: buildTestTransfer(id, testSeller),
				Now:      time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, domain.ErrTransferInvalidState) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	var active int64
	require.NoError(t, testDB.Model(&schema.TransferRecord{}).
		Where("property_id = ?", id).
		Where("status NOT IN ?", domain.TerminalTransferStatuses).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func testConcurrentAnchorReservation(t *testing.T) {
	ctx := context.Background()
	s := NewPGStore(testDB)
	scope := domain.AnchorScope("T" + ulid.Make().String()[20:])
	t.Cleanup(func() {
		testDB.Exec("DELETE FROM anchors WHERE scope = ?", scope)
		testDB.Exec("DELETE FROM anchor_heads WHERE scope = ?", scope)
	})

	heights := []uint64{101, 101, 150, 150, 151, 200, 200, 250}
	var (
		mu       sync.Mutex
		reserved []*schema.AnchorRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range heights {
		h := h
		g.Go(func() error {
			a, err := s.ReserveAnchorRange(gctx, scope, h, uuid.NewString())
			if err != nil {
				return err
			}
			if a != nil {
				mu.Lock()
				reserved = append(reserved, a)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var anchors []schema.AnchorRecord
	require.NoError(t, testDB.Where("scope = ?", scope).Order("start_block ASC").Find(&anchors).Error)
	require.Len(t, anchors, len(reserved))
	require.NotEmpty(t, anchors)

	assert.Equal(t, uint64(0), anchors[0].StartBlock)
	for i := 1; i < len(anchors); i++ {
		assert.Equal(t, anchors[i-1].EndBlock+1, anchors[i].StartBlock, "ranges must be contiguous")
	}
	assert.LessOrEqual(t, anchors[len(anchors)-1].EndBlock, uint64(249))
}

func testConcurrentAuditAppend(t *testing.T) {
	ctx := context.Background()
	s := NewPGStore(testDB)
	rt := domain.AuditResourceType("test-" + ulid.Make().String())
	t.Cleanup(func() {
		testDB.Exec("DELETE FROM audit_entries WHERE resource_type = ?", rt)
		testDB.Exec("DELETE FROM audit_chain_heads WHERE resource_type = ?", rt)
	})

	const appends = 10
	var g errgroup.Group
	for i := 0; i < appends; i++ {
		g.Go(func() error {
			_, _, err := s.AppendAuditEntry(ctx, rt, nil, fakeAuditBuilder("R-1"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	entries, err := s.ListAuditEntries(ctx, rt, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, appends)
	assert.Equal(t, domain.GenesisHash, entries[0].PreviousEntryHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, int64(i+1), entries[i].ScopeSequence)
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PreviousEntryHash)
	}
}

func testConcurrentLienProjection(t *testing.T) {
	ctx := context.Background()
	s := NewPGStore(testDB)
	id := uniquePropertyID()
	cleanupProperty(t, id)
	registerTestLand(t, s, id, testSeller)

	adds := []string{string(id) + "-E1", string(id) + "-E2", string(id) + "-E3", string(id) + "-E4"}
	for _, encID := range adds {
		p := &domain.EncumbranceAdded{EncumbranceID: encID, PropertyID: id, Category: "MORTGAGE", HolderName: "Bank"}
		require.NoError(t, s.ProjectEncumbranceAdded(ctx, ProjectionInput{Event: buildTestEvent(t, 1, p)}, p))
	}

	// releasing every encumbrance concurrently must end CLEAR
	var g errgroup.Group
	for _, encID := range adds {
		encID := encID
		g.Go(func() error {
			p := &domain.EncumbranceReleased{EncumbranceID: encID, PropertyID: id}
			ev, err := domain.NewLedgerEvent(uuid.NewString(), 2, "tx-release", time.Now().UTC(), p)
			if err != nil {
				return err
			}
			return s.ProjectEncumbranceReleased(ctx, ProjectionInput{Event: ev}, p)
		})
	}
	require.NoError(t, g.Wait())

	land, err := s.GetLand(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.EncumbranceStatusClear, land.EncumbranceStatus)
}
