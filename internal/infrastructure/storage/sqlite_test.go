package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/storage"
)

func newStore(t *testing.T) (*storage.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func pendingLot(level int) *domain.Lot {
	return &domain.Lot{
		Level:      level,
		Shares:     30,
		CostBasis:  2940,
		BuyPrice:   98,
		SellTarget: 98.98,
		Status:     domain.LotPending,
	}
}

func sentOrder(ref string, level int, side domain.OrderSide) *domain.Order {
	return &domain.Order{ClientOrderID: ref, Level: level, Side: side, Qty: 30, Price: 98}
}

func TestSQLiteStore_InsertAndGetLot(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))
	assert.Error(t, store.InsertLot(ctx, pendingLot(1)), "level is the primary key")

	lot, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), lot.Shares)
	assert.Equal(t, 98.98, lot.SellTarget)
	assert.Equal(t, domain.LotPending, lot.Status)
	assert.False(t, lot.CreatedAt.IsZero())

	_, err = store.GetLot(ctx, 7)
	assert.True(t, errors.Is(err, domain.ErrLotNotFound), "got %v", err)
}

func TestSQLiteStore_ListLotsOrderedByLevel(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for _, level := range []int{3, 1, 2} {
		require.NoError(t, store.InsertLot(ctx, pendingLot(level)))
	}
	lots, err := store.ListLots(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 3)
	for i, lot := range lots {
		assert.Equal(t, i+1, lot.Level)
	}
}

func TestSQLiteStore_TransitionIsCompareAndSet(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertLot(ctx, pendingLot(2)))

	begin := domain.LotTransition{Level: 2, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-1", 2, domain.SideBuy)))

	// The same begin again finds the lot no longer PENDING.
	err := store.BeginOrder(ctx, begin, sentOrder("ref-2", 2, domain.SideBuy))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)

	// Resolution must name the current ref.
	stale := domain.LotTransition{Level: 2, From: domain.LotOrderSent, To: domain.LotOpen, OrderRef: "ref-0", OrderSide: domain.SideBuy}
	err = store.TransitionLot(ctx, stale)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)

	fill := domain.LotTransition{Level: 2, From: domain.LotOrderSent, To: domain.LotOpen, OrderRef: "ref-1", OrderSide: domain.SideBuy, OrderStatus: domain.OrderFilled}
	require.NoError(t, store.TransitionLot(ctx, fill))

	lot, err := store.GetLot(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.LotOpen, lot.Status)
	assert.Empty(t, lot.OrderRef)
	assert.Empty(t, lot.OrderSide)

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFilled, orders[0].Status)
}

func TestSQLiteStore_IllegalEdges(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))

	tests := []struct {
		name string
		t    domain.LotTransition
	}{
		{"pending to open", domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOpen, OrderSide: domain.SideBuy}},
		{"pending sell", domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "x", OrderSide: domain.SideSell}},
		{"pending to closed", domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotClosed, OrderSide: domain.SideSell}},
		{"closed to pending", domain.LotTransition{Level: 1, From: domain.LotClosed, To: domain.LotPending, OrderSide: domain.SideBuy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.TransitionLot(ctx, tt.t)
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}

	lot, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotPending, lot.Status)
}

func TestSQLiteStore_AbortOrder(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))

	begin := domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-1", 1, domain.SideBuy)))

	abort := domain.LotTransition{Level: 1, From: domain.LotOrderSent, To: domain.LotPending, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.AbortOrder(ctx, abort, "422 insufficient buying power"))

	lot, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotPending, lot.Status)

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFailed, orders[0].Status)
	assert.Equal(t, "422 insufficient buying power", orders[0].Note)
}

func TestSQLiteStore_UpdateOrder(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))

	begin := domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-1", 1, domain.SideBuy)))

	require.NoError(t, store.UpdateOrder(ctx, "ref-1", "broker-9", domain.OrderNew, ""))
	// An empty broker id keeps the recorded one.
	require.NoError(t, store.UpdateOrder(ctx, "ref-1", "", domain.OrderFilled, ""))

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "broker-9", orders[0].BrokerOrderID)
	assert.Equal(t, domain.OrderFilled, orders[0].Status)

	err = store.UpdateOrder(ctx, "missing", "", domain.OrderFilled, "")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound), "got %v", err)
}

func TestSQLiteStore_ListOrdersNewestFirst(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for level := 1; level <= 5; level++ {
		require.NoError(t, store.InsertLot(ctx, pendingLot(level)))
		ref := fmt.Sprintf("ref-%d", level)
		begin := domain.LotTransition{Level: level, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: ref, OrderSide: domain.SideBuy}
		require.NoError(t, store.BeginOrder(ctx, begin, sentOrder(ref, level, domain.SideBuy)))
	}

	orders, err := store.ListOrders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "ref-5", orders[0].ClientOrderID)
	assert.Equal(t, "ref-3", orders[2].ClientOrderID)
	assert.Equal(t, domain.OrderSubmitting, orders[0].Status)
}

func TestSQLiteStore_Meta(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, ok, err := store.GetMeta(ctx, domain.MetaPaused)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetMeta(ctx, domain.MetaPaused, "1"))
	require.NoError(t, store.SetMeta(ctx, domain.MetaPaused, "0"))

	v, ok, err := store.GetMeta(ctx, domain.MetaPaused)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestSQLiteStore_ResetSeason(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))
	require.NoError(t, store.InsertLot(ctx, pendingLot(2)))
	begin := domain.LotTransition{Level: 2, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-2", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-2", 2, domain.SideBuy)))
	require.NoError(t, store.SetMeta(ctx, domain.MetaPaused, "1"))

	require.NoError(t, store.ResetSeason(ctx, domain.SeasonReset{StartingEquity: 9060.4, BankedPL: 60.4, Season: 1}))

	lots, err := store.ListLots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderCanceled, orders[0].Status)
	assert.Equal(t, "season reset", orders[0].Note)

	for key, want := range map[string]string{
		domain.MetaStartingEquity: "9060.4",
		domain.MetaBankedPL:       "60.4",
		domain.MetaSeason:         "1",
		domain.MetaPaused:         "1",
	} {
		v, _, err := store.GetMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, v, key)
	}
}

func TestSQLiteStore_WipeAll(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))
	begin := domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-1", 1, domain.SideBuy)))
	require.NoError(t, store.SetMeta(ctx, domain.MetaStartingEquity, "9000"))

	require.NoError(t, store.SetMeta(ctx, domain.MetaSeason, "3"))

	require.NoError(t, store.WipeAll(ctx, map[string]string{domain.MetaPaused: "1"}))

	lots, err := store.ListLots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)
	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
	_, ok, err := store.GetMeta(ctx, domain.MetaStartingEquity)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetMeta(ctx, domain.MetaSeason)
	require.NoError(t, err)
	assert.False(t, ok)
	paused, ok, err := store.GetMeta(ctx, domain.MetaPaused)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", paused)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	store, path := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertLot(ctx, pendingLot(1)))
	begin := domain.LotTransition{Level: 1, From: domain.LotPending, To: domain.LotOrderSent, OrderRef: "ref-1", OrderSide: domain.SideBuy}
	require.NoError(t, store.BeginOrder(ctx, begin, sentOrder("ref-1", 1, domain.SideBuy)))
	require.NoError(t, store.Close())

	reopened, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	lot, err := reopened.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotOrderSent, lot.Status)
	assert.Equal(t, "ref-1", lot.OrderRef)
	assert.Equal(t, domain.SideBuy, lot.OrderSide)
}
