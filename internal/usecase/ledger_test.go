package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/usecase"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T) (*usecase.Ledger, domain.LedgerStore) {
	t.Helper()
	store := newTestStore(t)
	calc := usecase.NewAllocationCalculator(exampleParams())
	return usecase.NewLedger(store, calc, zap.NewNop()), store
}

func TestLedger_SeedAnchorOnlyOnEmptyLedger(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	assert.Equal(t, 1, anchor.Level)
	assert.Equal(t, domain.LotPending, anchor.Status)
	assert.Equal(t, int64(31), anchor.Shares)

	_, err = ledger.SeedAnchor(ctx, 100, 9000)
	assert.True(t, errors.Is(err, domain.ErrLedgerNotEmpty), "got %v", err)
}

func TestLedger_BuyLifecycle(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)

	order, err := ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ClientOrderID)
	assert.Equal(t, 100.0, order.Price)
	assert.Equal(t, int64(31), order.Qty)

	stored, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotOrderSent, stored.Status)
	assert.Equal(t, order.ClientOrderID, stored.OrderRef)
	assert.Equal(t, domain.SideBuy, stored.OrderSide)

	// In-flight buys are not held.
	assumed, err := ledger.AssumedShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), assumed)

	require.NoError(t, ledger.ApplyFill(ctx, stored))

	stored, err = store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotOpen, stored.Status)
	assert.Empty(t, stored.OrderRef)

	assumed, err = ledger.AssumedShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31), assumed)

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFilled, orders[0].Status)
}

func TestLedger_SellInFlightCountsAsHeld(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))

	_, err = ledger.BeginOrder(ctx, anchor, domain.SideSell)
	require.NoError(t, err)

	assumed, err := ledger.AssumedShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31), assumed)

	// Canceled take-profit returns the lot to OPEN.
	require.NoError(t, ledger.ApplyRejection(ctx, anchor, domain.OrderCanceled))
	stored, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotOpen, stored.Status)
}

func TestLedger_AbortRevertsAndMarksAuditFailed(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)

	require.NoError(t, ledger.AbortOrder(ctx, anchor, errors.New("insufficient buying power")))

	stored, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotPending, stored.Status)

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFailed, orders[0].Status)
	assert.Equal(t, "insufficient buying power", orders[0].Note)
}

func TestLedger_StaleRefCannotResolve(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)

	stale := *anchor
	stale.OrderRef = "some-other-order"
	err = ledger.ApplyFill(ctx, &stale)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)
}

func TestLedger_ClosedNeverReopens(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideSell)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))
	assert.Equal(t, domain.LotClosed, anchor.Status)

	for _, side := range []domain.OrderSide{domain.SideBuy, domain.SideSell} {
		_, err := ledger.BeginOrder(ctx, anchor, side)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "side %s: got %v", side, err)
	}
	for _, to := range []domain.LotStatus{domain.LotPending, domain.LotOpen, domain.LotOrderSent} {
		err := store.TransitionLot(ctx, domain.LotTransition{Level: 1, From: domain.LotClosed, To: to, OrderSide: domain.SideBuy})
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "to %s: got %v", to, err)
	}

	stored, err := store.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LotClosed, stored.Status)
}

func TestLedger_MaterializeNext(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)

	// Anchor still pending: nothing to do.
	next, err := ledger.MaterializeNext(ctx, 9000)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	next, err = ledger.MaterializeNext(ctx, 9000)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, ledger.ApplyFill(ctx, anchor))
	next, err = ledger.MaterializeNext(ctx, 9000)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 98.0, next.BuyPrice)
	assert.Equal(t, int64(30), next.Shares)

	// Level 2 pending blocks level 3.
	again, err := ledger.MaterializeNext(ctx, 9000)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestLedger_MaterializeExhausted(t *testing.T) {
	store := newTestStore(t)
	p := exampleParams()
	p.TotalLevels = 1
	ledger := usecase.NewLedger(store, usecase.NewAllocationCalculator(p), zap.NewNop())
	ctx := context.Background()

	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))

	_, err = ledger.MaterializeNext(ctx, 9000)
	assert.True(t, errors.Is(err, domain.ErrGridExhausted), "got %v", err)
}

func TestLedger_Campaign(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	ok, err := ledger.HasStartingEquity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.SetStartingEquity(ctx, 9000))
	require.NoError(t, store.SetMeta(ctx, domain.MetaPaused, "1"))

	c, err := ledger.Campaign(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, c.StartingEquity)
	assert.True(t, c.Paused)
	assert.Equal(t, 0, c.Season)
	assert.False(t, c.WipeRequested)

	require.NoError(t, store.SetMeta(ctx, domain.MetaStartingEquity, "not-a-number"))
	_, err = ledger.Campaign(ctx)
	assert.Error(t, err)
}
