package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/usecase"
	"go.uber.org/zap"
)

// closeAnchor walks level 1 through buy and sell fills.
func closeAnchor(t *testing.T, ctx context.Context, ledger *usecase.Ledger) {
	t.Helper()
	anchor, err := ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideBuy)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))
	_, err = ledger.BeginOrder(ctx, anchor, domain.SideSell)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyFill(ctx, anchor))
}

func TestSeason_NoResetWhileAnchorActive(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	gw := NewMockGateway(100, 9100)
	season := usecase.NewSeasonController(ledger, gw, time.Second, zap.NewNop())

	res, err := season.OnTick(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = ledger.SeedAnchor(ctx, 100, 9000)
	require.NoError(t, err)
	res, err = season.OnTick(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSeason_ResetCompoundsEquity(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	gw := NewMockGateway(101, 9031)
	season := usecase.NewSeasonController(ledger, gw, time.Second, zap.NewNop())

	require.NoError(t, ledger.SetStartingEquity(ctx, 9000))
	closeAnchor(t, ctx, ledger)

	// A pending deeper level and one in flight.
	lvl2 := &domain.Lot{Level: 2, Shares: 30, BuyPrice: 98, SellTarget: 98.98, CostBasis: 2940, Status: domain.LotPending}
	require.NoError(t, store.InsertLot(ctx, lvl2))
	_, err := ledger.BeginOrder(ctx, lvl2, domain.SideBuy)
	require.NoError(t, err)

	res, err := season.OnTick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Season)
	assert.InDelta(t, 31.0, res.BankedPL, 1e-9)
	assert.Equal(t, 9031.0, res.StartingEquity)

	lots, err := ledger.Lots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)

	c, err := ledger.Campaign(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9031.0, c.StartingEquity)
	assert.InDelta(t, 31.0, c.BankedPL, 1e-9)
	assert.Equal(t, 1, c.Season)

	// The in-flight order was canceled at the broker and closed in the audit log.
	assert.Equal(t, []string{lvl2.OrderRef}, gw.Canceled)
	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	for _, o := range orders {
		assert.True(t, o.Status.Terminal(), "order %s left %s", o.ClientOrderID, o.Status)
	}
}

func TestSeason_EquityFailureLeavesLedgerIntact(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	gw := NewMockGateway(101, 0)
	gw.EquityErr = domain.ErrGatewayUnavailable
	season := usecase.NewSeasonController(ledger, gw, time.Second, zap.NewNop())

	require.NoError(t, ledger.SetStartingEquity(ctx, 9000))
	closeAnchor(t, ctx, ledger)

	res, err := season.OnTick(ctx)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable), "got %v", err)

	lots, err := ledger.Lots(ctx)
	require.NoError(t, err)
	assert.Len(t, lots, 1)
	assert.Equal(t, domain.LotClosed, lots[0].Status)
}
