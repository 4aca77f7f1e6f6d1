package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/storage"
)

func main() {
	path := "gridbot.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{domain.MetaSeason, domain.MetaStartingEquity, domain.MetaBankedPL, domain.MetaPaused, domain.MetaWipeRequested} {
		v, ok, err := store.GetMeta(ctx, key)
		switch {
		case err != nil:
			fmt.Printf("  ❌ %s: %v\n", key, err)
		case !ok:
			fmt.Printf("  %s: (unset)\n", key)
		default:
			fmt.Printf("  %s: %s\n", key, v)
		}
	}

	lots, err := store.ListLots(ctx)
	if err != nil {
		fmt.Printf("Failed to list levels: %v\n", err)
		os.Exit(1)
	}

	var held int64
	fmt.Printf("Found %d levels:\n", len(lots))
	for _, l := range lots {
		fmt.Printf("- Level %d: %s, Shares: %d, Buy: %.2f, Sell: %.2f, Cost: %.2f",
			l.Level, l.Status, l.Shares, l.BuyPrice, l.SellTarget, l.CostBasis)
		if l.Status == domain.LotOrderSent {
			fmt.Printf(", In flight: %s %s", l.OrderSide, l.OrderRef)
		}
		fmt.Println()
		if l.Held() {
			held += l.Shares
		}
	}
	fmt.Printf("Assumed shares: %d\n", held)

	orders, err := store.ListOrders(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list orders: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Last %d orders:\n", len(orders))
	for _, o := range orders {
		fmt.Printf("- %s L%d %s %d @ %.2f [%s] %s\n",
			o.CreatedAt.Format("2006-01-02 15:04:05"), o.Level, o.Side, o.Qty, o.Price, o.Status, o.Note)
	}
}
