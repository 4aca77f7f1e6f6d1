package domain

import "context"

// MarketGateway defines the brokerage capabilities the grid needs.
// Implementations must honor ctx deadlines; a deadline hit is a transient failure.
type MarketGateway interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetPosition returns shares held, 0 if there is no position.
	GetPosition(ctx context.Context, symbol string) (int64, error)
	GetAccountEquity(ctx context.Context) (float64, error)

	SubmitLimitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	// GetOrderStatus looks an order up by the client order id used at submission.
	GetOrderStatus(ctx context.Context, clientOrderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
}

// LotRepository defines storage operations for grid levels.
type LotRepository interface {
	ListLots(ctx context.Context) ([]*Lot, error)
	GetLot(ctx context.Context, level int) (*Lot, error)
	InsertLot(ctx context.Context, lot *Lot) error
	// TransitionLot atomically moves a lot from one status to another. It fails with
	// ErrInvalidTransition when the stored status is not from.
	TransitionLot(ctx context.Context, t LotTransition) error
	// BeginOrder atomically moves the lot to ORDER_SENT and appends the audit row.
	BeginOrder(ctx context.Context, t LotTransition, order *Order) error
	// AbortOrder reverts an ORDER_SENT lot whose submission never reached the gateway
	// and marks its audit row failed, in one transaction.
	AbortOrder(ctx context.Context, t LotTransition, note string) error
}

// LotTransition describes a compare-and-set status change of a lot.
type LotTransition struct {
	Level     int
	From      LotStatus
	To        LotStatus
	OrderRef  string    // expected ref when From is ORDER_SENT, new ref when To is ORDER_SENT
	OrderSide OrderSide // side of the order being placed or resolved

	// OrderStatus, when set together with OrderRef, is written to the audit row
	// in the same transaction.
	OrderStatus OrderStatus
}

// OrderRepository defines storage operations for the orders audit log.
type OrderRepository interface {
	ListOrders(ctx context.Context, limit int) ([]*Order, error)
	UpdateOrder(ctx context.Context, clientOrderID string, brokerOrderID string, status OrderStatus, note string) error
}

// MetaRepository is the key/value store for campaign state and operator flags.
type MetaRepository interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// LedgerStore is the durable store behind the grid ledger.
type LedgerStore interface {
	LotRepository
	OrderRepository
	MetaRepository

	// ResetSeason deletes all lots, closes non-terminal audit rows as canceled and
	// writes the new campaign values, in one transaction.
	ResetSeason(ctx context.Context, r SeasonReset) error
	// WipeAll drops lots, orders and meta, then writes keep in the same transaction.
	WipeAll(ctx context.Context, keep map[string]string) error
}

// SeasonReset carries the campaign values written at a season reset.
type SeasonReset struct {
	StartingEquity float64
	BankedPL       float64
	Season         int
}
