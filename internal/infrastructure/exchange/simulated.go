package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ledger/internal/domain"
	"go.uber.org/zap"
)

type simOrder struct {
	id            string
	clientOrderID string
	side          domain.OrderSide
	qty           int64
	limit         float64
	status        domain.OrderStatus
	createdAt     time.Time
}

// SimOrder is a read-only view of a simulated order.
type SimOrder struct {
	ID            string             `json:"id"`
	ClientOrderID string             `json:"client_order_id"`
	Side          domain.OrderSide   `json:"side"`
	Qty           int64              `json:"qty"`
	LimitPrice    float64            `json:"limit_price"`
	Status        domain.OrderStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
}

// SimulatedGateway is an in-memory broker. Resting limit orders fill at their
// limit price once the market price crosses them: buys at or below, sells at
// or above.
type SimulatedGateway struct {
	symbol string
	logger *zap.Logger

	mu       sync.Mutex
	price    float64
	cash     decimal.Decimal
	shares   int64
	orders   map[string]*simOrder
	sequence []string
}

func NewSimulatedGateway(symbol string, initialCash, startPrice float64, logger *zap.Logger) *SimulatedGateway {
	return &SimulatedGateway{
		symbol: symbol,
		logger: logger,
		price:  startPrice,
		cash:   decimal.NewFromFloat(initialCash),
		orders: make(map[string]*simOrder),
	}
}

// SetPrice moves the market and runs the match engine.
func (g *SimulatedGateway) SetPrice(price float64) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = price
	g.match()
	return nil
}

func (g *SimulatedGateway) Price() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price
}

func (g *SimulatedGateway) Cash() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash.InexactFloat64()
}

// Orders lists every order in submission order.
func (g *SimulatedGateway) Orders() []SimOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SimOrder, 0, len(g.sequence))
	for _, id := range g.sequence {
		o := g.orders[id]
		out = append(out, SimOrder{
			ID:            o.id,
			ClientOrderID: o.clientOrderID,
			Side:          o.side,
			Qty:           o.qty,
			LimitPrice:    o.limit,
			Status:        o.status,
			CreatedAt:     o.createdAt,
		})
	}
	return out
}

func (g *SimulatedGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if symbol != g.symbol || g.price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return g.price, nil
}

func (g *SimulatedGateway) GetPosition(ctx context.Context, symbol string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if symbol != g.symbol {
		return 0, nil
	}
	return g.shares, nil
}

// GetAccountEquity is cash plus shares marked at the current price.
func (g *SimulatedGateway) GetAccountEquity(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	equity := g.cash.Add(decimal.NewFromFloat(g.price).Mul(decimal.NewFromInt(g.shares)))
	return equity.Round(2).InexactFloat64(), nil
}

func (g *SimulatedGateway) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.orders[req.ClientOrderID]; ok {
		return &domain.OrderAck{ClientOrderID: existing.clientOrderID, BrokerOrderID: existing.id, Status: existing.status}, nil
	}
	if req.Symbol != g.symbol {
		return nil, fmt.Errorf("%w: unknown symbol %s", domain.ErrOrderRejected, req.Symbol)
	}
	if req.Qty <= 0 || req.LimitPrice <= 0 {
		return nil, fmt.Errorf("%w: qty %d at %.2f", domain.ErrOrderRejected, req.Qty, req.LimitPrice)
	}
	switch req.Side {
	case domain.SideBuy:
		cost := decimal.NewFromFloat(req.LimitPrice).Mul(decimal.NewFromInt(req.Qty))
		if cost.GreaterThan(g.cash) {
			return nil, fmt.Errorf("%w: insufficient buying power", domain.ErrOrderRejected)
		}
	case domain.SideSell:
		if available := g.shares - g.restingSellQty(); req.Qty > available {
			return nil, fmt.Errorf("%w: insufficient qty, have %d available", domain.ErrOrderRejected, available)
		}
	default:
		return nil, fmt.Errorf("%w: side %q", domain.ErrOrderRejected, req.Side)
	}

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	o := &simOrder{
		id:            uuid.NewString(),
		clientOrderID: clientID,
		side:          req.Side,
		qty:           req.Qty,
		limit:         req.LimitPrice,
		status:        domain.OrderNew,
		createdAt:     time.Now().UTC(),
	}
	g.orders[clientID] = o
	g.sequence = append(g.sequence, clientID)
	g.logger.Info("Simulated order accepted",
		zap.String("side", string(o.side)),
		zap.Int64("qty", o.qty),
		zap.Float64("limit_price", o.limit),
		zap.String("order_id", o.id))

	g.match()
	return &domain.OrderAck{ClientOrderID: clientID, BrokerOrderID: o.id, Status: o.status}, nil
}

// restingSellQty is the quantity already promised to open sell orders.
func (g *SimulatedGateway) restingSellQty() int64 {
	var qty int64
	for _, o := range g.orders {
		if o.side == domain.SideSell && !o.status.Terminal() {
			qty += o.qty
		}
	}
	return qty
}

func (g *SimulatedGateway) GetOrderStatus(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[clientOrderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return o.status, nil
}

func (g *SimulatedGateway) CancelOrder(ctx context.Context, clientOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[clientOrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.status.Terminal() {
		return fmt.Errorf("order %s is %s", o.id, o.status)
	}
	o.status = domain.OrderCanceled
	return nil
}

// match fills every crossed open order, oldest first. Caller holds g.mu.
func (g *SimulatedGateway) match() {
	open := make([]*simOrder, 0)
	for _, id := range g.sequence {
		if o := g.orders[id]; o.status == domain.OrderNew {
			open = append(open, o)
		}
	}

	for _, o := range open {
		notional := decimal.NewFromFloat(o.limit).Mul(decimal.NewFromInt(o.qty))
		switch {
		case o.side == domain.SideBuy && g.price <= o.limit:
			if notional.GreaterThan(g.cash) {
				continue
			}
			g.cash = g.cash.Sub(notional)
			g.shares += o.qty
		case o.side == domain.SideSell && g.price >= o.limit:
			if o.qty > g.shares {
				continue
			}
			g.cash = g.cash.Add(notional)
			g.shares -= o.qty
		default:
			continue
		}
		o.status = domain.OrderFilled
		g.logger.Info("Simulated fill",
			zap.String("side", string(o.side)),
			zap.Int64("qty", o.qty),
			zap.Float64("limit_price", o.limit),
			zap.Float64("market_price", g.price))
	}
}
