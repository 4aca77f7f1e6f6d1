package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/grid_ledger/internal/domain"
)

// OrderPolicy holds the limit order settings applied to every submission.
type OrderPolicy struct {
	TimeInForce   domain.TimeInForce
	ExtendedHours bool
}

type TradeExecutor struct {
	gateway domain.MarketGateway
	symbol  string
	policy  OrderPolicy
	timeout time.Duration
}

func NewTradeExecutor(gateway domain.MarketGateway, symbol string, policy OrderPolicy, timeout time.Duration) *TradeExecutor {
	if policy.TimeInForce == "" {
		policy.TimeInForce = domain.TIFDay
	}
	return &TradeExecutor{
		gateway: gateway,
		symbol:  symbol,
		policy:  policy,
		timeout: timeout,
	}
}

// Execute submits the audit order as a limit order under its client order id.
func (e *TradeExecutor) Execute(ctx context.Context, order *domain.Order) (*domain.OrderAck, error) {
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return nil, fmt.Errorf("invalid side: %s", order.Side)
	}
	if order.Qty <= 0 {
		return nil, fmt.Errorf("invalid qty: %d", order.Qty)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ack, err := e.gateway.SubmitLimitOrder(ctx, domain.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        e.symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		LimitPrice:    order.Price,
		TimeInForce:   e.policy.TimeInForce,
		ExtendedHours: e.policy.ExtendedHours,
	})
	if err != nil {
		return nil, err
	}
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = order.ClientOrderID
	}
	return ack, nil
}

// Status looks up the gateway status of an in-flight order.
func (e *TradeExecutor) Status(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.gateway.GetOrderStatus(ctx, clientOrderID)
}
