package domain

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the status reported by the market gateway for a submitted order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"

	// Local-only statuses of the audit log.
	OrderSubmitting OrderStatus = "submitting"
	OrderFailed     OrderStatus = "failed"
)

// Terminal reports whether no further status change is expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// Dead reports whether the order ended without a fill.
func (s OrderStatus) Dead() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderRequest is a limit order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Qty           int64
	LimitPrice    float64
	TimeInForce   TimeInForce
	ExtendedHours bool
}

// OrderAck is what the gateway returns for an accepted submission.
type OrderAck struct {
	ClientOrderID string
	BrokerOrderID string
	Status        OrderStatus
}

// Order is one entry of the orders audit log.
type Order struct {
	ID            int64       `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Level         int         `json:"level"`
	Side          OrderSide   `json:"side"`
	Qty           int64       `json:"qty"`
	Price         float64     `json:"price"`
	Status        OrderStatus `json:"status"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
