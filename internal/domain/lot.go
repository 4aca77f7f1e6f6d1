package domain

import "time"

// LotStatus is the lifecycle state of a grid level.
type LotStatus string

const (
	LotPending   LotStatus = "PENDING"
	LotOrderSent LotStatus = "ORDER_SENT"
	LotOpen      LotStatus = "OPEN"
	LotClosed    LotStatus = "CLOSED"
)

// Lot represents one rung of the grid.
type Lot struct {
	Level      int       `json:"level"`
	Shares     int64     `json:"shares"`
	CostBasis  float64   `json:"cost_basis"`
	BuyPrice   float64   `json:"buy_price"`
	SellTarget float64   `json:"sell_target"`
	Status     LotStatus `json:"status"`
	OrderRef   string    `json:"order_ref,omitempty"`
	OrderSide  OrderSide `json:"order_side,omitempty"` // side of the in-flight order while ORDER_SENT
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsAnchor reports whether the lot is level 1.
func (l *Lot) IsAnchor() bool {
	return l.Level == AnchorLevel
}

// Held reports whether the shares of this lot are expected to sit in the account:
// the buy filled and the exit has not filled yet.
func (l *Lot) Held() bool {
	return l.Status == LotOpen || (l.Status == LotOrderSent && l.OrderSide == SideSell)
}

// AnchorLevel is the level number of the anchor.
const AnchorLevel = 1

// CanTransition reports whether from -> to is a legal edge of the lot state machine.
// side is the side of the order involved (submitted or resolved) and is ignored for
// transitions that do not involve an order.
func CanTransition(from, to LotStatus, side OrderSide) bool {
	switch from {
	case LotPending:
		return to == LotOrderSent && side == SideBuy
	case LotOpen:
		return to == LotOrderSent && side == SideSell
	case LotOrderSent:
		switch side {
		case SideBuy:
			return to == LotOpen || to == LotPending
		case SideSell:
			return to == LotClosed || to == LotOpen
		}
	}
	return false
}

// Campaign is the outer unit of capital for one season.
type Campaign struct {
	StartingEquity float64 `json:"starting_equity"`
	BankedPL       float64 `json:"banked_pl"`
	Paused         bool    `json:"paused"`
	Season         int     `json:"season"`
	WipeRequested  bool    `json:"wipe_requested"`
	// Wiped is set once an operator wipe has run. The configured initial
	// price and cash only apply to a campaign that was never wiped.
	Wiped          bool    `json:"wiped"`
}

// Meta keys of the campaign key/value store.
const (
	MetaPaused         = "paused"
	MetaStartingEquity = "starting_equity"
	MetaBankedPL       = "banked_pl"
	MetaSeason         = "season"
	MetaWipeRequested  = "wipe_requested"
	MetaWiped          = "wiped"
)
