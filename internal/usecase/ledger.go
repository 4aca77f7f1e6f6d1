package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/vitos/grid_ledger/internal/domain"
	"go.uber.org/zap"
)

// Ledger owns every mutation of grid level state. Only the control loop may call
// its mutating methods.
type Ledger struct {
	store  domain.LedgerStore
	calc   *AllocationCalculator
	logger *zap.Logger
	newRef func() string
}

func NewLedger(store domain.LedgerStore, calc *AllocationCalculator, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		calc:   calc,
		logger: logger,
		newRef: func() string { return uuid.NewString() },
	}
}

func (l *Ledger) Lots(ctx context.Context) ([]*domain.Lot, error) {
	return l.store.ListLots(ctx)
}

// Anchor returns level 1, or nil when the grid has not been seeded.
func (l *Ledger) Anchor(ctx context.Context) (*domain.Lot, error) {
	lot, err := l.store.GetLot(ctx, domain.AnchorLevel)
	if errors.Is(err, domain.ErrLotNotFound) {
		return nil, nil
	}
	return lot, err
}

// AssumedShares is the ledger's belief of the position: shares of every held lot.
func (l *Ledger) AssumedShares(ctx context.Context) (int64, error) {
	lots, err := l.store.ListLots(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, lot := range lots {
		if lot.Held() {
			total += lot.Shares
		}
	}
	return total, nil
}

// SeedAnchor inserts level 1 as PENDING. The ledger must be empty.
func (l *Ledger) SeedAnchor(ctx context.Context, anchorPrice, campaignCash float64) (*domain.Lot, error) {
	lots, err := l.store.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	if len(lots) > 0 {
		return nil, domain.ErrLedgerNotEmpty
	}
	plan, err := l.calc.PlanAnchor(anchorPrice, campaignCash)
	if err != nil {
		return nil, fmt.Errorf("plan anchor: %w", err)
	}
	lot := plan.Lot()
	if err := l.store.InsertLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("insert anchor: %w", err)
	}
	l.logger.Info("Seeded anchor",
		zap.Int("grid_level", lot.Level),
		zap.Int64("shares", lot.Shares),
		zap.Float64("buy_price", lot.BuyPrice),
		zap.Float64("sell_target", lot.SellTarget))
	return lot, nil
}

// MaterializeNext inserts the next PENDING level when no level is PENDING or
// ORDER_SENT. It returns nil, nil when a level is still in play. Prices derive from
// the current season's level-1 buy price.
func (l *Ledger) MaterializeNext(ctx context.Context, campaignCash float64) (*domain.Lot, error) {
	lots, err := l.store.ListLots(ctx)
	if err != nil {
		return nil, err
	}

	var anchor *domain.Lot
	maxLevel := 0
	for _, lot := range lots {
		if lot.Status == domain.LotPending || lot.Status == domain.LotOrderSent {
			return nil, nil
		}
		if lot.IsAnchor() {
			anchor = lot
		}
		if lot.Level > maxLevel {
			maxLevel = lot.Level
		}
	}
	if anchor == nil {
		return nil, fmt.Errorf("materialize: %w", domain.ErrLotNotFound)
	}

	// Level maxLevel+1 is index maxLevel.
	plan, err := l.calc.ComputeLevel(anchor.BuyPrice, campaignCash, maxLevel)
	if err != nil {
		return nil, err
	}
	lot := plan.Lot()
	if err := l.store.InsertLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("insert level %d: %w", lot.Level, err)
	}
	l.logger.Info("Generated plan for level",
		zap.Int("grid_level", lot.Level),
		zap.Int64("shares", lot.Shares),
		zap.Float64("buy_price", lot.BuyPrice),
		zap.Float64("sell_target", lot.SellTarget))
	return lot, nil
}

// BeginOrder moves the lot to ORDER_SENT under a fresh client order id and records
// the audit row, before anything is sent to the gateway.
func (l *Ledger) BeginOrder(ctx context.Context, lot *domain.Lot, side domain.OrderSide) (*domain.Order, error) {
	from := domain.LotPending
	price := lot.BuyPrice
	if side == domain.SideSell {
		from = domain.LotOpen
		price = lot.SellTarget
	}
	ref := l.newRef()
	order := &domain.Order{
		ClientOrderID: ref,
		Level:         lot.Level,
		Side:          side,
		Qty:           lot.Shares,
		Price:         price,
		Status:        domain.OrderSubmitting,
	}
	t := domain.LotTransition{Level: lot.Level, From: from, To: domain.LotOrderSent, OrderRef: ref, OrderSide: side}
	if err := l.store.BeginOrder(ctx, t, order); err != nil {
		return nil, err
	}
	lot.Status, lot.OrderRef, lot.OrderSide = domain.LotOrderSent, ref, side
	return order, nil
}

// ConfirmSubmitted records the gateway acknowledgement on the audit row.
func (l *Ledger) ConfirmSubmitted(ctx context.Context, ack *domain.OrderAck) error {
	status := ack.Status
	if status == "" {
		status = domain.OrderNew
	}
	return l.store.UpdateOrder(ctx, ack.ClientOrderID, ack.BrokerOrderID, status, "")
}

// AbortOrder undoes an optimistic ORDER_SENT whose submission failed.
func (l *Ledger) AbortOrder(ctx context.Context, lot *domain.Lot, cause error) error {
	to := priorStatus(lot.OrderSide)
	t := domain.LotTransition{Level: lot.Level, From: domain.LotOrderSent, To: to, OrderRef: lot.OrderRef, OrderSide: lot.OrderSide}
	if err := l.store.AbortOrder(ctx, t, cause.Error()); err != nil {
		return err
	}
	lot.Status, lot.OrderRef, lot.OrderSide = to, "", ""
	return nil
}

// ApplyFill resolves a filled in-flight order: buy -> OPEN, sell -> CLOSED.
func (l *Ledger) ApplyFill(ctx context.Context, lot *domain.Lot) error {
	to := domain.LotOpen
	if lot.OrderSide == domain.SideSell {
		to = domain.LotClosed
	}
	return l.resolve(ctx, lot, to, domain.OrderFilled)
}

// ApplyRejection resolves a dead in-flight order: buy -> PENDING, sell -> OPEN.
func (l *Ledger) ApplyRejection(ctx context.Context, lot *domain.Lot, status domain.OrderStatus) error {
	return l.resolve(ctx, lot, priorStatus(lot.OrderSide), status)
}

func (l *Ledger) resolve(ctx context.Context, lot *domain.Lot, to domain.LotStatus, status domain.OrderStatus) error {
	t := domain.LotTransition{
		Level:       lot.Level,
		From:        domain.LotOrderSent,
		To:          to,
		OrderRef:    lot.OrderRef,
		OrderSide:   lot.OrderSide,
		OrderStatus: status,
	}
	if err := l.store.TransitionLot(ctx, t); err != nil {
		return err
	}
	l.logger.Info("Level transition",
		zap.Int("grid_level", lot.Level),
		zap.String("side", string(lot.OrderSide)),
		zap.String("order_status", string(status)),
		zap.String("from", string(domain.LotOrderSent)),
		zap.String("to", string(to)))
	lot.Status, lot.OrderRef, lot.OrderSide = to, "", ""
	return nil
}

func priorStatus(side domain.OrderSide) domain.LotStatus {
	if side == domain.SideSell {
		return domain.LotOpen
	}
	return domain.LotPending
}

// Campaign reads the campaign meta values.
func (l *Ledger) Campaign(ctx context.Context) (*domain.Campaign, error) {
	var c domain.Campaign
	var err error
	if c.StartingEquity, err = l.metaFloat(ctx, domain.MetaStartingEquity); err != nil {
		return nil, err
	}
	if c.BankedPL, err = l.metaFloat(ctx, domain.MetaBankedPL); err != nil {
		return nil, err
	}
	season, err := l.metaFloat(ctx, domain.MetaSeason)
	if err != nil {
		return nil, err
	}
	c.Season = int(season)
	if c.Paused, err = l.metaBool(ctx, domain.MetaPaused); err != nil {
		return nil, err
	}
	if c.WipeRequested, err = l.metaBool(ctx, domain.MetaWipeRequested); err != nil {
		return nil, err
	}
	if c.Wiped, err = l.metaBool(ctx, domain.MetaWiped); err != nil {
		return nil, err
	}
	return &c, nil
}

// HasStartingEquity reports whether the campaign has been seeded.
func (l *Ledger) HasStartingEquity(ctx context.Context) (bool, error) {
	_, ok, err := l.store.GetMeta(ctx, domain.MetaStartingEquity)
	return ok, err
}

func (l *Ledger) SetStartingEquity(ctx context.Context, equity float64) error {
	return l.store.SetMeta(ctx, domain.MetaStartingEquity, strconv.FormatFloat(equity, 'f', -1, 64))
}

func (l *Ledger) Paused(ctx context.Context) (bool, error) {
	return l.metaBool(ctx, domain.MetaPaused)
}

func (l *Ledger) Wiped(ctx context.Context) (bool, error) {
	return l.metaBool(ctx, domain.MetaWiped)
}

// ResetSeason wipes the levels and compounds the campaign in one store transaction.
func (l *Ledger) ResetSeason(ctx context.Context, r domain.SeasonReset) error {
	return l.store.ResetSeason(ctx, r)
}

// WipeAll drops levels, orders and campaign meta, forcing a fresh anchor at
// the market. The pause flag survives.
func (l *Ledger) WipeAll(ctx context.Context, paused bool) error {
	keep := map[string]string{domain.MetaWiped: "1"}
	if paused {
		keep[domain.MetaPaused] = "1"
	}
	return l.store.WipeAll(ctx, keep)
}

func (l *Ledger) metaFloat(ctx context.Context, key string) (float64, error) {
	v, ok, err := l.store.GetMeta(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s=%q: %w", key, v, err)
	}
	return f, nil
}

func (l *Ledger) metaBool(ctx context.Context, key string) (bool, error) {
	v, _, err := l.store.GetMeta(ctx, key)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}
