package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// GridConfig holds the strategy and loop settings of a single-symbol grid.
type GridConfig struct {
	Symbol            string
	Allocation        AllocationParams
	Orders            OrderPolicy
	MaxPositionShares int64
	// InitialCash overrides the broker equity as the first season's capital.
	// It is ignored after an operator wipe.
	InitialCash float64
	// InitialPrice pins the first anchor instead of the market price. It is
	// ignored after an operator wipe.
	InitialPrice float64
	PollInterval time.Duration
	CallTimeout  time.Duration
	// OrderLookupGrace is how long an ORDER_SENT level may stay unknown to the
	// gateway before its submission is treated as lost.
	OrderLookupGrace time.Duration
}

// GridStatus is a read-only snapshot for the dashboard.
type GridStatus struct {
	Symbol          string           `json:"symbol"`
	Price           float64          `json:"price"`
	PriceAt         time.Time        `json:"price_at"`
	Paused          bool             `json:"paused"`
	Season          int              `json:"season"`
	StartingEquity  float64          `json:"starting_equity"`
	BankedPL        float64          `json:"banked_pl"`
	// Equity is the broker equity last seen by the loop; CurrentPL is it
	// minus StartingEquity.
	Equity          float64          `json:"equity"`
	EquityAt        time.Time        `json:"equity_at"`
	CurrentPL       float64          `json:"current_pl"`
	ReductionFactor float64          `json:"reduction_factor"`
	TotalLevels     int              `json:"total_levels"`
	Levels          int              `json:"levels"`
	LevelsByStatus  map[string]int   `json:"levels_by_status"`
	Reconcile       *ReconcileReport `json:"reconcile,omitempty"`
	LastTickAt      time.Time        `json:"last_tick_at"`
	LastTickError   string           `json:"last_tick_error,omitempty"`
	Exhausted       string           `json:"exhausted,omitempty"`
}

// GridService drives one control loop tick at a time. It is the only writer of
// the ledger; readers use Status and the store's list queries.
type GridService struct {
	cfg        GridConfig
	gateway    domain.MarketGateway
	ledger     *Ledger
	reconciler *Reconciler
	season     *SeasonController
	executor   *TradeExecutor
	evaluator  *LevelEvaluator
	logger     *zap.Logger
	now        func() time.Time

	mu            sync.RWMutex
	lastPrice     float64
	lastPriceAt   time.Time
	lastEquity    float64
	lastEquityAt  time.Time
	lastTickAt    time.Time
	lastTickError string
	exhausted     string
}

func NewGridService(store domain.LedgerStore, gateway domain.MarketGateway, cfg GridConfig, logger *zap.Logger) (*GridService, error) {
	calc := NewAllocationCalculator(cfg.Allocation)
	if err := calc.Validate(); err != nil {
		return nil, err
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.OrderLookupGrace <= 0 {
		cfg.OrderLookupGrace = 3 * cfg.CallTimeout
	}

	ledger := NewLedger(store, calc, logger)
	return &GridService{
		cfg:        cfg,
		gateway:    gateway,
		ledger:     ledger,
		reconciler: NewReconciler(ledger, gateway, cfg.Symbol, cfg.CallTimeout, logger),
		season:     NewSeasonController(ledger, gateway, cfg.CallTimeout, logger),
		executor:   NewTradeExecutor(gateway, cfg.Symbol, cfg.Orders, cfg.CallTimeout),
		evaluator:  NewLevelEvaluator(cfg.MaxPositionShares),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *GridService) Ledger() *Ledger {
	return s.ledger
}

// Start validates what a cold start needs. Its errors are fatal.
func (s *GridService) Start(ctx context.Context) error {
	if err := s.ensureStartingEquity(ctx); err != nil {
		return fmt.Errorf("starting equity: %w", err)
	}

	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if len(lots) > 0 {
		s.logger.Info("Resuming grid from ledger",
			zap.String("symbol", s.cfg.Symbol),
			zap.Int("levels", len(lots)))
		return nil
	}

	campaign, err := s.ledger.Campaign(ctx)
	if err != nil {
		return fmt.Errorf("read campaign: %w", err)
	}
	if s.pinsAnchor(campaign) {
		return nil
	}
	if _, err := s.fetchPrice(ctx); err != nil {
		return fmt.Errorf("no anchor price for empty ledger: %w", err)
	}
	return nil
}

// Run ticks until ctx is canceled. Tick errors are logged and the loop goes on.
func (s *GridService) Run(ctx context.Context) {
	s.logger.Info("Starting grid control loop",
		zap.String("symbol", s.cfg.Symbol),
		zap.Duration("interval", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Grid control loop stopped")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *GridService) runTick(ctx context.Context) {
	err := s.Tick(ctx)
	s.mu.Lock()
	s.lastTickAt = s.now().UTC()
	s.lastTickError = ""
	if err != nil {
		s.lastTickError = err.Error()
	}
	s.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Tick skipped", zap.Error(err))
	}
}

// Tick runs one pass of the control loop. A returned error means the rest of
// the tick was skipped; nothing is left half-applied.
func (s *GridService) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	campaign, err := s.ledger.Campaign(ctx)
	if err != nil {
		return s.tickError("campaign", err)
	}
	if campaign.WipeRequested {
		if err := s.wipe(ctx, campaign.Paused); err != nil {
			return s.tickError("wipe", err)
		}
		return nil
	}

	metrics.SetPaused(campaign.Paused)
	if campaign.Paused {
		return nil
	}

	if err := s.ensureStartingEquity(ctx); err != nil {
		return s.tickError("equity", err)
	}

	if err := s.reconcileOrders(ctx); err != nil {
		return s.tickError("orders", err)
	}

	result, err := s.season.OnTick(ctx)
	if err != nil {
		return s.tickError("season", err)
	}
	if result != nil {
		metrics.RecordSeasonReset(result.BankedPL)
		s.reconciler.Forget()
		s.setExhausted("")
		return nil
	}

	price, err := s.fetchPrice(ctx)
	if err != nil {
		return s.tickError("price", err)
	}
	s.refreshEquity(ctx)

	report, err := s.reconciler.Check(ctx)
	if err != nil {
		return s.tickError("reconcile", err)
	}
	metrics.SetReconciliation(report.Reconciled, report.AssumedShares, report.ActualShares)
	if !report.Reconciled {
		return nil
	}

	// Re-read: starting equity may have been set above.
	campaign, err = s.ledger.Campaign(ctx)
	if err != nil {
		return s.tickError("campaign", err)
	}

	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return s.tickError("ledger", err)
	}
	if len(lots) == 0 {
		anchorPrice := price
		if s.pinsAnchor(campaign) {
			anchorPrice = s.cfg.InitialPrice
		}
		anchor, err := s.ledger.SeedAnchor(ctx, anchorPrice, campaign.StartingEquity)
		if err != nil {
			return s.tickError("seed", err)
		}
		lots = []*domain.Lot{anchor}
	}

	if err := s.evaluate(ctx, lots, price, report.ActualShares); err != nil {
		return s.tickError("evaluate", err)
	}

	if err := s.materialize(ctx, campaign.StartingEquity); err != nil {
		return s.tickError("materialize", err)
	}
	return nil
}

// pinsAnchor reports whether the configured initial price seeds the anchor:
// only in the first season of a campaign that was never wiped.
func (s *GridService) pinsAnchor(c *domain.Campaign) bool {
	return s.cfg.InitialPrice > 0 && c.Season == 0 && !c.Wiped
}

func (s *GridService) tickError(step string, err error) error {
	metrics.RecordTickError(step)
	return fmt.Errorf("%s: %w", step, err)
}

func (s *GridService) ensureStartingEquity(ctx context.Context) error {
	ok, err := s.ledger.HasStartingEquity(ctx)
	if err != nil || ok {
		return err
	}

	wiped, err := s.ledger.Wiped(ctx)
	if err != nil {
		return err
	}
	var equity float64
	if !wiped {
		equity = s.cfg.InitialCash
	}
	if equity <= 0 {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		equity, err = s.gateway.GetAccountEquity(callCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	if equity <= 0 {
		return fmt.Errorf("non-positive equity %.2f", equity)
	}
	if err := s.ledger.SetStartingEquity(ctx, equity); err != nil {
		return err
	}
	s.logger.Info("Campaign capital set", zap.Float64("starting_equity", equity))
	return nil
}

func (s *GridService) fetchPrice(ctx context.Context) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	price, err := s.gateway.GetPrice(callCtx, s.cfg.Symbol)
	cancel()
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: got %v", domain.ErrPriceUnavailable, price)
	}

	s.mu.Lock()
	s.lastPrice = price
	s.lastPriceAt = s.now().UTC()
	s.mu.Unlock()
	metrics.SetPrice(price)
	return price, nil
}

// refreshEquity caches broker equity for the status snapshot. A failure only
// leaves the previous value in place.
func (s *GridService) refreshEquity(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	equity, err := s.gateway.GetAccountEquity(callCtx)
	cancel()
	if err != nil {
		s.logger.Debug("Equity refresh failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.lastEquity = equity
	s.lastEquityAt = s.now().UTC()
	s.mu.Unlock()
}

// reconcileOrders resolves every ORDER_SENT level whose order reached a
// terminal state at the gateway.
func (s *GridService) reconcileOrders(ctx context.Context) error {
	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return err
	}
	for _, lot := range lots {
		if lot.Status != domain.LotOrderSent {
			continue
		}

		status, err := s.executor.Status(ctx, lot.OrderRef)
		if errors.Is(err, domain.ErrOrderNotFound) {
			if s.now().Sub(lot.UpdatedAt) < s.cfg.OrderLookupGrace {
				continue
			}
			s.logger.Warn("In-flight order unknown to gateway, reverting level",
				zap.Int("grid_level", lot.Level),
				zap.String("order_ref", lot.OrderRef))
			status = domain.OrderRejected
			err = nil
		}
		if err != nil {
			return fmt.Errorf("order status level %d: %w", lot.Level, err)
		}

		switch {
		case status == domain.OrderFilled:
			from := lot.Status
			side := lot.OrderSide
			if err := s.ledger.ApplyFill(ctx, lot); err != nil {
				return err
			}
			metrics.RecordOrder(string(side), string(status))
			metrics.RecordTransition(string(from), string(lot.Status))
		case status.Dead():
			from := lot.Status
			side := lot.OrderSide
			if err := s.ledger.ApplyRejection(ctx, lot, status); err != nil {
				return err
			}
			metrics.RecordOrder(string(side), string(status))
			metrics.RecordTransition(string(from), string(lot.Status))
		}
	}
	return nil
}

func (s *GridService) evaluate(ctx context.Context, lots []*domain.Lot, price float64, position int64) error {
	for _, lot := range lots {
		if s.evaluator.ShouldSell(lot, price) {
			if err := s.submit(ctx, lot, domain.SideSell); err != nil {
				return err
			}
		}
	}

	committed := position
	for _, lot := range lots {
		if lot.Status == domain.LotOrderSent && lot.OrderSide == domain.SideBuy {
			committed += lot.Shares
		}
	}

	// Deepest level first.
	pending := make([]*domain.Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.Status == domain.LotPending {
			pending = append(pending, lot)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Level > pending[j].Level })

	for _, lot := range pending {
		if !s.evaluator.ShouldBuy(lot, price) {
			continue
		}
		if !s.evaluator.WithinCap(lot, committed) {
			s.logger.Info("Buy skipped, position cap reached",
				zap.Int("grid_level", lot.Level),
				zap.Int64("shares", lot.Shares),
				zap.Int64("committed", committed),
				zap.Int64("max_position_shares", s.cfg.MaxPositionShares))
			continue
		}
		if err := s.submit(ctx, lot, domain.SideBuy); err != nil {
			return err
		}
		if lot.Status == domain.LotOrderSent {
			committed += lot.Shares
		}
	}
	return nil
}

// submit persists ORDER_SENT before the network call. Only a definite rejection
// reverts the level; any other failure leaves it for reconcileOrders, which
// finds the order by its client order id.
func (s *GridService) submit(ctx context.Context, lot *domain.Lot, side domain.OrderSide) error {
	prev := lot.Status
	order, err := s.ledger.BeginOrder(ctx, lot, side)
	if err != nil {
		return fmt.Errorf("begin %s level %d: %w", side, lot.Level, err)
	}
	metrics.RecordTransition(string(prev), string(domain.LotOrderSent))

	ack, err := s.executor.Execute(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrOrderRejected) {
			s.logger.Warn("Order rejected, reverting level",
				zap.Int("grid_level", lot.Level),
				zap.String("side", string(side)),
				zap.Error(err))
			if abortErr := s.ledger.AbortOrder(ctx, lot, err); abortErr != nil {
				return abortErr
			}
			metrics.RecordOrder(string(side), string(domain.OrderRejected))
			metrics.RecordTransition(string(domain.LotOrderSent), string(prev))
			return nil
		}
		s.logger.Warn("Order submission outcome unknown, will reconcile",
			zap.Int("grid_level", lot.Level),
			zap.String("side", string(side)),
			zap.String("order_ref", order.ClientOrderID),
			zap.Error(err))
		return nil
	}

	if err := s.ledger.ConfirmSubmitted(ctx, ack); err != nil {
		s.logger.Warn("Failed to record order acknowledgement",
			zap.String("order_ref", ack.ClientOrderID),
			zap.Error(err))
	}
	metrics.RecordOrder(string(side), string(domain.OrderNew))
	s.logger.Info(">>> Order submitted <<<",
		zap.Int("grid_level", lot.Level),
		zap.String("side", string(side)),
		zap.Int64("qty", order.Qty),
		zap.Float64("limit_price", order.Price),
		zap.String("order_ref", order.ClientOrderID),
		zap.String("broker_order_id", ack.BrokerOrderID))
	return nil
}

func (s *GridService) materialize(ctx context.Context, cash float64) error {
	lot, err := s.ledger.MaterializeNext(ctx, cash)
	switch {
	case errors.Is(err, domain.ErrBelowMinimum), errors.Is(err, domain.ErrGridExhausted):
		if s.setExhausted(err.Error()) {
			s.logger.Info("Grid has no further levels this season", zap.Error(err))
		}
		return nil
	case err != nil:
		return err
	}
	if lot != nil {
		metrics.RecordTransition("", string(lot.Status))
	}
	return nil
}

// setExhausted records the reason and reports whether it changed.
func (s *GridService) setExhausted(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.exhausted != reason
	s.exhausted = reason
	return changed
}

func (s *GridService) wipe(ctx context.Context, paused bool) error {
	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return err
	}
	s.season.CancelInFlight(ctx, lots)
	if err := s.ledger.WipeAll(ctx, paused); err != nil {
		return err
	}
	s.reconciler.Forget()
	s.setExhausted("")
	s.logger.Warn(">>> Ledger wiped by operator <<<",
		zap.Int("levels_dropped", len(lots)),
		zap.Bool("paused", paused))
	return nil
}

// Status builds a dashboard snapshot from the store and the loop's cached state.
func (s *GridService) Status(ctx context.Context) (*GridStatus, error) {
	campaign, err := s.ledger.Campaign(ctx)
	if err != nil {
		return nil, err
	}
	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return nil, err
	}

	st := &GridStatus{
		Symbol:          s.cfg.Symbol,
		Paused:          campaign.Paused,
		Season:          campaign.Season,
		StartingEquity:  campaign.StartingEquity,
		BankedPL:        campaign.BankedPL,
		Levels:          len(lots),
		LevelsByStatus:  make(map[string]int),
		Reconcile:       s.reconciler.Last(),
		ReductionFactor: s.cfg.Allocation.ReductionFactor,
		TotalLevels:     s.cfg.Allocation.TotalLevels,
	}
	for _, lot := range lots {
		st.LevelsByStatus[string(lot.Status)]++
	}

	s.mu.RLock()
	st.Price = s.lastPrice
	st.PriceAt = s.lastPriceAt
	st.Equity = s.lastEquity
	st.EquityAt = s.lastEquityAt
	st.LastTickAt = s.lastTickAt
	st.LastTickError = s.lastTickError
	st.Exhausted = s.exhausted
	s.mu.RUnlock()
	if st.Equity > 0 && st.StartingEquity > 0 {
		st.CurrentPL = roundCents(st.Equity - st.StartingEquity)
	}
	return st, nil
}
