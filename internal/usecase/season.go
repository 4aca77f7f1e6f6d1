package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/grid_ledger/internal/domain"
	"go.uber.org/zap"
)

// SeasonResult describes a completed season reset.
type SeasonResult struct {
	Season         int
	BankedPL       float64
	StartingEquity float64
}

// SeasonController ends a season once the anchor is sold and compounds capital.
type SeasonController struct {
	ledger  *Ledger
	gateway domain.MarketGateway
	timeout time.Duration
	logger  *zap.Logger
}

func NewSeasonController(ledger *Ledger, gateway domain.MarketGateway, timeout time.Duration, logger *zap.Logger) *SeasonController {
	return &SeasonController{
		ledger:  ledger,
		gateway: gateway,
		timeout: timeout,
		logger:  logger,
	}
}

// OnTick resets the season when level 1 is CLOSED. It returns nil, nil when the
// season is still running.
func (s *SeasonController) OnTick(ctx context.Context) (*SeasonResult, error) {
	anchor, err := s.ledger.Anchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read anchor: %w", err)
	}
	if anchor == nil || anchor.Status != domain.LotClosed {
		return nil, nil
	}

	campaign, err := s.ledger.Campaign(ctx)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	equity, err := s.gateway.GetAccountEquity(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("season reset equity: %w", err)
	}

	lots, err := s.ledger.Lots(ctx)
	if err != nil {
		return nil, err
	}
	s.CancelInFlight(ctx, lots)
	for _, lot := range lots {
		if lot.Status == domain.LotOpen {
			s.logger.Warn("Open level dropped at season reset, position will need operator attention",
				zap.Int("grid_level", lot.Level),
				zap.Int64("shares", lot.Shares))
		}
	}

	result := &SeasonResult{
		Season:         campaign.Season + 1,
		BankedPL:       equity - campaign.StartingEquity,
		StartingEquity: equity,
	}
	if err := s.ledger.ResetSeason(ctx, domain.SeasonReset{
		StartingEquity: result.StartingEquity,
		BankedPL:       result.BankedPL,
		Season:         result.Season,
	}); err != nil {
		return nil, fmt.Errorf("reset season: %w", err)
	}

	s.logger.Info(">>> Anchor sold, season reset <<<",
		zap.Int("season", result.Season),
		zap.Float64("banked_pl", result.BankedPL),
		zap.Float64("starting_equity", result.StartingEquity))
	return result, nil
}

// CancelInFlight asks the gateway to cancel every ORDER_SENT order. Failures are
// logged and otherwise ignored.
func (s *SeasonController) CancelInFlight(ctx context.Context, lots []*domain.Lot) {
	for _, lot := range lots {
		if lot.Status != domain.LotOrderSent || lot.OrderRef == "" {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.gateway.CancelOrder(callCtx, lot.OrderRef)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to cancel in-flight order",
				zap.Int("grid_level", lot.Level),
				zap.String("order_ref", lot.OrderRef),
				zap.Error(err))
		}
	}
}
