package usecase

import "github.com/vitos/grid_ledger/internal/domain"

type LevelEvaluator struct {
	maxPositionShares int64
}

func NewLevelEvaluator(maxPositionShares int64) *LevelEvaluator {
	return &LevelEvaluator{maxPositionShares: maxPositionShares}
}

// ShouldSell reports a take-profit trigger for a held level.
func (e *LevelEvaluator) ShouldSell(lot *domain.Lot, price float64) bool {
	return lot.Status == domain.LotOpen && price >= lot.SellTarget
}

// ShouldBuy reports a buy trigger for a planned level.
func (e *LevelEvaluator) ShouldBuy(lot *domain.Lot, price float64) bool {
	return lot.Status == domain.LotPending && price <= lot.BuyPrice
}

// WithinCap reports whether buying the lot keeps the position at or under the cap.
// committed is the position plus shares of buys already in flight. A cap of 0 disables it.
func (e *LevelEvaluator) WithinCap(lot *domain.Lot, committed int64) bool {
	if e.maxPositionShares <= 0 {
		return true
	}
	return committed+lot.Shares <= e.maxPositionShares
}
