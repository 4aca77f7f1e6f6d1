package usecase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ledger/internal/domain"
)

// AllocationParams are the strategy constants shared by every level of a campaign.
type AllocationParams struct {
	ReductionFactor float64 // R in (0, 1]
	TotalLevels     int     // N
	StepPct         float64 // fractional drop of the anchor per level, e.g. 0.01
	ProfitPct       float64 // fractional take-profit over the buy price, e.g. 0.01
	MinOrderShares  int64
}

// LevelPlan is a materialized level before it enters the ledger.
type LevelPlan struct {
	Level      int
	Weight     float64
	Shares     int64
	BuyPrice   float64
	SellTarget float64
	CostBasis  float64
}

// Lot converts the plan into a PENDING lot.
func (p LevelPlan) Lot() *domain.Lot {
	return &domain.Lot{
		Level:      p.Level,
		Shares:     p.Shares,
		CostBasis:  p.CostBasis,
		BuyPrice:   p.BuyPrice,
		SellTarget: p.SellTarget,
		Status:     domain.LotPending,
	}
}

// AllocationCalculator turns campaign inputs into level plans. It holds no state.
type AllocationCalculator struct {
	params AllocationParams
}

func NewAllocationCalculator(params AllocationParams) *AllocationCalculator {
	return &AllocationCalculator{params: params}
}

func (c *AllocationCalculator) Params() AllocationParams {
	return c.params
}

// Validate checks the strategy constants.
func (c *AllocationCalculator) Validate() error {
	p := c.params
	if p.ReductionFactor <= 0 || p.ReductionFactor > 1 {
		return fmt.Errorf("reduction factor %v: %w", p.ReductionFactor, domain.ErrInvalidInput)
	}
	if p.TotalLevels < 1 {
		return fmt.Errorf("total levels %d: %w", p.TotalLevels, domain.ErrInvalidInput)
	}
	if p.StepPct <= 0 || p.StepPct >= 1 {
		return fmt.Errorf("step %v: %w", p.StepPct, domain.ErrInvalidInput)
	}
	if p.ProfitPct <= 0 {
		return fmt.Errorf("profit step %v: %w", p.ProfitPct, domain.ErrInvalidInput)
	}
	return nil
}

// Weight returns the share of campaign cash assigned to index i:
// ((1-R)/(1-R^N)) * R^i, or 1/N when R is 1.
func (c *AllocationCalculator) Weight(i int) float64 {
	r, n := c.params.ReductionFactor, c.params.TotalLevels
	if r == 1 {
		return 1 / float64(n)
	}
	return (1 - r) / (1 - math.Pow(r, float64(n))) * math.Pow(r, float64(i))
}

// ComputeLevel plans level i+1 for i in [0, N).
func (c *AllocationCalculator) ComputeLevel(anchorPrice, campaignCash float64, i int) (LevelPlan, error) {
	if err := c.Validate(); err != nil {
		return LevelPlan{}, err
	}
	if anchorPrice <= 0 || campaignCash <= 0 || i < 0 {
		return LevelPlan{}, fmt.Errorf("anchor %v cash %v index %d: %w", anchorPrice, campaignCash, i, domain.ErrInvalidInput)
	}
	if i >= c.params.TotalLevels {
		return LevelPlan{}, fmt.Errorf("index %d of %d: %w", i, c.params.TotalLevels, domain.ErrGridExhausted)
	}

	level := i + 1
	buyPrice := roundCents(anchorPrice * (1 - float64(level)*c.params.StepPct))
	if buyPrice <= 0 {
		return LevelPlan{}, fmt.Errorf("level %d price %v: %w", level, buyPrice, domain.ErrGridExhausted)
	}
	return c.plan(level, c.Weight(i), buyPrice, campaignCash)
}

// PlanAnchor plans level 1 at the anchor price itself with weight w(0). A
// sub-cent price rounds up so the market price that seeded it still triggers the buy.
func (c *AllocationCalculator) PlanAnchor(anchorPrice, campaignCash float64) (LevelPlan, error) {
	if err := c.Validate(); err != nil {
		return LevelPlan{}, err
	}
	if anchorPrice <= 0 || campaignCash <= 0 {
		return LevelPlan{}, fmt.Errorf("anchor %v cash %v: %w", anchorPrice, campaignCash, domain.ErrInvalidInput)
	}
	return c.plan(domain.AnchorLevel, c.Weight(0), ceilCents(anchorPrice), campaignCash)
}

func (c *AllocationCalculator) plan(level int, weight, buyPrice, cash float64) (LevelPlan, error) {
	shares := int64(math.Floor(cash * weight / buyPrice))
	p := LevelPlan{
		Level:      level,
		Weight:     weight,
		Shares:     shares,
		BuyPrice:   buyPrice,
		SellTarget: roundCents(buyPrice * (1 + c.params.ProfitPct)),
		CostBasis:  roundCents(float64(shares) * buyPrice),
	}
	minShares := c.params.MinOrderShares
	if minShares < 1 {
		minShares = 1
	}
	if shares < minShares {
		return p, fmt.Errorf("level %d: %d shares < %d: %w", level, shares, minShares, domain.ErrBelowMinimum)
	}
	return p, nil
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func ceilCents(v float64) float64 {
	return decimal.NewFromFloat(v).RoundCeil(2).InexactFloat64()
}
