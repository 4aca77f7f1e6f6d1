package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/grid_ledger/internal/domain"
	"go.uber.org/zap"
)

// ReconcileReport compares the ledger's belief with the broker's position.
type ReconcileReport struct {
	Reconciled    bool      `json:"reconciled"`
	AssumedShares int64     `json:"assumed_shares"`
	ActualShares  int64     `json:"actual_shares"`
	Delta         int64     `json:"delta"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Reconciler gates trading on the ledger matching the gateway position.
// It never corrects a mismatch.
type Reconciler struct {
	ledger  *Ledger
	gateway domain.MarketGateway
	symbol  string
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.RWMutex
	last *ReconcileReport
}

func NewReconciler(ledger *Ledger, gateway domain.MarketGateway, symbol string, timeout time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		gateway: gateway,
		symbol:  symbol,
		timeout: timeout,
		logger:  logger,
	}
}

// Check computes a fresh report. An error means the check could not be made
// (transient), not that the books disagree.
func (r *Reconciler) Check(ctx context.Context) (*ReconcileReport, error) {
	assumed, err := r.ledger.AssumedShares(ctx)
	if err != nil {
		return nil, fmt.Errorf("assumed shares: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	actual, err := r.gateway.GetPosition(callCtx, r.symbol)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}

	report := &ReconcileReport{
		Reconciled:    assumed == actual,
		AssumedShares: assumed,
		ActualShares:  actual,
		Delta:         actual - assumed,
		CheckedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	prev := r.last
	r.last = report
	r.mu.Unlock()

	if !report.Reconciled && (prev == nil || prev.Reconciled || prev.Delta != report.Delta) {
		r.logger.Warn("Reconciliation mismatch, trading suspended",
			zap.Int64("assumed_shares", assumed),
			zap.Int64("actual_shares", actual),
			zap.Int64("delta", report.Delta))
	} else if report.Reconciled && prev != nil && !prev.Reconciled {
		r.logger.Info("Reconciliation restored",
			zap.Int64("shares", actual))
	}
	return report, nil
}

// Last returns the most recent report, nil before the first check.
func (r *Reconciler) Last() *ReconcileReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// Forget drops the cached report, e.g. after a wipe.
func (r *Reconciler) Forget() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}
