package usecase

import (
	"context"

	"github.com/vitos/grid_ledger/internal/domain"
)

// Controls are the operator switches. They only set flags; the control loop
// acts on them at its next tick.
type Controls struct {
	meta domain.MetaRepository
}

func NewControls(meta domain.MetaRepository) *Controls {
	return &Controls{meta: meta}
}

func (c *Controls) Pause(ctx context.Context) error {
	return c.meta.SetMeta(ctx, domain.MetaPaused, "1")
}

func (c *Controls) Resume(ctx context.Context) error {
	return c.meta.SetMeta(ctx, domain.MetaPaused, "0")
}

// RequestWipe asks the loop to drop all levels, orders and campaign state.
func (c *Controls) RequestWipe(ctx context.Context) error {
	return c.meta.SetMeta(ctx, domain.MetaWipeRequested, "1")
}
