package sweeper

import (
	"context"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/anchor"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

// NewAnchorReconcileSweeper completes degraded anchors once the public ledger is reachable again
func NewAnchorReconcileSweeper(config Config, anchors anchor.Service, clock adapter.Clock) Sweeper {
	return newPeriodicSweeper("anchor-reconcile-sweeper", config, clock, func(ctx context.Context, limit int) (int, error) {
		completed, err := anchors.ReconcileUnverified(ctx, limit)
		if completed > 0 {
			logger.InfoCtx(ctx, "Reconciled anchors", zap.Int("completed", completed))
		}
		return completed, err
	})
}
