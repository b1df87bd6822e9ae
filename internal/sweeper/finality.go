package sweeper

import (
	"context"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/transfer"
)

// NewFinalitySweeper finalizes transfers whose cooling period ended without objection
func NewFinalitySweeper(config Config, transfers transfer.Service, clock adapter.Clock) Sweeper {
	return newPeriodicSweeper("finality-sweeper", config, clock, func(ctx context.Context, limit int) (int, error) {
		res, err := transfers.FinalizeDue(ctx, limit)
		if err != nil {
			return 0, err
		}
		if res.Due > 0 {
			logger.InfoCtx(ctx, "Finality sweep completed",
				zap.Int("due", res.Due),
				zap.Int("finalized", res.Finalized),
				zap.Int("skipped", res.Skipped),
				zap.Int("failed", res.Failed))
		}
		// failures stay due; waiting the interval keeps a down ledger from being hammered
		if res.Failed > 0 {
			return 0, nil
		}
		return res.Due, nil
	})
}
