package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// SignalAnchorTrigger is delivered to a running AnchorScope workflow for every
// anchor.trigger job of its scope
const SignalAnchorTrigger = "anchor-trigger"

// AnchorWorkflowID is the id shared by all anchoring runs of one scope. Reusing the
// id is what keeps anchoring of a scope serialized.
func AnchorWorkflowID(scope domain.AnchorScope) string {
	return "anchor-" + string(scope)
}

// AnchorScope anchors the scope, then keeps anchoring for as long as new triggers
// arrived during the previous run. Triggers arriving while a run is in progress
// coalesce into one follow-up run.
func (w *workerCore) AnchorScope(ctx workflow.Context, trigger domain.AnchorTrigger) error {
	logger.InfoWf(ctx, "Starting anchor scope workflow",
		zap.String("scope", string(trigger.Scope)),
		zap.String("txID", trigger.TxID))

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: w.config.AnchorActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        w.config.AnchorMaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeValidation, ErrTypeIntegrityHold},
		},
	}
	activityCtx := workflow.WithActivityOptions(ctx, activityOptions)

	signals := workflow.GetSignalChannel(ctx, SignalAnchorTrigger)

	for run := 0; run < w.config.AnchorRunsPerExecution; run++ {
		var outcome *AnchorOutcome
		err := workflow.ExecuteActivity(activityCtx, w.executor.AnchorStateRoot, trigger.Scope).Get(activityCtx, &outcome)
		if err != nil {
			w.deadLetterAnchor(ctx, trigger, err)
			// A later trigger gets a fresh workflow; pending signals are dropped with this one
			return nil
		}

		if outcome == nil {
			logger.DebugWf(ctx, "Nothing new to anchor", zap.String("scope", string(trigger.Scope)))
		} else {
			logger.InfoWf(ctx, "Scope anchored",
				zap.String("scope", string(outcome.Scope)),
				zap.String("anchorID", outcome.AnchorID),
				zap.Uint64("startBlock", outcome.StartBlock),
				zap.Uint64("endBlock", outcome.EndBlock),
				zap.String("status", string(outcome.Status)))
			if outcome.Status == schema.AnchorStatusDegraded {
				logger.WarnWf(ctx, "Anchor recorded in degraded mode",
					zap.String("anchorID", outcome.AnchorID))
			}
		}

		// Drain every trigger that arrived during the run
		pending := 0
		for {
			var next domain.AnchorTrigger
			if !signals.ReceiveAsync(&next) {
				break
			}
			trigger = mergeTrigger(trigger, next)
			pending++
		}
		if pending == 0 {
			return nil
		}
		logger.DebugWf(ctx, "Triggers arrived during anchoring, running again",
			zap.String("scope", string(trigger.Scope)),
			zap.Int("pending", pending))
	}

	return workflow.NewContinueAsNewError(ctx, w.AnchorScope, trigger)
}

func mergeTrigger(current, next domain.AnchorTrigger) domain.AnchorTrigger {
	if next.Scope != "" {
		current.Scope = next.Scope
	}
	if next.TxID != "" {
		current.TxID = next.TxID
		current.PropertyID = next.PropertyID
	}
	return current
}

func (w *workerCore) deadLetterAnchor(ctx workflow.Context, trigger domain.AnchorTrigger, cause error) {
	info := workflow.GetInfo(ctx)
	letter := DeadLetter{
		Source:  info.WorkflowExecution.ID + "/" + info.WorkflowExecution.RunID,
		Topic:   string(schema.OutboxTopicAnchorTrigger),
		Key:     string(trigger.Scope),
		Error:   cause.Error(),
		Attempt: w.config.AnchorMaxAttempts,
	}

	deadLetterCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 10,
		},
	})
	if err := workflow.ExecuteActivity(deadLetterCtx, w.executor.RecordDeadLetter, letter).Get(deadLetterCtx, nil); err != nil {
		logger.ErrorWf(ctx, err, zap.String("scope", string(trigger.Scope)))
	}
}
