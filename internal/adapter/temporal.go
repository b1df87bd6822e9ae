package adapter

import (
	"context"

	"go.temporal.io/sdk/activity"
)

// Activity reads the retry state of the running activity
//
//go:generate mockgen -source=temporal.go -destination=../mocks/temporal.go -package=mocks -mock_names=Activity=MockActivity
type Activity interface {
	// Attempt returns the 1-based attempt number of the current execution
	Attempt(ctx context.Context) int32
	// WorkflowID returns the id of the workflow that scheduled the activity
	WorkflowID(ctx context.Context) string
}

type temporalActivity struct{}

// NewActivity returns an Activity backed by the Temporal activity context
func NewActivity() Activity {
	return temporalActivity{}
}

func (temporalActivity) Attempt(ctx context.Context) int32 {
	return activity.GetInfo(ctx).Attempt
}

func (temporalActivity) WorkflowID(ctx context.Context) string {
	return activity.GetInfo(ctx).WorkflowExecution.ID
}
