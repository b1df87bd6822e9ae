package sweeper

import (
	"context"
)

// Sweeper is a background loop that repairs state left behind by crashed or
// timed-out requests: transfers whose cooling period has lapsed and anchors
// that were submitted but never confirmed.
//
//go:generate mockgen -source=sweeper.go -destination=../mocks/sweeper.go -package=mocks -mock_names=Sweeper=MockSweeper
type Sweeper interface {
	// Start runs passes until ctx is canceled or Stop is called
	Start(ctx context.Context) error

	// Stop ends the loop after the in-flight pass completes or ctx expires
	Stop(ctx context.Context) error

	// Name identifies the sweeper in logs
	Name() string
}
