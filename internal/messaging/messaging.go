// Package messaging defines the ports between the ledger event feed and the
// broker that fans events out to mirror consumers.
package messaging

import (
	"context"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// EventHandler is called for every ledger event in block order
type EventHandler func(event *domain.LedgerEvent) error

// ProgressHandler is called once every event below nextBlock has been handled
type ProgressHandler func(nextBlock uint64)

// Subscriber reads the permissioned ledger's event feed
//
//go:generate mockgen -source=messaging.go -destination=../mocks/messaging.go -package=mocks -mock_names=Subscriber=MockSubscriber,Publisher=MockPublisher
type Subscriber interface {
	// SubscribeEvents delivers events from fromBlock onward until ctx is cancelled
	// or the handler fails
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler, progress ProgressHandler) error

	// GetLatestBlock returns the current chain height
	GetLatestBlock(ctx context.Context) (uint64, error)

	Close()
}

// Publisher forwards ledger events to the broker. The broker drops
// duplicates by event id, so replaying a block range is safe.
type Publisher interface {
	PublishEvent(ctx context.Context, event *domain.LedgerEvent) error
	Close()
}
