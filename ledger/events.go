package ledger

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS - Optional side channels of the engine
// =============================================================================

// EventType names what happened.
type EventType string

const (
	EventTransactionPosted   EventType = "transaction.posted"
	EventTransactionReversed EventType = "transaction.reversed"
	EventOccurrenceCreated   EventType = "occurrence.created"
	EventSweepCompleted      EventType = "sweep.completed"
	EventSnapshotCompleted   EventType = "snapshot.completed"
	EventRecalcCompleted     EventType = "recalc.completed"
)

// Event is published after a write commits. Payload is a Transaction or
// one of the run reports.
type Event struct {
	Type       EventType `json:"type"`
	Key        string    `json:"key"` // partition key: account id or run kind
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events. Publish failures are logged, never returned
// to the caller of the engine.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Locker serializes work on one key across processes.
// Acquire returns ErrSeriesLocked when the key stays held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// NopLocker grants every lock immediately.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
