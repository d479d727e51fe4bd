package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
)

// LogPublisher writes events to a logger at info level.
type LogPublisher struct {
	Log zerolog.Logger
}

var _ ledger.Publisher = LogPublisher{}

func (p LogPublisher) Publish(_ context.Context, e ledger.Event) error {
	p.Log.Info().
		Str("event", string(e.Type)).
		Str("key", e.Key).
		Time("occurred_at", e.OccurredAt).
		Interface("payload", e.Payload).
		Msg("ledger event")
	return nil
}
