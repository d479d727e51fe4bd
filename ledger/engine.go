/*
Package ledger is the consistency engine of the finance ledger.

PURPOSE:
  Keeps account balances consistent with posted transactions and keeps
  the daily balance history derived from them. It has no global state
  and no background goroutines: every operation is a direct call with an
  injected clock, driven by an external scheduler, the HTTP API or the
  CLI.

OPERATIONS:
  PostTransaction                  Validate, persist, apply balance effect
  ReverseTransaction               Delete, undo balance effect
  RunRecurringAndInstallmentSweep  Materialize due series occurrences
  RunDailyBalanceSnapshot          Upsert one history row per account
  RecalculateBalanceHistory        Wipe and regenerate history in a range

DATA FLOW:
  Scheduler -> Sweep -> {Occurrence, Guard} -> Poster -> Store
  Scheduler -> Snapshot -> Store
  On demand -> Recalculation -> Store

BALANCE MODEL:
  Account.Balance is a cached value maintained by the Poster. Reads are
  O(1); the cost is drift risk if anything writes transactions around
  the Poster. Replay recalculation derives history from the transaction
  log and relies on the cache being exact.

SEE ALSO:
  - store.go: Persistence contract
  - sweep.go, snapshot.go, recalc.go: The scheduled jobs
*/
package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	// Location decides "today" for snapshots. Sweeps always use UTC days.
	Location *time.Location

	// SnapshotGrace backdates snapshots taken shortly after local midnight.
	SnapshotGrace time.Duration

	// RecalcMode is the default mode of RecalculateBalanceHistory.
	RecalcMode RecalcMode

	// MaxRecalcDays caps the range of one recalculation. 0 disables.
	MaxRecalcDays int
}

func DefaultConfig() Config {
	return Config{
		Location:      time.UTC,
		SnapshotGrace: 2 * time.Hour,
		RecalcMode:    RecalcCurrent,
		MaxRecalcDays: 3660,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store     TxStore
	Poster    *Poster
	Guard     Guard
	Locker    Locker
	Publisher Publisher
	Log       zerolog.Logger
	Now       Clock
	Config    Config
}

// NewEngine returns an engine with no lock, no publisher, the wall clock
// and default config. Callers replace fields before first use.
func NewEngine(store TxStore, log zerolog.Logger) *Engine {
	e := &Engine{
		Store:     store,
		Locker:    NopLocker{},
		Publisher: NopPublisher{},
		Log:       log,
		Now:       SystemClock,
		Config:    DefaultConfig(),
	}
	e.Poster = &Poster{Now: func() time.Time { return e.Now() }}
	return e
}

// PostTransaction posts one transaction atomically.
func (e *Engine) PostTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	var created Transaction
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		created, err = e.Poster.Post(ctx, s, tx)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	e.Log.Info().
		Str("component", "poster").
		Str("transaction_id", string(created.ID)).
		Str("account_id", string(created.AccountID)).
		Str("type", string(created.Type)).
		Str("amount", created.PostedAmount().StringFixed(2)).
		Msg("transaction posted")
	e.publish(ctx, Event{Type: EventTransactionPosted, Key: string(created.AccountID), OccurredAt: created.CreatedAt, Payload: created})
	return created, nil
}

// ReverseTransaction deletes a transaction and undoes its balance effect.
func (e *Engine) ReverseTransaction(ctx context.Context, id TransactionID) (Transaction, error) {
	var reversed Transaction
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		reversed, err = e.Poster.Reverse(ctx, s, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	e.Log.Info().
		Str("component", "poster").
		Str("transaction_id", string(reversed.ID)).
		Str("account_id", string(reversed.AccountID)).
		Msg("transaction reversed")
	e.publish(ctx, Event{Type: EventTransactionReversed, Key: string(reversed.AccountID), OccurredAt: e.Now(), Payload: reversed})
	return reversed, nil
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if err := e.Publisher.Publish(ctx, ev); err != nil {
		e.Log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish event")
	}
}

func (e *Engine) location() *time.Location {
	if e.Config.Location == nil {
		return time.UTC
	}
	return e.Config.Location
}
