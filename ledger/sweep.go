/*
sweep.go - Materializes the next occurrence of every due series

PURPOSE:
  Invoked once per scheduling tick (daily). Sub-daily or overlapping
  invocations are safe: at most one occurrence per (series, period).

FLOW:
  1. Load recurring rows, group by series key
     - latest sibling decides due-ness, older siblings are ignored
  2. Load open installment rows (recurring rows excluded), group by series
     - latest member (highest installment) decides due-ness
  3. For each due series, under the series lock and inside one WithTx:
       guard check  ->  post
     The check happens-before the post on the same store transaction.
     A unique index on (series_key, series_period) backs the guard.

OUTCOMES (one per series):
  created         A new occurrence was posted
  already-exists  Guard or unique index found the period taken
  not-due         Calculator said no (reason attached)
  failed          Anything else; logged, the sweep continues

  A failing series never aborts the sweep.

SEE ALSO:
  - occurrence.go: Due-date rules
  - guard.go: Existence checks
  - poster.go: Balance effect of each occurrence
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// REPORT
// =============================================================================

type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already-exists"
	OutcomeNotDue        Outcome = "not-due"
	OutcomeFailed        Outcome = "failed"
)

type SeriesKind string

const (
	KindRecurring   SeriesKind = "recurring"
	KindInstallment SeriesKind = "installment"
)

// SeriesResult is the outcome of one series in one sweep.
type SeriesResult struct {
	SeriesKey string        `json:"series_key"`
	Kind      SeriesKind    `json:"kind"`
	SourceID  TransactionID `json:"source_id"`
	AccountID AccountID     `json:"account_id"`
	Name      string        `json:"name"`
	Outcome   Outcome       `json:"outcome"`
	Reason    NotDueReason  `json:"reason,omitempty"`
	Created   *Transaction  `json:"created,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type SweepReport struct {
	Today         Date           `json:"today"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Results       []SeriesResult `json:"results"`
	Created       int            `json:"created"`
	AlreadyExists int            `json:"already_exists"`
	NotDue        int            `json:"not_due"`
	Failed        int            `json:"failed"`
}

func (r *SweepReport) add(res SeriesResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeAlreadyExists:
		r.AlreadyExists++
	case OutcomeNotDue:
		r.NotDue++
	case OutcomeFailed:
		r.Failed++
	}
}

// Result returns the outcome recorded for a series key.
func (r *SweepReport) Result(seriesKey string) (SeriesResult, bool) {
	for _, res := range r.Results {
		if res.SeriesKey == seriesKey {
			return res, true
		}
	}
	return SeriesResult{}, false
}

// =============================================================================
// SWEEP
// =============================================================================

// RunRecurringAndInstallmentSweep sweeps as of the engine clock's UTC day.
func (e *Engine) RunRecurringAndInstallmentSweep(ctx context.Context) (*SweepReport, error) {
	return e.RunSweepAt(ctx, UTCDate(e.Now()))
}

// RunSweepAt sweeps as of the given day. The returned error only reports
// failures to load the series lists; per-series failures are in the report.
func (e *Engine) RunSweepAt(ctx context.Context, today Date) (*SweepReport, error) {
	log := e.Log.With().Str("component", "sweep").Str("today", today.String()).Logger()
	report := &SweepReport{Today: today, StartedAt: e.Now()}

	var loadErrs []error

	recurring, err := e.Store.FindRecurringTransactions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load recurring series")
		loadErrs = append(loadErrs, fmt.Errorf("load recurring series: %w", err))
	}
	for _, siblings := range groupBySeries(recurring) {
		res := e.sweepRecurring(ctx, today, siblings)
		e.record(ctx, log, report, res)
	}

	open, err := e.Store.FindOpenInstallmentTransactions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load open installments")
		loadErrs = append(loadErrs, fmt.Errorf("load open installments: %w", err))
	}
	for _, members := range groupBySeries(withoutRecurring(open)) {
		res := e.sweepInstallment(ctx, today, members)
		e.record(ctx, log, report, res)
	}

	report.FinishedAt = e.Now()
	log.Info().
		Int("created", report.Created).
		Int("already_exists", report.AlreadyExists).
		Int("not_due", report.NotDue).
		Int("failed", report.Failed).
		Msg("sweep finished")

	e.publish(ctx, Event{Type: EventSweepCompleted, Key: "sweep", OccurredAt: report.FinishedAt, Payload: report})
	return report, errors.Join(loadErrs...)
}

func (e *Engine) record(ctx context.Context, log zerolog.Logger, report *SweepReport, res SeriesResult) {
	report.add(res)

	ev := log.Debug()
	switch {
	case res.Outcome == OutcomeFailed:
		ev = log.Error()
	case res.Outcome == OutcomeCreated:
		ev = log.Info()
	case res.Reason == ReasonStale:
		ev = log.Warn()
	}
	ev.Str("series", res.SeriesKey).
		Str("kind", string(res.Kind)).
		Str("account_id", string(res.AccountID)).
		Str("outcome", string(res.Outcome)).
		Str("reason", string(res.Reason)).
		Str("error", res.Error).
		Msg("series evaluated")

	if res.Created != nil {
		e.publish(ctx, Event{
			Type:       EventOccurrenceCreated,
			Key:        string(res.Created.AccountID),
			OccurredAt: res.Created.CreatedAt,
			Payload:    res.Created,
		})
	}
}

func (e *Engine) sweepRecurring(ctx context.Context, today Date, siblings []Transaction) SeriesResult {
	latest := siblings[len(siblings)-1]
	res := newResult(KindRecurring, latest)

	occ, err := NextRecurring(latest.RecurringType, latest.ReleaseDate, today)
	if err != nil {
		return res.fail(err)
	}
	if !occ.Due {
		return res.notDue(occ.Reason)
	}

	next := nextOccurrence(latest, occ)
	return e.materialize(ctx, res, next, func(s Store) (bool, error) {
		if next.RecurringType == RecurringMonthly {
			return e.Guard.ExistsInMonth(ctx, s, next.Identity(), today.Month(), today.Year())
		}
		return e.Guard.ExistsInPeriod(ctx, s, res.SeriesKey, next.Period())
	})
}

func (e *Engine) sweepInstallment(ctx context.Context, today Date, members []Transaction) SeriesResult {
	key := members[0].Identity().Key()

	// The open set omits the newest member once the chain completes, so
	// load the whole chain to find the real latest.
	chain, err := e.Store.FindSeriesTransactions(ctx, key, Date{}, Date{})
	if err != nil {
		return newResult(KindInstallment, members[len(members)-1]).fail(err)
	}
	if len(chain) == 0 {
		chain = members
	}
	latest := latestInstallment(chain)
	res := newResult(KindInstallment, latest)

	occ := NextInstallment(latest, today)
	if !occ.Due {
		return res.notDue(occ.Reason)
	}

	next := nextOccurrence(latest, occ)
	next.Value = latest.ValueInstallment
	next.ValueInstallment = latest.ValueInstallment
	next.CurrentInstallment = occ.Installment
	return e.materialize(ctx, res, next, func(s Store) (bool, error) {
		return e.Guard.InstallmentExists(ctx, s, next.Identity(), occ.Installment, today)
	})
}

// materialize runs guard + post for one series as a single unit.
func (e *Engine) materialize(ctx context.Context, res SeriesResult, next Transaction, exists func(Store) (bool, error)) SeriesResult {
	release, err := e.Locker.Acquire(ctx, "ledger:series:"+res.SeriesKey)
	if err != nil {
		return res.fail(err)
	}
	defer release()

	var created Transaction
	err = e.Store.WithTx(ctx, func(s Store) error {
		found, err := exists(s)
		if err != nil {
			return err
		}
		if found {
			return ErrSeriesAlreadyMaterialized
		}
		created, err = e.Poster.Post(ctx, s, next)
		return err
	})

	switch {
	case errors.Is(err, ErrSeriesAlreadyMaterialized):
		res.Outcome = OutcomeAlreadyExists
		return res
	case err != nil:
		return res.fail(err)
	}
	res.Outcome = OutcomeCreated
	res.Created = &created
	return res
}

// =============================================================================
// HELPERS
// =============================================================================

func newResult(kind SeriesKind, source Transaction) SeriesResult {
	return SeriesResult{
		SeriesKey: source.Identity().Key(),
		Kind:      kind,
		SourceID:  source.ID,
		AccountID: source.AccountID,
		Name:      source.Name,
	}
}

func (r SeriesResult) fail(err error) SeriesResult {
	r.Outcome = OutcomeFailed
	r.Error = err.Error()
	return r
}

func (r SeriesResult) notDue(reason NotDueReason) SeriesResult {
	r.Outcome = OutcomeNotDue
	r.Reason = reason
	return r
}

// nextOccurrence copies the series descriptor of src onto a fresh payload.
func nextOccurrence(src Transaction, occ Occurrence) Transaction {
	return Transaction{
		UserID:             src.UserID,
		AccountID:          src.AccountID,
		PaymentMethodID:    src.PaymentMethodID,
		Name:               src.Name,
		Category:           src.Category,
		Type:               src.Type,
		Value:              src.Value,
		ReleaseDate:        occ.ReleaseDate,
		Recurring:          src.Recurring,
		RecurringType:      src.RecurringType,
		NumberInstallments: src.NumberInstallments,
		CurrentInstallment: src.CurrentInstallment,
		ValueInstallment:   src.ValueInstallment,
	}
}

// groupBySeries buckets rows by series key. Buckets are sorted by release
// date ascending and returned in key order.
func groupBySeries(txs []Transaction) [][]Transaction {
	buckets := make(map[string][]Transaction)
	for _, tx := range txs {
		key := tx.Identity().Key()
		buckets[key] = append(buckets[key], tx)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([][]Transaction, 0, len(keys))
	for _, k := range keys {
		siblings := buckets[k]
		sort.SliceStable(siblings, func(i, j int) bool {
			if siblings[i].ReleaseDate.Equal(siblings[j].ReleaseDate) {
				return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
			}
			return siblings[i].ReleaseDate.Before(siblings[j].ReleaseDate)
		})
		groups = append(groups, siblings)
	}
	return groups
}

func withoutRecurring(txs []Transaction) []Transaction {
	out := txs[:0:0]
	for _, tx := range txs {
		if tx.InstallmentOpen() {
			out = append(out, tx)
		}
	}
	return out
}

func latestInstallment(chain []Transaction) Transaction {
	latest := chain[0]
	for _, tx := range chain[1:] {
		if tx.CurrentInstallment > latest.CurrentInstallment ||
			(tx.CurrentInstallment == latest.CurrentInstallment && tx.ReleaseDate.After(latest.ReleaseDate)) {
			latest = tx
		}
	}
	return latest
}
