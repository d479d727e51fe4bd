/*
scheduler.go - Daily sweep and snapshot scheduler

PURPOSE:
  Fires the recurring/installment sweep and the daily balance snapshot
  once per local day at configured times of day.

DESIGN:
  - A ticker wakes the scheduler every Interval (default 1 minute)
  - Tick(now) decides what is due; it owns no clock and is driven
    directly by tests
  - A job fires when the local time of day reaches its slot and it has
    not yet succeeded for that local date
  - A failed run is not marked done, so the next tick retries it
  - The first tick after start catches up on a slot already passed today

TIMING:
  sweep_at    = 00:05  -> sweep for the UTC day of the tick
  snapshot_at = 23:55  -> snapshot date from Engine.SnapshotDate, which
                          backdates ticks that land just after midnight

USAGE:
  s := NewScheduler(engine, log, sweepAt, snapshotAt, time.Minute)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - ledger/sweep.go: RunSweepAt
  - ledger/snapshot.go: SnapshotDate, RunDailyBalanceSnapshot
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logging"
)

// TimeOfDay is a wall-clock slot in the engine's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// reached reports whether local has passed the slot on its own day.
func (t TimeOfDay) reached(local time.Time) bool {
	return local.Hour()*60+local.Minute() >= t.Hour*60+t.Minute
}

// TickResult holds the reports of the jobs a tick ran.
type TickResult struct {
	Sweep    *ledger.SweepReport
	Snapshot *ledger.SnapshotReport
}

// Scheduler runs the engine's daily jobs.
type Scheduler struct {
	Engine     *ledger.Engine
	Log        zerolog.Logger
	SweepAt    TimeOfDay
	SnapshotAt TimeOfDay
	Interval   time.Duration

	mu           sync.Mutex
	lastSweep    ledger.Date // local date of the last successful sweep
	lastSnapshot ledger.Date

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(engine *ledger.Engine, log zerolog.Logger, sweepAt, snapshotAt TimeOfDay, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		Engine:     engine,
		Log:        logging.Component(log, "scheduler"),
		SweepAt:    sweepAt,
		SnapshotAt: snapshotAt,
		Interval:   interval,
	}
}

// Start begins ticking. The first tick runs immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info().
		Dur("interval", s.Interval).
		Str("sweep_at", s.SweepAt.String()).
		Str("snapshot_at", s.SnapshotAt.String()).
		Msg("scheduler started")
}

// Stop halts the ticker and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.Log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.Tick(context.Background(), s.Engine.Now())
	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background(), s.Engine.Now())
		case <-stop:
			return
		}
	}
}

// Tick runs whichever jobs are due at now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result TickResult
	local := now.In(s.location())
	today := ledger.DateOf(local)

	if s.SweepAt.reached(local) && !s.lastSweep.Equal(today) {
		report, err := s.Engine.RunSweepAt(ctx, ledger.UTCDate(now))
		if err != nil {
			s.Log.Error().Err(err).Str("local_date", today.String()).Msg("sweep failed, retrying next tick")
		} else {
			s.lastSweep = today
			result.Sweep = report
		}
	}

	if s.SnapshotAt.reached(local) && !s.lastSnapshot.Equal(today) {
		date, _ := s.Engine.SnapshotDate(now)
		report, err := s.Engine.RunDailyBalanceSnapshot(ctx, &date)
		if err != nil {
			s.Log.Error().Err(err).Str("local_date", today.String()).Msg("snapshot failed, retrying next tick")
		} else {
			s.lastSnapshot = today
			result.Snapshot = report
		}
	}

	return result
}

func (s *Scheduler) location() *time.Location {
	if loc := s.Engine.Config.Location; loc != nil {
		return loc
	}
	return time.UTC
}
