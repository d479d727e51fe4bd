package api

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
	"github.com/warp/finance-ledger/money"
)

func newTestScheduler(t *testing.T, loc *time.Location) (*Scheduler, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.CreateAccount(ctx, ledger.Account{ID: "acc-1", UserID: "user-1", Name: "main", Balance: money.MustParse("1000.00")})
	require.NoError(t, err)
	require.NoError(t, mem.LinkPaymentMethod(ctx, "acc-1", "pm-card"))

	engine := ledger.NewEngine(mem, zerolog.Nop())
	engine.Config.Location = loc
	engine.Now = func() time.Time { return fixedNow }

	_, err = engine.PostTransaction(ctx, ledger.Transaction{
		UserID: "user-1", AccountID: "acc-1", PaymentMethodID: "pm-card",
		Name: "Salary", Category: "income", Type: ledger.TypeIncome,
		Value: money.MustParse("300.00"), ReleaseDate: ledger.MustParseDate("2024-02-15"),
		Recurring: true, RecurringType: ledger.RecurringMonthly,
	})
	require.NoError(t, err)

	s := NewScheduler(engine, zerolog.Nop(), TimeOfDay{0, 5}, TimeOfDay{23, 55}, time.Minute)
	return s, mem
}

func TestScheduler_TickFiresOncePerDay(t *testing.T) {
	// GIVEN: sweep_at 00:05, snapshot_at 23:55, UTC
	// WHEN: Ticks land before, at and after each slot
	// THEN: Each job runs once per day

	s, mem := newTestScheduler(t, time.UTC)
	ctx := context.Background()
	at := func(day, h, m int) time.Time { return time.Date(2024, 3, day, h, m, 0, 0, time.UTC) }

	res := s.Tick(ctx, at(15, 0, 1))
	assert.Nil(t, res.Sweep)
	assert.Nil(t, res.Snapshot)

	res = s.Tick(ctx, at(15, 0, 5))
	require.NotNil(t, res.Sweep)
	assert.Equal(t, 1, res.Sweep.Created)
	assert.Nil(t, res.Snapshot)

	res = s.Tick(ctx, at(15, 12, 0))
	assert.Nil(t, res.Sweep)

	res = s.Tick(ctx, at(15, 23, 56))
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "2024-03-15", res.Snapshot.Date.String())

	res = s.Tick(ctx, at(15, 23, 59))
	assert.Nil(t, res.Snapshot)

	res = s.Tick(ctx, at(16, 0, 10))
	require.NotNil(t, res.Sweep)
	assert.Equal(t, "2024-03-16", res.Sweep.Today.String())
	assert.Zero(t, res.Sweep.Created)

	account, err := mem.FindAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "1600.00", money.Format(account.Balance))
}

func TestScheduler_SnapshotUsesLocalDate(t *testing.T) {
	// GIVEN: The engine runs in America/Sao_Paulo (UTC-3)
	// WHEN: A tick lands at 02:56 UTC, which is 23:56 local the day before
	// THEN: The snapshot carries the local date

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	s, _ := newTestScheduler(t, loc)

	res := s.Tick(context.Background(), time.Date(2024, 3, 16, 2, 56, 0, 0, time.UTC))
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "2024-03-15", res.Snapshot.Date.String())
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t, time.UTC)
	s.Interval = 10 * time.Millisecond

	s.Start()
	s.Start() // no second goroutine
	s.Stop()
	s.Stop()

	// The first tick runs before the ticker fires; fixedNow is 12:00.
	assert.Equal(t, "2024-03-15", s.lastSweep.String())
}
