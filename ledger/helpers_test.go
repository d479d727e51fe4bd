package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/ledger/store"
	"github.com/warp/finance-ledger/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testUser   = ledger.UserID("user-1")
	testMethod = ledger.PaymentMethodID("pm-card")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingPublisher keeps every event it receives.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t ledger.EventType) []ledger.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ledger.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine    *ledger.Engine
	store     *store.Memory
	clock     *fakeClock
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}

	engine := ledger.NewEngine(mem, zerolog.Nop())
	engine.Now = clock.Now
	engine.Publisher = pub

	return &fixture{engine: engine, store: mem, clock: clock, publisher: pub}
}

// account creates an account with the test payment method linked.
func (f *fixture) account(t *testing.T, id string, balance string) ledger.Account {
	t.Helper()
	ctx := context.Background()
	a, err := f.store.CreateAccount(ctx, ledger.Account{
		ID:      ledger.AccountID(id),
		UserID:  testUser,
		Name:    id,
		Type:    "checking",
		Balance: money.MustParse(balance),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.LinkPaymentMethod(ctx, a.ID, testMethod))
	return a
}

func (f *fixture) balance(t *testing.T, id ledger.AccountID) string {
	t.Helper()
	a, err := f.store.FindAccount(context.Background(), id)
	require.NoError(t, err)
	return money.Format(a.Balance)
}

func (f *fixture) post(t *testing.T, tx ledger.Transaction) ledger.Transaction {
	t.Helper()
	created, err := f.engine.PostTransaction(context.Background(), tx)
	require.NoError(t, err)
	return created
}

func (f *fixture) at(s string) {
	d := ledger.MustParseDate(s)
	f.clock.Set(d.Time.Add(12 * time.Hour))
}

func expense(account ledger.AccountID, name, value, date string) ledger.Transaction {
	return ledger.Transaction{
		UserID:          testUser,
		AccountID:       account,
		PaymentMethodID: testMethod,
		Name:            name,
		Category:        "general",
		Type:            ledger.TypeExpense,
		Value:           money.MustParse(value),
		ReleaseDate:     ledger.MustParseDate(date),
	}
}

func income(account ledger.AccountID, name, value, date string) ledger.Transaction {
	tx := expense(account, name, value, date)
	tx.Type = ledger.TypeIncome
	return tx
}

func monthly(tx ledger.Transaction) ledger.Transaction {
	tx.Recurring = true
	tx.RecurringType = ledger.RecurringMonthly
	return tx
}

func installments(tx ledger.Transaction, n int) ledger.Transaction {
	tx.NumberInstallments = n
	return tx
}

func d(s string) ledger.Date { return ledger.MustParseDate(s) }
