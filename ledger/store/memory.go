// Package store provides an in-memory ledger.AdminStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state

	// FailOn makes the named operation fail for matching ids. Tests use it
	// to simulate broken rows.
	FailOn func(op string, id string) error
}

type historyKey struct {
	AccountID ledger.AccountID
	Date      string
}

type seriesSlot struct {
	SeriesKey string
	Period    string
}

type state struct {
	accounts     map[ledger.AccountID]ledger.Account
	methods      map[ledger.AccountID]map[ledger.PaymentMethodID]bool
	transactions map[ledger.TransactionID]ledger.Transaction
	series       map[seriesSlot]ledger.TransactionID
	history      map[historyKey]ledger.BalanceHistory
}

func newState() *state {
	return &state{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		methods:      make(map[ledger.AccountID]map[ledger.PaymentMethodID]bool),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		series:       make(map[seriesSlot]ledger.TransactionID),
		history:      make(map[historyKey]ledger.BalanceHistory),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.methods {
		m := make(map[ledger.PaymentMethodID]bool, len(v))
		for pm, ok := range v {
			m[pm] = ok
		}
		c.methods[k] = m
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.series {
		c.series[k] = v
	}
	for k, v := range s.history {
		c.history[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ ledger.AdminStore = (*Memory)(nil)

// =============================================================================
// STORE (locked entry points)
// =============================================================================

func (m *Memory) FindAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindAccount(ctx, id)
}

func (m *Memory) UpdateAccountBalance(ctx context.Context, id ledger.AccountID, balance decimal.Decimal) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateAccountBalance(ctx, id, balance)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListAccounts(ctx)
}

func (m *Memory) HasPaymentMethod(ctx context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().HasPaymentMethod(ctx, accountID, pm)
}

func (m *Memory) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateTransaction(ctx, tx)
}

func (m *Memory) FindTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindTransaction(ctx, id)
}

func (m *Memory) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteTransaction(ctx, id)
}

func (m *Memory) FindSeriesTransactions(ctx context.Context, seriesKey string, from, to ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindSeriesTransactions(ctx, seriesKey, from, to)
}

func (m *Memory) FindRecurringTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindRecurringTransactions(ctx)
}

func (m *Memory) FindOpenInstallmentTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindOpenInstallmentTransactions(ctx)
}

func (m *Memory) FindTransactionsAfter(ctx context.Context, accountID ledger.AccountID, after ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindTransactionsAfter(ctx, accountID, after)
}

func (m *Memory) UpsertBalanceHistory(ctx context.Context, row ledger.BalanceHistory) (ledger.BalanceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpsertBalanceHistory(ctx, row)
}

func (m *Memory) DeleteBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteBalanceHistory(ctx, accountID, from, to)
}

func (m *Memory) ListBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.BalanceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListBalanceHistory(ctx, accountID, from, to)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = ledger.NewAccountID()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.st.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) LinkPaymentMethod(_ context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.accounts[accountID]; !ok {
		return &ledger.AccountNotFoundError{AccountID: accountID}
	}
	if m.st.methods[accountID] == nil {
		m.st.methods[accountID] = make(map[ledger.PaymentMethodID]bool)
	}
	m.st.methods[accountID][pm] = true
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().filter(func(tx ledger.Transaction) bool { return tx.AccountID == accountID }), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.view()); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// view operates on the current state without locking. The caller holds mu.
func (m *Memory) view() *memoryView {
	return &memoryView{m: m}
}

type memoryView struct {
	m *Memory
}

func (v *memoryView) st() *state { return v.m.st }

func (v *memoryView) fail(op, id string) error {
	if v.m.FailOn == nil {
		return nil
	}
	return v.m.FailOn(op, id)
}

func (v *memoryView) FindAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	if err := v.fail("FindAccount", string(id)); err != nil {
		return ledger.Account{}, err
	}
	a, ok := v.st().accounts[id]
	if !ok {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	return a, nil
}

func (v *memoryView) UpdateAccountBalance(_ context.Context, id ledger.AccountID, balance decimal.Decimal) (ledger.Account, error) {
	if err := v.fail("UpdateAccountBalance", string(id)); err != nil {
		return ledger.Account{}, err
	}
	a, ok := v.st().accounts[id]
	if !ok {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	v.st().accounts[id] = a
	return a, nil
}

func (v *memoryView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(v.st().accounts))
	for _, a := range v.st().accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memoryView) HasPaymentMethod(_ context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) (bool, error) {
	return v.st().methods[accountID][pm], nil
}

func (v *memoryView) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := v.fail("CreateTransaction", string(tx.AccountID)); err != nil {
		return ledger.Transaction{}, err
	}
	if tx.SeriesKey != "" {
		slot := seriesSlot{SeriesKey: tx.SeriesKey, Period: tx.SeriesPeriod}
		if _, taken := v.st().series[slot]; taken {
			return ledger.Transaction{}, &ledger.SeriesConflictError{SeriesKey: tx.SeriesKey, Period: tx.SeriesPeriod}
		}
		v.st().series[slot] = tx.ID
	}
	v.st().transactions[tx.ID] = tx
	return tx, nil
}

func (v *memoryView) FindTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, ok := v.st().transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (v *memoryView) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	tx, ok := v.st().transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	delete(v.st().transactions, id)
	if tx.SeriesKey != "" {
		delete(v.st().series, seriesSlot{SeriesKey: tx.SeriesKey, Period: tx.SeriesPeriod})
	}
	return nil
}

func (v *memoryView) FindSeriesTransactions(_ context.Context, seriesKey string, from, to ledger.Date) ([]ledger.Transaction, error) {
	if err := v.fail("FindSeriesTransactions", seriesKey); err != nil {
		return nil, err
	}
	return v.filter(func(tx ledger.Transaction) bool {
		return tx.SeriesKey == seriesKey && inRange(tx.ReleaseDate, from, to)
	}), nil
}

func (v *memoryView) FindRecurringTransactions(_ context.Context) ([]ledger.Transaction, error) {
	return v.filter(func(tx ledger.Transaction) bool { return tx.Recurring }), nil
}

func (v *memoryView) FindOpenInstallmentTransactions(_ context.Context) ([]ledger.Transaction, error) {
	return v.filter(ledger.Transaction.InstallmentOpen), nil
}

func (v *memoryView) FindTransactionsAfter(_ context.Context, accountID ledger.AccountID, after ledger.Date) ([]ledger.Transaction, error) {
	return v.filter(func(tx ledger.Transaction) bool {
		return tx.AccountID == accountID && tx.ReleaseDate.After(after)
	}), nil
}

func (v *memoryView) UpsertBalanceHistory(_ context.Context, row ledger.BalanceHistory) (ledger.BalanceHistory, error) {
	if err := v.fail("UpsertBalanceHistory", string(row.AccountID)); err != nil {
		return ledger.BalanceHistory{}, err
	}
	v.st().history[historyKey{AccountID: row.AccountID, Date: row.Date.String()}] = row
	return row, nil
}

func (v *memoryView) DeleteBalanceHistory(_ context.Context, accountID ledger.AccountID, from, to ledger.Date) (int, error) {
	n := 0
	for k, row := range v.st().history {
		if accountID != "" && row.AccountID != accountID {
			continue
		}
		if inRange(row.Date, from, to) {
			delete(v.st().history, k)
			n++
		}
	}
	return n, nil
}

func (v *memoryView) ListBalanceHistory(_ context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.BalanceHistory, error) {
	var out []ledger.BalanceHistory
	for _, row := range v.st().history {
		if row.AccountID == accountID && inRange(row.Date, from, to) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// filter returns matching transactions ordered by release date, then id.
func (v *memoryView) filter(keep func(ledger.Transaction) bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range v.st().transactions {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReleaseDate.Equal(out[j].ReleaseDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReleaseDate.Before(out[j].ReleaseDate)
	})
	return out
}

// inRange treats zero bounds as open.
func inRange(d, from, to ledger.Date) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}
