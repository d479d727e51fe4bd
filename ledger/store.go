/*
store.go - Persistence interface for accounts, transactions and history

PURPOSE:
  Defines the boundary between the engine and the relational store.
  The engine never talks SQL; it drives these interfaces.

KEY INTERFACES:
  Store:        Everything the engine reads and writes
  TxStore:      Store + WithTx for atomic check-and-post units
  AccountStore: Account management used by the web/CLI layer
  AdminStore:   TxStore + AccountStore (what the server wires)

SERIES UNIQUENESS:
  CreateTransaction MUST reject a second row with the same non-empty
  (SeriesKey, SeriesPeriod) with an error matching
  ErrSeriesAlreadyMaterialized. Together with WithTx this closes the
  guard-then-post race between overlapping sweeps.

ATOMICITY:
  Post = CreateTransaction + UpdateAccountBalance. Both run on the
  Store handed to WithTx's callback so that a row never exists without
  its balance effect.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: Embedded SQLite (default)
  - store/gormstore/gormstore.go: MySQL through gorm

SEE ALSO:
  - poster.go: The atomic post
  - sweep.go: Guard + post inside WithTx
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - What the engine needs from persistence
// =============================================================================

type Store interface {
	// FindAccount returns ErrAccountNotFound when the id is unknown.
	FindAccount(ctx context.Context, id AccountID) (Account, error)

	// UpdateAccountBalance overwrites the cached balance.
	UpdateAccountBalance(ctx context.Context, id AccountID, balance decimal.Decimal) (Account, error)

	// ListAccounts returns every account with its current balance.
	ListAccounts(ctx context.Context) ([]Account, error)

	// HasPaymentMethod reports whether the payment method is linked to the account.
	HasPaymentMethod(ctx context.Context, accountID AccountID, paymentMethodID PaymentMethodID) (bool, error)

	// CreateTransaction persists a row. Duplicate (SeriesKey, SeriesPeriod)
	// fails with ErrSeriesAlreadyMaterialized.
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// FindTransaction returns ErrTransactionNotFound when the id is unknown.
	FindTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// DeleteTransaction removes a row. ErrTransactionNotFound when unknown.
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// FindSeriesTransactions returns the siblings of a series released in
	// [from, to], ordered by release date ascending. A zero bound is open.
	FindSeriesTransactions(ctx context.Context, seriesKey string, from, to Date) ([]Transaction, error)

	// FindRecurringTransactions returns every row with Recurring set.
	FindRecurringTransactions(ctx context.Context) ([]Transaction, error)

	// FindOpenInstallmentTransactions returns non-recurring rows with
	// CurrentInstallment < NumberInstallments.
	FindOpenInstallmentTransactions(ctx context.Context) ([]Transaction, error)

	// FindTransactionsAfter returns the account's rows released strictly
	// after the given date.
	FindTransactionsAfter(ctx context.Context, accountID AccountID, after Date) ([]Transaction, error)

	// UpsertBalanceHistory inserts or overwrites the (AccountID, Date) row.
	UpsertBalanceHistory(ctx context.Context, row BalanceHistory) (BalanceHistory, error)

	// DeleteBalanceHistory removes rows dated in [from, to]. An empty
	// accountID targets every account. Returns the number of rows removed.
	DeleteBalanceHistory(ctx context.Context, accountID AccountID, from, to Date) (int, error)

	// ListBalanceHistory returns the account's rows in [from, to] by date.
	ListBalanceHistory(ctx context.Context, accountID AccountID, from, to Date) ([]BalanceHistory, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ACCOUNT MANAGEMENT - Outside the engine, used by the web/CLI layer
// =============================================================================

type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	LinkPaymentMethod(ctx context.Context, accountID AccountID, paymentMethodID PaymentMethodID) error
	ListTransactions(ctx context.Context, accountID AccountID) ([]Transaction, error)
}

// AdminStore is the full surface the server wires.
type AdminStore interface {
	TxStore
	AccountStore
}
