/*
Package sqlite provides a SQLite-backed implementation of the ledger stores.

PURPOSE:
  Implements ledger.AdminStore (engine store + account management) on
  an embedded SQLite database. It is the default store of the server and
  the CLI.

INTERFACES IMPLEMENTED:
  ledger.Store:        Accounts, transactions, balance history
  ledger.TxStore:      WithTx over a *sql.Tx
  ledger.AccountStore: Account creation, payment-method links

KEY TABLES:
  accounts:                Cached balance per account
  account_payment_methods: (account, payment method) links
  transactions:            Standalone and series rows
  balance_history:         One row per (account, date)

INDEXES:
  - idx_unique_series_period: UNIQUE(series_key, series_period) for series
    rows. Closes the guard-then-post race: the second insert of an
    occurrence for the same period fails and is reported as
    ledger.ErrSeriesAlreadyMaterialized.
  - balance_history PRIMARY KEY(account_id, date): upsert target.
  - idx_transactions_series: Guard lookups (hot path of the sweep)
  - idx_transactions_account_release: Replay recalculation

ENCODING:
  Amounts are stored as decimal TEXT, never REAL. Dates are TEXT
  "YYYY-MM-DD" so range predicates compare lexicographically.

CONCURRENCY:
  The pool is capped at one connection. SQLite has a single writer
  anyway, and ":memory:" databases exist per connection. Everything
  inside WithTx runs on the *sql.Tx; the engine never touches the parent
  store from inside a callback.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, logger)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/gormstore: MySQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// Store implements ledger.AdminStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ ledger.AdminStore = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store on top of a querier.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user
		ON accounts(user_id);

	CREATE TABLE IF NOT EXISTS account_payment_methods (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		payment_method_id TEXT NOT NULL,
		PRIMARY KEY (account_id, payment_method_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		payment_method_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		release_date TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0,
		recurring_type TEXT,
		number_installments INTEGER NOT NULL DEFAULT 0,
		current_installment INTEGER NOT NULL DEFAULT 0,
		value_installment TEXT NOT NULL DEFAULT '0',
		series_key TEXT,
		series_period TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one occurrence per (series, period)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_series_period
		ON transactions(series_key, series_period)
		WHERE series_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_series
		ON transactions(series_key, release_date)
		WHERE series_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_account_release
		ON transactions(account_id, release_date);

	CREATE INDEX IF NOT EXISTS idx_transactions_recurring
		ON transactions(recurring)
		WHERE recurring = 1;

	CREATE TABLE IF NOT EXISTS balance_history (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		date TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_id, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.NewStoreError("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.NewStoreError("commit", err)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, user_id, name, type, balance, created_at, updated_at`

func (q *queries) FindAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	if err != nil {
		return ledger.Account{}, ledger.NewStoreError("find account", err)
	}
	return a, nil
}

func (q *queries) UpdateAccountBalance(ctx context.Context, id ledger.AccountID, balance decimal.Decimal) (ledger.Account, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.String(), formatTime(time.Now()), id,
	)
	if err != nil {
		return ledger.Account{}, ledger.NewStoreError("update balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	return q.FindAccount(ctx, id)
}

func (q *queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, ledger.NewStoreError("list accounts", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.NewStoreError("scan account", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q *queries) HasPaymentMethod(ctx context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM account_payment_methods WHERE account_id = ? AND payment_method_id = ?`,
		accountID, pm,
	).Scan(&n)
	if err != nil {
		return false, ledger.NewStoreError("find payment method", err)
	}
	return n > 0, nil
}

// CreateAccount inserts an account. A missing id is generated.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	if a.ID == "" {
		a.ID = ledger.NewAccountID()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Type, a.Balance.String(), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return ledger.Account{}, ledger.NewStoreError("create account", err)
	}
	return a, nil
}

// LinkPaymentMethod associates a payment method with an account.
func (s *Store) LinkPaymentMethod(ctx context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) error {
	if _, err := s.FindAccount(ctx, accountID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_payment_methods (account_id, payment_method_id) VALUES (?, ?)
		 ON CONFLICT(account_id, payment_method_id) DO NOTHING`,
		accountID, pm,
	)
	return ledger.NewStoreError("link payment method", err)
}

// ListTransactions returns every transaction of an account by release date.
func (s *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE account_id = ? ORDER BY release_date, id`,
		accountID,
	)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = `id, user_id, account_id, payment_method_id, name, category, type, value,
	release_date, recurring, recurring_type, number_installments, current_installment,
	value_installment, series_key, series_period, created_at`

func (q *queries) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		tx.AccountID,
		tx.PaymentMethodID,
		tx.Name,
		tx.Category,
		tx.Type,
		tx.Value.String(),
		tx.ReleaseDate.String(),
		tx.Recurring,
		nullString(string(tx.RecurringType)),
		tx.NumberInstallments,
		tx.CurrentInstallment,
		tx.ValueInstallment.String(),
		nullString(tx.SeriesKey),
		nullString(tx.SeriesPeriod),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && tx.SeriesKey != "" {
			return ledger.Transaction{}, &ledger.SeriesConflictError{SeriesKey: tx.SeriesKey, Period: tx.SeriesPeriod}
		}
		return ledger.Transaction{}, ledger.NewStoreError("insert transaction", err)
	}
	return tx, nil
}

func (q *queries) FindTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	txs, err := q.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return ledger.NewStoreError("delete transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (q *queries) FindSeriesTransactions(ctx context.Context, seriesKey string, from, to ledger.Date) ([]ledger.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE series_key = ?`
	args := []any{seriesKey}
	if !from.IsZero() {
		query += ` AND release_date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND release_date <= ?`
		args = append(args, to.String())
	}
	return q.queryTransactions(ctx, query+` ORDER BY release_date, id`, args...)
}

func (q *queries) FindRecurringTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE recurring = 1 ORDER BY release_date, id`)
}

func (q *queries) FindOpenInstallmentTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE recurring = 0 AND number_installments > 0 AND current_installment < number_installments
		 ORDER BY release_date, id`)
}

func (q *queries) FindTransactionsAfter(ctx context.Context, accountID ledger.AccountID, after ledger.Date) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE account_id = ? AND release_date > ? ORDER BY release_date, id`,
		accountID, after.String())
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.NewStoreError("query transactions", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.NewStoreError("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// BALANCE HISTORY
// =============================================================================

func (q *queries) UpsertBalanceHistory(ctx context.Context, row ledger.BalanceHistory) (ledger.BalanceHistory, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO balance_history (account_id, date, balance, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET
			balance = excluded.balance,
			created_at = excluded.created_at
	`, row.AccountID, row.Date.String(), row.Balance.String(), formatTime(row.CreatedAt))
	if err != nil {
		return ledger.BalanceHistory{}, ledger.NewStoreError("upsert balance history", err)
	}
	return row, nil
}

func (q *queries) DeleteBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) (int, error) {
	query := `DELETE FROM balance_history WHERE date >= ? AND date <= ?`
	args := []any{from.String(), to.String()}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ledger.NewStoreError("delete balance history", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *queries) ListBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.BalanceHistory, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT account_id, date, balance, created_at FROM balance_history
		 WHERE account_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		accountID, from.String(), to.String(),
	)
	if err != nil {
		return nil, ledger.NewStoreError("list balance history", err)
	}
	defer rows.Close()

	var out []ledger.BalanceHistory
	for rows.Next() {
		var (
			h                         ledger.BalanceHistory
			date, balance, createdAt string
		)
		if err := rows.Scan(&h.AccountID, &date, &balance, &createdAt); err != nil {
			return nil, ledger.NewStoreError("scan balance history", err)
		}
		if h.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		if h.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("balance history %s %s: %w", h.AccountID, date, err)
		}
		h.CreatedAt = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a                             ledger.Account
		balance, createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &balance, &createdAt, &updatedAt); err != nil {
		return ledger.Account{}, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s balance: %w", a.ID, err)
	}
	a.Balance = b
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx                                     ledger.Transaction
		value, releaseDate, valueInst, created string
		recurringType, seriesKey, seriesPeriod sql.NullString
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.PaymentMethodID, &tx.Name, &tx.Category, &tx.Type, &value,
		&releaseDate, &tx.Recurring, &recurringType, &tx.NumberInstallments, &tx.CurrentInstallment,
		&valueInst, &seriesKey, &seriesPeriod, &created,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if tx.Value, err = decimal.NewFromString(value); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s value: %w", tx.ID, err)
	}
	if tx.ValueInstallment, err = decimal.NewFromString(valueInst); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s value_installment: %w", tx.ID, err)
	}
	if tx.ReleaseDate, err = ledger.ParseDate(releaseDate); err != nil {
		return ledger.Transaction{}, err
	}
	tx.RecurringType = ledger.RecurringType(recurringType.String)
	tx.SeriesKey = seriesKey.String
	tx.SeriesPeriod = seriesPeriod.String
	tx.CreatedAt = parseTime(created)
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, strings.TrimSpace(s))
	return t
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
