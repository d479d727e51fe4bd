/*
Package gormstore provides a GORM-backed implementation of the ledger stores.

PURPOSE:
  Runs the ledger on MySQL for multi-instance deployments. The same code
  runs on any GORM dialector; tests use the SQLite dialector.

INTERFACES IMPLEMENTED:
  ledger.Store, ledger.TxStore, ledger.AccountStore

KEY BEHAVIOR:
  - WithTx wraps db.Transaction. Account reads inside a transaction take
    a row lock (SELECT ... FOR UPDATE) so concurrent posts to the same
    account serialize on the balance.
  - UNIQUE(series_key, series_period) backs the duplicate guard. With
    TranslateError enabled, duplicate inserts surface as
    gorm.ErrDuplicatedKey and are reported as
    ledger.ErrSeriesAlreadyMaterialized.
  - Balance history uses INSERT ... ON CONFLICT / ON DUPLICATE KEY UPDATE.

USAGE:
  store, err := gormstore.OpenMySQL(dsn, gormstore.Options{MaxOpenConns: 20}, logger)

SEE ALSO:
  - store/sqlite: Embedded implementation on database/sql
  - ledger/storetest: Contract suite shared by all stores
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowQuery is the threshold above which queries are logged at warn.
	SlowQuery time.Duration
}

// Store implements ledger.AdminStore on GORM.
type Store struct {
	queries
}

var _ ledger.AdminStore = (*Store)(nil)

// queries implements ledger.Store on a *gorm.DB that is either the root
// handle or a transaction.
type queries struct {
	db   *gorm.DB
	inTx bool
}

// OpenMySQL connects to MySQL using a go-sql-driver DSN.
// parseTime=True is required.
func OpenMySQL(dsn string, opts Options, log zerolog.Logger) (*Store, error) {
	return Open(mysql.Open(dsn), opts, log)
}

// Open connects through any GORM dialector and migrates the schema.
func Open(dialector gorm.Dialector, opts Options, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log, opts.SlowQuery),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	err = db.AutoMigrate(
		&accountModel{},
		&paymentMethodModel{},
		&transactionModel{},
		&balanceHistoryModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{queries: queries{db: db}}, nil
}

func newGormLogger(log zerolog.Logger, slow time.Duration) logger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	l := log.With().Str("component", "gorm").Logger()
	return logger.New(&l, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx, inTx: true})
	})
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (q *queries) FindAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	db := q.db.WithContext(ctx)
	if q.inTx {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var m accountModel
	err := db.Where("id = ?", string(id)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	if err != nil {
		return ledger.Account{}, ledger.NewStoreError("find account", err)
	}
	return m.toDomain(), nil
}

func (q *queries) UpdateAccountBalance(ctx context.Context, id ledger.AccountID, balance decimal.Decimal) (ledger.Account, error) {
	a, err := q.FindAccount(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}

	a.Balance = balance
	a.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	err = q.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("id = ?", string(id)).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": a.UpdatedAt,
		}).Error
	if err != nil {
		return ledger.Account{}, ledger.NewStoreError("update balance", err)
	}
	return a, nil
}

func (q *queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var models []accountModel
	if err := q.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, ledger.NewStoreError("list accounts", err)
	}
	accounts := make([]ledger.Account, 0, len(models))
	for _, m := range models {
		accounts = append(accounts, m.toDomain())
	}
	return accounts, nil
}

func (q *queries) HasPaymentMethod(ctx context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).
		Model(&paymentMethodModel{}).
		Where("account_id = ? AND payment_method_id = ?", string(accountID), string(pm)).
		Count(&n).Error
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

	m := toAccountModel(a)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return ledger.Account{}, ledger.NewStoreError("create account", err)
	}
	return a, nil
}

// LinkPaymentMethod associates a payment method with an account.
func (s *Store) LinkPaymentMethod(ctx context.Context, accountID ledger.AccountID, pm ledger.PaymentMethodID) error {
	if _, err := s.FindAccount(ctx, accountID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&paymentMethodModel{AccountID: string(accountID), PaymentMethodID: string(pm)}).Error
	return ledger.NewStoreError("link payment method", err)
}

// ListTransactions returns every transaction of an account by release date.
func (s *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return s.findTransactions(s.db.WithContext(ctx).Where("account_id = ?", string(accountID)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (q *queries) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m := toTransactionModel(tx)
	err := q.db.WithContext(ctx).Create(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && tx.SeriesKey != "" {
			return ledger.Transaction{}, &ledger.SeriesConflictError{SeriesKey: tx.SeriesKey, Period: tx.SeriesPeriod}
		}
		return ledger.Transaction{}, ledger.NewStoreError("insert transaction", err)
	}
	return tx, nil
}

func (q *queries) FindTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	var m transactionModel
	err := q.db.WithContext(ctx).Where("id = ?", string(id)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return ledger.Transaction{}, ledger.NewStoreError("find transaction", err)
	}
	return m.toDomain()
}

func (q *queries) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	res := q.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&transactionModel{})
	if res.Error != nil {
		return ledger.NewStoreError("delete transaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (q *queries) FindSeriesTransactions(ctx context.Context, seriesKey string, from, to ledger.Date) ([]ledger.Transaction, error) {
	db := q.db.WithContext(ctx).Where("series_key = ?", seriesKey)
	if !from.IsZero() {
		db = db.Where("release_date >= ?", from.String())
	}
	if !to.IsZero() {
		db = db.Where("release_date <= ?", to.String())
	}
	return q.findTransactions(db)
}

func (q *queries) FindRecurringTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.findTransactions(q.db.WithContext(ctx).Where("recurring = ?", true))
}

func (q *queries) FindOpenInstallmentTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return q.findTransactions(q.db.WithContext(ctx).
		Where("recurring = ? AND number_installments > 0 AND current_installment < number_installments", false))
}

func (q *queries) FindTransactionsAfter(ctx context.Context, accountID ledger.AccountID, after ledger.Date) ([]ledger.Transaction, error) {
	return q.findTransactions(q.db.WithContext(ctx).
		Where("account_id = ? AND release_date > ?", string(accountID), after.String()))
}

func (q *queries) findTransactions(db *gorm.DB) ([]ledger.Transaction, error) {
	var models []transactionModel
	if err := db.Order("release_date").Order("id").Find(&models).Error; err != nil {
		return nil, ledger.NewStoreError("query transactions", err)
	}
	txs := make([]ledger.Transaction, 0, len(models))
	for _, m := range models {
		tx, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// =============================================================================
// BALANCE HISTORY
// =============================================================================

func (q *queries) UpsertBalanceHistory(ctx context.Context, row ledger.BalanceHistory) (ledger.BalanceHistory, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	m := balanceHistoryModel{
		AccountID: string(row.AccountID),
		Date:      row.Date.String(),
		Balance:   row.Balance,
		CreatedAt: row.CreatedAt,
	}
	err := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "created_at"}),
		}).
		Create(&m).Error
	if err != nil {
		return ledger.BalanceHistory{}, ledger.NewStoreError("upsert balance history", err)
	}
	return row, nil
}

func (q *queries) DeleteBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) (int, error) {
	db := q.db.WithContext(ctx).Where("date >= ? AND date <= ?", from.String(), to.String())
	if accountID != "" {
		db = db.Where("account_id = ?", string(accountID))
	}
	res := db.Delete(&balanceHistoryModel{})
	if res.Error != nil {
		return 0, ledger.NewStoreError("delete balance history", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (q *queries) ListBalanceHistory(ctx context.Context, accountID ledger.AccountID, from, to ledger.Date) ([]ledger.BalanceHistory, error) {
	var models []balanceHistoryModel
	err := q.db.WithContext(ctx).
		Where("account_id = ? AND date >= ? AND date <= ?", string(accountID), from.String(), to.String()).
		Order("date").
		Find(&models).Error
	if err != nil {
		return nil, ledger.NewStoreError("list balance history", err)
	}

	out := make([]ledger.BalanceHistory, 0, len(models))
	for _, m := range models {
		h, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
