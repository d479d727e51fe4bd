package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
)

// Dates are kept as "YYYY-MM-DD" strings so the same schema behaves
// identically on MySQL and SQLite and range predicates compare as text.

type accountModel struct {
	ID        string          `gorm:"primaryKey;type:varchar(64)"`
	UserID    string          `gorm:"type:varchar(64);index;not null"`
	Name      string          `gorm:"type:varchar(128);not null"`
	Type      string          `gorm:"type:varchar(32);not null;default:''"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountModel) TableName() string { return "accounts" }

type paymentMethodModel struct {
	AccountID       string `gorm:"primaryKey;type:varchar(64)"`
	PaymentMethodID string `gorm:"primaryKey;type:varchar(64)"`
}

func (paymentMethodModel) TableName() string { return "account_payment_methods" }

type transactionModel struct {
	ID                 string          `gorm:"primaryKey;type:varchar(64)"`
	UserID             string          `gorm:"type:varchar(64);not null"`
	AccountID          string          `gorm:"type:varchar(64);not null;index:idx_transactions_account_release,priority:1"`
	PaymentMethodID    string          `gorm:"type:varchar(64);not null"`
	Name               string          `gorm:"type:varchar(128);not null"`
	Category           string          `gorm:"type:varchar(64);not null;default:''"`
	Type               string          `gorm:"type:varchar(16);not null"`
	Value              decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	ReleaseDate        string          `gorm:"type:varchar(10);not null;index:idx_transactions_account_release,priority:2"`
	Recurring          bool            `gorm:"not null;default:false;index"`
	RecurringType      *string         `gorm:"type:varchar(16)"`
	NumberInstallments int             `gorm:"not null;default:0"`
	CurrentInstallment int             `gorm:"not null;default:0"`
	ValueInstallment   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	// NULL for standalone rows, so they never collide on the unique index.
	SeriesKey    *string `gorm:"type:varchar(64);uniqueIndex:idx_unique_series_period,priority:1"`
	SeriesPeriod *string `gorm:"type:varchar(16);uniqueIndex:idx_unique_series_period,priority:2"`
	CreatedAt    time.Time
}

func (transactionModel) TableName() string { return "transactions" }

type balanceHistoryModel struct {
	AccountID string          `gorm:"primaryKey;type:varchar(64)"`
	Date      string          `gorm:"primaryKey;type:varchar(10)"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	CreatedAt time.Time
}

func (balanceHistoryModel) TableName() string { return "balance_history" }

// =============================================================================
// CONVERSION
// =============================================================================

func toAccountModel(a ledger.Account) accountModel {
	return accountModel{
		ID:        string(a.ID),
		UserID:    string(a.UserID),
		Name:      a.Name,
		Type:      a.Type,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (m accountModel) toDomain() ledger.Account {
	return ledger.Account{
		ID:        ledger.AccountID(m.ID),
		UserID:    ledger.UserID(m.UserID),
		Name:      m.Name,
		Type:      m.Type,
		Balance:   m.Balance,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toTransactionModel(tx ledger.Transaction) transactionModel {
	return transactionModel{
		ID:                 string(tx.ID),
		UserID:             string(tx.UserID),
		AccountID:          string(tx.AccountID),
		PaymentMethodID:    string(tx.PaymentMethodID),
		Name:               tx.Name,
		Category:           tx.Category,
		Type:               string(tx.Type),
		Value:              tx.Value,
		ReleaseDate:        tx.ReleaseDate.String(),
		Recurring:          tx.Recurring,
		RecurringType:      optional(string(tx.RecurringType)),
		NumberInstallments: tx.NumberInstallments,
		CurrentInstallment: tx.CurrentInstallment,
		ValueInstallment:   tx.ValueInstallment,
		SeriesKey:          optional(tx.SeriesKey),
		SeriesPeriod:       optional(tx.SeriesPeriod),
		CreatedAt:          tx.CreatedAt,
	}
}

func (m transactionModel) toDomain() (ledger.Transaction, error) {
	release, err := ledger.ParseDate(m.ReleaseDate)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:                 ledger.TransactionID(m.ID),
		UserID:             ledger.UserID(m.UserID),
		AccountID:          ledger.AccountID(m.AccountID),
		PaymentMethodID:    ledger.PaymentMethodID(m.PaymentMethodID),
		Name:               m.Name,
		Category:           m.Category,
		Type:               ledger.TransactionType(m.Type),
		Value:              m.Value,
		ReleaseDate:        release,
		Recurring:          m.Recurring,
		RecurringType:      ledger.RecurringType(deref(m.RecurringType)),
		NumberInstallments: m.NumberInstallments,
		CurrentInstallment: m.CurrentInstallment,
		ValueInstallment:   m.ValueInstallment,
		SeriesKey:          deref(m.SeriesKey),
		SeriesPeriod:       deref(m.SeriesPeriod),
		CreatedAt:          m.CreatedAt.UTC(),
	}, nil
}

func (m balanceHistoryModel) toDomain() (ledger.BalanceHistory, error) {
	date, err := ledger.ParseDate(m.Date)
	if err != nil {
		return ledger.BalanceHistory{}, err
	}
	return ledger.BalanceHistory{
		AccountID: ledger.AccountID(m.AccountID),
		Date:      date,
		Balance:   m.Balance,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
