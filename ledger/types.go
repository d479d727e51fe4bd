/*
types.go - Core types for the finance ledger

PURPOSE:
  Defines the account, transaction and balance-history records the engine
  reads and writes, plus the series identity that groups recurring and
  installment siblings.

KEY CONCEPTS:
  Account:        Holds a cached balance, mutated only by the Poster
  Transaction:    Income or expense; optionally a member of a series
  SeriesIdentity: (user, name, category, type, account, payment method
                  [, number of installments]) shared by every sibling
  BalanceHistory: One balance snapshot per (account, date)

SERIES MEMBERSHIP:
  A transaction belongs to a series when it is recurring OR carries a
  number of installments. Recurring wins when both are set: the row is
  materialized once per recurrence period and keeps its installment
  fields untouched.

  Standalone:   Recurring=false, NumberInstallments=0
  Recurring:    Recurring=true,  RecurringType=monthly
  Installments: NumberInstallments=12, CurrentInstallment=3

SEE ALSO:
  - period.go: Period keys stored with each series member
  - poster.go: Balance effect of a transaction
  - store.go: Persistence of these types
*/
package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	AccountID       string
	UserID          string
	TransactionID   string
	PaymentMethodID string
)

// NewTransactionID returns a random transaction id.
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

// NewAccountID returns a random account id.
func NewAccountID() AccountID { return AccountID(uuid.NewString()) }

// =============================================================================
// ENUMS
// =============================================================================

// TransactionType is the direction of a transaction's balance effect.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

func (t TransactionType) Valid() bool { return t == TypeIncome || t == TypeExpense }

// RecurringType is the period of a recurring series.
type RecurringType string

const (
	RecurringWeekly  RecurringType = "weekly"
	RecurringMonthly RecurringType = "monthly"
	RecurringYearly  RecurringType = "yearly"
)

func (r RecurringType) Valid() bool {
	switch r {
	case RecurringWeekly, RecurringMonthly, RecurringYearly:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID        AccountID       `json:"id"`
	UserID    UserID          `json:"user_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"` // free-form: checking, savings, wallet...
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID              TransactionID   `json:"id"`
	UserID          UserID          `json:"user_id"`
	AccountID       AccountID       `json:"account_id"`
	PaymentMethodID PaymentMethodID `json:"payment_method_id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Type            TransactionType `json:"type"`
	Value           decimal.Decimal `json:"value"`
	ReleaseDate     Date            `json:"release_date"`

	// Series descriptor
	Recurring          bool            `json:"recurring"`
	RecurringType      RecurringType   `json:"recurring_type,omitempty"`
	NumberInstallments int             `json:"number_installments,omitempty"`
	CurrentInstallment int             `json:"current_installment,omitempty"`
	ValueInstallment   decimal.Decimal `json:"value_installment"`

	// Set by the Poster for series members. The store enforces
	// uniqueness of (SeriesKey, SeriesPeriod).
	SeriesKey    string `json:"series_key,omitempty"`
	SeriesPeriod string `json:"series_period,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsInstallment reports whether the row is an installment member.
// Recurring rows are never treated as installment members.
func (t Transaction) IsInstallment() bool {
	return !t.Recurring && t.NumberInstallments > 0
}

// IsSeriesMember reports whether the row belongs to a series.
func (t Transaction) IsSeriesMember() bool {
	return t.Recurring || t.NumberInstallments > 0
}

// InstallmentOpen reports whether more installments remain after this one.
func (t Transaction) InstallmentOpen() bool {
	return t.IsInstallment() && t.CurrentInstallment < t.NumberInstallments
}

// PostedAmount is the unsigned amount this row moves on its account:
// the installment value for installment members, the full value otherwise.
func (t Transaction) PostedAmount() decimal.Decimal {
	if t.IsInstallment() {
		return t.ValueInstallment
	}
	return t.Value
}

// SignedAmount is PostedAmount with the sign of the balance effect.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.PostedAmount().Neg()
	}
	return t.PostedAmount()
}

// Identity returns the series identity shared by this row's siblings.
func (t Transaction) Identity() SeriesIdentity {
	id := SeriesIdentity{
		UserID:          t.UserID,
		Name:            t.Name,
		Category:        t.Category,
		Type:            t.Type,
		AccountID:       t.AccountID,
		PaymentMethodID: t.PaymentMethodID,
		Recurring:       t.Recurring,
	}
	if t.IsInstallment() {
		id.NumberInstallments = t.NumberInstallments
	}
	return id
}

// Period returns the period this row occupies within its series.
// Installment members occupy calendar months.
func (t Transaction) Period() Period {
	if t.Recurring {
		return PeriodFor(t.RecurringType, t.ReleaseDate)
	}
	return PeriodFor(RecurringMonthly, t.ReleaseDate)
}

// PeriodKey returns the key of Period().
func (t Transaction) PeriodKey() string {
	if t.Recurring {
		return PeriodKey(t.RecurringType, t.ReleaseDate)
	}
	return PeriodKey(RecurringMonthly, t.ReleaseDate)
}

// =============================================================================
// SERIES IDENTITY
// =============================================================================

// SeriesIdentity groups sibling occurrences of one recurring or installment
// commitment. It is never stored; Key() is.
type SeriesIdentity struct {
	UserID             UserID
	Name               string
	Category           string
	Type               TransactionType
	AccountID          AccountID
	PaymentMethodID    PaymentMethodID
	Recurring          bool
	NumberInstallments int
}

// seriesNamespace scopes series keys so they never collide with random ids.
var seriesNamespace = uuid.MustParse("6f1c9a52-3b8e-4c7d-9e0a-2d5b7f8c1a43")

// Key is a stable, fixed-length rendering of the identity. Recurring and
// installment series with otherwise equal fields get different keys.
func (s SeriesIdentity) Key() string {
	kind := "installment"
	if s.Recurring {
		kind = "recurring"
	}
	parts := []string{
		kind,
		string(s.UserID),
		s.Name,
		s.Category,
		string(s.Type),
		string(s.AccountID),
		string(s.PaymentMethodID),
		strconv.Itoa(s.NumberInstallments),
	}
	return uuid.NewSHA1(seriesNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// =============================================================================
// BALANCE HISTORY
// =============================================================================

// BalanceHistory is the balance of an account on a calendar date.
// (AccountID, Date) is unique.
type BalanceHistory struct {
	AccountID AccountID       `json:"account_id"`
	Date      Date            `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}
