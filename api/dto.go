/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money leaves the
  API as strings with exactly two decimals ("1049.25") so clients never
  round through float64. Money enters as a JSON string or number.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and in the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/money"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type CreateAccountRequest struct {
	ID             string          `json:"id,omitempty"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Balance        decimal.Decimal `json:"balance"`
	PaymentMethods []string        `json:"payment_methods,omitempty"`
}

type LinkPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

type BalanceHistoryDTO struct {
	Date    string `json:"date"`
	Balance string `json:"balance"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	AccountID          string `json:"account_id"`
	PaymentMethodID    string `json:"payment_method_id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	Type               string `json:"type"`
	Value              string `json:"value"`
	ReleaseDate        string `json:"release_date"`
	Recurring          bool   `json:"recurring"`
	RecurringType      string `json:"recurring_type,omitempty"`
	NumberInstallments int    `json:"number_installments,omitempty"`
	CurrentInstallment int    `json:"current_installment,omitempty"`
	ValueInstallment   string `json:"value_installment,omitempty"`
	SeriesKey          string `json:"series_key,omitempty"`
	SeriesPeriod       string `json:"series_period,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// PostTransactionRequest is the body of POST /api/transactions. An empty
// release_date means today (UTC).
type PostTransactionRequest struct {
	UserID             string          `json:"user_id"`
	AccountID          string          `json:"account_id"`
	PaymentMethodID    string          `json:"payment_method_id"`
	Name               string          `json:"name"`
	Category           string          `json:"category"`
	Type               string          `json:"type"`
	Value              decimal.Decimal `json:"value"`
	ReleaseDate        *ledger.Date    `json:"release_date,omitempty"`
	Recurring          bool            `json:"recurring"`
	RecurringType      string          `json:"recurring_type,omitempty"`
	NumberInstallments int             `json:"number_installments,omitempty"`
	CurrentInstallment int             `json:"current_installment,omitempty"`
}

// =============================================================================
// ADMIN RUNS
// =============================================================================

// RunSweepRequest overrides the sweep's "today". Empty means the clock.
type RunSweepRequest struct {
	Today *ledger.Date `json:"today,omitempty"`
}

// RunSnapshotRequest pins the snapshot date. Empty applies the grace rule.
type RunSnapshotRequest struct {
	Date *ledger.Date `json:"date,omitempty"`
}

type RecalculateRequest struct {
	AccountID string      `json:"account_id,omitempty"` // empty = every account
	Start     ledger.Date `json:"start"`
	End       ledger.Date `json:"end"`
	Mode      string      `json:"mode,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string       `json:"scenario_id"`
	AsOf       *ledger.Date `json:"as_of,omitempty"`
}

type LoadScenarioResponse struct {
	ScenarioID   string       `json:"scenario_id"`
	AsOf         string       `json:"as_of"`
	Accounts     []AccountDTO `json:"accounts"`
	Transactions int          `json:"transactions"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		UserID:    string(a.UserID),
		Name:      a.Name,
		Type:      a.Type,
		Balance:   money.Format(a.Balance),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                 string(tx.ID),
		UserID:             string(tx.UserID),
		AccountID:          string(tx.AccountID),
		PaymentMethodID:    string(tx.PaymentMethodID),
		Name:               tx.Name,
		Category:           tx.Category,
		Type:               string(tx.Type),
		Value:              money.Format(tx.Value),
		ReleaseDate:        tx.ReleaseDate.String(),
		Recurring:          tx.Recurring,
		RecurringType:      string(tx.RecurringType),
		NumberInstallments: tx.NumberInstallments,
		CurrentInstallment: tx.CurrentInstallment,
		SeriesKey:          tx.SeriesKey,
		SeriesPeriod:       tx.SeriesPeriod,
		CreatedAt:          tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.IsInstallment() {
		dto.ValueInstallment = money.Format(tx.ValueInstallment)
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func (req PostTransactionRequest) toTransaction() ledger.Transaction {
	tx := ledger.Transaction{
		UserID:             ledger.UserID(req.UserID),
		AccountID:          ledger.AccountID(req.AccountID),
		PaymentMethodID:    ledger.PaymentMethodID(req.PaymentMethodID),
		Name:               req.Name,
		Category:           req.Category,
		Type:               ledger.TransactionType(req.Type),
		Value:              req.Value,
		Recurring:          req.Recurring,
		RecurringType:      ledger.RecurringType(req.RecurringType),
		NumberInstallments: req.NumberInstallments,
		CurrentInstallment: req.CurrentInstallment,
	}
	if req.ReleaseDate != nil {
		tx.ReleaseDate = *req.ReleaseDate
	}
	return tx
}
