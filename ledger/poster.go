/*
poster.go - Creates a transaction row and applies its balance effect

PURPOSE:
  The Poster is the only writer of Account.Balance. Every path that
  creates a transaction (API, CLI, sweep) ends here.

POST SEQUENCE:
  1. Normalize and validate the payload (value > 0, known type, series
     fields derived)
  2. Account must exist and belong to the user       -> ErrAccountNotFound
  3. Payment method must be linked to the account    -> ErrIncompatiblePaymentMethod
  4. Persist the row (series uniqueness enforced)    -> ErrSeriesAlreadyMaterialized
  5. balance = income ? balance + amount : balance - amount

  Steps 4 and 5 use the same Store. Callers hand in the Store of a
  WithTx callback so the row and its balance effect commit together.

INSTALLMENTS:
  value_installment = round_half_up(value / number_installments, 2)
  The balance effect of an installment member is value_installment, not
  the total value.

SEE ALSO:
  - money/money.go: Decimal arithmetic
  - engine.go: Wraps Post/Reverse in WithTx
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-ledger/money"
)

type Poster struct {
	Now Clock
}

// NewPoster returns a Poster reading the given clock.
func NewPoster(now Clock) *Poster {
	if now == nil {
		now = SystemClock
	}
	return &Poster{Now: now}
}

// Post validates tx, persists it and applies its balance effect.
func (p *Poster) Post(ctx context.Context, s Store, tx Transaction) (Transaction, error) {
	tx, err := p.Normalize(tx)
	if err != nil {
		return Transaction{}, err
	}

	account, err := p.authorize(ctx, s, tx)
	if err != nil {
		return Transaction{}, err
	}

	created, err := s.CreateTransaction(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}

	balance := money.Add(account.Balance, created.SignedAmount())
	if _, err := s.UpdateAccountBalance(ctx, account.ID, balance); err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Reverse deletes a transaction and undoes its balance effect.
func (p *Poster) Reverse(ctx context.Context, s Store, id TransactionID) (Transaction, error) {
	tx, err := s.FindTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}

	account, err := s.FindAccount(ctx, tx.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Transaction{}, &AccountNotFoundError{AccountID: tx.AccountID}
		}
		return Transaction{}, err
	}

	if err := s.DeleteTransaction(ctx, id); err != nil {
		return Transaction{}, err
	}

	balance := money.Subtract(account.Balance, tx.SignedAmount())
	if _, err := s.UpdateAccountBalance(ctx, account.ID, balance); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (p *Poster) authorize(ctx context.Context, s Store, tx Transaction) (Account, error) {
	account, err := s.FindAccount(ctx, tx.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, &AccountNotFoundError{AccountID: tx.AccountID}
		}
		return Account{}, err
	}
	if account.UserID != tx.UserID {
		return Account{}, &AccountNotFoundError{AccountID: tx.AccountID, UserID: tx.UserID}
	}

	linked, err := s.HasPaymentMethod(ctx, tx.AccountID, tx.PaymentMethodID)
	if err != nil {
		return Account{}, err
	}
	if !linked {
		return Account{}, &PaymentMethodError{AccountID: tx.AccountID, PaymentMethodID: tx.PaymentMethodID}
	}
	return account, nil
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// Normalize fills derived fields and rejects malformed payloads.
func (p *Poster) Normalize(tx Transaction) (Transaction, error) {
	if !tx.Value.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: got %s", ErrInvalidMonetaryValue, tx.Value)
	}
	if !tx.Value.Equal(money.Round(tx.Value)) {
		return Transaction{}, fmt.Errorf("%w: %s has sub-cent digits", ErrInvalidMonetaryValue, tx.Value)
	}
	if !tx.Type.Valid() {
		return Transaction{}, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, tx.Type)
	}

	now := p.Now()
	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	if tx.ReleaseDate.IsZero() {
		tx.ReleaseDate = UTCDate(now)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now.UTC().Truncate(time.Second)
	}

	if tx.Recurring {
		if tx.RecurringType == "" {
			tx.RecurringType = RecurringMonthly
		}
		if !tx.RecurringType.Valid() {
			return Transaction{}, fmt.Errorf("%w: %q", ErrUnsupportedRecurrence, tx.RecurringType)
		}
	} else {
		tx.RecurringType = ""
	}

	if err := normalizeInstallments(&tx); err != nil {
		return Transaction{}, err
	}

	if tx.IsSeriesMember() {
		tx.SeriesKey = tx.Identity().Key()
		tx.SeriesPeriod = tx.PeriodKey()
	} else {
		tx.SeriesKey = ""
		tx.SeriesPeriod = ""
	}
	return tx, nil
}

func normalizeInstallments(tx *Transaction) error {
	switch {
	case tx.NumberInstallments < 0:
		return fmt.Errorf("%w: number_installments %d", ErrInvalidTransaction, tx.NumberInstallments)
	case tx.NumberInstallments == 0:
		tx.CurrentInstallment = 0
		tx.ValueInstallment = decimal.Zero
		return nil
	}

	if tx.CurrentInstallment == 0 {
		tx.CurrentInstallment = 1
	}
	if tx.CurrentInstallment < 1 || tx.CurrentInstallment > tx.NumberInstallments {
		return fmt.Errorf("%w: installment %d of %d", ErrInvalidTransaction, tx.CurrentInstallment, tx.NumberInstallments)
	}
	if tx.ValueInstallment.IsZero() {
		v, err := money.Divide(tx.Value, tx.NumberInstallments)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		tx.ValueInstallment = v
	}
	return nil
}
