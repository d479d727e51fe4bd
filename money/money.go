/*
Package money provides exact decimal arithmetic for monetary amounts.

PURPOSE:
  Every balance mutation and installment split in the ledger goes through
  this package. Amounts are shopspring decimals, never float64, so adding
  0.10 ten times is exactly 1.00.

ROUNDING:
  Amounts live in the currency's minor unit (2 decimal places). Division
  rounds half-up (half away from zero for negative quotients):

    Divide(100.00, 3) = 33.33
    Divide(100.01, 2) = 50.01   (50.005 rounds up)

  The sum of rounded installments may differ from the original total by up
  to one cent per installment. That difference is accepted and never
  redistributed.

SEE ALSO:
  - ledger/poster.go: balance effects
  - ledger/types.go: installment value derivation
*/
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the currency's minor unit.
const MinorUnitPlaces int32 = 2

var (
	// ErrInvalidDivisor is returned when splitting into fewer than one part.
	ErrInvalidDivisor = errors.New("divisor must be at least 1")

	// ErrTooPrecise is returned when a parsed amount has sub-cent digits.
	ErrTooPrecise = errors.New("amount has more than 2 decimal places")
)

// Add returns a + b.
func Add(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }

// Subtract returns a - b.
func Subtract(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }

// Sum adds all values, starting from zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Divide splits total into n equal parts rounded half-up to the minor unit.
func Divide(total decimal.Decimal, n int) (decimal.Decimal, error) {
	if n < 1 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidDivisor, n)
	}
	return total.DivRound(decimal.NewFromInt(int64(n)), MinorUnitPlaces), nil
}

// Round rounds d half-up to the minor unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// Parse reads a decimal string such as "250.75". Values with sub-cent
// digits are rejected rather than silently rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrTooPrecise, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(MinorUnitPlaces)
}
