package money_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/money"
)

// randomAmount returns a random positive amount with 2 decimal places.
func randomAmount(r *rand.Rand) decimal.Decimal {
	cents := r.Int63n(100_000_000) + 1
	return decimal.New(cents, -2)
}

func TestAdd_ExactOverRandomSamples(t *testing.T) {
	// GIVEN: 2,000 random (balance, value) pairs with 2 decimal places
	// WHEN: Adding value to balance
	// THEN: The result equals the integer sum of cents, with no float drift

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		bCents := r.Int63n(1_000_000_000) - 500_000_000
		vCents := r.Int63n(100_000_000) + 1
		b := decimal.New(bCents, -2)
		v := decimal.New(vCents, -2)

		got := money.Add(b, v)
		want := decimal.New(bCents+vCents, -2)
		require.True(t, got.Equal(want), "sample %d: %s + %s = %s, want %s", i, b, v, got, want)

		back := money.Subtract(got, v)
		require.True(t, back.Equal(b), "sample %d: subtract did not invert add", i)
	}
}

func TestAdd_TenCentsTenTimes(t *testing.T) {
	total := decimal.Zero
	for i := 0; i < 10; i++ {
		total = money.Add(total, money.MustParse("0.10"))
	}
	assert.Equal(t, "1.00", money.Format(total))
}

func TestDivide_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		total string
		n     int
		want  string
	}{
		{"100.00", 3, "33.33"},
		{"100.01", 2, "50.01"},
		{"0.05", 2, "0.03"},
		{"200.00", 3, "66.67"},
		{"10.00", 1, "10.00"},
		{"1000.00", 12, "83.33"},
	}

	for _, tt := range tests {
		got, err := money.Divide(money.MustParse(tt.total), tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, money.Format(got), "%s / %d", tt.total, tt.n)
	}
}

func TestDivide_RejectsZeroParts(t *testing.T) {
	_, err := money.Divide(money.MustParse("10.00"), 0)
	assert.ErrorIs(t, err, money.ErrInvalidDivisor)
}

func TestDivide_InstallmentSumWithinRoundingSlack(t *testing.T) {
	// GIVEN: Random totals split into 1..48 installments
	// WHEN: Summing the rounded installment values
	// THEN: The sum differs from the total by at most n cents

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		total := randomAmount(r)
		n := r.Intn(48) + 1

		part, err := money.Divide(total, n)
		require.NoError(t, err)

		parts := make([]decimal.Decimal, n)
		for k := range parts {
			parts[k] = part
		}
		diff := money.Sum(parts...).Sub(total).Abs()
		slack := decimal.New(int64(n), -2)
		require.True(t, diff.LessThanOrEqual(slack), "total %s / %d: diff %s exceeds %s", total, n, diff, slack)
	}
}

func TestParse(t *testing.T) {
	d, err := money.Parse("250.75")
	require.NoError(t, err)
	assert.Equal(t, "250.75", money.Format(d))

	_, err = money.Parse("1.005")
	assert.ErrorIs(t, err, money.ErrTooPrecise)

	_, err = money.Parse("abc")
	assert.Error(t, err)
}
