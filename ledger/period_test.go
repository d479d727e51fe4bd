package ledger_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
)

func TestPeriodKey(t *testing.T) {
	assert.Equal(t, "2024-03", ledger.PeriodKey(ledger.RecurringMonthly, d("2024-03-15")))
	assert.Equal(t, "2024-W11", ledger.PeriodKey(ledger.RecurringWeekly, d("2024-03-11")))
	assert.Equal(t, "2024", ledger.PeriodKey(ledger.RecurringYearly, d("2024-03-15")))

	// ISO week-year differs from calendar year at the boundary.
	assert.Equal(t, "2025-W01", ledger.PeriodKey(ledger.RecurringWeekly, d("2024-12-30")))
}

func TestWeekPeriod_MondayToSunday(t *testing.T) {
	p := ledger.WeekPeriod(d("2024-03-13"))
	assert.Equal(t, "2024-03-11", p.Start.String())
	assert.Equal(t, "2024-03-17", p.End.String())
	assert.Equal(t, 7, p.Len())

	sunday := ledger.WeekPeriod(d("2024-03-17"))
	assert.Equal(t, p, sunday)
}

func TestMonthPeriod_LeapFebruary(t *testing.T) {
	p := ledger.MonthPeriod(2024, time.February)
	assert.Equal(t, "2024-02-29", p.End.String())
	assert.Len(t, p.Days(), 29)
	assert.True(t, p.Contains(d("2024-02-01")))
	assert.False(t, p.Contains(d("2024-03-01")))
}

func TestDate_UTCDayGranularity(t *testing.T) {
	// GIVEN: 23:30 in UTC-3 is already the next day in UTC
	local := time.Date(2024, time.March, 15, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))

	// THEN: DateOf reads the local day, UTCDate the UTC day
	assert.Equal(t, "2024-03-15", ledger.DateOf(local).String())
	assert.Equal(t, "2024-03-16", ledger.UTCDate(local).String())
}

func TestDate_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		At ledger.Date `json:"at"`
	}{At: d("2024-03-15")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2024-03-15"}`, string(b))

	var got struct {
		At ledger.Date `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2024-01-31"}`), &got))
	assert.True(t, got.At.Equal(d("2024-01-31")))

	assert.Error(t, json.Unmarshal([]byte(`{"at":"31/01/2024"}`), &got))
}

func TestPreviousMonth_RollsYear(t *testing.T) {
	y, m := ledger.PreviousMonth(2024, time.January)
	assert.Equal(t, 2023, y)
	assert.Equal(t, time.December, m)
}
