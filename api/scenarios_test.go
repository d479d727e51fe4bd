package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/ledger"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]ScenarioDTO](t, rec)
	require.Len(t, got, len(loaders))
	for _, s := range got {
		assert.Contains(t, loaders, s.ID)
	}
}

func TestLoadScenario_ThenSweep(t *testing.T) {
	tests := []struct {
		scenario     string
		afterLoad    string
		createdCount int
		afterSweep   string
	}{
		// 2500 + 5000 - 1500 - 100 (1/12 of 1200) - 4.50
		{"household", "5895.50", 3, "9295.50"},
		// 2000 + 50 - 15.99 - 480
		{"subscriptions", "1554.01", 3, "1108.02"},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			// GIVEN: A scenario loaded as of 2024-03-15
			// WHEN: The sweep runs for that day
			// THEN: Every series advances exactly once

			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{
				ScenarioID: tt.scenario,
				AsOf:       datePtr("2024-03-15"),
			})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			loaded := decode[LoadScenarioResponse](t, rec)
			require.Len(t, loaded.Accounts, 1)
			assert.Equal(t, tt.afterLoad, loaded.Accounts[0].Balance)

			rec = ts.do(t, http.MethodPost, "/api/admin/sweep", RunSweepRequest{Today: datePtr("2024-03-15")})
			require.Equal(t, http.StatusOK, rec.Code)
			report := decode[ledger.SweepReport](t, rec)
			assert.Equal(t, tt.createdCount, report.Created)
			assert.Zero(t, report.Failed)

			rec = ts.do(t, http.MethodGet, "/api/accounts/"+loaded.Accounts[0].ID, nil)
			assert.Equal(t, tt.afterSweep, decode[AccountDTO](t, rec).Balance)

			rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, tt.scenario, decode[map[string]string](t, rec)["scenario_id"])
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "lottery"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSameDayMonthsAgo(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2024-03-15", 1, "2024-02-15"},
		{"2024-03-31", 1, "2024-02-29"},
		{"2024-01-31", 1, "2023-12-31"},
		{"2024-02-29", 12, "2023-02-28"},
	}
	for _, tt := range tests {
		got := sameDayMonthsAgo(ledger.MustParseDate(tt.from), tt.months)
		assert.Equal(t, tt.want, got.String(), tt.from)
	}
}
