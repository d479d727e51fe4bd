/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the store with realistic accounts and series so the sweep,
  snapshot and recalculation runs have something to work on. Every
  series is back-dated one period before the scenario date, so running
  the sweep for that date advances each of them once.

AVAILABLE SCENARIOS:
  household:      Checking account with salary, rent and a laptop bought
                  in 12 installments
  subscriptions:  Wallet with a weekly allowance, a monthly streaming plan
                  and a yearly insurance premium

HOW SCENARIOS WORK:
 1. Create the accounts (fresh ids, so loading twice never collides)
 2. Link their payment methods
 3. Post the first occurrence of every series through the engine

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "household", "as_of": "2024-03-15"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description
 2. Write a loader: loadXxx(ctx, h, asOf)
 3. Register it in 'loaders'

SEE ALSO:
  - handlers.go: Engine endpoints exercised after loading
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/money"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoUser ledger.UserID = "demo-user"

var scenarios = []ScenarioDTO{
	{
		ID:          "household",
		Name:        "Household",
		Description: "Monthly salary and rent plus a 12x laptop purchase on the credit card",
		Category:    "monthly",
	},
	{
		ID:          "subscriptions",
		Name:        "Subscriptions",
		Description: "Weekly allowance, monthly streaming plan and a yearly insurance premium",
		Category:    "mixed",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, asOf ledger.Date) ([]ledger.Account, int, error)

var loaders = map[string]scenarioLoader{
	"household":     loadHousehold,
	"subscriptions": loadSubscriptions,
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	asOf := ledger.UTCDate(h.Engine.Now())
	if req.AsOf != nil && !req.AsOf.IsZero() {
		asOf = *req.AsOf
	}

	accounts, posted, err := load(r.Context(), h, asOf)
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Log.Info().Str("scenario", req.ScenarioID).Str("as_of", asOf.String()).Int("transactions", posted).Msg("scenario loaded")

	resp := LoadScenarioResponse{
		ScenarioID:   req.ScenarioID,
		AsOf:         asOf.String(),
		Accounts:     make([]AccountDTO, len(accounts)),
		Transactions: posted,
	}
	for i, a := range accounts {
		resp.Accounts[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

func loadHousehold(ctx context.Context, h *Handler, asOf ledger.Date) ([]ledger.Account, int, error) {
	checking, err := h.openAccount(ctx, "Checking", "checking", "2500.00", "debit-card", "credit-card")
	if err != nil {
		return nil, 0, err
	}
	lastMonth := sameDayMonthsAgo(asOf, 1)

	txs := []ledger.Transaction{
		{
			PaymentMethodID: "debit-card", Name: "Salary", Category: "income",
			Type: ledger.TypeIncome, Value: money.MustParse("5000.00"), ReleaseDate: lastMonth,
			Recurring: true, RecurringType: ledger.RecurringMonthly,
		},
		{
			PaymentMethodID: "debit-card", Name: "Rent", Category: "housing",
			Type: ledger.TypeExpense, Value: money.MustParse("1500.00"), ReleaseDate: lastMonth,
			Recurring: true, RecurringType: ledger.RecurringMonthly,
		},
		{
			PaymentMethodID: "credit-card", Name: "Laptop", Category: "electronics",
			Type: ledger.TypeExpense, Value: money.MustParse("1200.00"), ReleaseDate: lastMonth,
			NumberInstallments: 12,
		},
		{
			PaymentMethodID: "debit-card", Name: "Coffee", Category: "food",
			Type: ledger.TypeExpense, Value: money.MustParse("4.50"), ReleaseDate: asOf,
		},
	}
	return h.postAll(ctx, checking, txs)
}

func loadSubscriptions(ctx context.Context, h *Handler, asOf ledger.Date) ([]ledger.Account, int, error) {
	wallet, err := h.openAccount(ctx, "Wallet", "wallet", "2000.00", "wallet-app")
	if err != nil {
		return nil, 0, err
	}

	txs := []ledger.Transaction{
		{
			PaymentMethodID: "wallet-app", Name: "Allowance", Category: "income",
			Type: ledger.TypeIncome, Value: money.MustParse("50.00"), ReleaseDate: asOf.AddDays(-7),
			Recurring: true, RecurringType: ledger.RecurringWeekly,
		},
		{
			PaymentMethodID: "wallet-app", Name: "Streaming", Category: "entertainment",
			Type: ledger.TypeExpense, Value: money.MustParse("15.99"), ReleaseDate: sameDayMonthsAgo(asOf, 1),
			Recurring: true, RecurringType: ledger.RecurringMonthly,
		},
		{
			PaymentMethodID: "wallet-app", Name: "Insurance", Category: "insurance",
			Type: ledger.TypeExpense, Value: money.MustParse("480.00"), ReleaseDate: sameDayMonthsAgo(asOf, 12),
			Recurring: true, RecurringType: ledger.RecurringYearly,
		},
	}
	return h.postAll(ctx, wallet, txs)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) openAccount(ctx context.Context, name, kind, opening string, methods ...string) (ledger.Account, error) {
	account, err := h.Store.CreateAccount(ctx, ledger.Account{
		UserID:  demoUser,
		Name:    name,
		Type:    kind,
		Balance: money.MustParse(opening),
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("create %s account: %w", name, err)
	}
	for _, pm := range methods {
		if err := h.Store.LinkPaymentMethod(ctx, account.ID, ledger.PaymentMethodID(pm)); err != nil {
			return ledger.Account{}, fmt.Errorf("link %s: %w", pm, err)
		}
	}
	return account, nil
}

// postAll posts txs against account and returns the account re-read with
// its final balance.
func (h *Handler) postAll(ctx context.Context, account ledger.Account, txs []ledger.Transaction) ([]ledger.Account, int, error) {
	for _, tx := range txs {
		tx.UserID = account.UserID
		tx.AccountID = account.ID
		if _, err := h.Engine.PostTransaction(ctx, tx); err != nil {
			return nil, 0, fmt.Errorf("post %s: %w", tx.Name, err)
		}
	}

	fresh, err := h.Store.FindAccount(ctx, account.ID)
	if err != nil {
		return nil, 0, err
	}
	return []ledger.Account{fresh}, len(txs), nil
}

// sameDayMonthsAgo steps back n months, clamping to the end of a shorter
// month instead of rolling over.
func sameDayMonthsAgo(d ledger.Date, n int) ledger.Date {
	first := ledger.NewDate(d.Year(), d.Month(), 1).AddMonths(-n)
	day := d.Day()
	if last := ledger.DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return ledger.NewDate(first.Year(), first.Month(), day)
}
