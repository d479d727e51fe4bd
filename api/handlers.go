/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the ledger engine and its store over REST. Handles HTTP
  request/response and JSON, and delegates every write to the engine so
  that the API, the CLI and the scheduler share one code path.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                      List accounts
    POST   /api/accounts                      Create account
    GET    /api/accounts/{id}                 Get account
    POST   /api/accounts/{id}/payment-methods Link a payment method
    GET    /api/accounts/{id}/transactions    Account transactions
    GET    /api/accounts/{id}/history         Balance history (?from=&to=)

  Transactions:
    POST   /api/transactions                  Post (201)
    GET    /api/transactions/{id}             Get
    DELETE /api/transactions/{id}             Reverse and delete

  Admin:
    POST   /api/admin/sweep                   Recurring + installment sweep
    POST   /api/admin/snapshot                Daily balance snapshot
    POST   /api/admin/recalculate             Rebuild balance history

ERROR HANDLING:
  Engine errors map to status codes in statusFor:
  - 400: Validation errors, bad payment method, bad range
  - 404: Unknown account or transaction
  - 409: Series occurrence exists or series locked
  - 503: Store unavailable (safe to retry)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logging"
	"github.com/warp/finance-ledger/money"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Store  ledger.AdminStore
	Log    zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the engine and the store it writes to.
func NewHandler(engine *ledger.Engine, store ledger.AdminStore, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Log: log}
}

// Health reports 200 when the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Store.FindAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// CreateAccount creates an account and links its payment methods.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "user_id and name are required", nil)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, http.StatusBadRequest, "Opening balance must not be negative", nil)
		return
	}

	ctx := r.Context()
	account, err := h.Store.CreateAccount(ctx, ledger.Account{
		ID:      ledger.AccountID(req.ID),
		UserID:  ledger.UserID(req.UserID),
		Name:    req.Name,
		Type:    req.Type,
		Balance: req.Balance,
	})
	if err != nil {
		h.fail(w, r, "Failed to create account", err)
		return
	}

	for _, pm := range req.PaymentMethods {
		if err := h.Store.LinkPaymentMethod(ctx, account.ID, ledger.PaymentMethodID(pm)); err != nil {
			h.fail(w, r, "Failed to link payment method", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

func (h *Handler) LinkPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req LinkPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PaymentMethodID == "" {
		writeError(w, http.StatusBadRequest, "payment_method_id is required", nil)
		return
	}

	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.Store.LinkPaymentMethod(r.Context(), accountID, ledger.PaymentMethodID(req.PaymentMethodID)); err != nil {
		h.fail(w, r, "Failed to link payment method", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Store.FindAccount(ctx, accountID); err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	txs, err := h.Store.ListTransactions(ctx, accountID)
	if err != nil {
		h.fail(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetBalanceHistory returns snapshots in [from, to]. Defaults to the last
// 30 days ending today (UTC).
func (h *Handler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	to := ledger.UTCDate(h.Engine.Now())
	var (
		from ledger.Date
		err  error
	)
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = ledger.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use YYYY-MM-DD)", err)
			return
		}
	}
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = ledger.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD)", err)
			return
		}
	}
	if from.IsZero() {
		from = to.AddDays(-30)
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from", nil)
		return
	}

	if _, err := h.Store.FindAccount(ctx, accountID); err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	rows, err := h.Store.ListBalanceHistory(ctx, accountID, from, to)
	if err != nil {
		h.fail(w, r, "Failed to load balance history", err)
		return
	}

	dtos := make([]BalanceHistoryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = BalanceHistoryDTO{Date: row.Date.String(), Balance: money.Format(row.Balance)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id and account_id are required", nil)
		return
	}

	posted, err := h.Engine.PostTransaction(r.Context(), req.toTransaction())
	if err != nil {
		h.fail(w, r, "Failed to post transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(posted))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Store.FindTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// ReverseTransaction deletes a transaction and undoes its balance effect.
// The response carries the deleted row.
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.ReverseTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to reverse transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweep runs the recurring and installment sweep. The report is returned
// even when individual series failed.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req RunSweepRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		report *ledger.SweepReport
		err    error
	)
	if req.Today != nil && !req.Today.IsZero() {
		report, err = h.Engine.RunSweepAt(r.Context(), *req.Today)
	} else {
		report, err = h.Engine.RunRecurringAndInstallmentSweep(r.Context())
	}
	if err != nil {
		h.fail(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) RunSnapshot(w http.ResponseWriter, r *http.Request) {
	var req RunSnapshotRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date != nil && req.Date.IsZero() {
		req.Date = nil
	}

	report, err := h.Engine.RunDailyBalanceSnapshot(r.Context(), req.Date)
	if err != nil {
		h.fail(w, r, "Snapshot failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Recalculate rebuilds balance history over [start, end]. mode defaults to
// the engine's configured mode.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required (YYYY-MM-DD)", nil)
		return
	}

	mode := h.Engine.Config.RecalcMode
	if req.Mode != "" {
		mode = ledger.RecalcMode(req.Mode)
	}

	report, err := h.Engine.Recalculate(r.Context(), ledger.AccountID(req.AccountID), req.Start, req.End, mode)
	if err != nil {
		h.fail(w, r, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsConflict(err):
		return http.StatusConflict
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the mapped error response. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeError(w, status, message, err)
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = strings.TrimSpace(err.Error())
	}
	writeJSON(w, status, resp)
}
