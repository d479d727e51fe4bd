/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. requestLog: One structured log line per request (component=http)
  4. CORS:       Cross-origin requests for a dashboard frontend

ROUTE GROUPS:
  /api/health           Liveness + store ping
  /api/accounts/*       Account management and balance history
  /api/transactions/*   Post, read and reverse transactions
  /api/admin/*          Sweep, snapshot and recalculation runs
  /api/scenarios/*      Demo data

SECURITY NOTE:
  No authentication middleware. Put the server behind a gateway that
  restricts /api/admin.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/logging"
)

// NewRouter creates a router with all routes configured. allowedOrigins
// feeds the CORS middleware.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(logging.Component(h.Log, "http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Post("/{id}/payment-methods", h.LinkPaymentMethod)
			r.Get("/{id}/transactions", h.ListAccountTransactions)
			r.Get("/{id}/history", h.GetBalanceHistory)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.PostTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Delete("/{id}", h.ReverseTransaction)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Post("/snapshot", h.RunSnapshot)
			r.Post("/recalculate", h.Recalculate)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLog writes one line per request once the handler returns. The
// request-scoped logger is available to handlers via logging.FromContext.
func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLog := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := reqLog.Info()
			if status >= http.StatusInternalServerError {
				ev = reqLog.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
