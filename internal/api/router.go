package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/ingestion"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/wallet"
)

type Deps struct {
	DB             *repository.DB
	Reconciler     reconciler
	Ingestion      *ingestion.Service
	Wallet         *wallet.Service
	APIKey         string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates the Chi router with all API routes mounted. Every route
// under /api/v1 requires the shared API key.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger.Named("api")
	h := &Handlers{
		reconciler: d.Reconciler,
		ingestion:  d.Ingestion,
		wallet:     d.Wallet,
		txns:       repository.NewTransactionRepo(d.DB),
		unmatched:  repository.NewUnmatchedRepo(d.DB),
		orders:     repository.NewOrderRepo(d.DB),
		logger:     logger,
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// CORS runs first so browser preflights from the operator console
		// are answered without credentials.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Use(requireAPIKey(d.APIKey))

		// Gateway webhook.
		r.Post("/webhooks/bank-transfer", h.HandleBankTransfer)

		// Backfill.
		r.Post("/statements/import", h.ImportStatement)

		// Transactions.
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{gatewayID}", h.GetTransaction)

		// Unmatched audit.
		r.Get("/unmatched", h.ListUnmatched)
		r.Get("/unmatched/summary", h.GetUnmatchedSummary)

		// Orders and wallets.
		r.Get("/orders/earning-failures", h.ListEarningFailures)
		r.Get("/orders/{id}/payment-status", h.GetOrderPaymentStatus)
		r.Post("/orders/{id}/earning/retry", h.RetryEarning)
		r.Get("/wallets/{sellerID}", h.GetWallet)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
