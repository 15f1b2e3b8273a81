/**
 * @description
 * This file sets up the HTTP router for the remittance service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication and admin middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/remittance-service/internal/app"
)

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// Routes creates and returns a new router for the remittance service.
func Routes(h *Handlers, auth AuthConfig, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public rate endpoints.
	r.Get("/exchange-rate", h.GetExchangeRateHandler)
	r.Get("/exchange-rate/quote", h.QuoteHandler)
	r.Get("/currencies", h.ListCurrenciesHandler)

	authMiddleware := AuthMiddleware(auth.JWTSecret, auth.JWTIssuer)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/transactions", h.CreateTransactionHandler)
		r.Get("/transactions", h.ListMyTransactionsHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)
		r.Post("/transactions/{id}/receipt", h.UploadReceiptHandler)
		r.Post("/transactions/{id}/cancel", h.CancelTransactionHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(RequireApprovalAuthority)

		r.Get("/transactions", h.AdminListTransactionsHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)
		r.Post("/transactions/{id}/approve", h.DecisionHandler(app.DecisionApprove))
		r.Post("/transactions/{id}/reject", h.DecisionHandler(app.DecisionReject))
		r.Post("/transactions/{id}/complete", h.DecisionHandler(app.DecisionComplete))
		r.Post("/transactions/{id}/cancel", h.CancelTransactionHandler)
		r.Get("/transactions/{id}/audit", h.AuditTrailHandler)
		r.Get("/transactions/{id}/receipt", h.DownloadReceiptHandler)

		r.Put("/exchange-rates", h.UpdateExchangeRateHandler)
		r.Get("/exchange-rates/history", h.RateHistoryHandler)
		r.Put("/currencies/{code}", h.UpsertCurrencyHandler)
	})

	return r
}
