package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/remittance-service/internal/domain"
)

type exchangeRateResponse struct {
	FromCurrency    string          `json:"fromCurrency"`
	ToCurrency      string          `json:"toCurrency"`
	Rate            decimal.Decimal `json:"rate"`
	AdminFeePercent decimal.Decimal `json:"adminFeePercent"`
	UpdatedAt       string          `json:"updatedAt"`
}

type updateRateRequest struct {
	FromCurrencyCode string          `json:"fromCurrencyCode" validate:"required,len=3,alpha"`
	ToCurrencyCode   string          `json:"toCurrencyCode" validate:"required,len=3,alpha"`
	Rate             decimal.Decimal `json:"rate"`
	AdminFeePercent  decimal.Decimal `json:"adminFeePercent"`
}

type upsertCurrencyRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	IsActive *bool  `json:"isActive" validate:"required"`
}

// GetExchangeRateHandler handles GET /exchange-rate?from=&to=.
func (h *Handlers) GetExchangeRateHandler(w http.ResponseWriter, r *http.Request) {
	from, to, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	rate, err := h.service.GetExchangeRate(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, "get_exchange_rate", err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeRateResponse{
		FromCurrency:    rate.FromCurrency,
		ToCurrency:      rate.ToCurrency,
		Rate:            rate.Rate,
		AdminFeePercent: rate.AdminFeePercent,
		UpdatedAt:       rate.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// QuoteHandler handles GET /exchange-rate/quote?from=&to=&amount=.
func (h *Handlers) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	from, to, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidQuoteInput.Code, "amount must be a decimal number")
		return
	}
	quote, err := h.service.PreviewQuote(r.Context(), from, to, amount)
	if err != nil {
		writeServiceError(w, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ListCurrenciesHandler handles GET /currencies. Only active currencies are listed.
func (h *Handlers) ListCurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.service.ListCurrencies(r.Context(), true)
	if err != nil {
		writeServiceError(w, "list_currencies", err)
		return
	}
	writeJSON(w, http.StatusOK, currencies)
}

// UpdateExchangeRateHandler handles PUT /admin/exchange-rates.
func (h *Handlers) UpdateExchangeRateHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	var req updateRateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rate, err := h.service.UpdateExchangeRate(r.Context(), domain.UpdateRateCommand{
		Actor:            actor,
		FromCurrencyCode: req.FromCurrencyCode,
		ToCurrencyCode:   req.ToCurrencyCode,
		Rate:             req.Rate,
		AdminFeePercent:  req.AdminFeePercent,
	})
	if err != nil {
		writeServiceError(w, "update_exchange_rate", err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

// RateHistoryHandler handles GET /admin/exchange-rates/history?from=&to=&limit=.
func (h *Handlers) RateHistoryHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	from, to, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid limit")
			return
		}
		limit = parsed
	}

	history, err := h.service.ExchangeRateHistory(r.Context(), actor, from, to, limit)
	if err != nil {
		writeServiceError(w, "rate_history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// UpsertCurrencyHandler handles PUT /admin/currencies/{code}.
func (h *Handlers) UpsertCurrencyHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	var req upsertCurrencyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	currency, err := h.service.UpsertCurrency(r.Context(), domain.UpsertCurrencyCommand{
		Actor:    actor,
		Code:     chi.URLParam(r, "code"),
		Name:     req.Name,
		IsActive: *req.IsActive,
	})
	if err != nil {
		writeServiceError(w, "upsert_currency", err)
		return
	}
	writeJSON(w, http.StatusOK, currency)
}

func pairFromQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "from and to query parameters are required")
		return "", "", false
	}
	return from, to, true
}
