/**
 * @description
 * This file contains the HTTP handlers for the remittance service's transaction
 * endpoints. Handlers parse incoming requests, call the application service and
 * write the HTTP response. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic, models, and the error taxonomy.
 * - github.com/go-playground/validator/v10: Request body validation.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/app"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
)

// multipartOverhead is allowed on top of the receipt limit for the form envelope.
const multipartOverhead = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service         *app.Service
	validate        *validator.Validate
	maxReceiptBytes int64
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, maxReceiptBytes int64) *Handlers {
	return &Handlers{
		service:         service,
		validate:        validator.New(),
		maxReceiptBytes: maxReceiptBytes,
	}
}

type createTransactionRequest struct {
	SenderName             string          `json:"senderName" validate:"required,max=120"`
	SenderPhone            string          `json:"senderPhone" validate:"required,max=32"`
	SenderCountry          string          `json:"senderCountry" validate:"required,max=64"`
	RecipientName          string          `json:"recipientName" validate:"required,max=120"`
	RecipientPhone         string          `json:"recipientPhone" validate:"required,max=32"`
	RecipientBankName      string          `json:"recipientBankName" validate:"omitempty,max=120"`
	RecipientAccountNumber string          `json:"recipientAccountNumber" validate:"omitempty,max=34"`
	FromCurrencyCode       string          `json:"fromCurrencyCode" validate:"required,len=3,alpha"`
	ToCurrencyCode         string          `json:"toCurrencyCode" validate:"required,len=3,alpha"`
	AmountSent             decimal.Decimal `json:"amountSent"`
}

type createTransactionResponse struct {
	ID                     uuid.UUID       `json:"id"`
	TransactionRef         string          `json:"transactionRef"`
	AmountReceived         decimal.Decimal `json:"amountReceived"`
	ExchangeRateApplied    decimal.Decimal `json:"exchangeRateApplied"`
	AdminFeePercentApplied decimal.Decimal `json:"adminFeePercentApplied"`
	Status                 domain.Status   `json:"status"`
}

// CreateTransactionHandler handles POST /transactions.
func (h *Handlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req createTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), domain.CreateTransactionCommand{
		Actor:                  actor,
		SenderName:             req.SenderName,
		SenderPhone:            req.SenderPhone,
		SenderCountry:          req.SenderCountry,
		RecipientName:          req.RecipientName,
		RecipientPhone:         req.RecipientPhone,
		RecipientBankName:      req.RecipientBankName,
		RecipientAccountNumber: req.RecipientAccountNumber,
		FromCurrencyCode:       req.FromCurrencyCode,
		ToCurrencyCode:         req.ToCurrencyCode,
		AmountSent:             req.AmountSent,
	})
	if err != nil {
		writeServiceError(w, "create_transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, createTransactionResponse{
		ID:                     tx.ID,
		TransactionRef:         tx.TransactionRef,
		AmountReceived:         tx.AmountReceived,
		ExchangeRateApplied:    tx.ExchangeRateApplied,
		AdminFeePercentApplied: tx.AdminFeePercentApplied,
		Status:                 tx.Status,
	})
}

// ListMyTransactionsHandler handles GET /transactions.
func (h *Handlers) ListMyTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	items, err := h.service.ListUserTransactions(r.Context(), actor, limit, offset)
	if err != nil {
		writeServiceError(w, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetTransactionHandler handles GET /transactions/{id} and its admin twin.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// UploadReceiptHandler handles POST /transactions/{id}/receipt. The file is
// read from the multipart field "receipt".
func (h *Handlers) UploadReceiptHandler(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxReceiptBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxReceiptBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusUnprocessableEntity, domain.ErrInvalidReceipt.Code, "Receipt file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, domain.ErrInvalidReceipt.Code, "Expected a multipart form with a receipt file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("receipt")
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidReceipt.Code, "Missing receipt file")
		return
	}
	defer file.Close()

	tx, err := h.service.AttachReceipt(r.Context(), id, actor, file)
	if err != nil {
		writeServiceError(w, "upload_receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// CancelTransactionHandler handles POST /transactions/{id}/cancel and its admin twin.
func (h *Handlers) CancelTransactionHandler(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.Cancel(r.Context(), domain.CancelCommand{TransactionID: id, Actor: actor})
	if err != nil {
		writeServiceError(w, "cancel_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handlers) actorAndID(w http.ResponseWriter, r *http.Request) (domain.Actor, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return domain.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid transaction ID format")
		return domain.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// decodeAndValidate decodes a JSON body into payload and runs struct validation.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, payload interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, describeValidation(validationErrors))
			return false
		}
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, err.Error())
		return false
	}
	return true
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func parsePage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid limit")
		return 0, 0, false
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid offset")
		return 0, 0, false
	}
	return limit, offset, true
}

func parseOptionalPositiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}

// statusForCode maps domain error codes to HTTP statuses.
var statusForCode = map[string]int{
	domain.ErrInvalidQuoteInput.Code:      http.StatusBadRequest,
	domain.ErrValidation.Code:             http.StatusBadRequest,
	domain.ErrMissingRejectionReason.Code: http.StatusBadRequest,
	domain.ErrInvalidReceipt.Code:         http.StatusUnprocessableEntity,
	domain.ErrRateUnavailable.Code:        http.StatusNotFound,
	domain.ErrTransactionNotFound.Code:    http.StatusNotFound,
	domain.ErrCurrencyNotFound.Code:       http.StatusNotFound,
	domain.ErrForbidden.Code:              http.StatusForbidden,
	domain.ErrInvalidTransition.Code:      http.StatusConflict,
	domain.ErrConcurrentModification.Code: http.StatusConflict,
}

// writeServiceError writes a domain failure with its code, or logs an
// unexpected error and answers 500.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	if code := domain.CodeOf(err); code != "" {
		status, ok := statusForCode[code]
		if !ok {
			status = http.StatusBadRequest
		}
		writeError(w, status, code, err.Error())
		return
	}

	logger.Component("api").WithFields(logrus.Fields{
		"endpoint": endpoint,
		"outcome":  "failed",
	}).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "error": message})
}
