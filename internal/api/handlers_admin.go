package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/app"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
)

type rejectRequest struct {
	RejectionReason string `json:"rejectionReason"`
}

// AdminListTransactionsHandler handles GET /admin/transactions?status=&limit=&offset=.
func (h *Handlers) AdminListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	var status *domain.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := domain.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrValidation.Code, "Invalid status filter")
			return
		}
		status = &parsed
	}

	items, err := h.service.ListTransactions(r.Context(), actor, status, limit, offset)
	if err != nil {
		writeServiceError(w, "admin_list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// DecisionHandler returns the handler for one staff decision route. Reject
// reads {"rejectionReason": "..."} from the body.
func (h *Handlers) DecisionHandler(action app.DecisionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.actorAndID(w, r)
		if !ok {
			return
		}

		var payload app.DecisionPayload
		if action == app.DecisionReject {
			var req rejectRequest
			if !h.decodeAndValidate(w, r, &req) {
				return
			}
			payload.RejectionReason = req.RejectionReason
		}

		tx, err := h.service.Decide(r.Context(), id, action, payload, actor)
		if err != nil {
			writeServiceError(w, "decision_"+string(action), err)
			return
		}

		logger.Component("api").WithFields(logrus.Fields{
			"endpoint":       "decision_" + string(action),
			"outcome":        "applied",
			"transaction_id": tx.ID,
			"user_id":        actor.ID,
		}).Info("decision recorded")
		writeJSON(w, http.StatusOK, tx)
	}
}

// AuditTrailHandler handles GET /admin/transactions/{id}/audit.
func (h *Handlers) AuditTrailHandler(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	events, err := h.service.AuditTrail(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, "audit_trail", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// DownloadReceiptHandler handles GET /admin/transactions/{id}/receipt.
func (h *Handlers) DownloadReceiptHandler(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	rc, contentType, err := h.service.OpenReceipt(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, "download_receipt", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Component("api").WithField("transaction_id", id).WithError(err).Warn("receipt stream interrupted")
	}
}
