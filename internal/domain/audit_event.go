package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for transactions and rate changes.
const (
	AuditTransactionCreated   = "TRANSACTION_CREATED"
	AuditReceiptUploaded      = "RECEIPT_UPLOADED"
	AuditTransactionApproved  = "TRANSACTION_APPROVED"
	AuditTransactionRejected  = "TRANSACTION_REJECTED"
	AuditTransactionCompleted = "TRANSACTION_COMPLETED"
	AuditTransactionCancelled = "TRANSACTION_CANCELLED"
	AuditRateUpdated          = "RATE_UPDATED"
)

var eventActions = map[Event]string{
	EventReceiptUploaded: AuditReceiptUploaded,
	EventApprove:         AuditTransactionApproved,
	EventReject:          AuditTransactionRejected,
	EventComplete:        AuditTransactionCompleted,
	EventCancel:          AuditTransactionCancelled,
}

// AuditEvent is an immutable record of one state change. It is written in the
// same database transaction as the change it describes.
type AuditEvent struct {
	ID             uuid.UUID         `json:"id"`
	TransactionID  *uuid.UUID        `json:"transactionId,omitempty"`
	Action         string            `json:"action"`
	PreviousStatus Status            `json:"previousStatus,omitempty"`
	NewStatus      Status            `json:"newStatus,omitempty"`
	ActorID        uuid.UUID         `json:"actorId"`
	ActorRole      Role              `json:"actorRole"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
}

// RoutingKey is the broker routing key for the event, e.g.
// TRANSACTION_APPROVED -> audit.transaction.approved.
func (e AuditEvent) RoutingKey() string {
	return "audit." + strings.ToLower(strings.ReplaceAll(e.Action, "_", "."))
}

// NewCreatedAuditEvent records the creation of tx by actor.
func NewCreatedAuditEvent(tx *Transaction, actor Actor) AuditEvent {
	id := tx.ID
	return AuditEvent{
		ID:            uuid.New(),
		TransactionID: &id,
		Action:        AuditTransactionCreated,
		NewStatus:     tx.Status,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Metadata: map[string]string{
			"transactionRef": tx.TransactionRef,
			"pair":           PairKey(tx.FromCurrency, tx.ToCurrency),
			"amountSent":     tx.AmountSent.String(),
			"amountReceived": tx.AmountReceived.String(),
		},
		OccurredAt: tx.CreatedAt,
	}
}

// NewTransitionAuditEvent records an executed transition.
func NewTransitionAuditEvent(t Transition) AuditEvent {
	id := t.TransactionID
	return AuditEvent{
		ID:             uuid.New(),
		TransactionID:  &id,
		Action:         eventActions[t.Event],
		PreviousStatus: t.From,
		NewStatus:      t.To,
		ActorID:        t.Actor.ID,
		ActorRole:      t.Actor.Role,
		Reason:         t.RejectionReason,
		OccurredAt:     t.At,
	}
}

// NewRateUpdatedAuditEvent records a new rate version.
func NewRateUpdatedAuditEvent(rate *CurrencyPairRate, actor Actor) AuditEvent {
	return AuditEvent{
		ID:        uuid.New(),
		Action:    AuditRateUpdated,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Metadata: map[string]string{
			"pair":            PairKey(rate.FromCurrency, rate.ToCurrency),
			"rate":            rate.Rate.String(),
			"adminFeePercent": rate.AdminFeePercent.String(),
		},
		OccurredAt: rate.UpdatedAt,
	}
}
