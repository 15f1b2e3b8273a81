package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusCompleted   Status = "COMPLETED"
	StatusRejected    Status = "REJECTED"
	StatusCancelled   Status = "CANCELLED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusCompleted, StatusRejected, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Event is a lifecycle trigger applied to a Transaction.
type Event string

const (
	EventReceiptUploaded Event = "RECEIPT_UPLOADED"
	EventApprove         Event = "APPROVE"
	EventReject          Event = "REJECT"
	EventComplete        Event = "COMPLETE"
	EventCancel          Event = "CANCEL"
)

type edge struct {
	from Status
	to   Status
}

// transitions is the full table of legal moves. Each event has exactly one
// source status.
var transitions = map[Event]edge{
	EventReceiptUploaded: {from: StatusPending, to: StatusUnderReview},
	EventApprove:         {from: StatusUnderReview, to: StatusApproved},
	EventReject:          {from: StatusUnderReview, to: StatusRejected},
	EventComplete:        {from: StatusApproved, to: StatusCompleted},
	EventCancel:          {from: StatusPending, to: StatusCancelled},
}

// NextStatus returns the status reached by applying event to current.
func NextStatus(current Status, event Event) (Status, error) {
	e, ok := transitions[event]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if e.from != current {
		return "", fmt.Errorf("%w: cannot %s a transaction in status %s", ErrInvalidTransition, strings.ToLower(string(event)), current)
	}
	return e.to, nil
}

// CanApply reports whether event is legal from current.
func CanApply(current Status, event Event) bool {
	_, err := NextStatus(current, event)
	return err == nil
}

// Transition is a validated, not yet persisted state change. The store applies
// it with a conditional update keyed on From.
type Transition struct {
	TransactionID   uuid.UUID
	Event           Event
	From            Status
	To              Status
	Actor           Actor
	At              time.Time
	RejectionReason string
	ReceiptFilePath string
}

// TransitionInput carries the event-specific payload for PlanTransition.
type TransitionInput struct {
	Event           Event
	Actor           Actor
	At              time.Time
	RejectionReason string
	ReceiptFilePath string
}

// PlanTransition checks the transition table and the event preconditions
// against the current snapshot of tx. It does not mutate tx.
func PlanTransition(tx *Transaction, in TransitionInput) (Transition, error) {
	switch in.Event {
	case EventApprove, EventComplete:
		if !in.Actor.HasApprovalAuthority() {
			return Transition{}, fmt.Errorf("%w: approval authority required", ErrForbidden)
		}
	case EventReject:
		if !in.Actor.HasApprovalAuthority() {
			return Transition{}, fmt.Errorf("%w: approval authority required", ErrForbidden)
		}
		if strings.TrimSpace(in.RejectionReason) == "" {
			return Transition{}, ErrMissingRejectionReason
		}
	case EventReceiptUploaded, EventCancel:
		if !in.Actor.CanAccess(tx) {
			return Transition{}, fmt.Errorf("%w: transaction belongs to another user", ErrForbidden)
		}
	}

	next, err := NextStatus(tx.Status, in.Event)
	if err != nil {
		return Transition{}, err
	}

	switch in.Event {
	case EventReceiptUploaded:
		if tx.HasReceipt() {
			return Transition{}, fmt.Errorf("%w: receipt already attached", ErrInvalidTransition)
		}
		if strings.TrimSpace(in.ReceiptFilePath) == "" {
			return Transition{}, fmt.Errorf("%w: receipt path is empty", ErrInvalidReceipt)
		}
	case EventCancel:
		if tx.HasReceipt() {
			return Transition{}, fmt.Errorf("%w: receipt already uploaded", ErrInvalidTransition)
		}
	}

	return Transition{
		TransactionID:   tx.ID,
		Event:           in.Event,
		From:            tx.Status,
		To:              next,
		Actor:           in.Actor,
		At:              in.At,
		RejectionReason: strings.TrimSpace(in.RejectionReason),
		ReceiptFilePath: in.ReceiptFilePath,
	}, nil
}

// Apply returns a copy of tx with the transition's status and side effects.
func (t Transition) Apply(tx Transaction) Transaction {
	at := t.At
	tx.Status = t.To
	tx.UpdatedAt = at
	switch t.Event {
	case EventReceiptUploaded:
		path := t.ReceiptFilePath
		tx.ReceiptFilePath = &path
		tx.ReceiptUploadedAt = &at
	case EventApprove:
		tx.ApprovedAt = &at
	case EventReject:
		reason := t.RejectionReason
		tx.RejectionReason = &reason
		tx.RejectedAt = &at
	case EventComplete:
		tx.CompletedAt = &at
	case EventCancel:
		tx.CancelledAt = &at
	}
	return tx
}
