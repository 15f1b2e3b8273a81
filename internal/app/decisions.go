package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/remittance-service/internal/domain"
)

// DecisionAction is a staff decision on a transaction under review.
type DecisionAction string

const (
	DecisionApprove  DecisionAction = "approve"
	DecisionReject   DecisionAction = "reject"
	DecisionComplete DecisionAction = "complete"
)

// DecisionPayload carries action-specific input.
type DecisionPayload struct {
	RejectionReason string
}

// Decide applies a staff decision. The actor must already have passed the
// approval-authority check at the edge; it is verified again here.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, action DecisionAction, payload DecisionPayload, actor domain.Actor) (*domain.Transaction, error) {
	switch DecisionAction(strings.ToLower(string(action))) {
	case DecisionApprove:
		return s.Approve(ctx, domain.ApproveCommand{TransactionID: id, Actor: actor})
	case DecisionReject:
		return s.Reject(ctx, domain.RejectCommand{TransactionID: id, Actor: actor, Reason: payload.RejectionReason})
	case DecisionComplete:
		return s.Complete(ctx, domain.CompleteCommand{TransactionID: id, Actor: actor})
	}
	return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrValidation, action)
}

// Approve moves an UNDER_REVIEW transaction to APPROVED.
func (s *Service) Approve(ctx context.Context, cmd domain.ApproveCommand) (*domain.Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, cmd.TransactionID, domain.TransitionInput{Event: domain.EventApprove, Actor: cmd.Actor})
}

// Reject moves an UNDER_REVIEW transaction to REJECTED. A blank reason fails
// before the transaction is read.
func (s *Service) Reject(ctx context.Context, cmd domain.RejectCommand) (*domain.Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, cmd.TransactionID, domain.TransitionInput{
		Event:           domain.EventReject,
		Actor:           cmd.Actor,
		RejectionReason: cmd.Reason,
	})
}

// Complete moves an APPROVED transaction to COMPLETED.
func (s *Service) Complete(ctx context.Context, cmd domain.CompleteCommand) (*domain.Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, cmd.TransactionID, domain.TransitionInput{Event: domain.EventComplete, Actor: cmd.Actor})
}

// Cancel moves a PENDING transaction with no receipt to CANCELLED. Owners and
// staff may cancel.
func (s *Service) Cancel(ctx context.Context, cmd domain.CancelCommand) (*domain.Transaction, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, cmd.TransactionID, domain.TransitionInput{Event: domain.EventCancel, Actor: cmd.Actor})
}
