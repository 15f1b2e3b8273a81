package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// fire runs one lifecycle transition: read the transaction, validate the
// event against the table and its preconditions, then apply it with a
// conditional update. The audit event is persisted with the update.
//
// A conditional update that matches no row means another request changed the
// transaction between our read and write; that is reported as
// ErrConcurrentModification and nothing is written.
func (s *Service) fire(ctx context.Context, id uuid.UUID, in domain.TransitionInput) (updated *domain.Transaction, err error) {
	ctx, span := s.startSpan(ctx, "remittance.transition",
		attribute.String("remittance.transaction_id", id.String()),
		attribute.String("remittance.event", string(in.Event)),
	)
	defer func() { endSpan(span, err) }()

	log := logger.Component("state_machine").WithFields(logrus.Fields{
		"transaction_id": id,
		"event":          in.Event,
		"actor_id":       in.Actor.ID,
		"actor_role":     in.Actor.Role,
	})

	current, err := s.loadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.At.IsZero() {
		in.At = s.now()
	}
	transition, err := domain.PlanTransition(current, in)
	if err != nil {
		log.WithFields(logrus.Fields{"status": current.Status, "outcome": "reject"}).WithError(err).Info("transition refused")
		return nil, err
	}

	updated, err = s.repo.ApplyTransition(ctx, transition, domain.NewTransitionAuditEvent(transition))
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.WithField("expected_status", transition.From).Warn("transition lost a race")
			return nil, s.conflictError(ctx, id, transition)
		}
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	span.SetAttributes(
		attribute.String("remittance.from_status", string(transition.From)),
		attribute.String("remittance.to_status", string(transition.To)),
	)
	log.WithFields(logrus.Fields{
		"from":    transition.From,
		"to":      transition.To,
		"outcome": "applied",
	}).Info("transition applied")
	return updated, nil
}

// conflictError re-reads the transaction after a lost race so the caller learns
// the status that won.
func (s *Service) conflictError(ctx context.Context, id uuid.UUID, transition domain.Transition) error {
	latest, err := s.loadTransaction(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: expected %s, now %s", domain.ErrConcurrentModification, transition.From, latest.Status)
}
