/**
 * @description
 * This file contains the core business logic of the remittance service. The `Service`
 * struct is the transaction lifecycle engine: it creates transactions from the current
 * exchange rate, ingests receipts, applies staff decisions through the state machine
 * and manages the currency registry and rate versions.
 *
 * Key features:
 * - Every transition is a conditional update keyed on the status that was read.
 * - Audit events are written by the repository in the same database transaction.
 * - Exchange-rate reads for display go through an optional TTL cache; transaction
 *   creation always reads the authoritative rate.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/storage: Receipt file storage.
 * - go.opentelemetry.io/otel: Spans around lifecycle operations.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/storage"
	"github.com/transfa/remittance-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/transfa/remittance-service/internal/app"

// maxRefAttempts bounds reference regeneration on a unique-key collision.
const maxRefAttempts = 3

// ReceiptStorage persists receipt files. storage.ReceiptStore implements it.
type ReceiptStorage interface {
	Inspect(r io.Reader) (*storage.Receipt, error)
	Save(transactionID uuid.UUID, receipt *storage.Receipt) (string, error)
	Delete(path string) error
	Open(path string) (io.ReadCloser, string, error)
}

// Service provides the core business logic for remittance transactions.
type Service struct {
	repo      store.Repository
	receipts  ReceiptStorage
	rateCache RateCache
	tracer    trace.Tracer
	now       func() time.Time
	newRef    func(time.Time) string
}

// NewService creates a new remittance service instance.
func NewService(repo store.Repository, receipts ReceiptStorage) *Service {
	return &Service{
		repo:      repo,
		receipts:  receipts,
		rateCache: noopRateCache{},
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		newRef:    generateTransactionRef,
	}
}

// SetRateCache installs the cache used by exchange-rate reads.
func (s *Service) SetRateCache(cache RateCache) {
	if cache == nil {
		cache = noopRateCache{}
	}
	s.rateCache = cache
}

// SetTracerProvider replaces the global tracer provider for this service.
func (s *Service) SetTracerProvider(tp trace.TracerProvider) {
	s.tracer = tp.Tracer(tracerName)
}

// GetTransaction returns a transaction the actor may see.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Transaction, error) {
	tx, err := s.loadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(tx) {
		// Do not reveal other users' transactions.
		return nil, domain.ErrTransactionNotFound
	}
	return tx, nil
}

// ListUserTransactions returns the actor's own transactions, newest first.
func (s *Service) ListUserTransactions(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Transaction, error) {
	userID := actor.ID
	return s.repo.ListTransactions(ctx, domain.TransactionListOptions{UserID: &userID, Limit: limit, Offset: offset})
}

// ListTransactions is the staff review queue, optionally filtered by status.
func (s *Service) ListTransactions(ctx context.Context, actor domain.Actor, status *domain.Status, limit, offset int) ([]domain.Transaction, error) {
	if !actor.HasApprovalAuthority() {
		return nil, fmt.Errorf("%w: approval authority required", domain.ErrForbidden)
	}
	return s.repo.ListTransactions(ctx, domain.TransactionListOptions{Status: status, Limit: limit, Offset: offset})
}

// AuditTrail returns the transaction's audit events, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID, actor domain.Actor) ([]domain.AuditEvent, error) {
	if !actor.HasApprovalAuthority() {
		return nil, fmt.Errorf("%w: approval authority required", domain.ErrForbidden)
	}
	if _, err := s.loadTransaction(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAuditEvents(ctx, id)
}

func (s *Service) loadTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span. Domain failures are expected outcomes and only
// tagged with their code.
func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := domain.CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("remittance.error_code", code))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// generateTransactionRef returns RMT-YYYYMMDD-XXXXXXXX.
func generateTransactionRef(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("RMT-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(suffix))
}
