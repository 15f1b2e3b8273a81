/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation of the remittance service. The application layer depends only on this
 * interface; PostgresRepository backs it in production and MemoryRepository in tests.
 *
 * @notes
 * - Every state change writes its audit event and outbox row in the same
 *   database transaction as the change itself.
 * - ApplyTransition is a conditional update keyed on the expected status. A
 *   stale expectation returns ErrStatusConflict and writes nothing.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/transfa/remittance-service/internal/domain"
)

var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrRateNotFound            = errors.New("active rate not found")
	ErrCurrencyNotFound        = errors.New("currency not found")
	ErrStatusConflict          = errors.New("transaction status changed")
	ErrDuplicateTransactionRef = errors.New("transaction reference already exists")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Currency registry
	ListCurrencies(ctx context.Context, activeOnly bool) ([]domain.Currency, error)
	GetCurrency(ctx context.Context, code string) (*domain.Currency, error)
	UpsertCurrency(ctx context.Context, currency domain.Currency) (*domain.Currency, error)

	// Rate versions. GetActiveRate returns the newest version for the pair
	// only when both currencies exist and are active.
	GetActiveRate(ctx context.Context, fromCurrency, toCurrency string) (*domain.CurrencyPairRate, error)
	InsertRate(ctx context.Context, rate *domain.CurrencyPairRate, event domain.AuditEvent) error
	ListRateHistory(ctx context.Context, fromCurrency, toCurrency string, limit int) ([]domain.CurrencyPairRate, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx *domain.Transaction, event domain.AuditEvent) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	ApplyTransition(ctx context.Context, transition domain.Transition, event domain.AuditEvent) (*domain.Transaction, error)

	// Audit trail, oldest first.
	ListAuditEvents(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error)

	OutboxRepository
}

// OutboxRepository is the relay side of the audit outbox.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// OutboxMessage is one claimed row of `event_outbox`.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// roundRateToColumns applies the scale of the rate columns so callers see the
// version exactly as NUMERIC(20,8) and NUMERIC(7,4) keep it.
func roundRateToColumns(rate *domain.CurrencyPairRate) {
	rate.Rate = rate.Rate.Round(domain.RateScale)
	rate.AdminFeePercent = rate.AdminFeePercent.Round(domain.FeeScale)
}

// stampRateEvent describes the persisted version on its RATE_UPDATED event.
func stampRateEvent(event *domain.AuditEvent, rate *domain.CurrencyPairRate) {
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["rateId"] = fmt.Sprintf("%d", rate.ID)
	event.Metadata["rate"] = rate.Rate.String()
	event.Metadata["adminFeePercent"] = rate.AdminFeePercent.String()
}
