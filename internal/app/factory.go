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

// CreateTransaction validates cmd, reads the current rate version for the
// pair and persists a PENDING transaction with that version's rate and fee
// frozen into it. The rate is read from the store, never from the cache.
func (s *Service) CreateTransaction(ctx context.Context, cmd domain.CreateTransactionCommand) (tx *domain.Transaction, err error) {
	cmd.Normalize()
	ctx, span := s.startSpan(ctx, "remittance.create_transaction",
		attribute.String("remittance.pair", domain.PairKey(cmd.FromCurrencyCode, cmd.ToCurrencyCode)),
	)
	defer func() { endSpan(span, err) }()

	log := logger.Component("transaction_factory").WithFields(logrus.Fields{
		"user_id": cmd.Actor.ID,
		"pair":    domain.PairKey(cmd.FromCurrencyCode, cmd.ToCurrencyCode),
	})

	if err := cmd.Validate(); err != nil {
		log.WithError(err).Info("create rejected by validation")
		return nil, err
	}

	rate, err := s.repo.GetActiveRate(ctx, cmd.FromCurrencyCode, cmd.ToCurrencyCode)
	if err != nil {
		if errors.Is(err, store.ErrRateNotFound) {
			log.Warn("create rejected; no active rate for pair")
			return nil, fmt.Errorf("%w: %s", domain.ErrRateUnavailable, domain.PairKey(cmd.FromCurrencyCode, cmd.ToCurrencyCode))
		}
		return nil, fmt.Errorf("load active rate: %w", err)
	}

	quote, err := rate.Quote(cmd.AmountSent)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tx = &domain.Transaction{
		ID:                     uuid.New(),
		UserID:                 cmd.Actor.ID,
		SenderName:             cmd.SenderName,
		SenderPhone:            cmd.SenderPhone,
		SenderCountry:          cmd.SenderCountry,
		RecipientName:          cmd.RecipientName,
		RecipientPhone:         cmd.RecipientPhone,
		RecipientBankName:      optionalString(cmd.RecipientBankName),
		RecipientAccountNumber: optionalString(cmd.RecipientAccountNumber),
		FromCurrency:           rate.FromCurrency,
		ToCurrency:             rate.ToCurrency,
		AmountSent:             quote.AmountSent,
		ExchangeRateApplied:    rate.Rate,
		AdminFeePercentApplied: rate.AdminFeePercent,
		AmountReceived:         quote.AmountReceived,
		Status:                 domain.StatusPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	for attempt := 1; attempt <= maxRefAttempts; attempt++ {
		tx.TransactionRef = s.newRef(now)
		err = s.repo.CreateTransaction(ctx, tx, domain.NewCreatedAuditEvent(tx, cmd.Actor))
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateTransactionRef) {
			return nil, fmt.Errorf("persist transaction: %w", err)
		}
		log.WithField("attempt", attempt).Warn("transaction reference collision; regenerating")
	}
	if err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	span.SetAttributes(attribute.String("remittance.transaction_id", tx.ID.String()))
	log.WithFields(logrus.Fields{
		"transaction_id":  tx.ID,
		"transaction_ref": tx.TransactionRef,
		"rate_id":         rate.ID,
		"amount_received": tx.AmountReceived.String(),
	}).Info("transaction created")
	return tx, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
