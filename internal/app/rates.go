package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/transfa/remittance-service/internal/domain"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// GetExchangeRate returns the current rate version for a pair whose
// currencies are both active. Reads go through the rate cache.
func (s *Service) GetExchangeRate(ctx context.Context, from, to string) (*domain.CurrencyPairRate, error) {
	from, to = domain.NormalizeCurrencyCode(from), domain.NormalizeCurrencyCode(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", domain.ErrValidation)
	}
	log := logger.Component("exchange_rates").WithField("pair", domain.PairKey(from, to))

	cached, token, cacheErr := s.rateCache.Get(ctx, from, to)
	if cacheErr != nil {
		log.WithError(cacheErr).Warn("rate cache read failed; falling back to database")
	} else if cached != nil {
		return cached, nil
	}

	rate, err := s.repo.GetActiveRate(ctx, from, to)
	if err != nil {
		if errors.Is(err, store.ErrRateNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateUnavailable, domain.PairKey(from, to))
		}
		return nil, err
	}

	// Without a token there is no way to tell whether an update raced this load.
	if cacheErr == nil {
		if err := s.rateCache.Set(ctx, rate, token); err != nil {
			log.WithError(err).Warn("rate cache write failed")
		}
	}
	return rate, nil
}

// PreviewQuote computes what amountSent would convert to at the current rate.
// Nothing is persisted.
func (s *Service) PreviewQuote(ctx context.Context, from, to string, amountSent decimal.Decimal) (domain.Quote, error) {
	rate, err := s.GetExchangeRate(ctx, from, to)
	if err != nil {
		return domain.Quote{}, err
	}
	return rate.Quote(amountSent)
}

// UpdateExchangeRate appends a new rate version for the pair. Earlier versions
// stay in place as history; transactions keep the rate they captured.
func (s *Service) UpdateExchangeRate(ctx context.Context, cmd domain.UpdateRateCommand) (rate *domain.CurrencyPairRate, err error) {
	cmd.Normalize()
	ctx, span := s.startSpan(ctx, "remittance.update_rate",
		attribute.String("remittance.pair", domain.PairKey(cmd.FromCurrencyCode, cmd.ToCurrencyCode)),
	)
	defer func() { endSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	for _, code := range []string{cmd.FromCurrencyCode, cmd.ToCurrencyCode} {
		if _, err := s.repo.GetCurrency(ctx, code); err != nil {
			if errors.Is(err, store.ErrCurrencyNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrCurrencyNotFound, code)
			}
			return nil, err
		}
	}

	actorID := cmd.Actor.ID
	rate = &domain.CurrencyPairRate{
		FromCurrency:    cmd.FromCurrencyCode,
		ToCurrency:      cmd.ToCurrencyCode,
		Rate:            cmd.Rate,
		AdminFeePercent: cmd.AdminFeePercent,
		UpdatedBy:       &actorID,
		UpdatedAt:       s.now(),
	}
	if err := s.repo.InsertRate(ctx, rate, domain.NewRateUpdatedAuditEvent(rate, cmd.Actor)); err != nil {
		return nil, fmt.Errorf("insert rate: %w", err)
	}

	log := logger.Component("exchange_rates").WithFields(logrus.Fields{
		"pair":              domain.PairKey(rate.FromCurrency, rate.ToCurrency),
		"rate_id":           rate.ID,
		"rate":              rate.Rate.String(),
		"admin_fee_percent": rate.AdminFeePercent.String(),
		"actor_id":          cmd.Actor.ID,
	})
	if err := s.rateCache.Invalidate(ctx, rate.FromCurrency, rate.ToCurrency); err != nil {
		log.WithError(err).Warn("rate cache invalidation failed")
	}
	log.Info("exchange rate updated")
	return rate, nil
}

// ExchangeRateHistory lists the versions of a pair, newest first.
func (s *Service) ExchangeRateHistory(ctx context.Context, actor domain.Actor, from, to string, limit int) ([]domain.CurrencyPairRate, error) {
	if !actor.HasApprovalAuthority() {
		return nil, fmt.Errorf("%w: approval authority required", domain.ErrForbidden)
	}
	from, to = domain.NormalizeCurrencyCode(from), domain.NormalizeCurrencyCode(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", domain.ErrValidation)
	}
	return s.repo.ListRateHistory(ctx, from, to, limit)
}

// ListCurrencies returns the registry, optionally only active entries.
func (s *Service) ListCurrencies(ctx context.Context, activeOnly bool) ([]domain.Currency, error) {
	return s.repo.ListCurrencies(ctx, activeOnly)
}

// UpsertCurrency creates or updates a registry entry. Activation changes affect
// which pairs have an active rate, so the whole rate cache is dropped.
func (s *Service) UpsertCurrency(ctx context.Context, cmd domain.UpsertCurrencyCommand) (*domain.Currency, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	currency, err := s.repo.UpsertCurrency(ctx, domain.Currency{
		Code:     domain.NormalizeCurrencyCode(cmd.Code),
		Name:     strings.TrimSpace(cmd.Name),
		IsActive: cmd.IsActive,
	})
	if err != nil {
		return nil, err
	}

	log := logger.Component("currencies").WithFields(logrus.Fields{"code": currency.Code, "active": currency.IsActive})
	if err := s.rateCache.Flush(ctx); err != nil {
		log.WithError(err).Warn("rate cache flush failed")
	}
	log.Info("currency upserted")
	return currency, nil
}
