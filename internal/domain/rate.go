package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is an entry in the currency registry.
type Currency struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CurrencyPairRate is one version of the configured rate for an ordered pair.
// Versions are append-only; the newest one is current.
type CurrencyPairRate struct {
	ID              int64           `json:"id"`
	FromCurrency    string          `json:"fromCurrency"`
	ToCurrency      string          `json:"toCurrency"`
	Rate            decimal.Decimal `json:"rate"`
	AdminFeePercent decimal.Decimal `json:"adminFeePercent"`
	UpdatedBy       *uuid.UUID      `json:"updatedBy,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Quote computes the receivable amount for amountSent at this rate version.
func (r CurrencyPairRate) Quote(amountSent decimal.Decimal) (Quote, error) {
	return CalculateQuote(amountSent, r.Rate, r.AdminFeePercent)
}

// NormalizeCurrencyCode trims and upper-cases a currency code.
func NormalizeCurrencyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PairKey is the display form of an ordered currency pair, e.g. "USD/NGN".
func PairKey(from, to string) string {
	return NormalizeCurrencyCode(from) + "/" + NormalizeCurrencyCode(to)
}
