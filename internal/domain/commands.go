package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateTransactionCommand is the input of the transaction factory.
type CreateTransactionCommand struct {
	Actor                  Actor
	SenderName             string
	SenderPhone            string
	SenderCountry          string
	RecipientName          string
	RecipientPhone         string
	RecipientBankName      string
	RecipientAccountNumber string
	FromCurrencyCode       string
	ToCurrencyCode         string
	AmountSent             decimal.Decimal
}

// Normalize trims free-text fields and upper-cases the currency codes.
func (c *CreateTransactionCommand) Normalize() {
	c.SenderName = strings.TrimSpace(c.SenderName)
	c.SenderPhone = strings.TrimSpace(c.SenderPhone)
	c.SenderCountry = strings.TrimSpace(c.SenderCountry)
	c.RecipientName = strings.TrimSpace(c.RecipientName)
	c.RecipientPhone = strings.TrimSpace(c.RecipientPhone)
	c.RecipientBankName = strings.TrimSpace(c.RecipientBankName)
	c.RecipientAccountNumber = strings.TrimSpace(c.RecipientAccountNumber)
	c.FromCurrencyCode = NormalizeCurrencyCode(c.FromCurrencyCode)
	c.ToCurrencyCode = NormalizeCurrencyCode(c.ToCurrencyCode)
}

func (c CreateTransactionCommand) Validate() error {
	if c.Actor.ID == uuid.Nil {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	required := []struct {
		field string
		value string
	}{
		{"senderName", c.SenderName},
		{"senderPhone", c.SenderPhone},
		{"senderCountry", c.SenderCountry},
		{"recipientName", c.RecipientName},
		{"recipientPhone", c.RecipientPhone},
		{"fromCurrencyCode", c.FromCurrencyCode},
		{"toCurrencyCode", c.ToCurrencyCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, r.field)
		}
	}
	if NormalizeCurrencyCode(c.FromCurrencyCode) == NormalizeCurrencyCode(c.ToCurrencyCode) {
		return fmt.Errorf("%w: fromCurrencyCode and toCurrencyCode must differ", ErrValidation)
	}
	return validateAmountSent(c.AmountSent)
}

// ApproveCommand moves an UNDER_REVIEW transaction to APPROVED.
type ApproveCommand struct {
	TransactionID uuid.UUID
	Actor         Actor
}

func (c ApproveCommand) Validate() error {
	return validateDecision(c.TransactionID, c.Actor)
}

// RejectCommand moves an UNDER_REVIEW transaction to REJECTED.
type RejectCommand struct {
	TransactionID uuid.UUID
	Actor         Actor
	Reason        string
}

// Validate checks the reason first so a blank reason is always reported as
// ErrMissingRejectionReason.
func (c RejectCommand) Validate() error {
	if strings.TrimSpace(c.Reason) == "" {
		return ErrMissingRejectionReason
	}
	return validateDecision(c.TransactionID, c.Actor)
}

// CompleteCommand moves an APPROVED transaction to COMPLETED.
type CompleteCommand struct {
	TransactionID uuid.UUID
	Actor         Actor
}

func (c CompleteCommand) Validate() error {
	return validateDecision(c.TransactionID, c.Actor)
}

// CancelCommand moves a PENDING transaction without a receipt to CANCELLED.
// Owners and staff may cancel.
type CancelCommand struct {
	TransactionID uuid.UUID
	Actor         Actor
}

func (c CancelCommand) Validate() error {
	if c.TransactionID == uuid.Nil {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if c.Actor.ID == uuid.Nil {
		return fmt.Errorf("%w: actor is required", ErrValidation)
	}
	return nil
}

func validateDecision(id uuid.UUID, actor Actor) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if !actor.HasApprovalAuthority() {
		return fmt.Errorf("%w: approval authority required", ErrForbidden)
	}
	return nil
}

// UpdateRateCommand publishes a new rate version for an ordered pair.
type UpdateRateCommand struct {
	Actor            Actor
	FromCurrencyCode string
	ToCurrencyCode   string
	Rate             decimal.Decimal
	AdminFeePercent  decimal.Decimal
}

func (c *UpdateRateCommand) Normalize() {
	c.FromCurrencyCode = NormalizeCurrencyCode(c.FromCurrencyCode)
	c.ToCurrencyCode = NormalizeCurrencyCode(c.ToCurrencyCode)
}

func (c UpdateRateCommand) Validate() error {
	if !c.Actor.HasApprovalAuthority() {
		return fmt.Errorf("%w: approval authority required", ErrForbidden)
	}
	if c.FromCurrencyCode == "" || c.ToCurrencyCode == "" {
		return fmt.Errorf("%w: both currency codes are required", ErrValidation)
	}
	if c.FromCurrencyCode == c.ToCurrencyCode {
		return fmt.Errorf("%w: fromCurrencyCode and toCurrencyCode must differ", ErrValidation)
	}
	if !c.Rate.IsPositive() {
		return fmt.Errorf("%w: rate must be greater than zero", ErrInvalidQuoteInput)
	}
	if exceedsScale(c.Rate, RateScale) {
		return fmt.Errorf("%w: rate must have at most %d decimal places", ErrInvalidQuoteInput, RateScale)
	}
	if c.AdminFeePercent.IsNegative() || c.AdminFeePercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: admin fee percent must be between 0 and 100", ErrInvalidQuoteInput)
	}
	if exceedsScale(c.AdminFeePercent, FeeScale) {
		return fmt.Errorf("%w: admin fee percent must have at most %d decimal places", ErrInvalidQuoteInput, FeeScale)
	}
	return nil
}

// UpsertCurrencyCommand creates or updates a registry entry.
type UpsertCurrencyCommand struct {
	Actor    Actor
	Code     string
	Name     string
	IsActive bool
}

func (c UpsertCurrencyCommand) Validate() error {
	if !c.Actor.HasApprovalAuthority() {
		return fmt.Errorf("%w: approval authority required", ErrForbidden)
	}
	code := NormalizeCurrencyCode(c.Code)
	if len(code) != 3 {
		return fmt.Errorf("%w: currency code must have three letters", ErrValidation)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: currency code must have three letters", ErrValidation)
		}
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: currency name is required", ErrValidation)
	}
	return nil
}
