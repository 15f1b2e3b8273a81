package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal places the store keeps for each kind of value. Inputs with more
// places are rejected rather than rounded by the column type.
const (
	MoneyScale = 2
	RateScale  = 8
	FeeScale   = 4
)

var hundred = decimal.NewFromInt(100)

// Quote is the full breakdown of a conversion. Fee and NetAfterFee are exact;
// only AmountReceived is rounded.
type Quote struct {
	AmountSent      decimal.Decimal `json:"amountSent"`
	Rate            decimal.Decimal `json:"rate"`
	AdminFeePercent decimal.Decimal `json:"adminFeePercent"`
	Fee             decimal.Decimal `json:"fee"`
	NetAfterFee     decimal.Decimal `json:"netAfterFee"`
	AmountReceived  decimal.Decimal `json:"amountReceived"`
}

// CalculateQuote converts amountSent into the receivable amount:
//
//	fee            = amountSent * feePercent / 100
//	netAfterFee    = amountSent - fee
//	amountReceived = round_half_up(netAfterFee * rate, 2)
//
// decimal multiplication and shifting are exact, so rounding happens once.
func CalculateQuote(amountSent, rate, feePercent decimal.Decimal) (Quote, error) {
	if err := ValidateQuoteInput(amountSent, rate, feePercent); err != nil {
		return Quote{}, err
	}

	fee := amountSent.Mul(feePercent).Shift(-2)
	net := amountSent.Sub(fee)
	received := net.Mul(rate).Round(MoneyScale)

	return Quote{
		AmountSent:      amountSent,
		Rate:            rate,
		AdminFeePercent: feePercent,
		Fee:             fee,
		NetAfterFee:     net,
		AmountReceived:  received,
	}, nil
}

// QuoteAmountReceived is the short form of CalculateQuote.
func QuoteAmountReceived(amountSent, rate, feePercent decimal.Decimal) (decimal.Decimal, error) {
	q, err := CalculateQuote(amountSent, rate, feePercent)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return q.AmountReceived, nil
}

// ValidateQuoteInput enforces amountSent > 0 with at most two decimal places,
// rate > 0 and 0 <= feePercent <= 100.
func ValidateQuoteInput(amountSent, rate, feePercent decimal.Decimal) error {
	if err := validateAmountSent(amountSent); err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: rate must be greater than zero", ErrInvalidQuoteInput)
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: admin fee percent must be between 0 and 100", ErrInvalidQuoteInput)
	}
	return nil
}

func validateAmountSent(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount sent must be greater than zero", ErrInvalidQuoteInput)
	}
	if exceedsScale(amount, MoneyScale) {
		return fmt.Errorf("%w: amount sent must have at most %d decimal places", ErrInvalidQuoteInput, MoneyScale)
	}
	return nil
}

// exceedsScale reports whether d carries non-zero digits past places.
func exceedsScale(d decimal.Decimal, places int32) bool {
	return !d.Equal(d.Truncate(places))
}
