package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestCalculateQuoteBreakdown(t *testing.T) {
	q, err := CalculateQuote(dec(t, "1000"), dec(t, "0.138"), dec(t, "2.5"))
	require.NoError(t, err)

	assert.True(t, q.Fee.Equal(dec(t, "25")), "fee=%s", q.Fee)
	assert.True(t, q.NetAfterFee.Equal(dec(t, "975")), "net=%s", q.NetAfterFee)
	assert.Equal(t, "134.55", q.AmountReceived.StringFixed(2))
}

func TestCalculateQuoteRoundsHalfUpOnlyAtTheEnd(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		rate   string
		fee    string
		want   string
	}{
		// 0.005 exactly -> rounds up
		{name: "half cent rounds up", amount: "1", rate: "0.005", fee: "0", want: "0.01"},
		// 0.0049999 -> rounds down
		{name: "just below half", amount: "1", rate: "0.0049999", fee: "0", want: "0.00"},
		// net = 9.995 -> 10.00; rounding the fee first would give 9.99
		{name: "fee not rounded before conversion", amount: "10", rate: "1", fee: "0.05", want: "10.00"},
		{name: "zero fee", amount: "250", rate: "1.5", fee: "0", want: "375.00"},
		{name: "full fee", amount: "250", rate: "1.5", fee: "100", want: "0.00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := QuoteAmountReceived(dec(t, tc.amount), dec(t, tc.rate), dec(t, tc.fee))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestCalculateQuoteIsDeterministic(t *testing.T) {
	amount, rate, fee := dec(t, "1234.56"), dec(t, "0.00731"), dec(t, "3.75")

	first, err := CalculateQuote(amount, rate, fee)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := CalculateQuote(amount, rate, fee)
		require.NoError(t, err)
		assert.True(t, first.AmountReceived.Equal(again.AmountReceived))
		assert.True(t, first.Fee.Equal(again.Fee))
	}
}

func TestCalculateQuoteRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		rate   string
		fee    string
	}{
		{"zero amount", "0", "1", "1"},
		{"negative amount", "-5", "1", "1"},
		{"zero rate", "10", "0", "1"},
		{"negative rate", "10", "-0.1", "1"},
		{"negative fee", "10", "1", "-0.01"},
		{"fee above hundred", "10", "1", "100.01"},
		{"sub-cent amount", "100.005", "1500", "2.5"},
		{"sub-cent amount with zero fee", "0.001", "1", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateQuote(dec(t, tc.amount), dec(t, tc.rate), dec(t, tc.fee))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuoteInput))
			assert.Equal(t, "INVALID_QUOTE_INPUT", CodeOf(err))
		})
	}
}

func TestCalculateQuoteAcceptsAmountsAtMoneyScale(t *testing.T) {
	for _, amount := range []string{"100", "100.5", "100.50", "100.01", "100.000"} {
		t.Run(amount, func(t *testing.T) {
			_, err := CalculateQuote(dec(t, amount), dec(t, "1500"), dec(t, "2.5"))
			assert.NoError(t, err)
		})
	}
}

// A quote computed from an accepted amount survives a round trip through
// NUMERIC(20,2) unchanged.
func TestAcceptedAmountRequotesAfterTwoPlaceStorage(t *testing.T) {
	amount, rate, fee := dec(t, "100.01"), dec(t, "1500"), dec(t, "2.5")

	received, err := QuoteAmountReceived(amount, rate, fee)
	require.NoError(t, err)

	stored := amount.Round(MoneyScale)
	again, err := QuoteAmountReceived(stored, rate, fee)
	require.NoError(t, err)
	assert.True(t, received.Equal(again), "received=%s again=%s", received, again)
	assert.Equal(t, "146264.63", received.StringFixed(2))
}
