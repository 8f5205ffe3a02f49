package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Money represents a monetary value in a specific currency.
// Amount is stored as a BIGINT in the currency's minor unit (cents for USD)
// to avoid floating point errors. Money never leaves minor units internally;
// decimal conversion exists only for display and parsing.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// minorUnitDigits maps ISO 4217 codes to their minor-unit exponent.
// Zero-decimal currencies (JPY) carry amounts as whole units.
var minorUnitDigits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"JPY": 0,
}

// NewMoney creates a Money value from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency reports whether the currency is supported for movement.
func ValidCurrency(currency string) bool {
	_, ok := minorUnitDigits[NormalizeCurrency(currency)]
	return ok
}

// Validate checks the invariants every ledger amount must satisfy.
func (m Money) Validate() error {
	if m.Amount <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidAmount, m.Amount)
	}
	if !ValidCurrency(m.Currency) {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, m.Currency)
	}
	return nil
}

// ToDecimal converts minor units to a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	digits, ok := minorUnitDigits[NormalizeCurrency(m.Currency)]
	if !ok {
		digits = 2
	}
	return decimal.New(m.Amount, -digits)
}

// String renders the value in major units, e.g. "5.00 USD".
func (m Money) String() string {
	digits, ok := minorUnitDigits[NormalizeCurrency(m.Currency)]
	if !ok {
		digits = 2
	}
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(digits), NormalizeCurrency(m.Currency))
}
