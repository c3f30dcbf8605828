package payment

import (
	"strings"

	"github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// currencyExponents lists currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"BHD": 3,
	"KWD": 3,
}

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64
	Currency string
}

// Exponent returns the number of minor-unit digits for the currency.
func (m Money) Exponent() int32 {
	if exp, ok := currencyExponents[strings.ToUpper(m.Currency)]; ok {
		return exp
	}
	return 2
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.Exponent())
}

// String returns a human-readable representation of the amount.
func (m Money) String() string {
	return m.Decimal().StringFixed(m.Exponent()) + " " + strings.ToUpper(m.Currency)
}

// Validate checks that the amount is valid.
func (m Money) Validate() error {
	if m.Amount < 0 {
		return errors.NewValidationError("amount", "cannot be negative")
	}
	if m.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(m.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
