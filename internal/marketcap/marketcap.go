// Package marketcap derives market capitalisation from price and circulating supply.
package marketcap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidDecimal marks text that does not parse as a decimal number.
var ErrInvalidDecimal = errors.New("marketcap: invalid decimal")

// Compute returns price × supply without rounding.
func Compute(price, supply decimal.Decimal) decimal.Decimal {
	return price.Mul(supply)
}

// Parse converts decimal text, rejecting empty input.
func Parse(text string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty value", ErrInvalidDecimal)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, text)
	}
	return d, nil
}
