// Package money converts between decimal donation amounts and the integer
// minor units payment gateways exchange on the wire.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
)

// ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

var threeDecimal = map[string]struct{}{
	"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Normalize upper-cases a currency code and checks it is three ASCII letters.
func Normalize(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		}
	}
	return code, nil
}

// Scale returns the number of minor-unit digits for a currency.
func Scale(currency string) (int32, error) {
	code, err := Normalize(currency)
	if err != nil {
		return 0, err
	}
	if _, ok := zeroDecimal[code]; ok {
		return 0, nil
	}
	if _, ok := threeDecimal[code]; ok {
		return 3, nil
	}
	return 2, nil
}

// ToMinorUnits converts 12.34 USD to 1234 and 1200 JPY to 1200. Amounts
// carrying more precision than the currency supports are rejected rather
// than rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scale, err := Scale(currency)
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Truncate(scale)) {
		return 0, fmt.Errorf("%w: %s exceeds %d decimal places for %s", ErrInvalidAmount, amount, scale, currency)
	}
	minor := amount.Shift(scale)
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s overflows minor units", ErrInvalidAmount, amount)
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64, currency string) (decimal.Decimal, error) {
	scale, err := Scale(currency)
	if err != nil {
		return decimal.Zero, err
	}
	if minor < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative minor units %d", ErrInvalidAmount, minor)
	}
	return decimal.New(minor, -scale), nil
}

func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return d, nil
}

// FromFloat accepts amounts decoded from loosely typed JSON.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite value", ErrInvalidAmount)
	}
	return decimal.NewFromFloat(f), nil
}

// Amount is a minor-unit quantity tagged with its currency.
type Amount struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

func (a Amount) Decimal() (decimal.Decimal, error) {
	return FromMinorUnits(a.Minor, a.Currency)
}
