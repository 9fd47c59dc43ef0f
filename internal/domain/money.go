// Package domain holds the local records the gateway reads and writes:
// payments, payment methods, orders and their owners, plus the Money type
// and its minor-unit conversion.
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount in a single ISO 4217 currency.
type Money struct {
	Number   decimal.Decimal
	Currency string
}

// NewMoney parses number and returns it as Money in the upper-cased currency.
func NewMoney(number, currency string) (Money, error) {
	d, err := decimal.NewFromString(number)
	if err != nil {
		return Money{}, fmt.Errorf("domain: invalid amount %q: %w", number, err)
	}
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("domain: invalid currency code %q", currency)
	}
	return Money{Number: d, Currency: strings.ToUpper(currency)}, nil
}

// MustMoney is NewMoney for literals known to be valid.
func MustMoney(number, currency string) Money {
	m, err := NewMoney(number, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return Money{Number: decimal.Zero, Currency: strings.ToUpper(currency)}
}

func (m Money) String() string {
	return m.Format() + " " + m.Currency
}

// Format renders the number at the currency's precision, e.g. "10.50".
func (m Money) Format() string {
	return m.Number.StringFixed(fractionDigits(m.Currency))
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Number.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Number.IsPositive() }

// IsExact reports whether m is a whole number of the currency's minor unit,
// so ToMinorUnits does not round it.
func (m Money) IsExact() bool {
	return m.Number.Equal(m.Number.Round(fractionDigits(m.Currency)))
}

// SameCurrency reports whether both amounts are in the same currency.
func (m Money) SameCurrency(o Money) bool { return strings.EqualFold(m.Currency, o.Currency) }

// Add returns m + o. Both amounts must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("domain: currency mismatch %s != %s", m.Currency, o.Currency)
	}
	return Money{Number: m.Number.Add(o.Number), Currency: m.Currency}, nil
}

// Sub returns m - o. Both amounts must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("domain: currency mismatch %s != %s", m.Currency, o.Currency)
	}
	return Money{Number: m.Number.Sub(o.Number), Currency: m.Currency}, nil
}

// LessThan compares amounts. Amounts in different currencies never compare less.
func (m Money) LessThan(o Money) bool {
	return m.SameCurrency(o) && m.Number.LessThan(o.Number)
}

// GreaterThan compares amounts. Amounts in different currencies never compare greater.
func (m Money) GreaterThan(o Money) bool {
	return m.SameCurrency(o) && m.Number.GreaterThan(o.Number)
}

// Equal reports whether both amounts are numerically equal in the same currency.
func (m Money) Equal(o Money) bool {
	return m.SameCurrency(o) && m.Number.Equal(o.Number)
}

// zero-decimal and three-decimal currencies per ISO 4217; everything else uses two.
var currencyFractionDigits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

func fractionDigits(currency string) int32 {
	if d, ok := currencyFractionDigits[strings.ToUpper(currency)]; ok {
		return d
	}
	return 2
}

// ToMinorUnits converts m to an integer amount in the currency's minor unit,
// rounding half away from zero at the currency's precision.
func ToMinorUnits(m Money) int64 {
	digits := fractionDigits(m.Currency)
	return m.Number.Round(digits).Shift(digits).IntPart()
}

// FromMinorUnits converts an integer minor-unit amount back to Money.
func FromMinorUnits(amount int64, currency string) Money {
	digits := fractionDigits(currency)
	return Money{
		Number:   decimal.New(amount, -digits),
		Currency: strings.ToUpper(currency),
	}
}
