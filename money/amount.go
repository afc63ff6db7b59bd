// Package money implements fixed-point monetary amounts for settlement
// processing. External money is scale-2 (two fractional digits after
// normalization); internal validation and netting arithmetic run at scale-8
// so that repeated aggregation never loses sub-cent precision.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// ExternalScale is the number of fractional digits carried by
	// bank-facing amounts.
	ExternalScale = 2

	// InternalScale is the number of fractional digits used for internal
	// arithmetic and canonical encoding.
	InternalScale = 8
)

// Epsilon is the smallest internally representable amount. Netting prunes
// residual edges below this threshold.
var Epsilon = Amount{dec: decimal.New(1, -InternalScale)}

// ErrInvalidAmount describes an amount string that could not be parsed or
// that carries more precision than the internal scale admits.
var ErrInvalidAmount = errors.New("invalid monetary amount")

// Amount is an immutable fixed-point monetary value. The zero value is zero.
type Amount struct {
	dec decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// New builds an amount from an integer number of minor units at the given
// scale, e.g. New(100000, 2) is 1000.00.
func New(units int64, scale int32) Amount {
	return Amount{dec: decimal.New(units, -scale)}
}

// Parse converts a decimal string into an Amount, rounding to the internal
// scale. Strings with more than InternalScale fractional digits are rejected
// rather than silently truncated.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.Exponent() < -InternalScale {
		return Zero, fmt.Errorf("%w: %q exceeds scale %d", ErrInvalidAmount, s, InternalScale)
	}
	return Amount{dec: d}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{dec: a.dec.Add(b.dec)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{dec: a.dec.Sub(b.dec)}
}

// Mul returns a * b rounded to the internal scale.
func (a Amount) Mul(b Amount) Amount {
	return Amount{dec: a.dec.Mul(b.dec).Round(InternalScale)}
}

// Div returns a / b rounded to the internal scale. Division by zero returns
// Zero; callers validate denominators where the distinction matters.
func (a Amount) Div(b Amount) Amount {
	if b.IsZero() {
		return Zero
	}
	return Amount{dec: a.dec.DivRound(b.dec, InternalScale)}
}

// Abs returns the magnitude of a.
func (a Amount) Abs() Amount {
	return Amount{dec: a.dec.Abs()}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{dec: a.dec.Neg()}
}

// Cmp compares a and b, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	return a.dec.Cmp(b.dec)
}

// Equal reports whether a and b represent the same value regardless of
// representation scale.
func (a Amount) Equal(b Amount) bool {
	return a.dec.Equal(b.dec)
}

// LessThan reports a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.dec.LessThan(b.dec)
}

// GreaterThan reports a > b.
func (a Amount) GreaterThan(b Amount) bool {
	return a.dec.GreaterThan(b.dec)
}

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool {
	return a.dec.IsZero()
}

// IsNegative reports whether a < 0.
func (a Amount) IsNegative() bool {
	return a.dec.IsNegative()
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool {
	return a.dec.IsPositive()
}

// RoundExternal rounds to the external scale using banker's rounding.
// Re-rounding an already external amount is a no-op.
func (a Amount) RoundExternal() Amount {
	return Amount{dec: a.dec.RoundBank(ExternalScale)}
}

// Canonical returns the canonical string at the internal scale. Two equal
// amounts always produce identical canonical strings, which makes the value
// safe to feed into the canonical codec.
func (a Amount) Canonical() string {
	return a.dec.StringFixed(InternalScale)
}

// External renders the amount at the external scale for bank-facing messages.
func (a Amount) External() string {
	return a.RoundExternal().dec.StringFixed(ExternalScale)
}

// String implements fmt.Stringer using the external rendering.
func (a Amount) String() string {
	return a.External()
}

// Float64 returns a float approximation for metrics and ratios only; it is
// never used in settlement arithmetic.
func (a Amount) Float64() float64 {
	f, _ := a.dec.Float64()
	return f
}

// MarshalJSON encodes the amount as its canonical string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Canonical() + `"`), nil
}

// UnmarshalJSON decodes either a JSON string or bare number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum folds amounts left to right, which keeps aggregation order explicit at
// call sites that care about determinism.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
