package models

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrMalformedAmount is returned by ParseAmount for any input it cannot
// represent exactly in smallest units.
var ErrMalformedAmount = errors.New("malformed amount")

// Amount is an integer quantity of a currency's smallest unit together with
// the exponent that converts it to a human decimal.
type Amount struct {
	Value    *big.Int `json:"value"`
	Decimals uint8    `json:"decimals"`
}

// NewAmount copies v into an Amount.
func NewAmount(v *big.Int, decimals uint8) Amount {
	if v == nil {
		return Zero(decimals)
	}
	return Amount{Value: new(big.Int).Set(v), Decimals: decimals}
}

// IsZero reports whether the amount is zero or unset.
func (a Amount) IsZero() bool {
	return a.Value == nil || a.Value.Sign() == 0
}

// String formats the amount as a human decimal, e.g. "1.5".
func (a Amount) String() string {
	return FormatUnits(a.Value, a.Decimals)
}

// FormatUnits converts smallest units to a decimal string without float
// precision loss. Trailing fractional zeros are dropped.
// Example: FormatUnits(1500000000000000000, 18) = "1.5"
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()

	d := int(decimals)
	for len(s) <= d {
		s = "0" + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseAmount converts a non-negative decimal string to smallest units.
// More fractional digits than decimals is an error, never a silent truncation.
// Example: ParseAmount("0.024981836", 9) = 24981836
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedAmount)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrMalformedAmount, s, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	return v, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
