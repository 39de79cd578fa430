// Package units converts between the ledger's raw integer unit and the
// human-facing NOLLAR display unit. The ledger stores balances as integers
// with a fixed denominator of 100 raw per NOLLAR; everything user-visible
// goes through Format so small fractional amounts never render in
// scientific notation or with a bare leading ".".
package units

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RawPerNollar is the fixed raw-unit denominator: 100 raw = 1 NOLLAR.
const RawPerNollar = 100

// sigFigs is the display precision in significant digits.
const sigFigs = 3

// ErrNotANumber is returned by ParseAmount for tokens that are not a
// positive decimal number.
var ErrNotANumber = errors.New("amount is not a positive number")

// ParseAmount parses a user-supplied amount token. Only strictly positive
// decimal values are accepted; anything else yields ErrNotANumber.
func ParseAmount(tok string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(tok)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrNotANumber
	}
	return d, nil
}

// ToRaw converts a display amount to raw units, truncating any precision
// below one raw unit (the ledger cannot represent it).
func ToRaw(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(RawPerNollar)).IntPart()
}

// FromRaw converts a raw-unit balance to a display amount.
func FromRaw(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).Div(decimal.NewFromInt(RawPerNollar))
}

// Format renders a display amount with at most three significant digits,
// trailing zeros trimmed. A value that would start with "." is prefixed
// with "0" so notices never read like ".5 NOLLAR".
func Format(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	intDigits := len(d.Abs().Truncate(0).String())
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		intDigits = 0
	}
	places := int32(sigFigs - intDigits)
	if places < 0 {
		places = 0
	}
	s := d.Round(places).String()
	if s[0] == '.' {
		s = "0" + s
	}
	return s
}

// FormatRaw is shorthand for Format(FromRaw(raw)).
func FormatRaw(raw int64) string {
	return Format(FromRaw(raw))
}
