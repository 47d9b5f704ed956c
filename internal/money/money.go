// Package money converts between user-entered decimals and the integer units
// that are persisted: cents for amounts and basis points for percentages.
package money

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseDecimal accepts "." or "," as the fractional separator and ignores
// whitespace anywhere in the input. Empty or malformed input reports ok=false
// rather than zero.
func ParseDecimal(input string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return decimal.Zero, false
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		if r == ',' {
			r = '.'
		}
		b.WriteRune(r)
	}

	val, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, false
	}
	return val, true
}

// ToCents multiplies by 100 and rounds to the nearest integer, halves away from zero.
func ToCents(value decimal.Decimal) int64 {
	return value.Mul(hundred).Round(0).IntPart()
}

// ToBasisPoints converts a percentage (50.5 meaning 50.5%) to basis points.
func ToBasisPoints(percent decimal.Decimal) int64 {
	return percent.Mul(hundred).Round(0).IntPart()
}

// FromCents and FromBasisPoints turn persisted units back into form values.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func FromBasisPoints(bp int64) decimal.Decimal {
	return decimal.New(bp, -2)
}

// Format renders a value with at most `places` decimals, trimming trailing zeros.
func Format(value decimal.Decimal, places int32) string {
	return value.Round(places).String()
}

// CheckedSum adds amounts, reporting false instead of wrapping around.
func CheckedSum(amounts ...int64) (int64, bool) {
	var total int64
	for _, amount := range amounts {
		next := total + amount
		if (amount > 0 && next < total) || (amount < 0 && next > total) {
			return 0, false
		}
		total = next
	}
	return total, true
}

// LineTotal returns qty*priceCents, reporting false on overflow.
func LineTotal(qty int, priceCents int64) (int64, bool) {
	if qty == 0 || priceCents == 0 {
		return 0, true
	}
	total := int64(qty) * priceCents
	if total/int64(qty) != priceCents {
		return 0, false
	}
	return total, true
}
