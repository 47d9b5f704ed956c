package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimalAcceptsCommaAndWhitespace(t *testing.T) {
	cases := map[string]string{
		"15.5":     "15.5",
		"15,5":     "15.5",
		"  12,30 ": "12.3",
		"1 000,25": "1000.25",
		"-3,5":     "-3.5",
		"0":        "0",
	}
	for input, want := range cases {
		got, ok := ParseDecimal(input)
		if !ok {
			t.Fatalf("ParseDecimal(%q) reported no value", input)
		}
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestParseDecimalRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "1,2,3", "1.2.3", "12a", "--1"} {
		if _, ok := ParseDecimal(input); ok {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestToCentsRoundsToNearest(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"15", 1500},
		{"15.005", 1501},
		{"15.004", 1500},
		{"0.1", 10},
		{"19.999", 2000},
		{"-2.345", -235},
	}
	for _, tc := range cases {
		if got := ToCents(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Fatalf("ToCents(%s) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestToBasisPoints(t *testing.T) {
	if got := ToBasisPoints(decimal.RequireFromString("50")); got != 5000 {
		t.Fatalf("expected 5000bp, got %d", got)
	}
	if got := ToBasisPoints(decimal.RequireFromString("33.333")); got != 3333 {
		t.Fatalf("expected 3333bp, got %d", got)
	}
	if got := ToBasisPoints(decimal.RequireFromString("-12.5")); got != -1250 {
		t.Fatalf("expected -1250bp, got %d", got)
	}
}

func TestFromCentsRoundTrip(t *testing.T) {
	if got := ToCents(FromCents(98765)); got != 98765 {
		t.Fatalf("round trip mismatch: %d", got)
	}
	if got := Format(FromBasisPoints(5000), 2); got != "50" {
		t.Fatalf("expected 50, got %s", got)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if total, ok := CheckedSum(600, 400); !ok || total != 1000 {
		t.Fatalf("expected 1000, got %d (ok=%t)", total, ok)
	}
	if _, ok := CheckedSum(math.MaxInt64, 1); ok {
		t.Fatalf("expected overflow to be reported")
	}
	if total, ok := LineTotal(2, 500); !ok || total != 1000 {
		t.Fatalf("expected 1000, got %d", total)
	}
	if _, ok := LineTotal(3, math.MaxInt64/2); ok {
		t.Fatalf("expected line total overflow to be reported")
	}
}
