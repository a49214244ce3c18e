package marketcap

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeParsed(t *testing.T) {
	cases := []struct {
		price, supply, want string
	}{
		{"1.5", "1000000", "1500000"},
		{"0.000123456789", "999999999.123456", "123456.788891784692342784"},
		{"0.1", "3", "0.3"},
		{"0", "1000", "0"},
	}

	for _, tc := range cases {
		p, err := Parse(tc.price)
		if err != nil {
			t.Fatalf("price %s: unexpected error %v", tc.price, err)
		}
		s, err := Parse(tc.supply)
		if err != nil {
			t.Fatalf("supply %s: unexpected error %v", tc.supply, err)
		}
		if got := Compute(p, s); got.String() != tc.want {
			t.Fatalf("%s × %s: want %s, got %s", tc.price, tc.supply, tc.want, got.String())
		}
	}
}

func TestComputeMatchesDecimalMul(t *testing.T) {
	p := decimal.RequireFromString("0.00004321")
	s := decimal.RequireFromString("987654321.987654321")
	if !Compute(p, s).Equal(p.Mul(s)) {
		t.Fatal("Compute must equal exact decimal multiplication")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, text := range []string{"abc", "", "1.2.3", "  "} {
		if _, err := Parse(text); !errors.Is(err, ErrInvalidDecimal) {
			t.Fatalf("%q: want ErrInvalidDecimal, got %v", text, err)
		}
	}
}
