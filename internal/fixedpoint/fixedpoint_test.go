package fixedpoint

import (
	"encoding/json"
	"math"
	"testing"
)

func mustParse(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := FromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestFromString(t *testing.T) {
	cases := []struct {
		in   string
		raw  int64
		fail bool
	}{
		{in: "0", raw: 0},
		{in: "1", raw: Unit},
		{in: "1.5", raw: 150_000_000},
		{in: "0.00000001", raw: 1},
		{in: "-2.25", raw: -225_000_000},
		{in: "+3", raw: 3 * Unit},
		{in: "50000.12345678", raw: 5_000_012_345_678},
		{in: "92233720368.54775807", raw: math.MaxInt64},
		{in: "92233720368.54775808", fail: true},
		{in: "0.000000001", fail: true},
		{in: "", fail: true},
		{in: ".", fail: true},
		{in: "1.2.3", fail: true},
		{in: "abc", fail: true},
	}
	for _, tc := range cases {
		d, err := FromString(tc.in)
		if tc.fail {
			if err == nil {
				t.Fatalf("FromString(%q) should fail, got %s", tc.in, d)
			}
			continue
		}
		if err != nil {
			t.Fatalf("FromString(%q): %v", tc.in, err)
		}
		if d.Raw() != tc.raw {
			t.Fatalf("FromString(%q) = %d, want %d", tc.in, d.Raw(), tc.raw)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "1.5", "-2.25", "0.00000001", "50000.12345678"} {
		d := mustParse(t, s)
		if got := d.String(); got != s {
			t.Fatalf("String(%s) = %q", s, got)
		}
	}
	if got := FromRaw(math.MinInt64).String(); got != "-92233720368.54775808" {
		t.Fatalf("min value renders as %q", got)
	}
	if got := mustParse(t, "1.50000000").String(); got != "1.5" {
		t.Fatalf("trailing zeros should trim, got %q", got)
	}
}

func TestAddSubOverflow(t *testing.T) {
	max := FromRaw(math.MaxInt64)
	if _, err := max.Add(FromRaw(1)); err != ErrOverflow {
		t.Fatalf("max+1 err = %v", err)
	}
	min := FromRaw(math.MinInt64)
	if _, err := min.Sub(FromRaw(1)); err != ErrOverflow {
		t.Fatalf("min-1 err = %v", err)
	}

	sum, err := mustParse(t, "1.1").Add(mustParse(t, "2.2"))
	if err != nil || !sum.Equal(mustParse(t, "3.3")) {
		t.Fatalf("1.1+2.2 = %s (%v)", sum, err)
	}
}

func TestMul(t *testing.T) {
	got, err := mustParse(t, "50000").Mul(mustParse(t, "0.5"))
	if err != nil || !got.Equal(mustParse(t, "25000")) {
		t.Fatalf("50000*0.5 = %s (%v)", got, err)
	}

	got, err = mustParse(t, "0.00000001").Mul(mustParse(t, "0.1"))
	if err != nil || !got.IsZero() {
		t.Fatalf("sub-unit product should truncate to zero, got %s (%v)", got, err)
	}

	got, err = mustParse(t, "-3").Mul(mustParse(t, "2.5"))
	if err != nil || !got.Equal(mustParse(t, "-7.5")) {
		t.Fatalf("-3*2.5 = %s (%v)", got, err)
	}

	// Half the int64 range times three cannot fit.
	half := FromRaw(math.MaxInt64 / 2)
	three := MustFromInt(3)
	if _, err := half.Mul(three); err != ErrOverflow {
		t.Fatalf("overflowing mul err = %v", err)
	}

	// The intermediate product overflows int64 but the result fits.
	big := mustParse(t, "3000000000")
	got, err = big.Mul(mustParse(t, "2"))
	if err != nil || !got.Equal(mustParse(t, "6000000000")) {
		t.Fatalf("3e9*2 = %s (%v)", got, err)
	}
}

func TestDiv(t *testing.T) {
	got, err := mustParse(t, "1").Div(mustParse(t, "3"))
	if err != nil || !got.Equal(mustParse(t, "0.33333333")) {
		t.Fatalf("1/3 = %s (%v)", got, err)
	}

	got, err = mustParse(t, "-1").Div(mustParse(t, "3"))
	if err != nil || !got.Equal(mustParse(t, "-0.33333333")) {
		t.Fatalf("-1/3 should truncate toward zero, got %s (%v)", got, err)
	}

	if _, err := One.Div(Zero); err != ErrDivideByZero {
		t.Fatalf("divide by zero err = %v", err)
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		Price Decimal `json:"price"`
	}

	out, err := json.Marshal(wrapper{Price: mustParse(t, "50000.1")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"price":"50000.1"}` {
		t.Fatalf("marshal = %s", out)
	}

	var in wrapper
	if err := json.Unmarshal([]byte(`{"price":"1.23"}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !in.Price.Equal(mustParse(t, "1.23")) {
		t.Fatalf("unmarshal price = %s", in.Price)
	}
	if err := json.Unmarshal([]byte(`{"price":"1e5"}`), &in); err == nil {
		t.Fatalf("scientific notation must be rejected")
	}
}

func TestShopspringInterop(t *testing.T) {
	d := mustParse(t, "123.456")
	back, err := FromDecimal(d.ToDecimal())
	if err != nil || !back.Equal(d) {
		t.Fatalf("round trip through shopspring: %s (%v)", back, err)
	}
}
