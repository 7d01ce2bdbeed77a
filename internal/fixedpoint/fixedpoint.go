// Package fixedpoint provides the 8-decimal fixed-point type used for every
// price, quantity and balance in the trading core. Values are stored as an
// int64 scaled by 10^8, so the smallest representable unit is 0.00000001.
// All arithmetic is overflow-checked; nothing in this package silently wraps.
package fixedpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sdec "github.com/shopspring/decimal"
)

const (
	// Scale is the number of decimal places carried by a Decimal.
	Scale = 8
	// Unit is the raw value of 1.0.
	Unit = int64(100_000_000)

	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrInvalidDecimal = errors.New("fixedpoint: invalid decimal")
	ErrDivideByZero   = errors.New("fixedpoint: divide by zero")
)

// Decimal is an 8-decimal fixed-point number backed by an int64.
// The zero value is 0.
type Decimal struct {
	raw int64
}

var (
	Zero = Decimal{}
	One  = Decimal{raw: Unit}
)

// FromRaw builds a Decimal from a raw scaled value.
func FromRaw(raw int64) Decimal { return Decimal{raw: raw} }

// FromInt builds a Decimal from a whole number of units.
func FromInt(v int64) (Decimal, error) {
	if v > maxInt64/Unit || v < minInt64/Unit {
		return Zero, ErrOverflow
	}
	return Decimal{raw: v * Unit}, nil
}

// MustFromInt is FromInt for trusted constants; it panics on overflow.
func MustFromInt(v int64) Decimal {
	d, err := FromInt(v)
	if err != nil {
		panic(err)
	}
	return d
}

// FromString parses a plain decimal string ("50000.12345678") without going
// through floating point. Fractional digits beyond the scale are rejected
// rather than truncated: amounts on the wire must be exactly representable.
func FromString(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalidDecimal
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return Zero, ErrInvalidDecimal
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return Zero, ErrInvalidDecimal
		}
	}
	if len(fracPart) > Scale {
		return Zero, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidDecimal, Scale)
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
		}
		intVal = v
	}

	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
		}
		for i := len(fracPart); i < Scale; i++ {
			v *= 10
		}
		fracVal = v
	}

	if intVal > (maxInt64-fracVal)/Unit {
		return Zero, ErrOverflow
	}
	raw := intVal*Unit + fracVal
	if neg {
		raw = -raw
	}
	return Decimal{raw: raw}, nil
}

// FromDecimal converts a shopspring decimal (the representation gateways
// hand us) into a fixed-point value.
func FromDecimal(d sdec.Decimal) (Decimal, error) {
	return FromString(d.String())
}

// ToDecimal converts back to a shopspring decimal for boundary formatting.
func (d Decimal) ToDecimal() sdec.Decimal {
	return sdec.New(d.raw, -Scale)
}

// Raw returns the underlying scaled int64.
func (d Decimal) Raw() int64 { return d.raw }

func (d Decimal) IsZero() bool     { return d.raw == 0 }
func (d Decimal) IsPositive() bool { return d.raw > 0 }
func (d Decimal) IsNegative() bool { return d.raw < 0 }

// Cmp returns -1, 0 or 1.
func (d Decimal) Cmp(other Decimal) int {
	switch {
	case d.raw < other.raw:
		return -1
	case d.raw > other.raw:
		return 1
	default:
		return 0
	}
}

func (d Decimal) LessThan(other Decimal) bool    { return d.raw < other.raw }
func (d Decimal) GreaterThan(other Decimal) bool { return d.raw > other.raw }
func (d Decimal) Equal(other Decimal) bool       { return d.raw == other.raw }

// Add returns d+other, detecting int64 wrap.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	sum := d.raw + other.raw
	if (d.raw > 0 && other.raw > 0 && sum < 0) || (d.raw < 0 && other.raw < 0 && sum > 0) {
		return Zero, ErrOverflow
	}
	return Decimal{raw: sum}, nil
}

// Sub returns d-other, detecting int64 wrap.
func (d Decimal) Sub(other Decimal) (Decimal, error) {
	if other.raw == minInt64 {
		return Zero, ErrOverflow
	}
	return d.Add(Decimal{raw: -other.raw})
}

// Mul returns d*other normalized back to 8 decimals. The intermediate
// product is computed at 128-bit width so price*quantity notionals only
// fail when the final value truly exceeds the int64 range.
func (d Decimal) Mul(other Decimal) (Decimal, error) {
	hi, lo := mul64(d.raw, other.raw)
	q, ok := div128by64(hi, lo, Unit)
	if !ok {
		return Zero, ErrOverflow
	}
	return Decimal{raw: q}, nil
}

// Div returns d/other at 8-decimal precision, truncating toward zero.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.raw == 0 {
		return Zero, ErrDivideByZero
	}
	hi, lo := mul64(d.raw, Unit)
	q, ok := div128by64(hi, lo, other.raw)
	if !ok {
		return Zero, ErrOverflow
	}
	return Decimal{raw: q}, nil
}

// Neg returns -d.
func (d Decimal) Neg() (Decimal, error) {
	if d.raw == minInt64 {
		return Zero, ErrOverflow
	}
	return Decimal{raw: -d.raw}, nil
}

// Abs returns |d|.
func (d Decimal) Abs() (Decimal, error) {
	if d.raw >= 0 {
		return d, nil
	}
	return d.Neg()
}

// Min returns the smaller of the two values.
func Min(a, b Decimal) Decimal {
	if a.raw <= b.raw {
		return a
	}
	return b
}

// String renders the canonical decimal form with trailing fractional zeros
// trimmed ("1.5", not "1.50000000").
func (d Decimal) String() string {
	raw := d.raw
	neg := raw < 0
	u := uint64(raw)
	if neg {
		u = -u
	}

	intPart := u / uint64(Unit)
	fracPart := u % uint64(Unit)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(intPart, 10))
	if fracPart != 0 {
		frac := strconv.FormatUint(fracPart, 10)
		for len(frac) < Scale {
			frac = "0" + frac
		}
		frac = strings.TrimRight(frac, "0")
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// MarshalJSON encodes as a JSON string to avoid precision loss in transit.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts both string and bare-number forms.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// mul64 computes the full 128-bit signed product of a and b.
func mul64(a, b int64) (hi int64, lo uint64) {
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}

	aHi, aLo := ua>>32, ua&0xFFFFFFFF
	bHi, bLo := ub>>32, ub&0xFFFFFFFF

	t := aLo * bLo
	w0 := t & 0xFFFFFFFF
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & 0xFFFFFFFF
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	uhi := aHi*bHi + w2 + k
	ulo := (t << 32) + w0

	if neg {
		uhi = ^uhi
		ulo = ^ulo + 1
		if ulo == 0 {
			uhi++
		}
	}
	return int64(uhi), ulo
}

// div128by64 divides the signed 128-bit value (hi, lo) by div, reporting
// whether the quotient fits in an int64. Truncates toward zero.
func div128by64(hi int64, lo uint64, div int64) (int64, bool) {
	if div == 0 {
		return 0, false
	}

	neg := false
	uhi := uint64(hi)
	ulo := lo
	if hi < 0 {
		neg = true
		uhi = ^uhi
		ulo = ^ulo + 1
		if ulo == 0 {
			uhi++
		}
	}
	udiv := uint64(div)
	if div < 0 {
		neg = !neg
		udiv = -udiv
	}

	// Quotient would need more than 64 bits.
	if uhi >= udiv {
		return 0, false
	}

	// Bit-by-bit long division of the 128-bit numerator.
	var quot uint64
	rem := uhi
	for i := 0; i < 64; i++ {
		bit := ulo >> 63
		ulo <<= 1
		rem = rem<<1 | bit
		quot <<= 1
		if rem >= udiv {
			rem -= udiv
			quot |= 1
		}
	}

	if neg {
		if quot > uint64(maxInt64)+1 {
			return 0, false
		}
		return -int64(quot), true
	}
	if quot > uint64(maxInt64) {
		return 0, false
	}
	return int64(quot), true
}
