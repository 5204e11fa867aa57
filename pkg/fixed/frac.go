// Package fixed provides the unsigned fixed-point fraction type used
// by the tooth window and gap-test arithmetic. Ratios are held as
// 16-bit binary fractions in [0, 1) so that multiplying a tooth period
// by a ratio rounds the same way on every call site.
package fixed

import "math"

// Frac is an unsigned fraction in [0, 1) with 16 fractional bits.
// Frac(0x8000) is 0.5, Frac(0xffff) is just under 1.0.
type Frac uint16

// Scale is the denominator of a Frac.
const Scale = 1 << 16

// FromFloat converts a float in [0, 1) to the nearest Frac.
// Values at or above 1.0 saturate to the largest representable
// fraction; negative values clamp to zero.
func FromFloat(v float64) Frac {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return Frac(math.MaxUint16)
	}
	return Frac(v*Scale + 0.5)
}

// Float returns the fraction as a float64.
func (f Frac) Float() float64 {
	return float64(f) / Scale
}

// Mul returns f*v truncated toward zero. The intermediate product is
// computed in 64 bits, so no operand combination overflows.
func (f Frac) Mul(v uint32) uint32 {
	return uint32((uint64(f) * uint64(v)) >> 16)
}

// MulSat returns f*v like Mul, saturating any result that would not
// fit in 32 bits. With f < 1 the product of a uint32 cannot overflow,
// but callers that scale pre-multiplied periods rely on saturation.
func (f Frac) MulSat(v uint64) uint32 {
	p := (uint64(f) * v) >> 16
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}
