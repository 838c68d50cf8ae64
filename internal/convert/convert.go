package convert

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Conversion between any two formats routes through the reference
// format: widen source -> FP32, then narrow FP32 -> target. Narrowing
// truncates mantissa bits (round toward zero); nothing here rounds to
// nearest except the integer quantizer, whose formula is defined that
// way.

// Widen decodes any format into the reference format. Every
// representable value of the eight smaller formats is exact in FP32,
// so widening never flags. NF4 widens at the absmax-1.0 view and INT8
// as the plain integer value; scaled views live in the units.
func Widen(v format.Value) format.Value {
	switch v.Type {
	case format.FP32:
		return v
	case format.NF4:
		return format.NF4Value(uint8(v.Bits))
	case format.INT8:
		return format.FromFloat32(float32(v.Int8()))
	}

	s := format.Lookup(v.Type)
	sign := v.Sign()
	exp := v.Exponent()
	man := v.Mantissa()
	refSign := sign << 31

	if exp == s.MaxExp() {
		if s.HasInf {
			if man == 0 {
				return format.Value{Bits: refSign | format.RefInf, Type: format.FP32}
			}
			return format.Value{Bits: refSign | format.RefInf | man<<(23-s.ManBits), Type: format.FP32}
		}
		if s.HasNaN && man == s.ManMask() {
			// E4M3 shape: the all-ones code is NaN, everything below it
			// on this exponent is an ordinary finite value.
			return format.Value{Bits: refSign | format.RefNaN, Type: format.FP32}
		}
	}

	if exp == 0 {
		if man == 0 {
			return format.Value{Bits: refSign, Type: format.FP32}
		}
		if s.Bias == format.RefBias {
			// BF16 and TF32 share the reference bias, so their
			// subnormal range is the reference subnormal range; plain
			// mantissa alignment keeps the value exact.
			return format.Value{Bits: refSign | man<<(23-s.ManBits), Type: format.FP32}
		}
		// Source subnormal: shift until the implicit bit appears. The
		// result is a normal FP32 value, no precision lost.
		e := int32(1) - s.Bias
		for man&(1<<s.ManBits) == 0 {
			man <<= 1
			e--
		}
		refExp := uint32(e + format.RefBias)
		return format.Value{Bits: refSign | refExp<<23 | (man&s.ManMask())<<(23-s.ManBits), Type: format.FP32}
	}

	refExp := uint32(int32(exp) - s.Bias + format.RefBias)
	return format.Value{Bits: refSign | refExp<<23 | man<<(23-s.ManBits), Type: format.FP32}
}

// Narrow encodes a reference value into dst. Mantissa bits are
// truncated. Exponent overflow produces infinity where the target has
// one, otherwise the largest finite magnitude; exponent underflow
// flushes to signed zero. FP4 and NF4 use their own quantization rules.
func Narrow(ref format.Value, dst format.DataType) (format.Value, format.Flags) {
	if ref.Type != format.FP32 {
		ref = Widen(ref)
	}
	switch dst {
	case format.FP32:
		return ref, format.Flags{}
	case format.FP4:
		return NarrowFP4(ref)
	case format.NF4:
		return QuantizeNF4(ref, format.FromFloat32(1.0))
	case format.INT8:
		return QuantizeInt8(ref, format.FromFloat32(1.0), 0)
	}
	return narrowFloat(ref, dst)
}

func narrowFloat(ref format.Value, dst format.DataType) (format.Value, format.Flags) {
	s := format.Lookup(dst)
	sign := ref.Sign()
	exp := ref.Exponent()
	man := ref.Mantissa()
	shift := 23 - s.ManBits

	var fl format.Flags

	if exp == format.RefExpMask {
		if man != 0 {
			return narrowNaN(sign, man, dst), fl
		}
		if s.HasInf {
			return format.Compose(dst, sign, s.MaxExp(), 0), fl
		}
		fl.Overflow = true
		fl.Saturated = true
		return MaxFinite(dst, sign), fl
	}

	// Reference subnormals sit below every target's normal range.
	if exp == 0 {
		if man != 0 {
			fl.Underflow = true
		}
		return format.Compose(dst, sign, 0, 0), fl
	}

	e := int32(exp) - format.RefBias + s.Bias
	m := man >> shift

	maxNormal := int32(s.MaxExp())
	if s.HasInf {
		maxNormal--
	}

	if e > maxNormal {
		fl.Overflow = true
		if s.HasInf {
			return format.Compose(dst, sign, s.MaxExp(), 0), fl
		}
		fl.Saturated = true
		return MaxFinite(dst, sign), fl
	}
	if e <= 0 {
		fl.Underflow = true
		return format.Compose(dst, sign, 0, 0), fl
	}
	if !s.HasInf && s.HasNaN && e == maxNormal && m == s.ManMask() {
		// The truncated mantissa collided with the NaN code: clamp one
		// code below (448 for E4M3).
		fl.Overflow = true
		fl.Saturated = true
		return MaxFinite(dst, sign), fl
	}
	return format.Compose(dst, sign, uint32(e), m), fl
}

func narrowNaN(sign, man uint32, dst format.DataType) format.Value {
	s := format.Lookup(dst)
	if !s.HasInf {
		return format.Compose(dst, sign, s.MaxExp(), s.ManMask())
	}
	p := man >> (23 - s.ManBits)
	if p == 0 {
		// Payload truncated away; keep it a NaN by forcing the quiet bit.
		p = 1 << (s.ManBits - 1)
	}
	return format.Compose(dst, sign, s.MaxExp(), p)
}

// MaxFinite returns the largest finite magnitude code of dst with the
// given sign.
func MaxFinite(dst format.DataType, sign uint32) format.Value {
	s := format.Lookup(dst)
	switch {
	case s.HasInf:
		return format.Compose(dst, sign, s.MaxExp()-1, s.ManMask())
	case s.HasNaN:
		return format.Compose(dst, sign, s.MaxExp(), s.ManMask()-1)
	default:
		return format.Compose(dst, sign, s.MaxExp(), s.ManMask())
	}
}

// NarrowFP4 is the microscaled element rule, driven by the rebiased
// exponent alone. The top binade saturates to the single maximum code
// (so 4.0 narrows to 6.0, same as the hardware table); at or below the
// bottom the reference mantissa's top bit picks between the subnormal
// code and zero. The block exponent is the caller's business.
func NarrowFP4(ref format.Value) (format.Value, format.Flags) {
	if ref.Type != format.FP32 {
		ref = Widen(ref)
	}
	sign := ref.Sign()
	exp := ref.Exponent()
	man := ref.Mantissa()

	var fl format.Flags

	if exp == format.RefExpMask {
		fl.Overflow = man == 0
		fl.Saturated = true
		return format.Compose(format.FP4, sign, format.FP4MaxExpField, 1), fl
	}

	e := int32(exp) - format.RefBias + 1

	switch {
	case e >= int32(format.FP4MaxExpField):
		fl.Saturated = true
		return format.Compose(format.FP4, sign, format.FP4MaxExpField, 1), fl
	case e <= 0:
		if man&0x400000 != 0 {
			return format.Compose(format.FP4, sign, 0, 1), fl
		}
		if exp != 0 || man != 0 {
			fl.Underflow = true
		}
		return format.Compose(format.FP4, sign, 0, 0), fl
	default:
		m := (man >> 22) & 1
		return format.Compose(format.FP4, sign, uint32(e), m), fl
	}
}

// QuantizeNF4 maps a reference value into the 16-entry lookup table.
// Zero absmax resolves to the zero entry; out-of-range ratios clamp to
// the endpoints with saturated set. Ties take the first entry in
// forward scan order.
func QuantizeNF4(ref, absmax format.Value) (format.Value, format.Flags) {
	var fl format.Flags
	am := absmax.Float32()
	if am == 0 {
		return format.Value{Bits: format.NF4ZeroIndex, Type: format.NF4}, fl
	}
	r := ref.Float32() / am
	if math.IsNaN(float64(r)) {
		// NaN has no usable ratio.
		return format.Value{Bits: format.NF4ZeroIndex, Type: format.NF4}, fl
	}
	if r < -1 {
		r = -1
		fl.Saturated = true
	} else if r > 1 {
		r = 1
		fl.Saturated = true
	}
	best := 0
	bestDist := float32(math.Inf(1))
	for i := 0; i < 16; i++ {
		d := r - format.NF4Table[i]
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return format.Value{Bits: uint32(best), Type: format.NF4}, fl
}

// QuantizeInt8 applies round(value/scale) + zeroPoint and saturates to
// the int8 range. A zero scale skips the division and lands on the
// zero point.
func QuantizeInt8(ref, scale format.Value, zeroPoint int8) (format.Value, format.Flags) {
	var fl format.Flags
	sc := float64(scale.Float32())
	q := 0.0
	if sc != 0 {
		q = math.Round(float64(ref.Float32()) / sc)
	}
	if math.IsNaN(q) {
		q = 0
	}
	q += float64(zeroPoint)
	if q > 127 {
		fl.Saturated = true
		return format.FromInt8(127), fl
	}
	if q < -128 {
		fl.Saturated = true
		return format.FromInt8(-128), fl
	}
	return format.FromInt8(int8(q)), fl
}

// Convert routes v into dst through the reference format. Same-format
// conversion is the identity.
func Convert(v format.Value, dst format.DataType) (format.Value, format.Flags) {
	metrics.RecordConversion(v.Type.String(), dst.String())
	if v.Type == dst {
		return v, format.Flags{}
	}
	if dst == format.FP32 {
		return Widen(v), format.Flags{}
	}
	out, fl := Narrow(Widen(v), dst)
	if fl.Any() {
		metrics.RecordConversionFlags(fl.Overflow, fl.Underflow, fl.Saturated)
	}
	return out, fl
}
