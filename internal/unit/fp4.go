package unit

import (
	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

type FP4Op int

const (
	FP4OpMulMX FP4Op = iota
	FP4OpDotMX
	FP4OpMulNF
	FP4OpDotNF
	FP4OpEnumMX
	FP4OpEnumNF
)

func (o FP4Op) String() string {
	switch o {
	case FP4OpDotMX:
		return "dot_mx"
	case FP4OpMulNF:
		return "mul_nf"
	case FP4OpDotNF:
		return "dot_nf"
	case FP4OpEnumMX:
		return "enum_mx"
	case FP4OpEnumNF:
		return "enum_nf"
	}
	return "mul_mx"
}

// FP4 covers both 4-bit shapes: microscaled fp4 elements under one
// shared block exponent, and nf4 codes under per-side absmax scales.
// Arithmetic results come back wide plus re-quantized into each 4-bit
// shape; the enumeration ops decode a full code space into the Enum
// bank for inspection.
type FP4 struct {
	pipeline.Machine

	Op       FP4Op
	A, B     [4]format.Value // fp4 codes for the mx group, nf4 for nf
	BlockExp uint8           // biased shared scale, 127 = 1.0
	AbsmaxA  format.Value    // fp32 per-side nf4 scales
	AbsmaxB  format.Value

	Result   format.Value // fp32
	ResultMX format.Value // fp4 at block scale 1.0
	ResultNF format.Value // nf4 at absmax = max(|result|, 1.0)
	Enum     [16]format.Value
}

func NewFP4() *FP4 {
	u := &FP4{BlockExp: format.RefBias}
	u.Machine = pipeline.New("fp4", u)
	u.AbsmaxA = format.FromFloat32(1)
	u.AbsmaxB = format.FromFloat32(1)
	for i := range u.A {
		u.A[i] = format.Value{Type: format.FP4}
		u.B[i] = format.Value{Type: format.FP4}
	}
	return u
}

// scaleValue is the block scale as a reference value: exponent field
// straight from BlockExp, mantissa zero. Exponent 0 flushes the whole
// block, 255 is an infinite scale.
func (u *FP4) scaleValue() format.Value {
	return format.Compose(format.FP32, 0, uint32(u.BlockExp), 0)
}

func (u *FP4) scaledMX(v format.Value) (format.Value, format.Flags) {
	return Mul32(convert.Widen(v), u.scaleValue())
}

func scaledNF(v, absmax format.Value) (format.Value, format.Flags) {
	return Mul32(convert.Widen(v), absmax)
}

func (u *FP4) Compute() format.Flags {
	metrics.RecordUnitOp("fp4", u.Op.String())
	var fl format.Flags
	switch u.Op {
	case FP4OpDotMX:
		var wa, wb [4]format.Value
		for i := range u.A {
			var f format.Flags
			wa[i], f = u.scaledMX(u.A[i])
			fl.Or(f)
			wb[i], f = u.scaledMX(u.B[i])
			fl.Or(f)
		}
		var f format.Flags
		u.Result, f = dot4(wa, wb)
		fl.Or(f)
	case FP4OpMulNF:
		a, f := scaledNF(u.A[0], u.AbsmaxA)
		fl.Or(f)
		b, f := scaledNF(u.B[0], u.AbsmaxB)
		fl.Or(f)
		u.Result, f = Mul32(a, b)
		fl.Or(f)
	case FP4OpDotNF:
		var wa, wb [4]format.Value
		for i := range u.A {
			var f format.Flags
			wa[i], f = scaledNF(u.A[i], u.AbsmaxA)
			fl.Or(f)
			wb[i], f = scaledNF(u.B[i], u.AbsmaxB)
			fl.Or(f)
		}
		var f format.Flags
		u.Result, f = dot4(wa, wb)
		fl.Or(f)
	case FP4OpEnumMX:
		for i := range u.Enum {
			u.Enum[i] = convert.Widen(format.New(format.FP4, uint32(i)))
		}
	case FP4OpEnumNF:
		for i := range u.Enum {
			u.Enum[i] = format.NF4Value(uint8(i))
		}
	default:
		a, f := u.scaledMX(u.A[0])
		fl.Or(f)
		b, f := u.scaledMX(u.B[0])
		fl.Or(f)
		u.Result, f = Mul32(a, b)
		fl.Or(f)
	}
	return fl
}

func (u *FP4) Normalize() format.Flags {
	if u.Op == FP4OpEnumMX || u.Op == FP4OpEnumNF {
		return format.Flags{}
	}
	mx, fl := convert.NarrowFP4(u.Result)
	u.ResultMX = mx

	one := format.FromFloat32(1)
	am := format.Value{Bits: u.Result.Bits &^ format.RefSignBit, Type: format.FP32}
	if am.IsNaN() || am.Bits < one.Bits {
		am = one
	}
	nf, f := convert.QuantizeNF4(u.Result, am)
	fl.Or(f)
	u.ResultNF = nf
	return fl
}
