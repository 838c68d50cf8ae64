package unit

import (
	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

// The reference unit is the 32-bit arithmetic core every other unit
// computes through. All of it is explicit mantissa/exponent work on
// the packed bits; the host FPU never touches an operation. Dropped
// bits truncate, never round.

type RefOp int

const (
	RefOpAdd RefOp = iota
	RefOpMul
)

func (o RefOp) String() string {
	if o == RefOpMul {
		return "mul"
	}
	return "add"
}

// refWork carries an operation between the compute and normalize
// stages.
type refWork struct {
	resolved bool // special operand decided the result in compute
	result   format.Value
	flags    format.Flags
	sign     uint32
	exp      int32  // biased result exponent
	man      uint64 // 25-bit (add) or 48-bit (mul) working mantissa
	wide     bool
}

// unpackRef splits a reference value into sign, effective biased
// exponent and mantissa with the implicit bit attached. A zero
// exponent field carries no implicit bit and weighs as exponent 1.
func unpackRef(v format.Value) (sign uint32, exp int32, man uint32) {
	bits := v.Bits
	sign = bits >> 31
	exp = int32((bits >> format.RefExpShift) & format.RefExpMask)
	man = bits & format.RefManMask
	if exp == 0 {
		exp = 1
	} else {
		man |= format.RefImplicit
	}
	return
}

func refNaN() format.Value {
	return format.Value{Bits: format.RefNaN, Type: format.FP32}
}

func addStage(a, b format.Value) refWork {
	if a.IsNaN() || b.IsNaN() {
		return refWork{resolved: true, result: refNaN()}
	}
	aInf, bInf := a.IsInf(), b.IsInf()
	if aInf || bInf {
		if aInf && bInf && a.Sign() != b.Sign() {
			return refWork{resolved: true, result: refNaN()}
		}
		if aInf {
			return refWork{resolved: true, result: a}
		}
		return refWork{resolved: true, result: b}
	}
	if a.IsZero() && b.IsZero() {
		if a.Sign() == b.Sign() {
			return refWork{resolved: true, result: a}
		}
		return refWork{resolved: true, result: format.Value{Type: format.FP32}}
	}
	if a.IsZero() {
		return refWork{resolved: true, result: b}
	}
	if b.IsZero() {
		return refWork{resolved: true, result: a}
	}

	sa, ea, ma := unpackRef(a)
	sb, eb, mb := unpackRef(b)

	// Align on the larger exponent; bits shifted out truncate.
	if ea < eb {
		sa, sb = sb, sa
		ea, eb = eb, ea
		ma, mb = mb, ma
	}
	if d := ea - eb; d > 24 {
		mb = 0
	} else {
		mb >>= uint32(d)
	}

	w := refWork{sign: sa, exp: ea}
	if sa == sb {
		w.man = uint64(ma) + uint64(mb)
		return w
	}
	// Differing signs subtract the smaller aligned magnitude and take
	// the larger magnitude's sign. Equal magnitudes cancel to +0.
	switch {
	case ma > mb:
		w.man = uint64(ma - mb)
	case mb > ma:
		w.sign = sb
		w.man = uint64(mb - ma)
	default:
		return refWork{resolved: true, result: format.Value{Type: format.FP32}}
	}
	return w
}

func mulStage(a, b format.Value) refWork {
	if a.IsNaN() || b.IsNaN() {
		return refWork{resolved: true, result: refNaN()}
	}
	sign := a.Sign() ^ b.Sign()
	if a.IsInf() || b.IsInf() {
		if a.IsZero() || b.IsZero() {
			return refWork{resolved: true, result: refNaN()}
		}
		return refWork{resolved: true, result: format.Value{Bits: sign<<31 | format.RefInf, Type: format.FP32}}
	}
	if a.IsZero() || b.IsZero() {
		return refWork{resolved: true, result: format.Value{Bits: sign << 31, Type: format.FP32}}
	}

	_, ea, ma := unpackRef(a)
	_, eb, mb := unpackRef(b)
	return refWork{
		sign: sign,
		exp:  ea + eb - format.RefBias,
		man:  uint64(ma) * uint64(mb),
		wide: true,
	}
}

func addFinish(w refWork) (format.Value, format.Flags) {
	man := w.man
	exp := w.exp
	if man&(1<<24) != 0 {
		// Carry out of the field; the shifted-out bit truncates.
		man >>= 1
		exp++
	}
	for man&format.RefImplicit == 0 {
		man <<= 1
		exp--
	}
	return packRef(w.sign, exp, uint32(man))
}

func mulFinish(w refWork) (format.Value, format.Flags) {
	prod := w.man
	exp := w.exp
	// Product of two 24-bit significands: 1.0*1.0 sits at bit 46.
	for prod&(3<<46) == 0 {
		prod <<= 1
		exp--
	}
	var man uint32
	if prod&(1<<47) != 0 {
		man = uint32(prod >> 24)
		exp++
	} else {
		man = uint32(prod >> 23)
	}
	return packRef(w.sign, exp, man)
}

func finish(w refWork) (format.Value, format.Flags) {
	if w.resolved {
		return w.result, w.flags
	}
	if w.wide {
		return mulFinish(w)
	}
	return addFinish(w)
}

// packRef encodes sign/exponent/mantissa, resolving out-of-range
// exponents to infinity (overflow) or signed zero (underflow; results
// below the normal range flush).
func packRef(sign uint32, exp int32, man uint32) (format.Value, format.Flags) {
	var fl format.Flags
	if exp >= int32(format.RefExpMask) {
		fl.Overflow = true
		return format.Value{Bits: sign<<31 | format.RefInf, Type: format.FP32}, fl
	}
	if exp <= 0 {
		fl.Underflow = true
		return format.Value{Bits: sign << 31, Type: format.FP32}, fl
	}
	return format.Value{Bits: sign<<31 | uint32(exp)<<23 | man&format.RefManMask, Type: format.FP32}, fl
}

func coerceRef(v format.Value) format.Value {
	if v.Type == format.FP32 {
		return v
	}
	return convert.Widen(v)
}

// Add32 and Mul32 are the reference operations as plain calls, for
// callers that do not need the staged machine.
func Add32(a, b format.Value) (format.Value, format.Flags) {
	return finish(addStage(coerceRef(a), coerceRef(b)))
}

func Mul32(a, b format.Value) (format.Value, format.Flags) {
	return finish(mulStage(coerceRef(a), coerceRef(b)))
}

// dot4 multiplies four already-widened lanes and sums the products
// left to right.
func dot4(a, b [4]format.Value) (format.Value, format.Flags) {
	var fl format.Flags
	sum := format.Value{Type: format.FP32}
	for i := 0; i < 4; i++ {
		p, f := Mul32(a[i], b[i])
		fl.Or(f)
		sum, f = Add32(sum, p)
		fl.Or(f)
	}
	metrics.RecordDotLanes(4)
	return sum, fl
}

// Reference exposes the arithmetic core through the standard operand
// register / pipeline contract.
type Reference struct {
	pipeline.Machine

	Op     RefOp
	A, B   format.Value
	Result format.Value

	w refWork
}

func NewReference() *Reference {
	u := &Reference{}
	u.Machine = pipeline.New("reference", u)
	return u
}

func (u *Reference) Compute() format.Flags {
	metrics.RecordUnitOp("reference", u.Op.String())
	a, b := coerceRef(u.A), coerceRef(u.B)
	if u.Op == RefOpMul {
		u.w = mulStage(a, b)
	} else {
		u.w = addStage(a, b)
	}
	return format.Flags{}
}

func (u *Reference) Normalize() format.Flags {
	r, fl := finish(u.w)
	u.Result = r
	return fl
}
