package unit

import (
	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

type F8Op int

const (
	F8OpMul F8Op = iota
	F8OpAddA
	F8OpAddB
	F8OpDot
)

func (o F8Op) String() string {
	switch o {
	case F8OpAddA:
		return "add_a"
	case F8OpAddB:
		return "add_b"
	case F8OpDot:
		return "dot"
	}
	return "mul"
}

// Float8 pairs the two 8-bit encodings: the A bank holds e4m3 codes
// (precision side), the B bank e5m2 (range side). Every result is
// exposed wide and in both 8-bit downcasts, since the two narrowings
// fail differently: e4m3 saturates where e5m2 overflows to infinity.
type Float8 struct {
	pipeline.Machine

	Op F8Op
	A  [4]format.Value // fp8_e4m3
	B  [4]format.Value // fp8_e5m2

	Result     format.Value // fp32
	ResultE4M3 format.Value
	ResultE5M2 format.Value
}

func NewFloat8() *Float8 {
	u := &Float8{}
	u.Machine = pipeline.New("float8", u)
	for i := range u.A {
		u.A[i] = format.Value{Type: format.FP8E4M3}
		u.B[i] = format.Value{Type: format.FP8E5M2}
	}
	return u
}

func (u *Float8) Compute() format.Flags {
	metrics.RecordUnitOp("float8", u.Op.String())
	var fl format.Flags
	switch u.Op {
	case F8OpAddA:
		u.Result, fl = Add32(u.A[0], u.A[1])
	case F8OpAddB:
		u.Result, fl = Add32(u.B[0], u.B[1])
	case F8OpDot:
		var wa, wb [4]format.Value
		for i := range u.A {
			wa[i] = convert.Widen(u.A[i])
			wb[i] = convert.Widen(u.B[i])
		}
		u.Result, fl = dot4(wa, wb)
	default:
		u.Result, fl = Mul32(u.A[0], u.B[0])
	}
	return fl
}

func (u *Float8) Normalize() format.Flags {
	r4, fl := convert.Narrow(u.Result, format.FP8E4M3)
	r5, f := convert.Narrow(u.Result, format.FP8E5M2)
	fl.Or(f)
	u.ResultE4M3 = r4
	u.ResultE5M2 = r5
	return fl
}
