package unit

import (
	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

type MixedOp int

const (
	MixedOpMul MixedOp = iota
	MixedOpFMA
)

func (o MixedOp) String() string {
	if o == MixedOpFMA {
		return "fma"
	}
	return "mul"
}

// Mixed multiplies 16-bit brain-float operands into a full-width
// product and optionally folds it into a caller-held accumulator.
// The accumulator stays full-width across chained calls; only the
// 16-bit view truncates.
type Mixed struct {
	pipeline.Machine

	Op   MixedOp
	A, B format.Value // bf16 operands; other float types widen on entry
	Acc  format.Value // running fp32 accumulator, threaded by the caller

	Result     format.Value // fp32
	ResultBF16 format.Value
}

func NewMixed() *Mixed {
	u := &Mixed{}
	u.Machine = pipeline.New("mixed", u)
	u.Acc = format.Value{Type: format.FP32}
	return u
}

func (u *Mixed) Compute() format.Flags {
	metrics.RecordUnitOp("mixed", u.Op.String())
	p, fl := Mul32(u.A, u.B)
	if u.Op == MixedOpFMA {
		var f format.Flags
		p, f = Add32(u.Acc, p)
		fl.Or(f)
	}
	u.Result = p
	return fl
}

func (u *Mixed) Normalize() format.Flags {
	r, fl := convert.Narrow(u.Result, format.BF16)
	u.ResultBF16 = r
	return fl
}
