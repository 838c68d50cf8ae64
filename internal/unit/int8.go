package unit

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

type Int8Op int

const (
	Int8OpMul Int8Op = iota
	Int8OpDot
	Int8OpRelu
	Int8OpRequant
)

func (o Int8Op) String() string {
	switch o {
	case Int8OpDot:
		return "dot"
	case Int8OpRelu:
		return "relu"
	case Int8OpRequant:
		return "requant"
	}
	return "mul"
}

// Int8 is the integer lane: products and dots accumulate in int32,
// requantization runs through an int64 fixed-point intermediate, and
// the narrow result saturates to [-128, 127] rather than wrapping.
type Int8 struct {
	pipeline.Machine

	Op   Int8Op
	A, B [4]int8
	Acc  int32 // caller-threaded accumulator for dot and requant

	// Fixed-point requantization scale: real scale * 2^FracBits.
	Mult      int32
	FracBits  uint8
	ZeroPoint int8

	Result32 int32
	Result   int8

	wide int64
}

func NewInt8() *Int8 {
	u := &Int8{}
	u.Machine = pipeline.New("int8", u)
	return u
}

func (u *Int8) Compute() format.Flags {
	metrics.RecordUnitOp("int8", u.Op.String())
	switch u.Op {
	case Int8OpDot:
		s := u.Acc
		for i := range u.A {
			s += int32(u.A[i]) * int32(u.B[i])
		}
		u.wide = int64(s)
		metrics.RecordDotLanes(len(u.A))
	case Int8OpRelu:
		if u.A[0] > 0 {
			u.wide = int64(u.A[0])
		} else {
			u.wide = 0
		}
	case Int8OpRequant:
		// Arithmetic right shift, then the zero point; saturation
		// happens on the way to the narrow register.
		u.wide = ((int64(u.Acc) * int64(u.Mult)) >> u.FracBits) + int64(u.ZeroPoint)
	default:
		u.wide = int64(int32(u.A[0]) * int32(u.B[0]))
	}
	return format.Flags{}
}

func (u *Int8) Normalize() format.Flags {
	var fl format.Flags
	w := u.wide
	r32 := w
	if r32 > math.MaxInt32 {
		r32 = math.MaxInt32
	} else if r32 < math.MinInt32 {
		r32 = math.MinInt32
	}
	u.Result32 = int32(r32)

	r := w
	if r > math.MaxInt8 {
		r = math.MaxInt8
		fl.Saturated = true
	} else if r < math.MinInt8 {
		r = math.MinInt8
		fl.Saturated = true
	}
	u.Result = int8(r)
	return fl
}
