package unit

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/format"
)

func TestFloat8MulDualDowncast(t *testing.T) {
	u := NewFloat8()
	u.Op = F8OpMul
	u.A[0] = format.New(format.FP8E4M3, 0x7E) // 448
	u.B[0] = format.New(format.FP8E5M2, 0x40) // 2.0

	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.Result.Float32() != 896 {
		t.Fatalf("wide = %v", u.Result.Float32())
	}
	// 896 overruns e4m3 and saturates; e5m2 holds it exactly. The
	// machine flags carry the union.
	if u.ResultE4M3.Bits != 0x7E {
		t.Errorf("e4m3 = %#x, want clamp to 0x7E", u.ResultE4M3.Bits)
	}
	if u.ResultE5M2.Bits != 0x63 {
		t.Errorf("e5m2 = %#x, want 0x63", u.ResultE5M2.Bits)
	}
	if !fl.Overflow || !fl.Saturated {
		t.Errorf("flags = %+v", fl)
	}
}

func TestFloat8AddA(t *testing.T) {
	u := NewFloat8()
	u.Op = F8OpAddA
	u.A[0] = format.New(format.FP8E4M3, 0x38) // 1.0
	u.A[1] = format.New(format.FP8E4M3, 0x30) // 0.5

	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.Result.Float32() != 1.5 || fl.Any() {
		t.Fatalf("wide = %v flags %+v", u.Result.Float32(), fl)
	}
	if u.ResultE4M3.Bits != 0x3C {
		t.Errorf("e4m3 = %#x", u.ResultE4M3.Bits)
	}
	if u.ResultE5M2.Bits != 0x3E {
		t.Errorf("e5m2 = %#x", u.ResultE5M2.Bits)
	}
}

func TestFloat8AddBOverflowSplit(t *testing.T) {
	u := NewFloat8()
	u.Op = F8OpAddB
	u.B[0] = format.New(format.FP8E5M2, 0x7B) // 57344, e5m2 max finite
	u.B[1] = format.New(format.FP8E5M2, 0x7B)

	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.Result.Float32() != 114688 {
		t.Fatalf("wide = %v", u.Result.Float32())
	}
	// e5m2 overflows to its infinity; e4m3 has none and clamps.
	if !u.ResultE5M2.IsInf() || u.ResultE5M2.Bits != 0x7C {
		t.Errorf("e5m2 = %#x", u.ResultE5M2.Bits)
	}
	if u.ResultE4M3.Bits != 0x7E {
		t.Errorf("e4m3 = %#x", u.ResultE4M3.Bits)
	}
	if !fl.Overflow || !fl.Saturated {
		t.Errorf("flags = %+v", fl)
	}
}

func TestFloat8Dot(t *testing.T) {
	u := NewFloat8()
	u.Op = F8OpDot
	codes := []uint32{0x38, 0x40, 0x48, 0x50} // 1, 2, 4, 8
	for i, c := range codes {
		u.A[i] = format.New(format.FP8E4M3, c)
		u.B[i] = format.New(format.FP8E5M2, 0x3C) // 1.0
	}

	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.Result.Float32() != 15 {
		t.Fatalf("dot = %v", u.Result.Float32())
	}
	if u.ResultE4M3.Bits != 0x57 || fl.Any() {
		t.Errorf("e4m3 = %#x flags %+v", u.ResultE4M3.Bits, fl)
	}
	// Two mantissa bits cannot hold 15; it truncates to 14 silently.
	if got := u.ResultE5M2; got.Bits != 0x4B {
		t.Errorf("e5m2 = %#x", got.Bits)
	}
}

func TestFloat8NaNOperand(t *testing.T) {
	u := NewFloat8()
	u.Op = F8OpMul
	u.A[0] = format.New(format.FP8E4M3, 0x7F) // e4m3 NaN
	u.B[0] = format.New(format.FP8E5M2, 0x40)

	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !u.Result.IsNaN() {
		t.Fatalf("wide = %v", u.Result.Float32())
	}
	if u.ResultE4M3.Bits != 0x7F || !u.ResultE5M2.IsNaN() {
		t.Errorf("downcasts = %#x / %#x", u.ResultE4M3.Bits, u.ResultE5M2.Bits)
	}
	if fl.Any() {
		t.Errorf("flags = %+v", fl)
	}
}

func TestFloat8ZeroLanes(t *testing.T) {
	// Fresh banks hold format-typed zeros; the dot of nothing is zero.
	u := NewFloat8()
	u.Op = F8OpDot
	fl, err := u.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.Result.Bits != 0 || u.Result.Type != format.FP32 {
		t.Fatalf("zero dot = %+v", u.Result)
	}
	if fl.Any() {
		t.Fatalf("flags = %+v", fl)
	}
}
