package format

import "math"

// DataType identifies one of the nine emulated numeric formats.
// The reference format (FP32) is the hub every conversion routes through.
type DataType int

const (
	FP32 DataType = iota
	FP16
	BF16
	TF32
	FP8E4M3
	FP8E5M2
	FP4
	NF4
	INT8
)

func (d DataType) String() string {
	switch d {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case BF16:
		return "bf16"
	case TF32:
		return "tf32"
	case FP8E4M3:
		return "fp8_e4m3"
	case FP8E5M2:
		return "fp8_e5m2"
	case FP4:
		return "fp4"
	case NF4:
		return "nf4"
	case INT8:
		return "int8"
	default:
		return "unknown"
	}
}

// Encoding classifies how a format's bits are interpreted.
type Encoding int

const (
	EncFloat Encoding = iota // sign/exponent/mantissa fields
	EncIndex                 // lookup-table index (NF4)
	EncInt                   // two's complement integer (INT8)
)

// Spec describes the bit layout of one format.
// For EncFloat, Bits == 1 + ExpBits + ManBits.
type Spec struct {
	Name    string
	Bits    uint32
	ExpBits uint32
	ManBits uint32
	Bias    int32
	HasInf  bool
	HasNaN  bool
	Enc     Encoding
}

// MaxExp returns the largest biased exponent field value.
func (s Spec) MaxExp() uint32 {
	return (1 << s.ExpBits) - 1
}

// ManMask returns the mantissa field mask.
func (s Spec) ManMask() uint32 {
	return (1 << s.ManBits) - 1
}

// BitsMask returns the mask covering the format's full width.
func (s Spec) BitsMask() uint32 {
	if s.Bits >= 32 {
		return 0xffffffff
	}
	return (1 << s.Bits) - 1
}

var specs = [...]Spec{
	FP32:    {Name: "fp32", Bits: 32, ExpBits: 8, ManBits: 23, Bias: 127, HasInf: true, HasNaN: true, Enc: EncFloat},
	FP16:    {Name: "fp16", Bits: 16, ExpBits: 5, ManBits: 10, Bias: 15, HasInf: true, HasNaN: true, Enc: EncFloat},
	BF16:    {Name: "bf16", Bits: 16, ExpBits: 8, ManBits: 7, Bias: 127, HasInf: true, HasNaN: true, Enc: EncFloat},
	TF32:    {Name: "tf32", Bits: 19, ExpBits: 8, ManBits: 10, Bias: 127, HasInf: true, HasNaN: true, Enc: EncFloat},
	FP8E4M3: {Name: "fp8_e4m3", Bits: 8, ExpBits: 4, ManBits: 3, Bias: 7, HasInf: false, HasNaN: true, Enc: EncFloat},
	FP8E5M2: {Name: "fp8_e5m2", Bits: 8, ExpBits: 5, ManBits: 2, Bias: 15, HasInf: true, HasNaN: true, Enc: EncFloat},
	FP4:     {Name: "fp4", Bits: 4, ExpBits: 2, ManBits: 1, Bias: 1, HasInf: false, HasNaN: false, Enc: EncFloat},
	NF4:     {Name: "nf4", Bits: 4, Enc: EncIndex},
	INT8:    {Name: "int8", Bits: 8, Enc: EncInt},
}

// Lookup returns the Spec for dt. Unknown types return the zero Spec.
func Lookup(dt DataType) Spec {
	if dt < 0 || int(dt) >= len(specs) {
		return Spec{}
	}
	return specs[dt]
}

// All returns the registry enumeration order. Broadcast results use this order.
func All() []DataType {
	return []DataType{FP32, FP16, BF16, TF32, FP8E4M3, FP8E5M2, FP4, NF4, INT8}
}

// Reference format field constants. The arithmetic core works on these directly.
const (
	RefExpShift = 23
	RefExpMask  = 0xff
	RefManMask  = 0x7fffff
	RefBias     = 127
	RefImplicit = 0x800000
	RefSignBit  = 0x80000000

	// Canonical quiet NaN emitted by the arithmetic core.
	RefNaN = 0x7fc00000
	RefInf = 0x7f800000
)

// Value is a packed bit pattern tagged with its format. Bits outside the
// format's width are always zero; constructors mask.
type Value struct {
	Bits uint32
	Type DataType
}

// New masks bits to the format's width.
func New(dt DataType, bits uint32) Value {
	return Value{Bits: bits & Lookup(dt).BitsMask(), Type: dt}
}

// Compose builds a float-class value from its fields, masking each to width.
func Compose(dt DataType, sign, exp, man uint32) Value {
	s := Lookup(dt)
	bits := (sign&1)<<(s.ExpBits+s.ManBits) | (exp&s.MaxExp())<<s.ManBits | man&s.ManMask()
	return Value{Bits: bits, Type: dt}
}

// Sign returns the sign bit (0 or 1). Zero for index/integer encodings.
func (v Value) Sign() uint32 {
	s := Lookup(v.Type)
	if s.Enc != EncFloat {
		return 0
	}
	return (v.Bits >> (s.ExpBits + s.ManBits)) & 1
}

// Exponent returns the biased exponent field.
func (v Value) Exponent() uint32 {
	s := Lookup(v.Type)
	if s.Enc != EncFloat {
		return 0
	}
	return (v.Bits >> s.ManBits) & s.MaxExp()
}

// Mantissa returns the mantissa field without the implicit bit.
func (v Value) Mantissa() uint32 {
	s := Lookup(v.Type)
	if s.Enc != EncFloat {
		return 0
	}
	return v.Bits & s.ManMask()
}

// IsNaN reports whether v encodes NaN in its own format.
func (v Value) IsNaN() bool {
	s := Lookup(v.Type)
	if s.Enc != EncFloat || !s.HasNaN {
		return false
	}
	if s.HasInf {
		return v.Exponent() == s.MaxExp() && v.Mantissa() != 0
	}
	// E4M3 shape: all-ones exponent with all-ones mantissa is the only NaN.
	return v.Exponent() == s.MaxExp() && v.Mantissa() == s.ManMask()
}

// IsInf reports whether v encodes an infinity.
func (v Value) IsInf() bool {
	s := Lookup(v.Type)
	if s.Enc != EncFloat || !s.HasInf {
		return false
	}
	return v.Exponent() == s.MaxExp() && v.Mantissa() == 0
}

// IsZero reports whether v is a zero of either sign.
func (v Value) IsZero() bool {
	s := Lookup(v.Type)
	switch s.Enc {
	case EncFloat:
		return v.Exponent() == 0 && v.Mantissa() == 0
	case EncIndex:
		return v.Bits == NF4ZeroIndex
	default:
		return v.Bits&0xff == 0
	}
}

// FromFloat32 reinterprets a host float32 as a reference-format value.
func FromFloat32(f float32) Value {
	return Value{Bits: math.Float32bits(f), Type: FP32}
}

// Float32 reinterprets a reference-format value as a host float32.
// Only meaningful for FP32 values; other formats go through the
// conversion engine first.
func (v Value) Float32() float32 {
	return math.Float32frombits(v.Bits)
}

// Int8 returns the two's complement value of an INT8 pattern.
func (v Value) Int8() int8 {
	return int8(v.Bits)
}

// FromInt8 packs a signed integer as an INT8 value.
func FromInt8(i int8) Value {
	return Value{Bits: uint32(uint8(i)), Type: INT8}
}

// Flags is the per-operation sticky word every conversion and unit
// operation reports. Cleared at operation start, latched through Done.
type Flags struct {
	Overflow  bool // magnitude exceeded the result format (inf or saturation emitted)
	Underflow bool // result flushed to zero
	Saturated bool // result clamped to a finite extreme
}

// Or merges o into f.
func (f *Flags) Or(o Flags) {
	f.Overflow = f.Overflow || o.Overflow
	f.Underflow = f.Underflow || o.Underflow
	f.Saturated = f.Saturated || o.Saturated
}

// Any reports whether any flag is set.
func (f Flags) Any() bool {
	return f.Overflow || f.Underflow || f.Saturated
}
