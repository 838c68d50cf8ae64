package format

// NF4 lookup table: 16 normal-distribution quantiles spanning [-1, 1].
// These are the QLoRA constants; entry 7 is exactly zero and the
// endpoints are exactly +/-1. Decoded value = Table[index] * absmax,
// with absmax supplied externally per block.
var NF4Table = [16]float32{
	-1.0,
	-0.6961928009986877,
	-0.5250730514526367,
	-0.39491748809814453,
	-0.28444138169288635,
	-0.18477343022823334,
	-0.09105003625154495,
	0.0,
	0.07958029955625534,
	0.16093020141124725,
	0.24611230194568634,
	0.33791524171829224,
	0.44070982933044434,
	0.5626170039176941,
	0.7229568362236023,
	1.0,
}

// NF4TableQ14 is the same table in Q1.14 fixed point (value * 2^14,
// rounded to nearest), the form the quantizer ROM holds.
var NF4TableQ14 = [16]int16{
	-16384,
	-11406,
	-8603,
	-6470,
	-4660,
	-3027,
	-1492,
	0,
	1304,
	2637,
	4032,
	5536,
	7221,
	9218,
	11845,
	16384,
}

// NF4ZeroIndex is the table entry holding exact zero. Degenerate
// absmax quantization resolves here.
const NF4ZeroIndex = 7

// NF4Value returns the reference-format value of one table entry
// (the absmax-1.0 view of the code).
func NF4Value(index uint8) Value {
	return FromFloat32(NF4Table[index&0xf])
}

// FP4 microscaled element constants. The single subnormal code is 0.5
// and the largest finite magnitude is 6.0; the full decoded set is
// {0, +/-0.5, +/-1, +/-1.5, +/-2, +/-3, +/-4, +/-6}.
const (
	FP4MaxExpField = 3   // top exponent field value, reachable only by saturation
	FP4MaxCode     = 0x7 // exp 3, man 1 -> 6.0
	FP4SubCode     = 0x1 // exp 0, man 1 -> 0.5
)
