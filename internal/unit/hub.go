package unit

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/pipeline"
)

type HubOp int

const (
	HubOpBroadcast HubOp = iota
	HubOpAffine
	HubOpQuantize
	HubOpDequantize
	HubOpMinMax
)

func (o HubOp) String() string {
	switch o {
	case HubOpAffine:
		return "affine"
	case HubOpQuantize:
		return "quantize"
	case HubOpDequantize:
		return "dequantize"
	case HubOpMinMax:
		return "minmax"
	}
	return "broadcast"
}

// Hub is the normalization and calibration front end: it fans a wide
// value out to every supported format, applies affine scale/bias,
// runs the integer quantizer both directions, and feeds the range
// tracker that calibration reads.
type Hub struct {
	pipeline.Machine

	Op HubOp
	In format.Value // fp32 operand

	Scale, Bias format.Value // affine coefficients, fp32

	// Integer quantization parameters, shared by quantize,
	// dequantize and the int8 broadcast slot.
	QScale format.Value // fp32
	QZero  int8
	Code   int8 // quantized input for dequantize

	Result     format.Value // fp32
	ResultFP16 format.Value
	ResultBF16 format.Value
	ResultI8   int8

	Broadcast      [9]format.Value
	BroadcastFlags [9]format.Flags

	Track Tracker
}

func NewHub() *Hub {
	u := &Hub{}
	u.Machine = pipeline.New("hub", u)
	u.Scale = format.FromFloat32(1)
	u.Bias = format.Value{Type: format.FP32}
	u.QScale = format.FromFloat32(1)
	return u
}

func (u *Hub) Compute() format.Flags {
	metrics.RecordUnitOp("hub", u.Op.String())
	var fl format.Flags
	switch u.Op {
	case HubOpAffine:
		t, f := Mul32(u.In, u.Scale)
		fl.Or(f)
		u.Result, f = Add32(t, u.Bias)
		fl.Or(f)
	case HubOpDequantize:
		// The centered difference is at most 255 in magnitude, so it
		// is exact in the reference format; only the scale multiply
		// can flag.
		diff := int32(u.Code) - int32(u.QZero)
		var f format.Flags
		u.Result, f = Mul32(format.FromFloat32(float32(diff)), u.QScale)
		fl.Or(f)
	case HubOpMinMax:
		u.Track.Add(u.In)
		st := u.Track.Stats()
		metrics.RecordCalibration(st.Min, st.Max)
		u.Result = u.In
	default:
		u.Result = u.In
	}
	return fl
}

func (u *Hub) Normalize() format.Flags {
	var fl format.Flags
	switch u.Op {
	case HubOpBroadcast:
		for i, dt := range format.All() {
			if dt == format.INT8 {
				u.Broadcast[i], u.BroadcastFlags[i] = convert.QuantizeInt8(u.In, u.QScale, u.QZero)
			} else {
				u.Broadcast[i], u.BroadcastFlags[i] = convert.Convert(u.In, dt)
			}
			fl.Or(u.BroadcastFlags[i])
		}
	case HubOpAffine:
		r16, f := convert.Narrow(u.Result, format.FP16)
		fl.Or(f)
		b16, f2 := convert.Narrow(u.Result, format.BF16)
		fl.Or(f2)
		u.ResultFP16 = r16
		u.ResultBF16 = b16
	case HubOpQuantize:
		q, f := convert.QuantizeInt8(u.In, u.QScale, u.QZero)
		fl.Or(f)
		u.ResultI8 = q.Int8()
		u.Result = u.In
	}
	return fl
}

// Tracker accumulates the observed value range for calibration. The
// bounds move on strict comparisons only and non-finite samples are
// counted but never widen them.
type Tracker struct {
	seeded    bool
	min, max  float32
	count     uint64
	nonFinite uint64
	sum       float64
	sumSq     float64
}

func (t *Tracker) Add(v format.Value) {
	if v.IsNaN() || v.IsInf() {
		t.nonFinite++
		return
	}
	f := v.Float32()
	t.count++
	t.sum += float64(f)
	t.sumSq += float64(f) * float64(f)
	if !t.seeded {
		t.seeded = true
		t.min, t.max = f, f
		return
	}
	if f < t.min {
		t.min = f
	}
	if f > t.max {
		t.max = f
	}
}

type Stats struct {
	Count     uint64
	NonFinite uint64
	Min, Max  float32
	Mean, RMS float64
}

func (t *Tracker) Stats() Stats {
	s := Stats{Count: t.count, NonFinite: t.nonFinite, Min: t.min, Max: t.max}
	if t.count > 0 {
		s.Mean = t.sum / float64(t.count)
		s.RMS = math.Sqrt(t.sumSq / float64(t.count))
	}
	return s
}

func (t *Tracker) Reset() {
	*t = Tracker{}
}

// Calibrate derives an asymmetric int8 scale and zero point covering
// the observed range. A degenerate or empty range yields the identity
// mapping.
func (t *Tracker) Calibrate() (scale float32, zeroPoint int8) {
	if !t.seeded || t.max <= t.min {
		return 1, 0
	}
	scale = (t.max - t.min) / 255
	zp := -128 - math.Round(float64(t.min)/float64(scale))
	if zp > math.MaxInt8 {
		zp = math.MaxInt8
	} else if zp < math.MinInt8 {
		zp = math.MinInt8
	}
	logger.Log.Debug("calibration derived",
		"min", t.min, "max", t.max, "samples", t.count,
		"scale", scale, "zero_point", int8(zp))
	return scale, int8(zp)
}
