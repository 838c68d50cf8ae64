package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_conversions_total",
		Help: "Total format conversions routed through the reference format",
	}, []string{"from", "to"})

	ConversionFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_conversion_flags_total",
		Help: "Total overflow/underflow/saturation flags raised by conversions",
	}, []string{"flag"})

	UnitOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_unit_ops_total",
		Help: "Total operations issued to arithmetic units",
	}, []string{"unit", "op"})

	UnitFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_unit_flags_total",
		Help: "Total flags latched by unit operations",
	}, []string{"unit", "flag"})

	BusyRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_unit_busy_rejects_total",
		Help: "Start requests ignored because the unit was not idle",
	}, []string{"unit"})

	BlockElementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bodkin_block_elements_total",
		Help: "Elements moved through the block codecs",
	}, []string{"format", "dir"})

	DotLanes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bodkin_dot_lanes",
		Help:    "Lane count per dot-product issue",
		Buckets: []float64{1, 2, 4, 8, 16},
	})

	CalibrationSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bodkin_calibration_samples_total",
		Help: "Samples fed to the running min/max tracker",
	})

	CalibrationMin = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_calibration_min",
		Help: "Current running minimum observed by the tracker",
	})

	CalibrationMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bodkin_calibration_max",
		Help: "Current running maximum observed by the tracker",
	})
)

func RecordConversion(from, to string) {
	ConversionsTotal.WithLabelValues(from, to).Inc()
}

func RecordConversionFlags(overflow, underflow, saturated bool) {
	if overflow {
		ConversionFlags.WithLabelValues("overflow").Inc()
	}
	if underflow {
		ConversionFlags.WithLabelValues("underflow").Inc()
	}
	if saturated {
		ConversionFlags.WithLabelValues("saturated").Inc()
	}
}

func RecordUnitOp(unit, op string) {
	UnitOpsTotal.WithLabelValues(unit, op).Inc()
}

func RecordUnitFlags(unit string, overflow, underflow, saturated bool) {
	if overflow {
		UnitFlagsTotal.WithLabelValues(unit, "overflow").Inc()
	}
	if underflow {
		UnitFlagsTotal.WithLabelValues(unit, "underflow").Inc()
	}
	if saturated {
		UnitFlagsTotal.WithLabelValues(unit, "saturated").Inc()
	}
}

func RecordBusyReject(unit string) {
	BusyRejectsTotal.WithLabelValues(unit).Inc()
}

func RecordBlockElements(format, dir string, count int) {
	BlockElementsTotal.WithLabelValues(format, dir).Add(float64(count))
}

func RecordDotLanes(lanes int) {
	DotLanes.Observe(float64(lanes))
}

func RecordCalibration(min, max float32) {
	CalibrationSamples.Inc()
	CalibrationMin.Set(float64(min))
	CalibrationMax.Set(float64(max))
}
