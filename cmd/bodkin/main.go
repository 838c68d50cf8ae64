package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/block"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
	"github.com/23skdu/longbow-bodkin/internal/unit"
)

var (
	logLevel    = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFormat   = flag.String("log-format", "console", "Log output format (console or json)")
	metricsAddr = flag.String("metrics", ":9090", "Address to serve Prometheus metrics (empty disables)")
	numElements = flag.Int("n", 256, "Demo tensor size in elements (multiple of 32)")
	demoSeed    = flag.Int64("seed", 1, "Demo tensor seed")
	int8Scale   = flag.Float64("int8-scale", 1.0, "Int8 quantizer scale for the demo hub")
	int8Zero    = flag.Int("int8-zero", 0, "Int8 quantizer zero point for the demo hub")
	serve       = flag.Bool("serve", false, "Keep serving metrics after the demo until interrupted")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.MetricsAddr = *metricsAddr
	cfg.DemoElements = *numElements
	cfg.DemoSeed = *demoSeed
	cfg.Int8Scale = float32(*int8Scale)
	cfg.Int8ZeroPoint = *int8Zero
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	hub := unit.NewHub()
	hub.QScale = format.FromFloat32(cfg.Int8Scale)
	hub.QZero = int8(cfg.Int8ZeroPoint)

	mon := monitoring.NewMonitor(&hub.Track)
	if cfg.MetricsEnabled() {
		go func() {
			if err := mon.Start(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Err(err, "monitor server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	start := time.Now()
	failures := runScenarios()
	printConversionTable()
	runBlockDemo(cfg, mon)
	runCalibrationDemo(cfg, hub, mon)
	logger.Log.Info("demo complete",
		"scenarios_failed", failures, "elapsed", time.Since(start).String())

	if *serve {
		log.Printf("Serving until interrupted...")
		<-sigChan
		log.Println("Interrupt received, shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mon.Stop(ctx); err != nil {
		logger.Log.Err(err, "monitor shutdown failed")
	}
	if failures > 0 {
		os.Exit(1)
	}
}

type scenario struct {
	name string
	run  func() error
}

func runScenarios() int {
	failures := 0
	for _, s := range scenarios() {
		if err := s.run(); err != nil {
			logger.Log.Error("scenario failed", "name", s.name, "err", err)
			failures++
			continue
		}
		logger.Log.Info("scenario passed", "name", s.name)
	}
	return failures
}

func scenarios() []scenario {
	return []scenario{
		{"reference cancel to +0", func() error {
			ref := unit.NewReference()
			ref.Op = unit.RefOpAdd
			ref.A = format.FromFloat32(1)
			ref.B = format.FromFloat32(-1)
			fl, err := ref.Run()
			if err != nil {
				return err
			}
			if ref.Result.Bits != 0 || fl.Any() {
				return fmt.Errorf("got bits %08x flags %+v", ref.Result.Bits, fl)
			}
			return nil
		}},
		{"reference overflow to +inf", func() error {
			ref := unit.NewReference()
			ref.Op = unit.RefOpMul
			ref.A = format.FromFloat32(1e20)
			ref.B = format.FromFloat32(1e20)
			fl, err := ref.Run()
			if err != nil {
				return err
			}
			if ref.Result.Bits != format.RefInf || !fl.Overflow {
				return fmt.Errorf("got bits %08x flags %+v", ref.Result.Bits, fl)
			}
			return nil
		}},
		{"reference underflow to +0", func() error {
			ref := unit.NewReference()
			ref.Op = unit.RefOpMul
			ref.A = format.FromFloat32(1e-20)
			ref.B = format.FromFloat32(1e-20)
			fl, err := ref.Run()
			if err != nil {
				return err
			}
			if ref.Result.Bits != 0 || !fl.Underflow {
				return fmt.Errorf("got bits %08x flags %+v", ref.Result.Bits, fl)
			}
			return nil
		}},
		{"mixed fma stays wide", func() error {
			mx := unit.NewMixed()
			mx.Op = unit.MixedOpFMA
			mx.A, _ = convert.Convert(format.FromFloat32(1.5), format.BF16)
			mx.B, _ = convert.Convert(format.FromFloat32(2.5), format.BF16)
			mx.Acc = format.FromFloat32(10)
			if _, err := mx.Run(); err != nil {
				return err
			}
			if got := mx.Result.Float32(); got != 13.75 {
				return fmt.Errorf("fp32 result %v", got)
			}
			if got := convert.Widen(mx.ResultBF16).Float32(); got != 13.75 {
				return fmt.Errorf("bf16 result %v", got)
			}
			return nil
		}},
		{"float8 dual downcast", func() error {
			f8 := unit.NewFloat8()
			f8.Op = unit.F8OpMul
			f8.A[0], _ = convert.Convert(format.FromFloat32(448), format.FP8E4M3)
			f8.B[0], _ = convert.Convert(format.FromFloat32(2), format.FP8E5M2)
			fl, err := f8.Run()
			if err != nil {
				return err
			}
			if got := f8.Result.Float32(); got != 896 {
				return fmt.Errorf("fp32 result %v", got)
			}
			if got := convert.Widen(f8.ResultE4M3).Float32(); got != 448 || !fl.Saturated {
				return fmt.Errorf("e4m3 result %v flags %+v", got, fl)
			}
			if got := convert.Widen(f8.ResultE5M2).Float32(); got != 896 {
				return fmt.Errorf("e5m2 result %v", got)
			}
			return nil
		}},
		{"microscaled multiply at scale 8", func() error {
			fp4 := unit.NewFP4()
			fp4.Op = unit.FP4OpMulMX
			fp4.BlockExp = 130
			fp4.A[0] = format.Compose(format.FP4, 0, 1, 0) // 1.0
			fp4.B[0] = format.Compose(format.FP4, 0, 1, 0)
			if _, err := fp4.Run(); err != nil {
				return err
			}
			if got := fp4.Result.Float32(); got != 64 {
				return fmt.Errorf("result %v", got)
			}
			return nil
		}},
		{"fp4 decode set", func() error {
			fp4 := unit.NewFP4()
			fp4.Op = unit.FP4OpEnumMX
			if _, err := fp4.Run(); err != nil {
				return err
			}
			want := [8]float32{0, 0.5, 1, 1.5, 2, 3, 4, 6}
			for i, w := range want {
				if got := fp4.Enum[i].Float32(); got != w {
					return fmt.Errorf("code %d decoded %v want %v", i, got, w)
				}
				neg := fp4.Enum[i+8].Float32()
				if neg != -w || !math.Signbit(float64(neg)) {
					return fmt.Errorf("code %d decoded %v want %v", i+8, neg, -w)
				}
			}
			return nil
		}},
		{"int8 saturating multiply", func() error {
			i8 := unit.NewInt8()
			i8.Op = unit.Int8OpMul
			i8.A[0], i8.B[0] = 127, 127
			fl, err := i8.Run()
			if err != nil {
				return err
			}
			if i8.Result32 != 16129 || i8.Result != 127 || !fl.Saturated {
				return fmt.Errorf("got %d/%d flags %+v", i8.Result32, i8.Result, fl)
			}
			return nil
		}},
		{"int8 dot", func() error {
			i8 := unit.NewInt8()
			i8.Op = unit.Int8OpDot
			i8.A = [4]int8{1, 2, 3, 4}
			i8.B = [4]int8{4, 3, 2, 1}
			fl, err := i8.Run()
			if err != nil {
				return err
			}
			if i8.Result32 != 20 || fl.Any() {
				return fmt.Errorf("got %d flags %+v", i8.Result32, fl)
			}
			return nil
		}},
		{"relu endpoints", func() error {
			i8 := unit.NewInt8()
			i8.Op = unit.Int8OpRelu
			for _, c := range []struct{ in, out int8 }{{-128, 0}, {127, 127}, {0, 0}} {
				i8.A[0] = c.in
				fl, err := i8.Run()
				if err != nil {
					return err
				}
				if i8.Result != c.out || fl.Any() {
					return fmt.Errorf("relu(%d) = %d flags %+v", c.in, i8.Result, fl)
				}
			}
			return nil
		}},
		{"broadcast 1.0 round-trips", func() error {
			hub := unit.NewHub()
			hub.Op = unit.HubOpBroadcast
			hub.In = format.FromFloat32(1)
			if _, err := hub.Run(); err != nil {
				return err
			}
			for i, dt := range format.All() {
				back := convert.Widen(hub.Broadcast[i])
				if back.Float32() != 1 {
					return fmt.Errorf("%s came back as %v", dt, back.Float32())
				}
			}
			return nil
		}},
		{"block round-trip", func() error {
			// Absmax 6 gives block scale 2; these are the exactly
			// codable multiples at that scale.
			src := make([]float32, block.BlockSize)
			copy(src, []float32{6, 4, 3, 2, 0, -6, -4, -3, -2})
			packed, err := block.QuantizeMXFP4(src)
			if err != nil {
				return err
			}
			got, err := block.DequantizeMXFP4(packed, len(src))
			if err != nil {
				return err
			}
			for i := range src {
				if got[i] != src[i] {
					return fmt.Errorf("element %d: %v -> %v", i, src[i], got[i])
				}
			}
			return nil
		}},
	}
}

func printConversionTable() {
	samples := []float32{1, 0.5, 3.140625, 448, 0.0001, -2.75}
	fmt.Printf("%-12s", "value")
	for _, dt := range format.All() {
		fmt.Printf("%12s", dt.String())
	}
	fmt.Println()
	for _, v := range samples {
		fmt.Printf("%-12g", v)
		src := format.FromFloat32(v)
		for _, dt := range format.All() {
			nv, fl := convert.Convert(src, dt)
			back := convert.Widen(nv)
			mark := ""
			if fl.Any() {
				mark = "*"
			}
			fmt.Printf("%12s", fmt.Sprintf("%g%s", back.Float32(), mark))
		}
		fmt.Println()
	}
}

func demoTensor(cfg config.Config) []float32 {
	rng := rand.New(rand.NewSource(cfg.DemoSeed))
	src := make([]float32, cfg.DemoElements)
	for i := range src {
		src[i] = rng.Float32()*2 - 1
	}
	return src
}

func runBlockDemo(cfg config.Config, mon *monitoring.Monitor) {
	src := demoTensor(cfg)

	begin := time.Now()
	packed, err := block.QuantizeNF4(src)
	if err != nil {
		logger.Log.Err(err, "nf4 quantize failed")
		return
	}
	back, err := block.DequantizeNF4(packed, len(src))
	if err != nil {
		logger.Log.Err(err, "nf4 dequantize failed")
		return
	}
	mon.RecordBatch(len(src), time.Since(begin))
	var maxErr float64
	for i := range src {
		if e := math.Abs(float64(back[i] - src[i])); e > maxErr {
			maxErr = e
		}
	}
	logger.Log.Info("nf4 block pass",
		"elements", len(src), "bytes", len(packed), "max_abs_error", maxErr)

	begin = time.Now()
	mxPacked, err := block.QuantizeMXFP4(src)
	if err != nil {
		logger.Log.Err(err, "mxfp4 quantize failed")
		return
	}
	mxBack, err := block.DequantizeMXFP4(mxPacked, len(src))
	if err != nil {
		logger.Log.Err(err, "mxfp4 dequantize failed")
		return
	}
	mon.RecordBatch(len(src), time.Since(begin))
	maxErr = 0
	for i := range src {
		if e := math.Abs(float64(mxBack[i] - src[i])); e > maxErr {
			maxErr = e
		}
	}
	logger.Log.Info("mxfp4 block pass",
		"elements", len(src), "bytes", len(mxPacked), "max_abs_error", maxErr)
}

func runCalibrationDemo(cfg config.Config, hub *unit.Hub, mon *monitoring.Monitor) {
	for _, v := range demoTensor(cfg) {
		hub.Op = unit.HubOpMinMax
		hub.In = format.FromFloat32(v)
		if _, err := hub.Run(); err != nil {
			logger.Log.Err(err, "calibration feed failed")
			return
		}
	}
	st := hub.Track.Stats()
	scale, zero := hub.Track.Calibrate()
	logger.Log.Info("calibration pass",
		"samples", st.Count, "min", st.Min, "max", st.Max,
		"mean", st.Mean, "rms", st.RMS,
		"scale", scale, "zero_point", zero)

	// Requantize the same tensor with the derived parameters.
	hub.QScale = format.FromFloat32(scale)
	hub.QZero = zero
	saturated := 0
	for _, v := range demoTensor(cfg) {
		hub.Op = unit.HubOpQuantize
		hub.In = format.FromFloat32(v)
		fl, err := hub.Run()
		if err != nil {
			logger.Log.Err(err, "quantize feed failed")
			return
		}
		mon.NoteFlags("hub", fl)
		if fl.Saturated {
			saturated++
		}
	}
	logger.Log.Info("quantize pass",
		"elements", cfg.DemoElements, "scale", scale, "zero_point", zero,
		"saturated", saturated)
}
