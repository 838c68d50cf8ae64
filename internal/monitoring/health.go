package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/unit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health status of the system
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Calibration CalibrationInfo `json:"calibration"`
	Throughput  ThroughputInfo  `json:"throughput"`
	Alerts      []Alert         `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion      string  `json:"go_version"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	NumCPU         int     `json:"num_cpu"`
	MemoryMB       int     `json:"memory_mb"`
	MemoryUsedMB   int     `json:"memory_used_mb"`
	MemoryUsagePct float64 `json:"memory_usage_pct"`
}

// CalibrationInfo is a snapshot of the range tracker feeding the
// int8 calibrator.
type CalibrationInfo struct {
	Samples   uint64  `json:"samples"`
	NonFinite uint64  `json:"non_finite"`
	Min       float32 `json:"min"`
	Max       float32 `json:"max"`
	Mean      float64 `json:"mean"`
	RMS       float64 `json:"rms"`
}

// ThroughputInfo contains block codec performance metrics
type ThroughputInfo struct {
	ElementsPerSecond float64   `json:"elements_per_second"`
	AvgBatchMs        float64   `json:"avg_batch_ms"`
	P95BatchMs        float64   `json:"p95_batch_ms"`
	LastBatch         time.Time `json:"last_batch"`
}

// Alert represents a system alert
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // unit, codec, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Monitor serves health, status and Prometheus endpoints and keeps
// the alert list
type Monitor struct {
	startTime time.Time
	server    *http.Server
	track     *unit.Tracker
	mu        sync.RWMutex
	alerts    []Alert
	lastBatch time.Time
	history   []BatchPoint
}

// BatchPoint represents one block codec batch
type BatchPoint struct {
	Timestamp time.Time
	Elements  int
	Duration  time.Duration
}

// NewMonitor creates a new monitor. track may be nil when no
// calibration hub is wired in.
func NewMonitor(track *unit.Tracker) *Monitor {
	return &Monitor{
		startTime: time.Now(),
		track:     track,
		alerts:    make([]Alert, 0),
		history:   make([]BatchPoint, 0),
	}
}

// Start begins serving and blocks until the server stops
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()

	// Health endpoint
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleHealth) // Kubernetes compatibility

	// Metrics endpoint (Prometheus)
	mux.Handle("/metrics", promhttp.Handler())

	// Detailed status endpoint
	mux.HandleFunc("/status", m.handleDetailedStatus)

	// Admin endpoints
	mux.HandleFunc("/admin/alerts", m.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", m.handleClearAlerts)

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("monitor starting", "addr", addr)
	return m.server.ListenAndServe()
}

// Stop stops the monitor
func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordBatch records one block codec batch for throughput monitoring
func (m *Monitor) RecordBatch(elements int, duration time.Duration) {
	m.mu.Lock()

	now := time.Now()
	m.lastBatch = now

	point := BatchPoint{
		Timestamp: now,
		Elements:  elements,
		Duration:  duration,
	}

	m.history = append(m.history, point)

	// Keep only last 1000 points
	if len(m.history) > 1000 {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	m.checkBatchAlerts(point)
}

// NoteFlags raises an alert when a unit run latches overflow.
// Underflow and saturation are routine narrowing outcomes and stay
// quiet.
func (m *Monitor) NoteFlags(unitName string, fl format.Flags) {
	if fl.Overflow {
		m.AddAlert("warning", "unit",
			fmt.Sprintf("overflow latched by %s", unitName))
	}
}

// AddAlert adds a new alert
func (m *Monitor) AddAlert(level, component, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Resolved:  false,
	}

	m.alerts = append(m.alerts, alert)

	// Keep only last 100 alerts
	if len(m.alerts) > 100 {
		m.alerts = m.alerts[1:]
	}

	logger.Log.Warn("alert raised", "level", level, "component", component, "msg", message)
}

// ResolveAlert resolves an alert
func (m *Monitor) ResolveAlert(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index >= 0 && index < len(m.alerts) {
		now := time.Now()
		m.alerts[index].Resolved = true
		m.alerts[index].ResolvedAt = &now
	}
}

// HTTP Handlers

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := m.getHealthStatus()

	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (m *Monitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	status := m.getHealthStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (m *Monitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (m *Monitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	m.alerts = m.alerts[:0] // Clear all alerts
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// Health status calculation

func (m *Monitor) getHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := "healthy"

	// Check for critical alerts
	for _, alert := range m.alerts {
		if alert.Level == "critical" && !alert.Resolved {
			status = "critical"
			break
		} else if alert.Level == "error" && !alert.Resolved {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(m.startTime),
		System:      m.getSystemInfo(),
		Calibration: m.getCalibrationInfo(),
		Throughput:  m.calculateThroughputInfo(),
		Alerts:      m.alerts,
	}
}

func (m *Monitor) getSystemInfo() SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return SystemInfo{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		MemoryMB:       int(ms.Sys / 1024 / 1024),
		MemoryUsedMB:   int(ms.Alloc / 1024 / 1024),
		MemoryUsagePct: float64(ms.Alloc) / float64(ms.Sys) * 100,
	}
}

func (m *Monitor) getCalibrationInfo() CalibrationInfo {
	if m.track == nil {
		return CalibrationInfo{}
	}

	st := m.track.Stats()
	return CalibrationInfo{
		Samples:   st.Count,
		NonFinite: st.NonFinite,
		Min:       st.Min,
		Max:       st.Max,
		Mean:      st.Mean,
		RMS:       st.RMS,
	}
}

func (m *Monitor) calculateThroughputInfo() ThroughputInfo {
	if len(m.history) == 0 {
		return ThroughputInfo{
			LastBatch: m.lastBatch,
		}
	}

	var totalElements int
	var totalDuration time.Duration
	var latencies []float64

	for _, point := range m.history {
		totalElements += point.Elements
		totalDuration += point.Duration

		latencyMs := float64(point.Duration.Nanoseconds()) / 1e6
		latencies = append(latencies, latencyMs)
	}

	if totalDuration <= 0 {
		return ThroughputInfo{
			LastBatch: m.lastBatch,
		}
	}

	// Simple percentile calculation
	for i := range latencies {
		for j := i + 1; j < len(latencies); j++ {
			if latencies[i] > latencies[j] {
				latencies[i], latencies[j] = latencies[j], latencies[i]
			}
		}
	}

	p95Index := int(float64(len(latencies)) * 0.95)
	if p95Index >= len(latencies) {
		p95Index = len(latencies) - 1
	}

	return ThroughputInfo{
		ElementsPerSecond: float64(totalElements) / totalDuration.Seconds(),
		AvgBatchMs:        float64(totalDuration.Nanoseconds()) / float64(len(m.history)) / 1e6,
		P95BatchMs:        latencies[p95Index],
		LastBatch:         m.lastBatch,
	}
}

// Alert checking functions

func (m *Monitor) checkBatchAlerts(point BatchPoint) {
	if point.Duration <= 0 {
		return
	}

	elementsPerSecond := float64(point.Elements) / point.Duration.Seconds()
	if elementsPerSecond < 100000 {
		m.AddAlert("warning", "codec",
			fmt.Sprintf("Low throughput: %.0f elements/sec", elementsPerSecond))
	}

	latencyMs := float64(point.Duration.Nanoseconds()) / 1e6
	if latencyMs > 1000 {
		m.AddAlert("error", "codec",
			fmt.Sprintf("High latency: %.2f ms", latencyMs))
	}
}
