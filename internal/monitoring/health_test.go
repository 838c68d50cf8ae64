package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/unit"
)

func TestHealthyByDefault(t *testing.T) {
	m := NewMonitor(nil)

	rr := httptest.NewRecorder()
	m.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", body["status"])
	}
}

func TestAlertsDriveStatus(t *testing.T) {
	m := NewMonitor(nil)

	m.AddAlert("error", "codec", "slow batch")
	if got := m.getHealthStatus().Status; got != "degraded" {
		t.Errorf("after error alert: expected degraded, got %q", got)
	}

	m.AddAlert("critical", "system", "out of memory")
	if got := m.getHealthStatus().Status; got != "critical" {
		t.Errorf("after critical alert: expected critical, got %q", got)
	}

	rr := httptest.NewRecorder()
	m.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while unhealthy, got %d", rr.Code)
	}

	m.ResolveAlert(0)
	m.ResolveAlert(1)
	if got := m.getHealthStatus().Status; got != "healthy" {
		t.Errorf("after resolving: expected healthy, got %q", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	tr := &unit.Tracker{}
	tr.Add(format.FromFloat32(-1))
	tr.Add(format.FromFloat32(3))

	m := NewMonitor(tr)
	m.RecordBatch(64, time.Millisecond)

	rr := httptest.NewRecorder()
	m.handleDetailedStatus(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Calibration.Samples != 2 {
		t.Errorf("expected 2 samples, got %d", status.Calibration.Samples)
	}
	if status.Calibration.Min != -1 || status.Calibration.Max != 3 {
		t.Errorf("expected bounds [-1, 3], got [%v, %v]",
			status.Calibration.Min, status.Calibration.Max)
	}
	tp := status.Throughput
	if tp.ElementsPerSecond < 63000 || tp.ElementsPerSecond > 65000 {
		t.Errorf("expected ~64000 elements/sec, got %v", tp.ElementsPerSecond)
	}
	if tp.P95BatchMs < tp.AvgBatchMs {
		t.Errorf("p95 %v below average %v", tp.P95BatchMs, tp.AvgBatchMs)
	}
	if status.System.NumCPU < 1 {
		t.Errorf("bogus system info: %+v", status.System)
	}
}

func TestNoteFlagsAlertsOnOverflowOnly(t *testing.T) {
	m := NewMonitor(nil)

	m.NoteFlags("reference", format.Flags{Saturated: true, Underflow: true})
	if n := len(m.getHealthStatus().Alerts); n != 0 {
		t.Fatalf("expected no alerts for quiet flags, got %d", n)
	}

	m.NoteFlags("reference", format.Flags{Overflow: true})
	alerts := m.getHealthStatus().Alerts
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Component != "unit" || alerts[0].Level != "warning" {
		t.Errorf("unexpected alert %+v", alerts[0])
	}
}

func TestSlowBatchRaisesAlert(t *testing.T) {
	m := NewMonitor(nil)

	// 10 elements over a full second is far below the low-throughput
	// threshold.
	m.RecordBatch(10, time.Second)

	alerts := m.getHealthStatus().Alerts
	if len(alerts) == 0 {
		t.Fatal("expected a low-throughput alert")
	}
	if alerts[0].Component != "codec" {
		t.Errorf("unexpected alert %+v", alerts[0])
	}
}

func TestClearAlertsRequiresPost(t *testing.T) {
	m := NewMonitor(nil)
	m.AddAlert("warning", "codec", "test alert")

	rr := httptest.NewRecorder()
	m.handleClearAlerts(rr, httptest.NewRequest(http.MethodGet, "/admin/clear-alerts", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	m.handleClearAlerts(rr, httptest.NewRequest(http.MethodPost, "/admin/clear-alerts", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for POST, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	m.handleAlerts(rr, httptest.NewRequest(http.MethodGet, "/admin/alerts", nil))
	var alerts []Alert
	if err := json.NewDecoder(rr.Body).Decode(&alerts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected alerts cleared, got %d", len(alerts))
	}
}
