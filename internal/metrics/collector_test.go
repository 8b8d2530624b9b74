package credmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	credmetrics "github.com/fieldgate/credcore/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	if c.ActiveEngines == nil {
		t.Error("ActiveEngines is nil")
	}
	if c.Attempts == nil {
		t.Error("Attempts is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}
	if c.RegionTriggers == nil {
		t.Error("RegionTriggers is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestRegisterUnregisterEngine(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	c.RegisterEngine("front-door")

	val := gaugeValue(t, c.ActiveEngines, "front-door")
	if val != 1 {
		t.Errorf("after RegisterEngine: gauge = %v, want 1", val)
	}

	c.UnregisterEngine("front-door")

	val = gaugeValue(t, c.ActiveEngines, "front-door")
	if val != 0 {
		t.Errorf("after UnregisterEngine: gauge = %v, want 0", val)
	}
}

func TestRecordAttempt(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	c.RecordAttempt("success")
	c.RecordAttempt("success")
	c.RecordAttempt("failure")

	if val := counterValue(t, c.Attempts, "success"); val != 2 {
		t.Errorf("Attempts(success) = %v, want 2", val)
	}
	if val := counterValue(t, c.Attempts, "failure"); val != 1 {
		t.Errorf("Attempts(failure) = %v, want 1", val)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	c.RecordStateTransition("Idle", "Scanning")
	c.RecordStateTransition("Idle", "Scanning")
	c.RecordStateTransition("Scanning", "Connecting")

	if val := counterValue(t, c.StateTransitions, "Idle", "Scanning"); val != 2 {
		t.Errorf("StateTransitions(Idle->Scanning) = %v, want 2", val)
	}
	if val := counterValue(t, c.StateTransitions, "Scanning", "Connecting"); val != 1 {
		t.Errorf("StateTransitions(Scanning->Connecting) = %v, want 1", val)
	}
}

func TestAuthFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	c.IncAuthFailures()
	c.IncAuthFailures()

	if val := counterValue(t, c.AuthFailures); val != 2 {
		t.Errorf("AuthFailures = %v, want 2", val)
	}
}

func TestRegionTriggers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := credmetrics.NewCollector(reg)

	c.RecordRegionTrigger("lobby", "entered")
	c.RecordRegionTrigger("lobby", "manual")
	c.RecordRegionTrigger("lobby", "entered")

	if val := counterValue(t, c.RegionTriggers, "lobby", "entered"); val != 2 {
		t.Errorf("RegionTriggers(lobby,entered) = %v, want 2", val)
	}
	if val := counterValue(t, c.RegionTriggers, "lobby", "manual"); val != 1 {
		t.Errorf("RegionTriggers(lobby,manual) = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
