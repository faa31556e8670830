package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsAuthority(t *testing.T) {
	c, _ := newTestCollector(t)

	// UpdatePoolStats is the sole authority for connection gauges.
	c.UpdatePoolStats("pool1", "postgres", 3, 5, 8, 1)

	val := getGaugeValue(c.connectionsActive.WithLabelValues("pool1", "postgres"))
	if val != 3 {
		t.Errorf("expected active=3, got %v", val)
	}

	// A second call replaces (not increments) the value
	c.UpdatePoolStats("pool1", "postgres", 2, 4, 6, 0)
	val = getGaugeValue(c.connectionsActive.WithLabelValues("pool1", "postgres"))
	if val != 2 {
		t.Errorf("expected active=2 after update, got %v", val)
	}
}

func TestQueryDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.QueryDuration("pool1", "postgres", 100*time.Millisecond)
	c.QueryDuration("pool1", "postgres", 200*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "sqlbridge_query_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) == 0 {
				t.Fatal("no metric samples")
			}
			if m[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 samples, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("query duration metric not found")
	}
}

func TestSetPoolHealth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPoolHealth("pool1", true)
	val := getGaugeValue(c.poolHealth.WithLabelValues("pool1"))
	if val != 1 {
		t.Errorf("expected health=1 (healthy), got %v", val)
	}

	c.SetPoolHealth("pool1", false)
	val = getGaugeValue(c.poolHealth.WithLabelValues("pool1"))
	if val != 0 {
		t.Errorf("expected health=0 (unhealthy), got %v", val)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted("pool1")
	c.PoolExhausted("pool1")
	c.PoolExhausted("pool1")

	val := getCounterValue(c.poolExhausted.WithLabelValues("pool1"))
	if val != 3 {
		t.Errorf("expected exhausted=3, got %v", val)
	}
}

func TestUpdatePoolStats(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("pool1", "postgres", 5, 10, 15, 2)

	if v := getGaugeValue(c.connectionsActive.WithLabelValues("pool1", "postgres")); v != 5 {
		t.Errorf("expected active=5, got %v", v)
	}
	if v := getGaugeValue(c.connectionsIdle.WithLabelValues("pool1", "postgres")); v != 10 {
		t.Errorf("expected idle=10, got %v", v)
	}
	if v := getGaugeValue(c.connectionsTotal.WithLabelValues("pool1", "postgres")); v != 15 {
		t.Errorf("expected total=15, got %v", v)
	}
	if v := getGaugeValue(c.connectionsWaiting.WithLabelValues("pool1", "postgres")); v != 2 {
		t.Errorf("expected waiting=2, got %v", v)
	}
}

func TestRemovePool(t *testing.T) {
	c, reg := newTestCollector(t)

	c.UpdatePoolStats("pool1", "postgres", 1, 2, 3, 0)
	c.SetPoolHealth("pool1", true)
	c.PoolExhausted("pool1")

	c.RemovePool("pool1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "pool" && l.GetValue() == "pool1" {
					t.Errorf("metric %s still has pool1 label after removal", f.GetName())
				}
			}
		}
	}
}

func TestMultiplePools(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("p1", "postgres", 1, 0, 1, 0)
	c.UpdatePoolStats("p2", "mysql", 2, 1, 3, 0)

	v1 := getGaugeValue(c.connectionsActive.WithLabelValues("p1", "postgres"))
	v2 := getGaugeValue(c.connectionsActive.WithLabelValues("p2", "mysql"))

	if v1 != 1 {
		t.Errorf("expected p1 active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("expected p2 active=2, got %v", v2)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.UpdatePoolStats("p1", "postgres", 1, 0, 1, 0)
	c2.UpdatePoolStats("p1", "postgres", 2, 0, 2, 0)

	v1 := getGaugeValue(c1.connectionsActive.WithLabelValues("p1", "postgres"))
	v2 := getGaugeValue(c2.connectionsActive.WithLabelValues("p1", "postgres"))

	if v1 != 1 {
		t.Errorf("c1 expected active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("c2 expected active=2, got %v", v2)
	}
}

func TestAcquireDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.AcquireDuration("p1", "postgres", 5*time.Millisecond)

	families, _ := reg.Gather()
	var found bool
	for _, f := range families {
		if f.GetName() == "sqlbridge_acquire_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("expected 1 acquire sample, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("acquire duration metric not found")
	}
}

func TestHealthCheckCompletedAndError(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HealthCheckCompleted("p1", 2*time.Millisecond, true)
	c.HealthCheckError("p1", "connection_refused")

	val := getCounterValue(c.healthCheckErrors.WithLabelValues("p1", "connection_refused"))
	if val != 1 {
		t.Errorf("expected 1 health check error, got %v", val)
	}

	families, _ := reg.Gather()
	var found bool
	for _, f := range families {
		if f.GetName() == "sqlbridge_health_check_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("health check duration metric not found")
	}
}
