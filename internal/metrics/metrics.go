package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the pool and connection
// lifecycle. Connection gauges and the query and acquire histograms are
// labeled by (pool, engine) since pools here are keyed by (engine, DSN)
// rather than by tenant; the health and exhaustion series carry the
// pool label only, plus status or error_type on the health-check ones.
type Collector struct {
	Registry           *prometheus.Registry
	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	queryDuration      *prometheus.HistogramVec
	poolHealth         *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	acquireDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests or on config reload) — each call
// creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlbridge_connections_active",
				Help: "Number of active connections per pool",
			},
			[]string{"pool", "engine"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlbridge_connections_idle",
				Help: "Number of idle connections per pool",
			},
			[]string{"pool", "engine"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlbridge_connections_total",
				Help: "Total number of connections per pool",
			},
			[]string{"pool", "engine"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlbridge_connections_waiting",
				Help: "Number of goroutines waiting for a connection per pool",
			},
			[]string{"pool", "engine"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlbridge_query_duration_seconds",
				Help:    "Duration of query/execute round trips in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"pool", "engine"},
		),
		poolHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlbridge_pool_health",
				Help: "Health status of a pool's backend (1=healthy, 0=unhealthy)",
			},
			[]string{"pool"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_pool_exhausted_total",
				Help: "Total number of times the pool was exhausted per pool",
			},
			[]string{"pool"},
		),

		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlbridge_health_check_duration_seconds",
				Help:    "Duration of health check probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"pool", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_health_check_errors_total",
				Help: "Health check errors by type",
			},
			[]string{"pool", "error_type"},
		),

		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlbridge_acquire_duration_seconds",
				Help:    "Time waiting for pool.Acquire()",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"pool", "engine"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.queryDuration,
		c.poolHealth,
		c.poolExhausted,
		c.healthCheckDuration,
		c.healthCheckErrors,
		c.acquireDuration,
	)

	return c
}

// QueryDuration observes a query/execute round trip duration.
func (c *Collector) QueryDuration(pool, engine string, d time.Duration) {
	c.queryDuration.WithLabelValues(pool, engine).Observe(d.Seconds())
}

// SetPoolHealth sets the health gauge for a pool.
func (c *Collector) SetPoolHealth(pool string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.poolHealth.WithLabelValues(pool).Set(val)
}

// PoolExhausted increments the pool exhausted counter.
func (c *Collector) PoolExhausted(pool string) {
	c.poolExhausted.WithLabelValues(pool).Inc()
}

// UpdatePoolStats updates the pool gauge metrics from stats.
func (c *Collector) UpdatePoolStats(pool, engine string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(pool, engine).Set(float64(active))
	c.connectionsIdle.WithLabelValues(pool, engine).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(pool, engine).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(pool, engine).Set(float64(waiting))
}

// HealthCheckCompleted records a health check probe duration and result.
func (c *Collector) HealthCheckCompleted(pool string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(pool, status).Observe(d.Seconds())
}

// HealthCheckError records a health check error by type.
func (c *Collector) HealthCheckError(pool, errorType string) {
	c.healthCheckErrors.WithLabelValues(pool, errorType).Inc()
}

// AcquireDuration observes the time spent waiting for a pool connection.
func (c *Collector) AcquireDuration(pool, engine string, d time.Duration) {
	c.acquireDuration.WithLabelValues(pool, engine).Observe(d.Seconds())
}

// RemovePool removes all metrics for a pool that has been closed.
func (c *Collector) RemovePool(pool string) {
	c.connectionsActive.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.connectionsIdle.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.connectionsTotal.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.connectionsWaiting.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.queryDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.poolHealth.DeleteLabelValues(pool)
	c.poolExhausted.DeleteLabelValues(pool)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.acquireDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
}
