package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/config"
	"github.com/sqlbridge/sqlbridge/internal/dbpool"
	"github.com/sqlbridge/sqlbridge/internal/metrics"
)

// Status represents the health status of a pool's backend.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// PoolHealth holds health information for one pool.
type PoolHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks on every pool a
// dbpool.Manager holds, pinging one connection per pool through the
// real backend protocol rather than a raw TCP probe.
type Checker struct {
	mu    sync.RWMutex
	pools map[dbpool.Key]*PoolHealth

	manager *dbpool.Manager
	metrics *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(m *dbpool.Manager, mc *metrics.Collector, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		pools:             make(map[dbpool.Key]*PoolHealth),
		manager:           m,
		metrics:           mc,
		interval:          hcCfg.Interval,
		failureThreshold:  hcCfg.FailureThreshold,
		connectionTimeout: hcCfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	stats := c.manager.AllStats()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, st := range stats {
		key := st.Key
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.pingPool(key)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(key.String(), elapsed, healthy)
			}
			c.updateStatus(key, healthy)
		}()
	}
	wg.Wait()
}

// pingPool acquires a connection from the pool and pings it over the
// real wire protocol, validating the full authenticated path rather
// than just TCP reachability.
func (c *Checker) pingPool(key dbpool.Key) bool {
	pool, ok := c.manager.Get(key)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	pc, err := pool.Acquire(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(key.String(), "pool_exhausted")
		}
		c.setLastError(key, "acquire for health check: "+err.Error())
		return false
	}
	defer pc.Release()

	if err := pc.Underlying().Ping(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(key.String(), "ping_failed")
		}
		c.setLastError(key, "ping: "+err.Error())
		return false
	}

	c.setLastError(key, "")
	return true
}

func (c *Checker) setLastError(key dbpool.Key, errMsg string) {
	c.mu.Lock()
	ph := c.getOrCreate(key)
	if errMsg != "" {
		ph.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) updateStatus(key dbpool.Key, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ph := c.getOrCreate(key)
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("pool recovered", "pool", key.String(), "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
	} else {
		ph.ConsecutiveFailures++
		if ph.ConsecutiveFailures >= c.failureThreshold {
			if ph.Status != StatusUnhealthy {
				slog.Warn("pool marked unhealthy", "pool", key.String(), "failures", ph.ConsecutiveFailures, "error", ph.LastError)
			}
			ph.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetPoolHealth(key.String(), ph.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(key dbpool.Key) *PoolHealth {
	ph, ok := c.pools[key]
	if !ok {
		ph = &PoolHealth{Status: StatusUnknown}
		c.pools[key] = ph
	}
	return ph
}

// IsHealthy returns whether a pool is healthy (or unknown, which is treated as healthy).
func (c *Checker) IsHealthy(key dbpool.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.pools[key]
	if !ok {
		return true // unknown = allow through
	}
	return ph.Status != StatusUnhealthy
}

// GetStatus returns the health status for a pool.
func (c *Checker) GetStatus(key dbpool.Key) PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.pools[key]
	if !ok {
		return PoolHealth{Status: StatusUnknown}
	}
	return *ph
}

// GetAllStatuses returns health statuses for every known pool.
func (c *Checker) GetAllStatuses() map[dbpool.Key]PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[dbpool.Key]PoolHealth, len(c.pools))
	for key, ph := range c.pools {
		result[key] = *ph
	}
	return result
}

// OverallHealthy returns true if every pool is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ph := range c.pools {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemovePool removes health state for a pool that has been closed.
func (c *Checker) RemovePool(key dbpool.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pools, key)
	if c.metrics != nil {
		c.metrics.RemovePool(key.String())
	}
	slog.Info("removed health state", "pool", key.String())
}
