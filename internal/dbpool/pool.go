// Package dbpool is a bounded connection pool keyed by (engine, DSN)
// rather than by tenant. It provides FIFO waiters, LIFO idle reuse,
// idle reaping, warm-up, and a Manager/Stats layer on top, pooling an
// abstract Conn instead of a raw net.Conn plus inline per-engine auth,
// since dialing and authenticating belongs to each backend package
// (internal/mysqlwire, internal/pgwire, internal/tds).
package dbpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
)

// Key identifies one pool: a backend engine name ("mysql", "postgres",
// "mssql", "sqlite") plus the DSN it dials.
type Key struct {
	Engine string
	DSN    string
}

func (k Key) String() string { return k.Engine + "://" + k.DSN }

// Dialer establishes and authenticates one new backend connection.
type Dialer func(ctx context.Context) (Conn, error)

// Options configures a Pool's effective settings, resolved from
// config.PoolDefaults / config.TargetConfig.
type Options struct {
	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
}

// Stats holds point-in-time pool statistics for one Key.
type Stats struct {
	Key       Key
	Active    int
	Idle      int
	Total     int
	Waiting   int
	MaxConns  int
	MinConns  int
	Exhausted int64
}

// OnPoolExhausted is called when Acquire must block because the pool
// is already at MaxConns.
type OnPoolExhausted func(key Key)

// Pool manages connections for a single (engine, DSN) key.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	key     Key
	dial    Dialer
	opts    Options

	idle      []*PooledConn
	active    map[*PooledConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
}

// NewPool creates a pool for key, dialing new connections via dial.
func NewPool(key Key, dial Dialer, opts Options) *Pool {
	p := &Pool{
		key:    key,
		dial:   dial,
		opts:   opts,
		idle:   make([]*PooledConn, 0),
		active: make(map[*PooledConn]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()
	if p.opts.MinConns > 0 {
		go p.warmUp()
	}
	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.opts.MinConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.opts.MinConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout())
		conn, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("warm-up connection failed", "index", i+1, "total", p.opts.MinConns, "key", p.key, "err", err)
			return
		}

		pc := newPooledConn(conn, p.key, p)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			pc.Close()
			return
		}
		pc.markIdle()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
	slog.Info("pre-warmed connections", "count", p.opts.MinConns, "key", p.key)
}

// WarmUp blocks until the pool holds at least MinConns connections
// (idle or active) or ctx is done.
func (p *Pool) WarmUp(ctx context.Context) error {
	for {
		p.mu.Lock()
		ready := p.total >= p.opts.MinConns
		p.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (p *Pool) dialTimeout() time.Duration {
	if p.opts.DialTimeout > 0 {
		return p.opts.DialTimeout
	}
	return 10 * time.Second
}

// Acquire obtains a connection, dialing a new one if under MaxConns,
// or blocking (FIFO among waiters) until one is returned.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadlineAt := time.Now().Add(p.opts.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadlineAt) {
		deadlineAt = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, dberr.Wrap(dberr.KindConnectionClosed, fmt.Sprintf("pool closed for %s", p.key), dberr.ErrConnectionClosed)
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.IsExpired(p.opts.MaxLifetime) {
				pc.Close()
				p.total--
				continue
			}

			if err := pc.conn.Ping(ctx); err != nil {
				pc.Close()
				p.total--
				continue
			}

			pc.markActive()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.opts.MaxConns {
			p.total++
			p.mu.Unlock()

			conn, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, dberr.Wrap(dberr.KindConnection, fmt.Sprintf("dialing %s", p.key), err)
			}

			pc := newPooledConn(conn, p.key, p)
			pc.markActive()
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.onPoolExhausted
		p.mu.Unlock()

		if cb != nil {
			cb(p.key)
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, dberr.New(dberr.KindTimeout, fmt.Sprintf("acquire timeout (%s) for %s: pool exhausted", p.opts.AcquireTimeout, p.key))
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()

		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, dberr.Wrap(dberr.KindConnectionClosed, fmt.Sprintf("pool closing for %s", p.key), dberr.ErrConnectionClosed)
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, dberr.New(dberr.KindTimeout, fmt.Sprintf("acquire timeout (%s) for %s: pool exhausted", p.opts.AcquireTimeout, p.key))
		}
	}
}

// Release returns pc to the idle set, or closes it if the pool is
// closed or pc has exceeded its max lifetime.
func (p *Pool) Release(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.IsExpired(p.opts.MaxLifetime) {
		pc.Close()
		p.total--
		p.cond.Signal()
		return
	}

	pc.markIdle()
	p.idle = append(p.idle, pc)
	p.cond.Signal()
}

// Stats returns current statistics for the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Key:       p.key,
		Active:    len(p.active),
		Idle:      len(p.idle),
		Total:     p.total,
		Waiting:   p.waiting,
		MaxConns:  p.opts.MaxConns,
		MinConns:  p.opts.MinConns,
		Exhausted: p.exhausted,
	}
}

// Drain closes idle connections and waits (up to 30s) for active ones
// to be returned, then force-closes whatever remains.
func (p *Pool) Drain() {
	p.mu.Lock()
	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	slog.Info("draining active connections", "count", activeCount, "key", p.key)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for pc := range p.active {
				pc.Close()
				p.total--
			}
			p.active = make(map[*PooledConn]struct{})
			p.mu.Unlock()
			slog.Warn("force-closed active connections after drain timeout", "key", p.key)
			return
		}
	}
}

// Close shuts the pool down. Safe to call once; further Acquire calls
// return dberr.ErrConnectionClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.Drain()
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.opts.MinConns {
		return
	}

	kept := make([]*PooledConn, 0, len(p.idle))
	excess := len(p.idle) - p.opts.MinConns
	for i, pc := range p.idle {
		if i < excess && (pc.IsIdle(p.opts.IdleTimeout) || pc.IsExpired(p.opts.MaxLifetime)) {
			pc.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}

// StatsCallback receives periodic stats for every pool a Manager holds.
type StatsCallback func(stats Stats)

// Manager owns one Pool per (engine, DSN) Key.
type Manager struct {
	mu              sync.RWMutex
	pools           map[Key]*Pool
	onPoolExhausted OnPoolExhausted
	statsStopCh     chan struct{}
	closeOnce       sync.Once
}

// NewManager creates an empty pool manager.
func NewManager() *Manager {
	return &Manager{
		pools:       make(map[Key]*Pool),
		statsStopCh: make(chan struct{}),
	}
}

// SetOnPoolExhausted sets the callback invoked when any pool blocks an
// Acquire. Must be called before pools are created to apply uniformly.
func (m *Manager) SetOnPoolExhausted(cb OnPoolExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPoolExhausted = cb
}

// StartStatsLoop starts a goroutine that calls cb with every pool's
// Stats every interval.
func (m *Manager) StartStatsLoop(interval time.Duration, cb StatsCallback) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statsStopCh:
				return
			}
		}
	}()
}

// GetOrCreate returns the pool for key, creating it (via dial/opts) if
// it does not exist yet.
func (m *Manager) GetOrCreate(key Key, dial Dialer, opts Options) *Pool {
	m.mu.RLock()
	if p, ok := m.pools[key]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p
	}

	p := NewPool(key, dial, opts)
	p.onPoolExhausted = m.onPoolExhausted
	m.pools[key] = p
	slog.Info("created pool", "engine", key.Engine)
	return p
}

// Get returns the pool for key if it already exists.
func (m *Manager) Get(key Key) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[key]
	return p, ok
}

// Remove closes and removes the pool for key.
func (m *Manager) Remove(key Key) bool {
	m.mu.Lock()
	p, ok := m.pools[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, key)
	m.mu.Unlock()

	p.Close()
	slog.Info("removed pool", "engine", key.Engine)
	return true
}

// AllStats returns Stats for every pool the Manager holds.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Close shuts down every pool and stops the stats loop. Safe to call
// more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.statsStopCh) })

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[Key]*Pool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
