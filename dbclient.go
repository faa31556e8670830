// Package dbclient is the public façade for sqlbridge: a single
// connect/query/transaction API that dispatches to whichever of
// internal/mysqlwire, internal/pgwire, internal/tds, or
// internal/sqlitebind a Config's Engine selects, plus a Pool type
// layering internal/dbpool onto one target.
package dbclient

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/dbpool"
	"github.com/sqlbridge/sqlbridge/internal/dsn"
	"github.com/sqlbridge/sqlbridge/internal/mysqlwire"
	"github.com/sqlbridge/sqlbridge/internal/pgwire"
	"github.com/sqlbridge/sqlbridge/internal/placeholder"
	"github.com/sqlbridge/sqlbridge/internal/sqlitebind"
	"github.com/sqlbridge/sqlbridge/internal/tds"
	"github.com/sqlbridge/sqlbridge/internal/value"
)

// Re-exported value types, so callers never need to import
// internal/value directly.
type (
	Value       = value.Value
	Row         = value.Row
	Column      = value.Column
	ResultSet   = value.ResultSet
	MultiResult = value.MultiResult
	UUID        = value.UUID
)

// Re-exported value constructors.
var (
	Null          = value.Null
	FromBool      = value.FromBool
	FromInt64     = value.FromInt64
	FromFloat64   = value.FromFloat64
	FromDecimal   = value.FromDecimal
	FromString    = value.FromString
	FromBytes     = value.FromBytes
	FromUUID      = value.FromUUID
	FromTimestamp = value.FromTimestamp
)

// Config and Engine are re-exported from internal/dsn so callers can
// populate a connect target without an internal import.
type (
	Config = dsn.Config
	Engine = dsn.Engine
)

const (
	EngineMySQL    = dsn.EngineMySQL
	EnginePostgres = dsn.EnginePostgres
	EngineMSSQL    = dsn.EngineMSSQL
	EngineSQLite   = dsn.EngineSQLite
)

// ProcResult and ProcParam are TDS-specific, re-exported for
// Connection.CallProcedure.
type (
	ProcResult = tds.ProcResult
	ProcParam  = tds.RPCParam
)

// backendConn is the uniform surface every wire package's Conn type
// implements. All four (mysqlwire, pgwire, tds, sqlitebind) satisfy it
// structurally; Connect type-switches on Config.Engine once at dial
// time and everything past that point is engine-agnostic.
type backendConn interface {
	Close() error
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string) (value.ResultSet, error)
	Execute(ctx context.Context, sql string) (int64, error)
	QueryMulti(ctx context.Context, sql string) (value.MultiResult, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
}

func dialEngine(ctx context.Context, cfg dsn.Config) (backendConn, error) {
	switch cfg.Engine {
	case dsn.EngineMySQL:
		return mysqlwire.Dial(ctx, cfg.MySQLOptions())
	case dsn.EnginePostgres:
		return pgwire.Dial(ctx, cfg.PostgresOptions())
	case dsn.EngineMSSQL:
		return tds.Dial(ctx, cfg.TDSOptions())
	case dsn.EngineSQLite:
		return sqlitebind.Dial(ctx, cfg.SQLiteOptions())
	default:
		return nil, dberr.New(dberr.KindUnsupported, "no engine specified")
	}
}

// Connection is one logical database connection, unifying query,
// execute, transaction control, and lifecycle across all four
// backends.
type Connection struct {
	mu     sync.Mutex
	conn   backendConn
	engine dsn.Engine
	open   bool
}

// Connect dials cfg.Engine's backend and returns a ready Connection.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bc, err := dialEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{conn: bc, engine: cfg.Engine, open: true}, nil
}

// renderSQL rewrites the universal "@pN"/"?" bind placeholders in
// sqlText into engine-native literal SQL, via internal/placeholder.
// Every backend Conn's Query/Execute/QueryMulti takes already-rendered
// SQL, so this is where the placeholder rewriter is exercised.
func (c *Connection) renderSQL(sqlText string, binds []Value) (string, error) {
	if len(binds) == 0 {
		return sqlText, nil
	}
	switch c.engine {
	case dsn.EnginePostgres:
		return placeholder.RenderDollar(placeholder.ToDollar(sqlText), binds, renderPostgresLiteral)
	case dsn.EngineMySQL:
		return placeholder.RenderMySQL(sqlText, binds, renderMySQLLiteral)
	case dsn.EngineMSSQL:
		return placeholder.RenderMySQL(sqlText, binds, renderTDSLiteral)
	case dsn.EngineSQLite:
		return placeholder.RenderMySQL(sqlText, binds, renderSQLiteLiteral)
	default:
		return "", dberr.New(dberr.KindUnsupported, "no engine specified")
	}
}

// Query runs sqlText with binds substituted and returns every row of
// the single result set it produces.
func (c *Connection) Query(ctx context.Context, sqlText string, binds []Value) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, dberr.ErrConnectionClosed
	}
	rendered, err := c.renderSQL(sqlText, binds)
	if err != nil {
		return nil, err
	}
	rs, err := c.conn.Query(ctx, rendered)
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// Execute runs sqlText with binds substituted and returns the
// affected-row count.
func (c *Connection) Execute(ctx context.Context, sqlText string, binds []Value) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, dberr.ErrConnectionClosed
	}
	rendered, err := c.renderSQL(sqlText, binds)
	if err != nil {
		return 0, err
	}
	return c.conn.Execute(ctx, rendered)
}

// QueryMulti runs sqlText with binds substituted and returns every
// result set it produces, in order.
func (c *Connection) QueryMulti(ctx context.Context, sqlText string, binds []Value) (MultiResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, dberr.ErrConnectionClosed
	}
	rendered, err := c.renderSQL(sqlText, binds)
	if err != nil {
		return nil, err
	}
	return c.conn.QueryMulti(ctx, rendered)
}

// Begin starts a transaction on this connection.
func (c *Connection) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return dberr.ErrConnectionClosed
	}
	return c.conn.Begin(ctx)
}

// Commit commits the open transaction.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return dberr.ErrConnectionClosed
	}
	return c.conn.Commit(ctx)
}

// Rollback rolls back the open transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return dberr.ErrConnectionClosed
	}
	return c.conn.Rollback(ctx)
}

// InTransaction reports whether a transaction is currently open.
func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.conn.InTransaction()
}

// WithTransaction runs work inside a transaction: work's effects
// commit iff it returns nil, otherwise they roll back. A panic inside
// work rolls back and re-panics.
func (c *Connection) WithTransaction(ctx context.Context, work func(*Connection) error) (err error) {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			c.Rollback(ctx)
			panic(p)
		}
	}()
	if err = work(c); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			return rbErr
		}
		return err
	}
	return c.Commit(ctx)
}

// IsOpen reports whether the connection is still usable.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close tears down the underlying backend connection. Safe to call
// more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	return c.conn.Close()
}

// CallProcedure invokes a stored procedure via RPCRequest. TDS-only;
// called against a connection dialed for any other engine it returns
// an unsupported error.
func (c *Connection) CallProcedure(ctx context.Context, name string, params []ProcParam) (ProcResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ProcResult{}, dberr.ErrConnectionClosed
	}
	tc, ok := c.conn.(*tds.Conn)
	if !ok {
		return ProcResult{}, dberr.Unsupported("call_procedure requires a TDS connection")
	}
	return tc.CallProcedure(ctx, name, params)
}

// OnNotice registers a callback for PostgreSQL NoticeResponse messages
// raised on this connection. A no-op on any other engine.
func (c *Connection) OnNotice(fn func(string)) {
	if h, ok := c.conn.(interface{ OnNotice(func(string)) }); ok {
		h.OnNotice(fn)
	}
}

// OnInfo registers a callback for TDS INFO messages raised on this
// connection. A no-op on any other engine.
func (c *Connection) OnInfo(fn func(string)) {
	if h, ok := c.conn.(interface{ OnInfo(func(string)) }); ok {
		h.OnInfo(fn)
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func renderNumeric(v value.Value) (string, bool) {
	switch v.Kind() {
	case value.KindInt:
		n, _ := v.Int()
		return strconv.FormatInt(n, 10), true
	case value.KindFloat32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32), true
	case value.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64), true
	case value.KindDecimal:
		d := v.Decimal()
		if d.Exponent() < 0 {
			return d.StringFixed(-d.Exponent()), true
		}
		return d.String(), true
	}
	return "", false
}

// renderPostgresLiteral renders a Value as a PostgreSQL SQL literal.
func renderPostgresLiteral(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	if lit, ok := renderNumeric(v); ok {
		return lit, nil
	}
	switch v.Kind() {
	case value.KindBool:
		if v.Bool() {
			return "TRUE", nil
		}
		return "FALSE", nil
	case value.KindString:
		return quoteLiteral(v.String()), nil
	case value.KindBytes:
		return quoteLiteral(`\x` + hex.EncodeToString(v.Bytes())), nil
	case value.KindUUID:
		return quoteLiteral(v.UUID().String()), nil
	case value.KindTimestamp:
		return quoteLiteral(v.Timestamp().Format("2006-01-02 15:04:05.999999999Z07:00")), nil
	default:
		return "", dberr.Unsupported("literal rendering for " + v.Kind().String())
	}
}

// renderMySQLLiteral renders a Value as a MySQL/MariaDB SQL literal.
// Booleans render as 0/1, MySQL's native boolean coercion.
func renderMySQLLiteral(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	if lit, ok := renderNumeric(v); ok {
		return lit, nil
	}
	switch v.Kind() {
	case value.KindBool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case value.KindString:
		return quoteLiteral(v.String()), nil
	case value.KindBytes:
		return "X'" + hex.EncodeToString(v.Bytes()) + "'", nil
	case value.KindUUID:
		return quoteLiteral(v.UUID().String()), nil
	case value.KindTimestamp:
		return quoteLiteral(v.Timestamp().Format("2006-01-02 15:04:05.999999")), nil
	default:
		return "", dberr.Unsupported("literal rendering for " + v.Kind().String())
	}
}

// renderTDSLiteral renders a Value as a Transact-SQL literal: strings
// get the N'' national-character prefix, binary gets 0x hex.
func renderTDSLiteral(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	if lit, ok := renderNumeric(v); ok {
		return lit, nil
	}
	switch v.Kind() {
	case value.KindBool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case value.KindString:
		return "N" + quoteLiteral(v.String()), nil
	case value.KindBytes:
		return "0x" + hex.EncodeToString(v.Bytes()), nil
	case value.KindUUID:
		return quoteLiteral(v.UUID().String()), nil
	case value.KindTimestamp:
		return quoteLiteral(v.Timestamp().Format("2006-01-02 15:04:05.9999999")), nil
	default:
		return "", dberr.Unsupported("literal rendering for " + v.Kind().String())
	}
}

// renderSQLiteLiteral renders a Value as a SQLite SQL literal.
func renderSQLiteLiteral(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	if lit, ok := renderNumeric(v); ok {
		return lit, nil
	}
	switch v.Kind() {
	case value.KindBool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case value.KindString:
		return quoteLiteral(v.String()), nil
	case value.KindBytes:
		return "X'" + hex.EncodeToString(v.Bytes()) + "'", nil
	case value.KindUUID:
		return quoteLiteral(v.UUID().String()), nil
	case value.KindTimestamp:
		return quoteLiteral(v.Timestamp().Format("2006-01-02 15:04:05.999999999Z07:00")), nil
	default:
		return "", dberr.Unsupported("literal rendering for " + v.Kind().String())
	}
}

// PoolOptions configures a Pool, mirroring config.PoolDefaults.
type PoolOptions struct {
	MinConnections int
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
}

// Pool manages a bounded set of Connections to a single Config target,
// layering internal/dbpool onto the façade's Connection type.
type Pool struct {
	cfg      Config
	engine   dsn.Engine
	pool     *dbpool.Pool
	mu       sync.Mutex
	stopWarm context.CancelFunc
}

// NewPool creates a pool dialing cfg's target, sized by opts.
func NewPool(cfg Config, opts PoolOptions) *Pool {
	engine, dsnStr := cfg.DialKey()
	key := dbpool.Key{Engine: engine, DSN: dsnStr}
	dial := func(ctx context.Context) (dbpool.Conn, error) {
		return dialEngine(ctx, cfg)
	}
	p := dbpool.NewPool(key, dial, dbpool.Options{
		MinConns:       opts.MinConnections,
		MaxConns:       opts.MaxConnections,
		IdleTimeout:    opts.IdleTimeout,
		MaxLifetime:    opts.MaxLifetime,
		AcquireTimeout: opts.AcquireTimeout,
		DialTimeout:    opts.DialTimeout,
	})
	return &Pool{cfg: cfg, engine: cfg.Engine, pool: p}
}

// AcquiredConnection is a Connection leased from a Pool. Release
// returns it to the pool instead of closing the socket; Close
// discards it from the pool entirely.
type AcquiredConnection struct {
	*Connection
	pc *dbpool.PooledConn
}

// Release returns the connection to its pool for reuse.
func (ac *AcquiredConnection) Release() {
	ac.pc.Release()
}

// Close discards the connection instead of returning it to the pool.
func (ac *AcquiredConnection) Close() error {
	return ac.pc.Close()
}

// Acquire leases one connection from the pool, dialing a new one if
// none are idle and the pool has room, queuing on a FIFO waiter
// otherwise.
func (p *Pool) Acquire(ctx context.Context) (*AcquiredConnection, error) {
	pc, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	bc := pc.Underlying().(backendConn)
	return &AcquiredConnection{
		Connection: &Connection{conn: bc, engine: p.engine, open: true},
		pc:         pc,
	}, nil
}

// WithConnection acquires a connection, runs work, and releases the
// connection on both normal and error exits.
func (p *Pool) WithConnection(ctx context.Context, work func(*Connection) error) error {
	ac, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer ac.Release()
	return work(ac.Connection)
}

// CloseAll closes every idle connection, fails pending waiters with
// connection_closed, and stops any background warm-up pinger.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.stopWarm != nil {
		p.stopWarm()
		p.stopWarm = nil
	}
	p.mu.Unlock()
	p.pool.Close()
}

// IdleCount returns the number of idle connections.
func (p *Pool) IdleCount() int { return p.pool.Stats().Idle }

// ActiveCount returns the number of connections currently leased out.
func (p *Pool) ActiveCount() int { return p.pool.Stats().Active }

// WaiterCount returns the number of callers parked waiting for a
// connection.
func (p *Pool) WaiterCount() int { return p.pool.Stats().Waiting }

// Stats returns the pool's point-in-time statistics.
func (p *Pool) Stats() dbpool.Stats { return p.pool.Stats() }

// WarmUp blocks until the pool holds at least its configured
// MinConnections connections, then, when pingInterval is positive,
// starts a background pinger that every pingInterval acquires one
// connection, pings it and releases it, until CloseAll is called.
// minIdle is not used: how many connections are opened is decided by
// MinConnections alone, and a connection whose ping fails is released
// back to the pool rather than closed.
func (p *Pool) WarmUp(ctx context.Context, minIdle int, pingInterval time.Duration) error {
	_ = minIdle // not used; see the doc comment
	if err := p.pool.WarmUp(ctx); err != nil {
		return err
	}
	if pingInterval <= 0 {
		return nil
	}
	warmCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.stopWarm = cancel
	p.mu.Unlock()
	go p.pingLoop(warmCtx, pingInterval)
	return nil
}

func (p *Pool) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			pc, err := p.pool.Acquire(pingCtx)
			cancel()
			if err != nil {
				continue
			}
			pc.Underlying().Ping(context.Background())
			pc.Release()
		}
	}
}
