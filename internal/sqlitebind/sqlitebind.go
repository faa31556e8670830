// Package sqlitebind is the SQLite backend's pool contract and error
// mapping only: it wraps database/sql (driven by whatever cgo-free
// driver the caller has registered, e.g. a blank import of
// modernc.org/sqlite) instead of speaking a wire protocol of its own,
// the way internal/mysqlwire, internal/pgwire, and internal/tds do.
package sqlitebind

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
)

// Options configures a SQLite connection.
type Options struct {
	// Path is the database file path, or ":memory:" / a URI with
	// query parameters (e.g. "file:test.db?cache=shared").
	Path string
	// DriverName is the database/sql driver name registered by the
	// caller's chosen cgo-free SQLite driver. Defaults to "sqlite".
	DriverName  string
	DialTimeout time.Duration
}

// querier is the subset of *sql.DB and *sql.Tx that Query/Execute need,
// letting Conn route statements through an open transaction when one
// is active without duplicating the query path.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Conn is one SQLite connection, implementing internal/dbpool.Conn.
type Conn struct {
	db *sql.DB
	tx *sql.Tx
}

// q returns the active transaction if one is open, else the database
// handle itself.
func (c *Conn) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// Dial opens (and pings) a SQLite database through database/sql.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	driver := opts.DriverName
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, opts.Path)
	if err != nil {
		return nil, mapError(err)
	}
	dctx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	if err := db.PingContext(dctx); err != nil {
		db.Close()
		return nil, mapError(err)
	}
	// SQLite only tolerates one writer at a time; one connection
	// avoids "database is locked" errors under our own pool's control.
	db.SetMaxOpenConns(1)
	return &Conn{db: db}, nil
}

// Close closes the underlying database/sql handle.
func (c *Conn) Close() error {
	return mapError(c.db.Close())
}

// Ping performs a liveness check.
func (c *Conn) Ping(ctx context.Context) error {
	return mapError(c.db.PingContext(ctx))
}

// Query runs sql (placeholders already rendered inline) and returns one
// ResultSet.
func (c *Conn) Query(ctx context.Context, query string) (value.ResultSet, error) {
	rows, err := c.q().QueryContext(ctx, query)
	if err != nil {
		return value.ResultSet{}, mapError(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Execute runs a statement expected to produce no rows and returns the
// affected-row count.
func (c *Conn) Execute(ctx context.Context, query string) (int64, error) {
	res, err := c.q().ExecContext(ctx, query)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// InTransaction reports whether a transaction is currently open.
func (c *Conn) InTransaction() bool { return c.tx != nil }

// Begin opens a transaction; subsequent Query/Execute/QueryMulti calls
// run within it until Commit or Rollback.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return dberr.New(dberr.KindProtocol, "transaction already open")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return dberr.New(dberr.KindProtocol, "no transaction open")
	}
	err := c.tx.Commit()
	c.tx = nil
	return mapError(err)
}

// Rollback rolls back the open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return dberr.New(dberr.KindProtocol, "no transaction open")
	}
	err := c.tx.Rollback()
	c.tx = nil
	return mapError(err)
}

// QueryMulti runs a batch of semicolon-separated statements
// sequentially, since SQLite has no native multi-result-set wire
// concept: each statement's result (if any) becomes one ResultSet.
func (c *Conn) QueryMulti(ctx context.Context, batch string) (value.MultiResult, error) {
	var results value.MultiResult
	for _, stmt := range splitStatements(batch) {
		if stmt == "" {
			continue
		}
		rows, err := c.q().QueryContext(ctx, stmt)
		if err != nil {
			return nil, mapError(err)
		}
		rs, err := scanRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		results = append(results, rs)
	}
	return results, nil
}

func splitStatements(batch string) []string {
	parts := strings.Split(batch, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func scanRows(rows *sql.Rows) (value.ResultSet, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return value.ResultSet{}, mapError(err)
	}
	cols := make([]value.Column, len(colNames))
	for i, n := range colNames {
		cols[i] = value.Column{Name: n}
	}

	var rs value.ResultSet
	rs.Columns = cols
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		raw := make([]any, len(cols))
		for i := range scanTargets {
			scanTargets[i] = &raw[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return value.ResultSet{}, mapError(err)
		}
		vals := make([]value.Value, len(cols))
		for i, r := range raw {
			vals[i] = fromDriverValue(r)
		}
		rs.Rows = append(rs.Rows, value.Row{Columns: cols, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return value.ResultSet{}, mapError(err)
	}
	return rs, nil
}

// fromDriverValue converts one database/sql-scanned value into the
// shared value model. SQLite's dynamic typing means the driver hands
// back Go's native int64/float64/[]byte/string/time.Time/nil rather
// than a fixed wire type, unlike the byte-level coders in
// internal/mysqlwire/pgwire/tds.
func fromDriverValue(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.FromInt64(t)
	case float64:
		return value.FromFloat64(t)
	case bool:
		return value.FromBool(t)
	case []byte:
		return value.FromBytes(t)
	case string:
		return value.FromString(t)
	case time.Time:
		return value.FromTimestamp(t)
	default:
		return value.Null()
	}
}

// mapError classifies a database/sql/SQLite driver error by matching
// the message text SQLite drivers conventionally surface, since
// database/sql erases the underlying driver-specific error type.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"):
		return dberr.ServerError("SQLITE_CONSTRAINT", "", msg)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database is busy"):
		return dberr.Wrap(dberr.KindTimeout, "sqlite busy", err)
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"):
		return dberr.Wrap(dberr.KindProtocol, "sqlite schema error", err)
	case strings.Contains(msg, "unable to open database file"),
		strings.Contains(msg, "disk I/O error"):
		return dberr.Wrap(dberr.KindConnection, "sqlite open failed", err)
	case err == sql.ErrConnDone:
		return dberr.ErrConnectionClosed
	default:
		return dberr.Wrap(dberr.KindServer, "sqlite error", err)
	}
}
