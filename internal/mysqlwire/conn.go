package mysqlwire

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Options configures a dialed MySQL/MariaDB connection.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	UseTLS   bool
	TLSConfig *tls.Config
	DialTimeout time.Duration
}

// Conn is one authenticated MySQL/MariaDB connection, implementing
// dbpool.Conn so internal/dbpool can manage it without knowing wire
// details: a standalone connection type with a full query path instead
// of pass-through relay.
type Conn struct {
	nc         net.Conn
	seq        SeqCounter
	database   string
	statusFlags uint16
}

// Dial connects to a MySQL/MariaDB server, completes the handshake and
// authentication, and returns a ready-to-use Conn.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	addr := net.JoinHostPort(opts.Host, itoa(opts.Port))
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindConnection, "dialing MySQL server", err)
	}

	upgrade := func(rw io.ReadWriter) (io.ReadWriter, error) {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: opts.Host}
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		nc = tc
		return tc, nil
	}

	rw, err := Authenticate(ctx, nc, opts.Username, opts.Password, opts.Database, opts.UseTLS, upgrade)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if upgraded, ok := rw.(net.Conn); ok {
		nc = upgraded
	}

	return &Conn{nc: nc, database: opts.Database}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Close sends COM_QUIT and closes the socket.
func (c *Conn) Close() error {
	WritePacket(c.nc, EncodeComQuit(), 0)
	return c.nc.Close()
}

// Ping sends COM_PING and waits for the OK response.
func (c *Conn) Ping(ctx context.Context) error {
	c.applyDeadline(ctx)
	if err := WritePacket(c.nc, EncodeComPing(), 0); err != nil {
		return dberr.Wrap(dberr.KindConnection, "sending COM_PING", err)
	}
	pkt, _, err := ReadPacket(c.nc)
	if err != nil {
		return dberr.Wrap(dberr.KindConnection, "reading COM_PING response", err)
	}
	if IsERR(pkt) {
		e, _ := DecodeERR(wire.NewReader(pkt[1:]))
		return dberr.ServerError("", e.SQLState, e.Message)
	}
	return nil
}

// ResetConnection issues COM_RESET_CONNECTION, clearing session state
// (transaction, temp tables, session variables) while keeping the
// authenticated socket, used when returning a connection to the pool.
func (c *Conn) ResetConnection(ctx context.Context) error {
	c.applyDeadline(ctx)
	if err := WritePacket(c.nc, EncodeComResetConnection(), 0); err != nil {
		return dberr.Wrap(dberr.KindConnection, "sending COM_RESET_CONNECTION", err)
	}
	pkt, _, err := ReadPacket(c.nc)
	if err != nil {
		return dberr.Wrap(dberr.KindConnection, "reading COM_RESET_CONNECTION response", err)
	}
	if IsERR(pkt) {
		e, _ := DecodeERR(wire.NewReader(pkt[1:]))
		return dberr.ServerError("", e.SQLState, e.Message)
	}
	return nil
}

func (c *Conn) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Time{})
	}
}

// Query executes sql (with placeholders already rendered inline by the
// caller) and returns one ResultSet.
func (c *Conn) Query(ctx context.Context, sql string) (value.ResultSet, error) {
	results, err := c.QueryMulti(ctx, sql)
	if err != nil {
		return value.ResultSet{}, err
	}
	if len(results) == 0 {
		return value.ResultSet{}, nil
	}
	return results[0], nil
}

// Execute runs a statement expected to produce no rows and returns the
// affected-row count.
func (c *Conn) Execute(ctx context.Context, sql string) (int64, error) {
	rs, err := c.Query(ctx, sql)
	if err != nil {
		return 0, err
	}
	return rs.RowsAffected, nil
}

// QueryMulti runs sql via COM_QUERY and collects every result set in a
// multi-statement or multi-result-set response, terminating on the
// final OK/EOF whose moreResultsExist status bit is clear.
func (c *Conn) QueryMulti(ctx context.Context, sql string) (value.MultiResult, error) {
	c.applyDeadline(ctx)
	c.seq.Reset()
	if err := WritePacket(c.nc, EncodeComQuery(sql), c.seq.Next()); err != nil {
		return nil, dberr.Wrap(dberr.KindConnection, "sending COM_QUERY", err)
	}

	var results value.MultiResult
	for {
		rs, more, err := c.readOneResultSet(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, rs)
		if !more {
			return results, nil
		}
	}
}

// Begin starts a transaction via COM_QUERY "START TRANSACTION", mirroring
// pgwire.Conn.Begin's reliance on the simple-query path rather than a
// dedicated wire command.
func (c *Conn) Begin(ctx context.Context) error {
	_, err := c.Execute(ctx, "START TRANSACTION")
	return err
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.Execute(ctx, "COMMIT")
	return err
}

// Rollback rolls back the open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.Execute(ctx, "ROLLBACK")
	return err
}

// InTransaction reports whether the server's last reported status flags
// carried SERVER_STATUS_IN_TRANS.
func (c *Conn) InTransaction() bool {
	return c.statusFlags&StatusInTrans != 0
}

func (c *Conn) readOneResultSet(ctx context.Context) (rs value.ResultSet, more bool, err error) {
	pkt, _, err := ReadPacket(c.nc)
	if err != nil {
		return rs, false, dberr.Wrap(dberr.KindConnection, "reading query response", err)
	}
	if IsERR(pkt) {
		e, _ := DecodeERR(wire.NewReader(pkt[1:]))
		return rs, false, dberr.ServerError("", e.SQLState, e.Message)
	}
	if IsOK(pkt) {
		ok, err := DecodeOK(wire.NewReader(pkt[1:]))
		if err != nil {
			return rs, false, err
		}
		rs.RowsAffected = int64(ok.AffectedRows)
		c.statusFlags = ok.StatusFlags
		return rs, ok.StatusFlags&StatusMoreResultsExist != 0, nil
	}

	colCount, _, err := wire.NewReader(pkt).LengthEncodedInt()
	if err != nil {
		return rs, false, dberr.Wrap(dberr.KindProtocol, "decoding column count", err)
	}

	cols := make([]ColumnDefinition, colCount)
	for i := range cols {
		pkt, _, err := ReadPacket(c.nc)
		if err != nil {
			return rs, false, dberr.Wrap(dberr.KindConnection, "reading column definition", err)
		}
		cols[i], err = DecodeColumnDefinition(wire.NewReader(pkt))
		if err != nil {
			return rs, false, err
		}
	}

	rs.Columns = make([]value.Column, len(cols))
	for i, cd := range cols {
		rs.Columns[i] = value.Column{Name: cd.Name, Table: cd.Table, TypeID: int32(cd.ColumnType), Scale: int32(cd.Decimals)}
	}

	var statusFlags uint16
	for {
		pkt, _, err := ReadPacket(c.nc)
		if err != nil {
			return rs, false, dberr.Wrap(dberr.KindConnection, "reading row packet", err)
		}
		if IsERR(pkt) {
			e, _ := DecodeERR(wire.NewReader(pkt[1:]))
			return rs, false, dberr.ServerError("", e.SQLState, e.Message)
		}
		if IsEOF(pkt) {
			eof, err := DecodeEOF(wire.NewReader(pkt[1:]))
			if err != nil {
				return rs, false, err
			}
			statusFlags = eof.StatusFlags
			c.statusFlags = statusFlags
			break
		}
		if IsOK(pkt) { // deprecateEOF negotiated: OK terminates the result set
			ok, err := DecodeOK(wire.NewReader(pkt[1:]))
			if err != nil {
				return rs, false, err
			}
			statusFlags = ok.StatusFlags
			c.statusFlags = statusFlags
			break
		}

		raws, err := DecodeTextRow(wire.NewReader(pkt), len(cols))
		if err != nil {
			return rs, false, err
		}
		vals := make([]value.Value, len(cols))
		for i, raw := range raws {
			v, err := DecodeTextValue(cols[i], raw)
			if err != nil {
				return rs, false, err
			}
			vals[i] = v
		}
		rs.Rows = append(rs.Rows, value.Row{Columns: rs.Columns, Values: vals})
	}

	return rs, statusFlags&StatusMoreResultsExist != 0, nil
}
