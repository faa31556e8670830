package pgwire

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
)

// Options configures a dialed PostgreSQL connection.
type Options struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	UseTLS      bool
	TLSConfig   *tls.Config
	DialTimeout time.Duration
}

// Conn is one authenticated PostgreSQL connection, implementing
// dbpool.Conn: a standalone connection type with a real simple-query
// path, built the same way internal/mysqlwire.Conn is.
type Conn struct {
	rw       io.ReadWriter
	nc       net.Conn
	database string
	txStatus byte
	onNotice func(string)
}

// OnNotice registers a callback invoked with the message text of every
// NoticeResponse the server sends during QueryMulti. A nil fn disables
// the callback.
func (c *Conn) OnNotice(fn func(string)) {
	c.onNotice = fn
}

// Dial connects to a PostgreSQL server, optionally negotiates TLS via
// the SSLRequest probe, and completes startup and authentication.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindConnection, "dialing PostgreSQL server", err)
	}

	var rw io.ReadWriter = nc
	if opts.UseTLS {
		if err := SendSSLRequest(nc); err != nil {
			nc.Close()
			return nil, err
		}
		resp, err := ReadSSLResponse(nc)
		if err != nil {
			nc.Close()
			return nil, err
		}
		if resp != 'S' {
			nc.Close()
			return nil, dberr.New(dberr.KindTLS, "server refused TLS upgrade")
		}
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: opts.Host}
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, dberr.Wrap(dberr.KindTLS, "TLS handshake", err)
		}
		rw = tc
	}

	body := BuildStartupBody(map[string]string{
		"user":             opts.Username,
		"database":         opts.Database,
		"application_name": "sqlbridge",
		"client_encoding":  "UTF8",
	})
	if err := WriteStartupMessage(rw, body); err != nil {
		nc.Close()
		return nil, err
	}
	if err := Authenticate(rw, opts.Username, opts.Password); err != nil {
		nc.Close()
		return nil, err
	}

	return &Conn{rw: rw, nc: nc, database: opts.Database, txStatus: 'I'}, nil
}

// Close sends Terminate and closes the socket.
func (c *Conn) Close() error {
	tag, payload := BuildTerminate()
	WriteMessage(c.rw, tag, payload)
	return c.nc.Close()
}

// Ping runs "SELECT 1" as a liveness check.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1")
	return err
}

// InTransaction reports whether the last ReadyForQuery reported an
// open transaction block ('T') or a failed one ('E').
func (c *Conn) InTransaction() bool {
	return c.txStatus == 'T' || c.txStatus == 'E'
}

func (c *Conn) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Time{})
	}
}

// Query runs sql (with placeholders already rendered inline by the
// caller) via the simple-query protocol and returns one ResultSet.
func (c *Conn) Query(ctx context.Context, sql string) (value.ResultSet, error) {
	results, err := c.QueryMulti(ctx, sql)
	if err != nil {
		return value.ResultSet{}, err
	}
	if len(results) == 0 {
		return value.ResultSet{}, nil
	}
	return results[len(results)-1], nil
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

// QueryMulti runs sql via the simple-query protocol, collecting one
// ResultSet per statement in a semicolon-separated batch, terminating
// at ReadyForQuery.
func (c *Conn) QueryMulti(ctx context.Context, sql string) (value.MultiResult, error) {
	c.applyDeadline(ctx)
	tag, payload := BuildQuery(sql)
	if err := WriteMessage(c.rw, tag, payload); err != nil {
		return nil, err
	}

	var results value.MultiResult
	var cur value.ResultSet
	var cols []RowField

	for {
		msgTag, msgPayload, err := ReadMessage(c.rw)
		if err != nil {
			return nil, err
		}
		switch msgTag {
		case TagRowDescription:
			if cur.Columns != nil || len(cur.Rows) > 0 {
				results = append(results, cur)
				cur = value.ResultSet{}
			}
			cols, err = DecodeRowDescription(msgPayload)
			if err != nil {
				return nil, err
			}
			cur.Columns = make([]value.Column, len(cols))
			for i, f := range cols {
				cur.Columns[i] = value.Column{Name: f.Name, TypeID: int32(f.TypeOID)}
			}

		case TagDataRow:
			raws, err := DecodeDataRow(msgPayload)
			if err != nil {
				return nil, err
			}
			vals := make([]value.Value, len(raws))
			for i, raw := range raws {
				v, err := DecodeTextValue(cols[i], raw)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			cur.Rows = append(cur.Rows, value.Row{Columns: cur.Columns, Values: vals})

		case TagCommandComplete:
			ct := ParseCommandComplete(msgPayload)
			cur.RowsAffected = ct.RowsAffected
			results = append(results, cur)
			cur = value.ResultSet{}
			cols = nil

		case TagNoticeResponse:
			if c.onNotice != nil {
				c.onNotice(FieldValue(ErrorFields(msgPayload), 'M'))
			}
			continue

		case TagEmptyQueryResp, TagNoData, TagParameterDesc, TagParameterStatus, TagBackendKeyData:
			continue

		case TagErrorResponse:
			return nil, ServerErrorFrom(msgPayload)

		case TagReadyForQuery:
			if len(msgPayload) > 0 {
				c.txStatus = msgPayload[0]
			}
			return results, nil

		default:
			continue
		}
	}
}

// Begin, Commit, and Rollback drive transaction control through the
// simple-query protocol, tracking state from ReadyForQuery's status
// byte rather than a client-side flag.
func (c *Conn) Begin(ctx context.Context) error {
	_, err := c.Execute(ctx, "BEGIN")
	return err
}

func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.Execute(ctx, "COMMIT")
	return err
}

func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.Execute(ctx, "ROLLBACK")
	return err
}
