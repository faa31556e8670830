package tds

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/value"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Options configures a dialed SQL Server connection.
type Options struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	Domain      string // non-empty selects NTLMv2 SSPI authentication
	AppName     string
	UseTLS      bool
	TLSConfig   *tls.Config
	DialTimeout time.Duration
	PacketSize  uint32
}

// Conn is one authenticated TDS connection, implementing dbpool.Conn:
// a standalone connection type with a real query path, tracking the
// transaction descriptor off ENVCHANGE tokens (type 8/9/10) instead of
// a client-side begin/commit flag.
type Conn struct {
	rw                     io.ReadWriter
	nc                     net.Conn
	packetSize             int
	transactionDescriptor  uint64
	onInfo                 func(string)
}

// OnInfo registers a callback invoked with the message text of every
// INFO token the server sends during Query/QueryMulti/CallProcedure.
// A nil fn disables the callback.
func (c *Conn) OnInfo(fn func(string)) {
	c.onInfo = fn
}

// Dial connects to a SQL Server instance, completes PreLogin/TLS/
// LOGIN7, and returns a ready-to-use Conn.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindConnection, "dialing SQL Server", err)
	}

	upgrade := func(rw io.ReadWriter) (io.ReadWriter, error) {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: opts.Host}
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, dberr.Wrap(dberr.KindTLS, "TLS handshake", err)
		}
		return tc, nil
	}

	packetSize := opts.PacketSize
	if packetSize == 0 {
		packetSize = DefaultPacketSize
	}

	rw, _, err := Authenticate(ctx, nc, LoginParams{
		Username:   opts.Username,
		Password:   opts.Password,
		Database:   opts.Database,
		Hostname:   localHostname(),
		AppName:    opts.AppName,
		ServerName: opts.Host,
		Domain:     opts.Domain,
		PacketSize: packetSize,
		UseTLS:     opts.UseTLS,
		Upgrade:    upgrade,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Conn{rw: rw, nc: nc, packetSize: int(packetSize)}, nil
}

func localHostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "sqlbridge-client"
}

// Close sends no explicit logout token (TDS has none); closing the
// socket ends the session.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Ping sends a trivial batch as a liveness check.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1")
	return err
}

func (c *Conn) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Time{})
	}
}

// Query executes sql (placeholders already rendered inline) via
// SQL_BATCH and returns one ResultSet.
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

// QueryMulti runs sql via SQL_BATCH, collecting one ResultSet per
// COLMETADATA/row/DONE group.
func (c *Conn) QueryMulti(ctx context.Context, sql string) (value.MultiResult, error) {
	c.applyDeadline(ctx)
	body := BuildSQLBatch(sql, c.transactionDescriptor)
	if err := WritePacket(c.rw, PacketSQLBatch, body, c.packetSize); err != nil {
		return nil, err
	}
	return c.readResults()
}

// ProcResult is the outcome of a stored-procedure call.
type ProcResult struct {
	ResultSets      value.MultiResult
	OutputParams    map[string]value.Value
	ReturnStatus    int32
	InfoMessages    []string
}

// CallProcedure invokes procName via RPCRequest, collecting every
// result set, output parameter, the procedure's RETURNSTATUS, and any
// INFO messages raised along the way.
func (c *Conn) CallProcedure(ctx context.Context, procName string, params []RPCParam) (ProcResult, error) {
	c.applyDeadline(ctx)
	body := BuildRPC(procName, params, c.transactionDescriptor)
	if err := WritePacket(c.rw, PacketRPC, body, c.packetSize); err != nil {
		return ProcResult{}, err
	}

	var pr ProcResult
	pr.OutputParams = map[string]value.Value{}

	var cols []ColumnMeta
	var cur value.ResultSet
	flush := func() {
		if cols != nil {
			pr.ResultSets = append(pr.ResultSets, cur)
		}
		cur = value.ResultSet{}
		cols = nil
	}

	for {
		pktType, body, err := ReadMessage(c.rw)
		if err != nil {
			return pr, err
		}
		if pktType != PacketTabularResult {
			return pr, dberr.New(dberr.KindProtocol, "expected tabular result")
		}
		r := wire.NewReader(body)
		done := false
		for r.Len() > 0 && !done {
			tok, err := r.Byte()
			if err != nil {
				return pr, err
			}
			switch tok {
			case TokenColMetadata:
				flush()
				cols, err = DecodeColMetadata(r)
				if err != nil {
					return pr, err
				}
				cur.Columns = columnsFromMeta(cols)
			case TokenRow:
				vals, err := DecodeRow(r, cols)
				if err != nil {
					return pr, err
				}
				cur.Rows = append(cur.Rows, value.Row{Columns: cur.Columns, Values: vals})
			case TokenNBCRow:
				vals, err := DecodeNBCRow(r, cols)
				if err != nil {
					return pr, err
				}
				cur.Rows = append(cur.Rows, value.Row{Columns: cur.Columns, Values: vals})
			case TokenReturnStatus:
				status, err := DecodeReturnStatus(r)
				if err != nil {
					return pr, err
				}
				pr.ReturnStatus = status
			case TokenReturnValue:
				name, v, err := SkipReturnValue(r)
				if err != nil {
					return pr, err
				}
				pr.OutputParams[name] = v
			case TokenInfo:
				msg, err := DecodeServerMessage(r)
				if err != nil {
					return pr, err
				}
				pr.InfoMessages = append(pr.InfoMessages, msg.Message)
				if c.onInfo != nil {
					c.onInfo(msg.Message)
				}
			case TokenError:
				msg, err := DecodeServerMessage(r)
				if err != nil {
					return pr, err
				}
				return pr, msg.ServerError()
			case TokenEnvChange:
				ec, err := DecodeEnvChange(r)
				if err != nil {
					return pr, err
				}
				c.applyEnvChange(ec)
			case TokenOrder:
				if err := SkipOrder(r); err != nil {
					return pr, err
				}
			case TokenDone, TokenDoneProc, TokenDoneInProc:
				flush()
				dt, err := DecodeDone(r)
				if err != nil {
					return pr, err
				}
				if dt.IsFinal {
					done = true
				}
			default:
				return pr, dberr.Unsupported("RPC token " + itoaTDS(int(tok)))
			}
		}
		if done {
			return pr, nil
		}
	}
}

func (c *Conn) readResults() (value.MultiResult, error) {
	var results value.MultiResult
	var cols []ColumnMeta
	var cur value.ResultSet
	flush := func() {
		if cols != nil || cur.RowsAffected != 0 {
			results = append(results, cur)
		}
		cur = value.ResultSet{}
		cols = nil
	}

	for {
		pktType, body, err := ReadMessage(c.rw)
		if err != nil {
			return nil, err
		}
		if pktType != PacketTabularResult {
			return nil, dberr.New(dberr.KindProtocol, "expected tabular result")
		}
		r := wire.NewReader(body)
		done := false
		for r.Len() > 0 && !done {
			tok, err := r.Byte()
			if err != nil {
				return nil, err
			}
			switch tok {
			case TokenColMetadata:
				flush()
				cols, err = DecodeColMetadata(r)
				if err != nil {
					return nil, err
				}
				cur.Columns = columnsFromMeta(cols)
			case TokenRow:
				vals, err := DecodeRow(r, cols)
				if err != nil {
					return nil, err
				}
				cur.Rows = append(cur.Rows, value.Row{Columns: cur.Columns, Values: vals})
			case TokenNBCRow:
				vals, err := DecodeNBCRow(r, cols)
				if err != nil {
					return nil, err
				}
				cur.Rows = append(cur.Rows, value.Row{Columns: cur.Columns, Values: vals})
			case TokenEnvChange:
				ec, err := DecodeEnvChange(r)
				if err != nil {
					return nil, err
				}
				c.applyEnvChange(ec)
			case TokenInfo:
				msg, err := DecodeServerMessage(r)
				if err != nil {
					return nil, err
				}
				if c.onInfo != nil {
					c.onInfo(msg.Message)
				}
			case TokenError:
				msg, err := DecodeServerMessage(r)
				if err != nil {
					return nil, err
				}
				return nil, msg.ServerError()
			case TokenOrder:
				if err := SkipOrder(r); err != nil {
					return nil, err
				}
			case TokenDone, TokenDoneProc, TokenDoneInProc:
				dt, err := DecodeDone(r)
				if err != nil {
					return nil, err
				}
				if dt.HasRowCount {
					cur.RowsAffected = int64(dt.RowCount)
				}
				if dt.IsFinal {
					flush()
					done = true
				}
			default:
				return nil, dberr.Unsupported("result token " + itoaTDS(int(tok)))
			}
		}
		if done {
			return results, nil
		}
	}
}

func columnsFromMeta(cols []ColumnMeta) []value.Column {
	out := make([]value.Column, len(cols))
	for i, c := range cols {
		out[i] = value.Column{Name: c.Name, TypeID: int32(c.Type.TypeID), Scale: int32(c.Type.Scale)}
	}
	return out
}

// applyEnvChange updates transaction-descriptor state from ENVCHANGE
// tokens 8 (begin), 9 (commit), 10 (rollback).
func (c *Conn) applyEnvChange(ec EnvChange) {
	switch ec.Type {
	case EnvChangeBeginTransaction:
		if len(ec.NewValue) == 8 {
			c.transactionDescriptor = binary.LittleEndian.Uint64(ec.NewValue)
		}
	case EnvChangeCommitTransaction, EnvChangeRollbackTransaction:
		c.transactionDescriptor = 0
	}
}

// InTransaction reports whether a transaction descriptor is active.
func (c *Conn) InTransaction() bool {
	return c.transactionDescriptor != 0
}

func (c *Conn) Begin(ctx context.Context) error {
	_, err := c.Execute(ctx, "BEGIN TRANSACTION")
	return err
}

func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.Execute(ctx, "COMMIT TRANSACTION")
	return err
}

func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.Execute(ctx, "ROLLBACK TRANSACTION")
	return err
}
