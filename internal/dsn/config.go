// Package dsn resolves a Config (populated directly, or parsed from a
// connection string) into the per-engine dial options each wire
// package needs. There are no tenants here, only a handful of
// well-known engines, so there is no routing table to maintain — only
// option-struct translation.
package dsn

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/mysqlwire"
	"github.com/sqlbridge/sqlbridge/internal/pgwire"
	"github.com/sqlbridge/sqlbridge/internal/sqlitebind"
	"github.com/sqlbridge/sqlbridge/internal/tds"
)

// Engine identifies one of the four supported backends.
type Engine int

const (
	EngineUnknown Engine = iota
	EngineMySQL
	EnginePostgres
	EngineMSSQL
	EngineSQLite
)

func (e Engine) String() string {
	switch e {
	case EngineMySQL:
		return "mysql"
	case EnginePostgres:
		return "postgres"
	case EngineMSSQL:
		return "mssql"
	case EngineSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// defaultPort returns the engine's conventional TCP port.
func (e Engine) defaultPort() int {
	switch e {
	case EngineMySQL:
		return 3306
	case EnginePostgres:
		return 5432
	case EngineMSSQL:
		return 1433
	default:
		return 0
	}
}

// TLSMode is the common `tls` configuration key.
type TLSMode int

const (
	TLSDisable TLSMode = iota
	TLSPrefer
	TLSRequire
)

// Config is a fully-resolved connection target for one of the four
// engines, populated directly by the caller or via FromConnectionString
// for the TDS connection-string form.
type Config struct {
	Engine   Engine
	Host     string
	Port     int
	Database string
	Username string
	Password string

	TLS            TLSMode
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	TLSConfig      *tls.Config

	// TDS-specific.
	TrustServerCertificate bool
	ReadOnly               bool
	Domain                 string

	// SQLite-specific: Host doubles as the file path (or ":memory:"),
	// per the minimal pool-contract-only scope for this engine.
	SQLiteDriverName string
}

// applyDefaults fills in the engine's conventional port when unset.
func (c Config) applyDefaults() Config {
	if c.Port == 0 {
		c.Port = c.Engine.defaultPort()
	}
	return c
}

// Validate checks that Config carries enough information to dial.
func (c Config) Validate() error {
	if c.Engine == EngineUnknown {
		return dberr.New(dberr.KindUnsupported, "no engine specified")
	}
	if c.Engine == EngineSQLite {
		if c.Host == "" {
			return dberr.New(dberr.KindConnection, "sqlite path required")
		}
		return nil
	}
	if c.Host == "" {
		return dberr.New(dberr.KindConnection, "host required")
	}
	if c.Engine == EngineMSSQL && c.Domain == "" && c.Username == "" {
		return dberr.New(dberr.KindAuthenticationFailed, "username or domain required")
	}
	return nil
}

// DialKey identifies this config's (engine, DSN) pair for
// internal/dbpool, keyed on the resolved target rather than a tenant ID.
func (c Config) DialKey() (engine, dsn string) {
	c = c.applyDefaults()
	if c.Engine == EngineSQLite {
		return c.Engine.String(), c.Host
	}
	return c.Engine.String(), fmt.Sprintf("%s@%s:%d/%s", c.Username, c.Host, c.Port, c.Database)
}

func (c Config) tlsConfig() *tls.Config {
	if c.TLSConfig != nil {
		return c.TLSConfig
	}
	if c.TrustServerCertificate {
		return &tls.Config{InsecureSkipVerify: true, ServerName: c.Host}
	}
	return &tls.Config{ServerName: c.Host}
}

// MySQLOptions builds internal/mysqlwire.Options from this Config.
func (c Config) MySQLOptions() mysqlwire.Options {
	c = c.applyDefaults()
	return mysqlwire.Options{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		Database:    c.Database,
		UseTLS:      c.TLS != TLSDisable,
		TLSConfig:   c.tlsConfig(),
		DialTimeout: c.ConnectTimeout,
	}
}

// PostgresOptions builds internal/pgwire.Options from this Config.
func (c Config) PostgresOptions() pgwire.Options {
	c = c.applyDefaults()
	return pgwire.Options{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		Database:    c.Database,
		UseTLS:      c.TLS != TLSDisable,
		TLSConfig:   c.tlsConfig(),
		DialTimeout: c.ConnectTimeout,
	}
}

// TDSOptions builds internal/tds.Options from this Config.
func (c Config) TDSOptions() tds.Options {
	c = c.applyDefaults()
	return tds.Options{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		Database:    c.Database,
		Domain:      c.Domain,
		AppName:     "sqlbridge",
		UseTLS:      c.TLS != TLSDisable,
		TLSConfig:   c.tlsConfig(),
		DialTimeout: c.ConnectTimeout,
	}
}

// SQLiteOptions builds internal/sqlitebind.Options from this Config.
func (c Config) SQLiteOptions() sqlitebind.Options {
	return sqlitebind.Options{
		Path:        c.Host,
		DriverName:  c.SQLiteDriverName,
		DialTimeout: c.ConnectTimeout,
	}
}

// ParseTLSMode maps the `tls` enum (disable/prefer/require) onto
// TLSMode, for the root façade's direct-config `tls` key (as opposed to
// the TDS connection string's `Encrypt` key, see parseEncrypt).
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(s) {
	case "", "disable":
		return TLSDisable, nil
	case "prefer":
		return TLSPrefer, nil
	case "require":
		return TLSRequire, nil
	default:
		return TLSDisable, dberr.New(dberr.KindUnsupported, "unknown tls mode "+s)
	}
}

// parseEncrypt maps the TDS connection-string `Encrypt` value (spec
// §7: true/false/mandatory/optional) onto TLSMode.
func parseEncrypt(s string) (TLSMode, error) {
	switch strings.ToLower(s) {
	case "true", "mandatory":
		return TLSRequire, nil
	case "false":
		return TLSDisable, nil
	case "optional":
		return TLSPrefer, nil
	default:
		return TLSDisable, dberr.New(dberr.KindUnsupported, "unknown Encrypt value "+s)
	}
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, dberr.Wrap(dberr.KindConnection, "invalid integer "+s, err)
	}
	return n, nil
}
