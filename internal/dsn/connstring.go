package dsn

import (
	"strconv"
	"strings"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
)

// Parse lexes a TDS-style connection string (`Key=Value;Key=Value;...`)
// into a case-insensitive key/value map. This is the minimal contract
// the pool needs — a full connection-string grammar (quoting rules,
// braces, escaped semicolons) is explicitly out of scope. Keys are
// lower-cased; values are left as-is apart from surrounding whitespace
// trim and the removal of one leading and one trailing double quote.
func Parse(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx < 0 {
			return nil, dberr.New(dberr.KindConnection, "malformed connection string segment: "+pair)
		}
		key := strings.ToLower(strings.TrimSpace(pair[:idx]))
		val := strings.TrimSpace(pair[idx+1:])
		val = strings.TrimPrefix(val, `"`)
		val = strings.TrimSuffix(val, `"`)
		out[key] = val
	}
	return out, nil
}

// key looks up the first matching alias present in kv.
func key(kv map[string]string, aliases ...string) (string, bool) {
	for _, a := range aliases {
		if v, ok := kv[strings.ToLower(a)]; ok {
			return v, true
		}
	}
	return "", false
}

// FromConnectionString resolves a TDS-style connection string into a
// Config for engine, recognising these option names:
// Server/Data Source, Database/Initial Catalog, User Id/UID,
// Password/PWD, Domain, Encrypt, TrustServerCertificate,
// Connect Timeout, Application Intent. A `Server` value of the form
// "host,port" splits on the comma.
func FromConnectionString(engine Engine, s string) (Config, error) {
	kv, err := Parse(s)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Engine: engine}

	if v, ok := key(kv, "server", "data source"); ok {
		host, port, err := splitHostPort(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Host = host
		cfg.Port = port
	}
	if v, ok := key(kv, "database", "initial catalog"); ok {
		cfg.Database = v
	}
	if v, ok := key(kv, "user id", "uid"); ok {
		cfg.Username = v
	}
	if v, ok := key(kv, "password", "pwd"); ok {
		cfg.Password = v
	}
	if v, ok := key(kv, "domain"); ok {
		cfg.Domain = v
	}
	if v, ok := key(kv, "encrypt"); ok {
		mode, err := parseEncrypt(v)
		if err != nil {
			return Config{}, err
		}
		cfg.TLS = mode
	}
	if v, ok := key(kv, "trustservercertificate"); ok {
		cfg.TrustServerCertificate = strings.EqualFold(v, "true")
	}
	if v, ok := key(kv, "connect timeout"); ok {
		secs, err := parseInt(v)
		if err != nil {
			return Config{}, err
		}
		cfg.ConnectTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := key(kv, "application intent"); ok {
		cfg.ReadOnly = strings.EqualFold(v, "readonly")
	}

	return cfg, cfg.Validate()
}

func splitHostPort(v string) (host string, port int, err error) {
	parts := strings.SplitN(v, ",", 2)
	host = strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return host, 0, nil
	}
	port, convErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if convErr != nil {
		return "", 0, dberr.Wrap(dberr.KindConnection, "invalid port in Server value", convErr)
	}
	return host, port, nil
}
