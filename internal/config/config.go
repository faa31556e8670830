package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sqlbridge/sqlbridge/internal/dsn"
)

// Config is the top-level configuration for a sqlbridge client: pool
// defaults, health check cadence, and the set of named dial targets
// the caller wants pools for.
type Config struct {
	Defaults    PoolDefaults            `yaml:"defaults"`
	HealthCheck HealthCheckConfig       `yaml:"health_check"`
	Targets     map[string]TargetConfig `yaml:"targets"`
}

// PoolDefaults defines default pool settings applied when a target
// doesn't override them.
type PoolDefaults struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// HealthCheckConfig controls the background pool health checker.
type HealthCheckConfig struct {
	Interval          time.Duration `yaml:"interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// TargetConfig holds the connect(config) options for a single named
// dial target.
type TargetConfig struct {
	Engine             string `yaml:"engine"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Database           string `yaml:"database"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TLS                string `yaml:"tls"`
	ConnectTimeoutSecs int    `yaml:"connect_timeout"`
	QueryTimeoutSecs   int    `yaml:"query_timeout"`

	// TDS-specific.
	TrustServerCertificate bool   `yaml:"trust_server_certificate"`
	ReadOnly               bool   `yaml:"read_only"`
	Domain                 string `yaml:"domain"`

	// SQLite-specific: Host doubles as the file path.
	SQLiteDriverName string `yaml:"sqlite_driver"`

	MinConnections *int           `yaml:"min_connections,omitempty"`
	MaxConnections *int           `yaml:"max_connections,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
	DialTimeout    *time.Duration `yaml:"dial_timeout,omitempty"`
}

// Resolve translates a TargetConfig into the dsn.Config the wire
// packages need, validating it along the way.
func (t TargetConfig) Resolve() (dsn.Config, error) {
	var engine dsn.Engine
	switch t.Engine {
	case "mysql", "mariadb":
		engine = dsn.EngineMySQL
	case "postgres", "postgresql":
		engine = dsn.EnginePostgres
	case "mssql", "sqlserver", "tds":
		engine = dsn.EngineMSSQL
	case "sqlite", "sqlite3":
		engine = dsn.EngineSQLite
	default:
		engine = dsn.EngineUnknown
	}

	tlsMode, err := dsn.ParseTLSMode(t.TLS)
	if err != nil {
		return dsn.Config{}, err
	}

	cfg := dsn.Config{
		Engine:                 engine,
		Host:                   t.Host,
		Port:                   t.Port,
		Database:               t.Database,
		Username:               t.Username,
		Password:               t.Password,
		TLS:                    tlsMode,
		ConnectTimeout:         time.Duration(t.ConnectTimeoutSecs) * time.Second,
		QueryTimeout:           time.Duration(t.QueryTimeoutSecs) * time.Second,
		TrustServerCertificate: t.TrustServerCertificate,
		ReadOnly:               t.ReadOnly,
		Domain:                 t.Domain,
		SQLiteDriverName:       t.SQLiteDriverName,
	}
	return cfg, cfg.Validate()
}

// EffectiveMinConnections returns the target's min connections or the default.
func (t TargetConfig) EffectiveMinConnections(defaults PoolDefaults) int {
	if t.MinConnections != nil {
		return *t.MinConnections
	}
	return defaults.MinConnections
}

// EffectiveMaxConnections returns the target's max connections or the default.
func (t TargetConfig) EffectiveMaxConnections(defaults PoolDefaults) int {
	if t.MaxConnections != nil {
		return *t.MaxConnections
	}
	return defaults.MaxConnections
}

// EffectiveIdleTimeout returns the target's idle timeout or the default.
func (t TargetConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if t.IdleTimeout != nil {
		return *t.IdleTimeout
	}
	return defaults.IdleTimeout
}

// EffectiveMaxLifetime returns the target's max lifetime or the default.
func (t TargetConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if t.MaxLifetime != nil {
		return *t.MaxLifetime
	}
	return defaults.MaxLifetime
}

// EffectiveAcquireTimeout returns the target's acquire timeout or the default.
func (t TargetConfig) EffectiveAcquireTimeout(defaults PoolDefaults) time.Duration {
	if t.AcquireTimeout != nil {
		return *t.AcquireTimeout
	}
	return defaults.AcquireTimeout
}

// EffectiveDialTimeout returns the target's dial timeout or the default.
func (t TargetConfig) EffectiveDialTimeout(defaults PoolDefaults) time.Duration {
	if t.DialTimeout != nil {
		return *t.DialTimeout
	}
	return defaults.DialTimeout
}

// Redacted returns a copy of the TargetConfig with the password masked.
func (t TargetConfig) Redacted() TargetConfig {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Defaults.MinConnections == 0 {
		cfg.Defaults.MinConnections = 2
	}
	if cfg.Defaults.MaxConnections == 0 {
		cfg.Defaults.MaxConnections = 20
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = 5 * time.Minute
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = 30 * time.Minute
	}
	if cfg.Defaults.AcquireTimeout == 0 {
		cfg.Defaults.AcquireTimeout = 10 * time.Second
	}
	if cfg.Defaults.DialTimeout == 0 {
		cfg.Defaults.DialTimeout = 5 * time.Second
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
	if cfg.HealthCheck.ConnectionTimeout == 0 {
		cfg.HealthCheck.ConnectionTimeout = 5 * time.Second
	}
}

var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateTargetID checks that id is a safe identifier for use as a
// pool/metrics label: non-empty, starting with an alphanumeric, and
// containing only alphanumerics, dashes and underscores thereafter.
func ValidateTargetID(id string) error {
	if !targetIDPattern.MatchString(id) {
		return fmt.Errorf("invalid target id %q: must match %s", id, targetIDPattern.String())
	}
	return nil
}

func validatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Defaults.MinConnections > cfg.Defaults.MaxConnections {
		return fmt.Errorf("defaults: min_connections (%d) exceeds max_connections (%d)", cfg.Defaults.MinConnections, cfg.Defaults.MaxConnections)
	}

	for id, target := range cfg.Targets {
		if err := ValidateTargetID(id); err != nil {
			return fmt.Errorf("target %q: %w", id, err)
		}
		if strings.Contains(target.Host, ":") {
			return fmt.Errorf("target %q: host %q must not contain a port, use the port field", id, target.Host)
		}
		if err := validatePort(target.Port); err != nil {
			return fmt.Errorf("target %q: %w", id, err)
		}
		minConn := target.EffectiveMinConnections(cfg.Defaults)
		maxConn := target.EffectiveMaxConnections(cfg.Defaults)
		if minConn > maxConn {
			return fmt.Errorf("target %q: min_connections (%d) exceeds max_connections (%d)", id, minConn, maxConn)
		}
		if _, err := target.Resolve(); err != nil {
			return fmt.Errorf("target %q: %w", id, err)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher. A reload only affects
// pool sizing and timeouts; it never re-authenticates connections
// already established under the previous config.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
