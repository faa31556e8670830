package dsn

import (
	"testing"
	"time"
)

func TestParseConnectionStringBasic(t *testing.T) {
	kv, err := Parse(`Server=dbhost,1434;Database=mydb;User Id=sa;Password=hunter2`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if kv["server"] != "dbhost,1434" {
		t.Fatalf("server = %q", kv["server"])
	}
	if kv["user id"] != "sa" {
		t.Fatalf("user id = %q", kv["user id"])
	}
}

func TestParseConnectionStringMalformedSegmentReturnsError(t *testing.T) {
	if _, err := Parse("ServerOnlyNoEquals"); err == nil {
		t.Fatal("expected error for malformed segment")
	}
}

func TestFromConnectionStringTDS(t *testing.T) {
	cfg, err := FromConnectionString(EngineMSSQL, `Server=dbhost,1434;Database=mydb;User Id=sa;Password=hunter2;Encrypt=mandatory;TrustServerCertificate=true;Connect Timeout=5;Application Intent=ReadOnly`)
	if err != nil {
		t.Fatalf("from connection string: %v", err)
	}
	if cfg.Host != "dbhost" || cfg.Port != 1434 {
		t.Fatalf("host/port = %s/%d", cfg.Host, cfg.Port)
	}
	if cfg.Database != "mydb" || cfg.Username != "sa" || cfg.Password != "hunter2" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.TLS != TLSRequire {
		t.Fatalf("tls = %v", cfg.TLS)
	}
	if !cfg.TrustServerCertificate {
		t.Fatal("expected TrustServerCertificate true")
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if !cfg.ReadOnly {
		t.Fatal("expected ReadOnly true")
	}
}

func TestFromConnectionStringAliasUIDPWD(t *testing.T) {
	cfg, err := FromConnectionString(EngineMSSQL, `Data Source=dbhost;Initial Catalog=mydb;UID=sa;PWD=hunter2`)
	if err != nil {
		t.Fatalf("from connection string: %v", err)
	}
	if cfg.Host != "dbhost" || cfg.Database != "mydb" || cfg.Username != "sa" || cfg.Password != "hunter2" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestConfigDialKeyMySQL(t *testing.T) {
	cfg := Config{Engine: EngineMySQL, Host: "dbhost", Database: "mydb", Username: "root"}
	engine, key := cfg.DialKey()
	if engine != "mysql" {
		t.Fatalf("engine = %q", engine)
	}
	if key != "root@dbhost:3306/mydb" {
		t.Fatalf("key = %q", key)
	}
}

func TestConfigDialKeySQLite(t *testing.T) {
	cfg := Config{Engine: EngineSQLite, Host: "/tmp/test.db"}
	engine, key := cfg.DialKey()
	if engine != "sqlite" || key != "/tmp/test.db" {
		t.Fatalf("engine=%q key=%q", engine, key)
	}
}

func TestConfigValidateRejectsMissingEngine(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected error for missing engine")
	}
}

func TestConfigValidateRejectsMissingHost(t *testing.T) {
	if err := (Config{Engine: EnginePostgres}).Validate(); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestConfigMySQLOptionsAppliesDefaultPort(t *testing.T) {
	cfg := Config{Engine: EngineMySQL, Host: "dbhost", Username: "root"}
	opts := cfg.MySQLOptions()
	if opts.Port != 3306 {
		t.Fatalf("port = %d", opts.Port)
	}
}

func TestConfigTDSOptionsCarriesDomain(t *testing.T) {
	cfg := Config{Engine: EngineMSSQL, Host: "dbhost", Domain: "CORP"}
	opts := cfg.TDSOptions()
	if opts.Domain != "CORP" {
		t.Fatalf("domain = %q", opts.Domain)
	}
	if opts.Port != 1433 {
		t.Fatalf("port = %d", opts.Port)
	}
}
