// Command sqlbridge-probe is a small smoke-testing CLI: it loads a
// sqlbridge config file, dials one named target, runs a query, prints
// the rows, and closes. It exercises Connect/Query/Close the way a
// caller embedding the library would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sqlbridge/sqlbridge"
	"github.com/sqlbridge/sqlbridge/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/sqlbridge.yaml", "path to configuration file")
	target := flag.String("target", "", "name of the target in the config's targets map to probe")
	query := flag.String("query", "SELECT 1", "SQL to run against the target")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	log.Printf("configuration loaded from %s (%d targets)", *configPath, len(cfg.Targets))

	name := *target
	if name == "" {
		for n := range cfg.Targets {
			name = n
			break
		}
	}
	tc, ok := cfg.Targets[name]
	if !ok {
		log.Fatalf("target %q not found in config", name)
	}

	dialCfg, err := tc.Resolve()
	if err != nil {
		log.Fatalf("resolving target %q: %v", name, err)
	}

	timeout := dialCfg.ConnectTimeout
	if timeout <= 0 {
		timeout = cfg.Defaults.DialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := dbclient.Connect(ctx, dialCfg)
	if err != nil {
		log.Fatalf("connecting to %q: %v", name, err)
	}
	defer conn.Close()

	conn.OnNotice(func(msg string) { log.Printf("[%s] notice: %s", name, msg) })
	conn.OnInfo(func(msg string) { log.Printf("[%s] info: %s", name, msg) })

	log.Printf("connected to %q (%s)", name, dialCfg.Engine)

	qTimeout := dialCfg.QueryTimeout
	if qTimeout <= 0 {
		qTimeout = 30 * time.Second
	}
	qctx, qcancel := context.WithTimeout(context.Background(), qTimeout)
	defer qcancel()

	rows, err := conn.Query(qctx, *query, nil)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	printRows(rows)
}

func printRows(rows []dbclient.Row) {
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return
	}
	for i, row := range rows {
		fmt.Printf("row %d:\n", i)
		for j, col := range row.Columns {
			fmt.Printf("  %s = %s\n", col.Name, row.At(j).String())
		}
	}
	fmt.Fprintf(os.Stderr, "%d row(s)\n", len(rows))
}
