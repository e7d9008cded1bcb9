// Command medlearn is the root operator CLI: it runs schema migrations
// and prints the effective configuration, a thin entrypoint built on
// flag rather than a CLI framework.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"gopkg.in/yaml.v3"

	"github.com/jordigilh/medlearn-core/internal/config"
)

// defaultMigrationsDir is resolved relative to the process's working
// directory, matching the convention that this binary runs from the
// repository root (or a deployment image rooted the same way).
const defaultMigrationsDir = "pkg/store/postgres/migrations"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	migrationsDir := flag.String("migrations-dir", defaultMigrationsDir, "path to the goose migration files")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	switch flag.Arg(0) {
	case "migrate":
		runMigrate(*configPath, *migrationsDir, flag.Args()[1:])
	case "print-config":
		runPrintConfig(*configPath)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: medlearn [-config path] [-migrations-dir path] <migrate up|down|status|<target>|print-config>")
}

func runMigrate(configPath, migrationsDir string, args []string) {
	if len(args) == 0 {
		args = []string{"up"}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fail("failed to load configuration", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		fail("failed to open database", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		fail("failed to set goose dialect", err)
	}

	if err := goose.RunContext(context.Background(), args[0], db, migrationsDir, args[1:]...); err != nil {
		fail("migration failed", err)
	}
	fmt.Printf("migration %q applied successfully\n", args[0])
}

func runPrintConfig(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fail("failed to load configuration", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fail("failed to marshal effective configuration", err)
	}
	os.Stdout.Write(out)
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
