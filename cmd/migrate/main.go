// Command migrate manages the scouter database schema.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"scouter/internal/config"
	"scouter/migrations"
)

var commands = map[string]struct {
	help string
	run  func(db *sql.DB) error
}{
	"up":      {"migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }},
	"up-one":  {"migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
	"down":    {"roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }},
	"redo":    {"roll back and re-apply the latest version", func(db *sql.DB) error { return goose.Redo(db, ".") }},
	"status":  {"show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }},
	"version": {"show the current version", func(db *sql.DB) error { return goose.Version(db, ".") }},
	"reset":   {"roll back all migrations", func(db *sql.DB) error { return goose.Reset(db, ".") }},
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Error("load .env", "error", err)
		os.Exit(1)
	}
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/scouter.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		log.Error("unknown command", "command", name)
		os.Exit(2)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Error("set dialect", "error", err)
		os.Exit(1)
	}

	if err := cmd.run(db); err != nil {
		log.Error("migration failed", "command", name, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].help)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
