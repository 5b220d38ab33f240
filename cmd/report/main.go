// Command report is the one-shot CLI performance reporter: it opens the
// store read-only-in-spirit (no writes beyond the idempotent schema setup:
// CREATE TABLE/INDEX IF NOT EXISTS and the INSERT OR IGNORE of the
// system_state row) and prints the trade-stats summary and active OCO links.
package main

import (
	"flag"
	"fmt"
	"os"

	"spotexec/internal/config"
	"spotexec/internal/report"
	"spotexec/internal/store"
)

func main() {
	dbPath := flag.String("db", "", "Path to the execution database (defaults to DB_PATH / ./execution.db)")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: loading configuration: %v\n", err)
		os.Exit(1)
	}

	path := cfg.DBPath
	if *dbPath != "" {
		path = *dbPath
	}

	st, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: opening store at %s: %v\n", path, err)
		os.Exit(1)
	}
	defer st.Close()

	if err := report.Print(os.Stdout, st); err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
}
