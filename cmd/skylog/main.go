// Command skylog rebuilds a globally time-ordered event log from daily
// shards, reinserting tombstones for posts that are referenced but absent.
package main

import (
	"fmt"
	"os"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("skylog", version)
		return
	case "rkey":
		os.Exit(cmdRkey(os.Args[2:]))
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	// Pipeline
	case "rebuild":
		os.Exit(a.cmdRebuild(os.Args[2:]))
	case "verify":
		os.Exit(a.cmdVerify(os.Args[2:]))
	case "cat":
		os.Exit(a.cmdCat(os.Args[2:]))
	case "config":
		os.Exit(a.cmdConfig(os.Args[2:]))

	// Ledger
	case "runs":
		os.Exit(a.cmdRuns(os.Args[2:]))
	case "report":
		os.Exit(a.cmdReport(os.Args[2:]))
	case "dangling":
		os.Exit(a.cmdDangling(os.Args[2:]))
	case "anomalies":
		os.Exit(a.cmdAnomalies(os.Args[2:]))
	case "forget":
		os.Exit(a.cmdForget(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "skylog: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'skylog --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`skylog - rebuild a time-ordered event log from daily shards

Records are reordered by the timestamp in their record key, in batches of
bounded size. Posts that are referenced but never appear are reinserted as
tombstones where their record key places them.

Usage:
  skylog <command> [flags]

Pipeline:
  rebuild [flags]           Run shards -> reorder -> scan -> tombstones -> validate
  verify [dir]              Check batch ordering of a directory (default: output_dir)
  cat [dir] [--until T]     Print the records of a batch directory as NDJSON
  config                    Print the effective configuration
  rkey <key>|--encode N     Decode a record key, or encode a microsecond timestamp

Ledger:
  runs [--limit N]          List recorded runs, newest first
  report [run]              Show the summary of a run (default: latest)
  dangling [run]            List dangling posts (or --actors) of a run
  anomalies [run]           List stored anomalies of a run
  forget <run>              Delete a run and everything recorded for it

Environment:
  SKYLOG_CONFIG     YAML configuration file
  SKYLOG_DB         Run ledger path (default: skylog.db)
  SKYLOG_*          Any configuration key, e.g. SKYLOG_BATCH_SIZE

Most commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
  3  rebuild finished but validation found overlaps (with --strict),
     or verify found ordering inversions
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "skylog: "+format+"\n", args...)
	os.Exit(1)
}
