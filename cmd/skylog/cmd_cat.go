package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/clock"
	"github.com/daviddao/skylog/pkg/shard"
)

// parseUntil accepts a day (inclusive) or a full timestamp and returns the
// cutoff in milliseconds.
func parseUntil(s string) (int64, error) {
	if d, err := time.Parse(shard.DateLayout, s); err == nil {
		return d.AddDate(0, 0, 1).UnixMilli() - 1, nil
	}
	return clock.ParseCreatedAt(s)
}

func (a *app) cmdCat(args []string) int {
	dir, rest := firstArg(args)
	flags := flag.NewFlagSet("cat", flag.ContinueOnError)
	until := flags.String("until", "", "stop after this day (YYYY-MM-DD) or timestamp")
	limit := flags.Int("limit", 0, "max records (0 = all)")
	tombstones := flags.Bool("tombstones", false, "print only tombstones")
	if err := flags.Parse(rest); err != nil {
		return 1
	}
	if dir == "" {
		dir = a.cfg.OutputDir
	}

	st, err := batch.Open(dir, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: cat: %v\n", err)
		return 1
	}
	defer st.Close()

	var opts []batch.IterOption
	if *until != "" {
		ms, err := parseUntil(*until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skylog: cat: --until: %v\n", err)
			return 1
		}
		opts = append(opts, batch.UntilMillis(ms))
	}

	if _, err := writeRecords(os.Stdout, st.Iterator(opts...), *tombstones, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "skylog: cat: %v\n", err)
		return 1
	}
	return 0
}

// writeRecords copies records from it to out as NDJSON and returns how
// many were written. A limit of 0 means no limit.
func writeRecords(out io.Writer, it *batch.Iterator, tombstonesOnly bool, limit int) (int, error) {
	w := bufio.NewWriter(out)
	n := 0
	for it.Next() {
		rec := it.Record()
		if tombstonesOnly && !rec.IsTombstone() {
			continue
		}
		b, err := rec.MarshalJSON()
		if err != nil {
			return n, fmt.Errorf("batch %d: %w", it.Batch(), err)
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			return n, fmt.Errorf("write: %w", err)
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		w.Flush()
		return n, err
	}
	if err := w.Flush(); err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}
