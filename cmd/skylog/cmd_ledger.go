package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/pipeline"
)

func (a *app) cmdRuns(args []string) int {
	flags := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "max runs to list")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	l, err := a.openLedger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: runs: %v\n", err)
		return 1
	}
	runs, err := l.ListRuns(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]any{"runs": runs, "count": len(runs)})
		return 0
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return 0
	}
	for _, r := range runs {
		line := fmt.Sprintf("%-36s %-8s started=%s", r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
		if !r.FinishedAt.IsZero() {
			line += fmt.Sprintf(" took=%s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Println(line)
	}
	return 0
}

func (a *app) cmdReport(args []string) int {
	id, rest := firstArg(args)
	flags := flag.NewFlagSet("report", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(rest); err != nil {
		return 1
	}

	r, err := a.resolveRun(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: report: %v\n", err)
		return 1
	}
	var sum pipeline.Summary
	if r.Summary != "" {
		if err := model.JSON.UnmarshalFromString(r.Summary, &sum); err != nil {
			fmt.Fprintf(os.Stderr, "skylog: report: run %s: bad summary: %v\n", r.ID, err)
			return 1
		}
	}
	stored, err := a.ledger.CountAnomalies(r.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: report: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]any{"run": r, "summary": sum, "stored_anomalies": stored})
		return 0
	}
	fmt.Printf("run %s: %s\n", r.ID, r.Status)
	fmt.Printf("  started:     %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	if !r.FinishedAt.IsZero() {
		fmt.Printf("  finished:    %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if r.Error != "" {
		fmt.Printf("  error:       %s\n", r.Error)
	}
	if r.Summary != "" {
		fmt.Printf("  records:     %d read, %d ordered\n", sum.RecordsRead, sum.RecordsOrdered)
		fmt.Printf("  dangling:    %d posts, %d actors\n", sum.DanglingPosts, sum.DanglingActors)
		fmt.Printf("  tombstones:  %d\n", sum.TombstonesInserted)
		fmt.Printf("  deletion rate: %.2f%%\n", sum.DeletionRate*100)
		printCounts("  anomalies:", sum.Anomalies)
	}
	printCounts("  stored anomalies:", stored)
	return 0
}

func (a *app) cmdDangling(args []string) int {
	id, rest := firstArg(args)
	flags := flag.NewFlagSet("dangling", flag.ContinueOnError)
	actors := flags.Bool("actors", false, "list dangling actors instead of posts")
	limit := flags.Int("limit", 100, "max rows")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(rest); err != nil {
		return 1
	}

	r, err := a.resolveRun(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: dangling: %v\n", err)
		return 1
	}
	nPosts, nActors, err := a.ledger.CountDangling(r.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: dangling: %v\n", err)
		return 1
	}

	if *actors {
		list, err := a.ledger.ListDanglingActors(r.ID, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skylog: dangling: %v\n", err)
			return 1
		}
		if *jsonOut {
			printJSON(map[string]any{"run": r.ID, "actors": list, "total": nActors})
			return 0
		}
		for _, act := range list {
			fmt.Println(act)
		}
		fmt.Fprintf(os.Stderr, "%d of %d dangling actors\n", len(list), nActors)
		return 0
	}

	list, err := a.ledger.ListDanglingPosts(r.ID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: dangling: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(map[string]any{"run": r.ID, "posts": list, "total": nPosts})
		return 0
	}
	for _, p := range list {
		if p.Placed {
			fmt.Printf("[ts=%d] %s\n", p.TS, p.URI)
		} else {
			fmt.Printf("[unplaceable] %s\n", p.URI)
		}
	}
	fmt.Fprintf(os.Stderr, "%d of %d dangling posts\n", len(list), nPosts)
	return 0
}

func (a *app) cmdAnomalies(args []string) int {
	id, rest := firstArg(args)
	flags := flag.NewFlagSet("anomalies", flag.ContinueOnError)
	kind := flags.String("kind", "", "filter by kind, e.g. malformed_container")
	limit := flags.Int("limit", 100, "max rows")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(rest); err != nil {
		return 1
	}

	r, err := a.resolveRun(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: anomalies: %v\n", err)
		return 1
	}
	list, err := a.ledger.ListAnomalies(r.ID, *kind, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: anomalies: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]any{"run": r.ID, "anomalies": list, "count": len(list)})
		return 0
	}
	if len(list) == 0 {
		fmt.Println("no anomalies")
		return 0
	}
	for _, an := range list {
		fmt.Printf("%-24s %s: %s\n", an.Kind, an.Source, an.Detail)
	}
	return 0
}

func (a *app) cmdForget(args []string) int {
	flags := flag.NewFlagSet("forget", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: skylog forget <run>")
		return 1
	}
	r, err := a.resolveRun(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: forget: %v\n", err)
		return 1
	}
	if err := a.ledger.DeleteRun(r.ID); err != nil {
		fmt.Fprintf(os.Stderr, "skylog: forget: %v\n", err)
		return 1
	}
	fmt.Printf("forgot run %s\n", r.ID)
	return 0
}

func sortedKeys[N int | int64](m map[string]N) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
