package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/skylog/pkg/config"
	"github.com/daviddao/skylog/pkg/metrics"
	"github.com/daviddao/skylog/pkg/pipeline"
)

func (a *app) cmdRebuild(args []string) int {
	flags := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	input := flags.String("input", a.cfg.InputDir, "shard directory")
	temp := flags.String("temp", a.cfg.TempDir, "temp batch directory (wiped)")
	output := flags.String("output", a.cfg.OutputDir, "output batch directory (wiped)")
	end := flags.String("end", a.cfg.EndDate, "last shard day to read, YYYY-MM-DD")
	size := flags.Int("batch-size", a.cfg.BatchSize, "records per batch (B)")
	compress := flags.Bool("compress", a.cfg.Compress, "write zstd batches")
	keepTemp := flags.Bool("keep-temp", a.cfg.KeepTemp, "keep the temp batches")
	universe := flags.String("universe", a.cfg.Universe, "entity set backend: memory or bolt")
	metricsFile := flags.String("metrics", a.cfg.MetricsFile, "write Prometheus metrics to this textfile")
	noLedger := flags.Bool("no-ledger", false, "do not record the run")
	strict := flags.Bool("strict", false, "exit 3 when validation finds overlaps")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg := a.cfg
	cfg.InputDir, cfg.TempDir, cfg.OutputDir = *input, *temp, *output
	cfg.EndDate, cfg.BatchSize = *end, *size
	cfg.Compress, cfg.KeepTemp = *compress, *keepTemp
	cfg.Universe, cfg.MetricsFile = *universe, *metricsFile

	opts := []pipeline.Option{
		pipeline.WithLogger(a.log.WithComponent("pipeline")),
		pipeline.WithMetrics(metrics.New()),
	}
	if !*noLedger && cfg.ReportDB != "" {
		l, err := a.openLedger()
		if err != nil {
			fmt.Fprintf(os.Stderr, "skylog: rebuild: %v\n", err)
			return 1
		}
		opts = append(opts, pipeline.WithLedger(l))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: rebuild: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: rebuild: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(sum)
	} else {
		printSummary(sum, cfg)
	}
	if *strict && !sum.Consistent() {
		return exitInconsistent
	}
	return 0
}

func printSummary(s pipeline.Summary, cfg config.Config) {
	fmt.Printf("run %s finished in %s\n", s.RunID, s.Duration().Round(time.Millisecond))
	fmt.Printf("  shards:      %d read, %d skipped\n", s.Shards, s.SkippedFiles)
	fmt.Printf("  records:     %d read, %d ordered, %d malformed, %d unresolvable\n",
		s.RecordsRead, s.RecordsOrdered, s.MalformedRecords, s.UnresolvableRecords)
	fmt.Printf("  reorder:     B=%d, %d batches, peak in flight %d, %d inversions\n",
		s.BatchCapacity, s.TempBatches, s.PeakInFlight, s.OrderingInversions)
	fmt.Printf("  universe:    %d actors, %d posts known\n", s.KnownActors, s.KnownPosts)
	fmt.Printf("  dangling:    %d posts (%d unplaceable), %d actors\n",
		s.DanglingPosts, s.UnplaceablePosts, s.DanglingActors)
	fmt.Printf("  tombstones:  %d inserted, %d trailing\n", s.TombstonesInserted, s.TrailingTombstones)
	fmt.Printf("  output:      %d batches in %s\n", s.OutputBatches, cfg.OutputDir)
	fmt.Printf("  deletion rate: %.2f%%\n", s.DeletionRate*100)
	if s.Consistent() {
		fmt.Println("  validation:  consistent")
	} else {
		fmt.Printf("  validation:  %d posts and %d actors both known and dangling\n", s.PostOverlap, s.ActorOverlap)
	}
	printCounts("  anomalies:", s.Anomalies)
}

// printCounts prints a kind -> count map in stable order.
func printCounts[N int | int64](title string, counts map[string]N) {
	if len(counts) == 0 {
		return
	}
	fmt.Println(title)
	for _, k := range sortedKeys(counts) {
		fmt.Printf("    %-24s %d\n", k, counts[k])
	}
}
