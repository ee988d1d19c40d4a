// Package pipeline runs a complete rebuild:
//
//	shards -> reorder -> temp batches -> scan -> tombstones + merge
//	       -> output batches -> validate
//
// Each phase owns its state and hands its result to the next; nothing is
// shared between runs. A run always starts from empty temp and output
// directories. On failure the output directory is removed, because a
// partial log with gaps is unsafe to consume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/skylog/pkg/aturi"
	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/config"
	"github.com/daviddao/skylog/pkg/frontier"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/metrics"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/reorder"
	"github.com/daviddao/skylog/pkg/scan"
	"github.com/daviddao/skylog/pkg/shard"
	"github.com/daviddao/skylog/pkg/store"
	"github.com/daviddao/skylog/pkg/tombstone"
	"github.com/daviddao/skylog/pkg/universe"
	"github.com/daviddao/skylog/pkg/validate"
)

// maxStoredAnomalies caps the anomalies written to the ledger per run.
// Counts are always complete.
const maxStoredAnomalies = 10000

// Pipeline is one configured rebuild.
type Pipeline struct {
	cfg     config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	ledger  store.Ledger
	now     func() time.Time
	newID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithMetrics sets the metrics sink. Without it metrics are still
// collected but not written anywhere.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLedger records the run in l.
func WithLedger(l store.Ledger) Option { return func(p *Pipeline) { p.ledger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option { return func(p *Pipeline) { p.newID = func() string { return id } } }

// New validates cfg and returns a pipeline.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &Pipeline{
		cfg:     cfg,
		log:     logger.Nop(),
		metrics: metrics.New(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// run carries the state of one execution.
type run struct {
	*Pipeline
	log       *logger.Logger
	sum       Summary
	anomalies *anomalyLog
	temp      *batch.Store
	out       *batch.Store
	u         *universe.Universe
	plan      tombstone.Plan
}

// Run executes the rebuild. The summary is returned even on error, with
// whatever was counted before the failure.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	r := &run{
		Pipeline:  p,
		anomalies: newAnomalyLog(maxStoredAnomalies),
	}
	r.sum.RunID = p.newID()
	r.sum.StartedAt = p.now().UTC()
	r.sum.BatchCapacity = p.cfg.BatchSize
	r.log = p.log.With("run", r.sum.RunID)
	log := r.log

	if p.ledger != nil {
		cfgJSON, _ := model.JSON.MarshalToString(p.cfg)
		if err := p.ledger.BeginRun(r.sum.RunID, r.sum.StartedAt, cfgJSON); err != nil {
			return r.sum, fmt.Errorf("record run: %w", err)
		}
	}
	log.Infow("rebuild started", "input", p.cfg.InputDir, "output", p.cfg.OutputDir, "batch_size", p.cfg.BatchSize)

	err := r.execute(ctx)
	r.sum.FinishedAt = p.now().UTC()
	r.sum.Anomalies = r.anomalies.counts
	if lerr := r.record(err); lerr != nil {
		log.Errorw("ledger write failed", "err", lerr)
		if err == nil {
			err = lerr
		}
	}
	r.cleanup(err)
	r.publishMetrics(err)

	if err != nil {
		log.Errorw("rebuild failed", "err", err, "elapsed", r.sum.Duration())
		return r.sum, err
	}
	log.Infow("rebuild finished",
		"records_ordered", r.sum.RecordsOrdered,
		"dangling_posts", r.sum.DanglingPosts,
		"dangling_actors", r.sum.DanglingActors,
		"tombstones", r.sum.TombstonesInserted,
		"deletion_rate", fmt.Sprintf("%.2f%%", r.sum.DeletionRate*100),
		"elapsed", r.sum.Duration(),
	)
	return r.sum, nil
}

func (r *run) execute(ctx context.Context) error {
	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"prepare", r.prepare},
		{"reorder", r.reorder},
		{"scan", r.scan},
		{"reinsert", r.reinsert},
		{"validate", r.validate},
	}
	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := ph.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", ph.name, err)
		}
		d := time.Since(start)
		r.metrics.ObservePhase(ph.name, d)
		r.log.Debugw("phase done", "phase", ph.name, "elapsed", d)
	}
	return nil
}

func (r *run) prepare(context.Context) error {
	var err error
	if r.temp, err = batch.Open(r.cfg.TempDir, r.cfg.Compress); err != nil {
		return err
	}
	if r.out, err = batch.Open(r.cfg.OutputDir, r.cfg.Compress); err != nil {
		return err
	}
	if err := r.temp.Reset(); err != nil {
		return err
	}
	return r.out.Reset()
}

func (r *run) reorder(ctx context.Context) error {
	end, err := r.cfg.End()
	if err != nil {
		return err
	}
	shards, skipped, err := shard.List(r.cfg.InputDir, end)
	if err != nil {
		return err
	}
	for _, a := range skipped {
		r.log.Warnw("file skipped", "file", a.Source, "reason", a.Detail)
		r.anomalies.add(a)
	}
	r.sum.Shards, r.sum.SkippedFiles = len(shards), len(skipped)
	r.log.Infow("reordering", "shards", len(shards), "end_date", r.cfg.EndDate)

	eng, err := reorder.New(r.cfg.BatchSize, r.temp.Write,
		reorder.WithLogger(r.log),
		reorder.OnSkip(r.anomalies.add),
	)
	if err != nil {
		return err
	}
	err = shard.Stream(ctx, shards, r.cfg.ReadAhead, func(it shard.Item) error {
		if it.Err != nil {
			eng.Skip(it.Err)
			return nil
		}
		return eng.Push(it.Record, it.Source)
	})
	if err == nil {
		err = eng.Drain()
	}

	st := eng.Stats()
	r.sum.RecordsRead = st.Read
	r.sum.MalformedRecords = st.Malformed
	r.sum.UnresolvableRecords = st.Dropped
	r.sum.RecordsOrdered = st.Ordered
	r.sum.TempBatches = st.Batches
	r.sum.PeakInFlight = st.PeakInFlight
	r.sum.OrderingInversions = st.Inversions
	return err
}

func (r *run) scan(context.Context) error {
	var err error
	switch r.cfg.Universe {
	case config.UniverseBolt:
		r.u, err = universe.OpenBolt(r.cfg.BoltPath(), universe.WithNoSync(true))
		if err != nil {
			return err
		}
	default:
		r.u = universe.NewMemory()
	}

	sc := scan.New(r.u, scan.WithLogger(r.log), scan.OnAnomaly(r.anomalies.add))
	if err := sc.Run(r.temp); err != nil {
		return err
	}
	r.sum.InvalidIdentifiers = sc.Stats().InvalidIdentifiers
	r.sum.KnownActors = r.u.KnownActors.Len()
	r.sum.KnownPosts = r.u.KnownPosts.Len()
	r.sum.DanglingPosts = r.u.DanglingPosts.Len()
	r.sum.DanglingActors = r.u.DanglingActors.Len()
	r.log.Infow("scan done",
		"known_actors", r.sum.KnownActors, "known_posts", r.sum.KnownPosts,
		"dangling_posts", r.sum.DanglingPosts, "dangling_actors", r.sum.DanglingActors)
	return nil
}

func (r *run) reinsert(context.Context) error {
	plan, err := tombstone.Synthesize(r.u.DanglingPosts)
	if err != nil {
		return err
	}
	r.plan = plan
	r.sum.UnplaceablePosts = len(plan.Unplaceable)
	for _, uri := range plan.Unplaceable {
		r.log.Debugw("dangling post cannot be placed", "uri", uri)
	}

	var tracker frontier.Tracker
	res, err := tombstone.Reinsert(r.temp, r.out, plan.Tombstones, tombstone.ReinsertOptions{
		Log:     r.log,
		OnSkip:  r.anomalies.add,
		OnBatch: tracker.ObserveBatch,
	})
	st := tracker.Status()
	r.sum.TombstonesInserted = res.Inserted
	r.sum.TrailingTombstones = res.Trailing
	r.sum.OutputBatches = res.Batches
	r.sum.SkippedBatches = res.Skipped
	r.sum.OutputInversions = st.Inversions
	r.sum.OutputOverlaps = st.Overlaps
	return err
}

func (r *run) validate(context.Context) error {
	rep, err := validate.Check(r.u, r.log)
	if err != nil {
		return err
	}
	for _, a := range rep.Violations() {
		r.anomalies.add(a)
	}
	r.sum.PostOverlap = rep.PostOverlap
	r.sum.ActorOverlap = rep.ActorOverlap
	r.sum.DeletionRate = rep.DeletionRate
	return nil
}

// cleanup closes run resources. The temp directory goes unless keep_temp
// is set; the output directory goes if the run failed.
func (r *run) cleanup(runErr error) {
	for _, st := range []*batch.Store{r.temp, r.out} {
		if st != nil {
			_ = st.Close()
		}
	}
	if r.u != nil {
		if err := r.u.Close(); err != nil {
			r.log.Warnw("close universe", "err", err)
		}
		if r.cfg.Universe == config.UniverseBolt {
			if err := os.Remove(r.cfg.BoltPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.log.Warnw("remove universe file", "err", err)
			}
		}
	}
	if r.temp != nil && !r.cfg.KeepTemp {
		if err := r.temp.Remove(); err != nil {
			r.log.Warnw("remove temp dir", "err", err)
		}
	}
	if runErr != nil && r.out != nil {
		if err := r.out.Remove(); err != nil {
			r.log.Warnw("remove partial output", "err", err)
		}
	}
}

// record writes the run outcome to the ledger.
func (r *run) record(runErr error) error {
	if r.ledger == nil {
		return nil
	}
	id := r.sum.RunID
	if runErr == nil {
		if err := r.recordDangling(); err != nil {
			return err
		}
	}
	if err := r.ledger.InsertAnomalies(id, r.anomalies.kept); err != nil {
		return fmt.Errorf("record anomalies: %w", err)
	}
	summary, err := model.JSON.MarshalToString(r.sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return r.ledger.FinishRun(id, r.sum.FinishedAt, summary, runErr)
}

func (r *run) recordDangling() error {
	posts := make([]model.DanglingPost, 0, len(r.plan.Tombstones)+len(r.plan.Unplaceable))
	for _, t := range r.plan.Tombstones {
		posts = append(posts, model.DanglingPost{URI: t.RecordID, Actor: t.ActorID, TS: t.TS, Placed: true})
	}
	for _, uri := range r.plan.Unplaceable {
		actor, _ := aturi.Actor(uri)
		posts = append(posts, model.DanglingPost{URI: uri, Actor: actor})
	}
	if err := r.ledger.InsertDanglingPosts(r.sum.RunID, posts); err != nil {
		return fmt.Errorf("record dangling posts: %w", err)
	}
	actors, err := universe.Members(r.u.DanglingActors)
	if err != nil {
		return err
	}
	if err := r.ledger.InsertDanglingActors(r.sum.RunID, actors); err != nil {
		return fmt.Errorf("record dangling actors: %w", err)
	}
	return nil
}

func (r *run) publishMetrics(runErr error) {
	m, s := r.metrics, r.sum
	m.BatchCapacity.Set(float64(s.BatchCapacity))
	m.RecordsRead.Add(float64(s.RecordsRead))
	m.RecordsOrdered.Add(float64(s.RecordsOrdered))
	for kind, n := range s.Anomalies {
		m.Anomalies.WithLabelValues(kind).Add(float64(n))
	}
	m.Batches.WithLabelValues("temp").Add(float64(s.TempBatches))
	m.Batches.WithLabelValues("output").Add(float64(s.OutputBatches))
	m.Tombstones.Add(float64(s.TombstonesInserted))
	m.PeakInFlight.Set(float64(s.PeakInFlight))
	m.Universe.WithLabelValues("known_actors").Set(float64(s.KnownActors))
	m.Universe.WithLabelValues("known_posts").Set(float64(s.KnownPosts))
	m.Universe.WithLabelValues("dangling_posts").Set(float64(s.DanglingPosts))
	m.Universe.WithLabelValues("dangling_actors").Set(float64(s.DanglingActors))
	m.Overlap.WithLabelValues("posts").Set(float64(s.PostOverlap))
	m.Overlap.WithLabelValues("actors").Set(float64(s.ActorOverlap))
	m.Inversions.Set(float64(s.OrderingInversions))
	m.DeletionRate.Set(s.DeletionRate)
	if runErr == nil {
		m.LastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
	if r.cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(r.cfg.MetricsFile); err != nil {
		r.log.Warnw("write metrics textfile", "path", r.cfg.MetricsFile, "err", err)
	}
}
