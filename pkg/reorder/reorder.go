// Package reorder turns the skewed shard stream into time-ordered batches
// in bounded memory.
//
// Records are pushed into a min-heap keyed by (TS, ingestion sequence).
// Once the heap holds 2B records the B smallest are flushed as the next
// batch; at end of input the rest is drained in batches of up to B. Peak
// memory is therefore 2B records. Output is globally ordered as long as no
// record is displaced by B or more positions in the input; larger skew
// degrades ordering silently.
package reorder

import (
	"errors"
	"fmt"

	"github.com/daviddao/skylog/pkg/clock"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
)

// FlushFunc receives each batch in batch-number order. An error aborts
// the run.
type FlushFunc func(b model.Batch) error

// Stats counts what the engine did with its input.
type Stats struct {
	Read         int // records offered, including malformed ones
	Malformed    int // skipped as MalformedContainer
	Dropped      int // dropped as UnresolvableTimestamp
	Ordered      int // records emitted in batches
	Batches      int
	PeakInFlight int
	LastTS       int64 // TS of the last emitted record
	Inversions   int   // emitted records older than their predecessor
}

// Engine is the bounded reorder engine. Not goroutine-safe: exactly one
// reader feeds it, which keeps sequence assignment a function of input
// order.
type Engine struct {
	capacity int
	flush    FlushFunc
	resolve  func(*model.Record) (int64, error)
	log      *logger.Logger

	seq     clock.Sequence
	q       queue
	stats   Stats
	started bool
	onSkip  func(*model.Anomaly)
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver replaces clock.Resolve as the timestamp source.
func WithResolver(fn func(*model.Record) (int64, error)) Option {
	return func(e *Engine) { e.resolve = fn }
}

// WithLogger sets the logger used for skipped records and flushes.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l.WithComponent("reorder") }
}

// OnSkip registers a callback for every dropped or malformed record.
func OnSkip(fn func(*model.Anomaly)) Option {
	return func(e *Engine) { e.onSkip = fn }
}

// New returns an engine emitting batches of capacity records.
func New(capacity int, flush FlushFunc, opts ...Option) (*Engine, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("reorder: batch capacity must be >= 1, got %d", capacity)
	}
	if flush == nil {
		return nil, errors.New("reorder: nil flush func")
	}
	e := &Engine{
		capacity: capacity,
		flush:    flush,
		resolve:  clock.Resolve,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.q = make(queue, 0, 2*capacity)
	return e, nil
}

// Capacity returns B.
func (e *Engine) Capacity() int { return e.capacity }

// InFlight returns the number of records currently held.
func (e *Engine) InFlight() int { return e.q.Len() }

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats { return e.stats }

// Push resolves rec's timestamp and admits it. Records whose timestamp
// cannot be resolved are dropped and counted; the returned error is
// non-nil only when a flush fails.
func (e *Engine) Push(rec model.Record, source string) error {
	e.stats.Read++
	ts, err := e.resolve(&rec)
	if err != nil {
		e.stats.Dropped++
		e.skip(model.NewAnomaly(model.ErrUnresolvableTimestamp, source, "record dropped from ordering", err))
		return nil
	}
	rec.TS = ts
	e.q.push(entry{rec: rec, seq: e.seq.Tick()})
	if n := e.q.Len(); n > e.stats.PeakInFlight {
		e.stats.PeakInFlight = n
	}
	if e.q.Len() >= 2*e.capacity {
		return e.emit(e.q.popN(e.capacity))
	}
	return nil
}

// Skip records a malformed input item that never became a record.
func (e *Engine) Skip(a *model.Anomaly) {
	e.stats.Read++
	e.stats.Malformed++
	e.skip(a)
}

func (e *Engine) skip(a *model.Anomaly) {
	e.log.Warnw("record skipped", "kind", model.KindName(a), "source", a.Source, "err", a.Err)
	if e.onSkip != nil {
		e.onSkip(a)
	}
}

// Drain flushes everything still held in batches of up to B.
func (e *Engine) Drain() error {
	for e.q.Len() > 0 {
		if err := e.emit(e.q.popN(e.capacity)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emit(recs []model.Record) error {
	for _, r := range recs {
		if e.started && r.TS < e.stats.LastTS {
			e.stats.Inversions++
		}
		e.stats.LastTS = r.TS
		e.started = true
	}
	b := model.Batch{Seq: e.stats.Batches, Records: recs}
	if err := e.flush(b); err != nil {
		return fmt.Errorf("flush batch %d: %w", b.Seq, err)
	}
	e.stats.Batches++
	e.stats.Ordered += len(recs)
	lo, hi, _ := b.Bounds()
	e.log.Debugw("batch flushed", "batch", b.Seq, "records", len(recs), "lo", lo, "hi", hi, "in_flight", e.q.Len())
	return nil
}
