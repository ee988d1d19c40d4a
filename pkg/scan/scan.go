// Package scan walks the ordered log once, forward, and finds references
// to posts and actors that have not been seen.
//
// An identifier becomes known at the moment its defining record is
// scanned, never before. A reference to a post or actor that appears later
// in the log is therefore reported as dangling even though it exists. This
// approximation is accepted: avoiding it needs an unbounded look-ahead, and
// the consistency check reports how often it happened.
package scan

import (
	"github.com/daviddao/skylog/pkg/aturi"
	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/universe"
)

// Stats counts what the scan saw.
type Stats struct {
	Records            int
	References         int // post references checked
	ActorReferences    int // follow subjects checked
	InvalidIdentifiers int
}

// Scanner owns the universe for the duration of the scan. Not
// goroutine-safe.
type Scanner struct {
	u         *universe.Universe
	log       *logger.Logger
	onAnomaly func(*model.Anomaly)
	stats     Stats
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for invalid identifiers.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scanner) { s.log = l.WithComponent("scan") }
}

// OnAnomaly registers a callback for each invalid identifier and each
// skipped batch.
func OnAnomaly(fn func(*model.Anomaly)) Option {
	return func(s *Scanner) { s.onAnomaly = fn }
}

// New returns a scanner filling u.
func New(u *universe.Universe, opts ...Option) *Scanner {
	s := &Scanner{u: u, log: logger.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Universe returns the sets being built.
func (s *Scanner) Universe() *universe.Universe { return s.u }

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Stats { return s.stats }

// Run scans every record of st in order. Unreadable batch files are
// skipped and reported to the anomaly callback.
func (s *Scanner) Run(st *batch.Store) error {
	it := st.Iterator(batch.SkipMalformed(func(a *model.Anomaly) {
		s.log.Warnw("batch skipped", "source", a.Source, "err", a.Err)
		if s.onAnomaly != nil {
			s.onAnomaly(a)
		}
	}))
	for it.Next() {
		rec := it.Record()
		if err := s.Observe(&rec); err != nil {
			return err
		}
	}
	return it.Err()
}

// Observe processes one record: its own actor and post become known, then
// each outbound reference is checked. The returned error is a storage
// failure of the universe, never a data problem.
func (s *Scanner) Observe(rec *model.Record) error {
	s.stats.Records++
	if rec.ActorID != "" {
		if _, err := s.u.KnownActors.Add(rec.ActorID); err != nil {
			return err
		}
	}
	if rec.Kind == model.KindPost && !rec.Deleted && rec.RecordID != "" {
		if _, err := s.u.KnownPosts.Add(rec.RecordID); err != nil {
			return err
		}
	}

	for _, ref := range rec.References() {
		if err := s.checkPost(ref, rec); err != nil {
			return err
		}
	}
	if rec.Kind == model.KindFollow {
		return s.checkActor(rec.Subject, rec)
	}
	return nil
}

func (s *Scanner) checkPost(uri string, from *model.Record) error {
	s.stats.References++
	u, err := aturi.Parse(uri)
	if err != nil {
		s.invalid(uri, from, err)
		return nil
	}
	known, err := s.u.KnownPosts.Has(uri)
	if err != nil {
		return err
	}
	if !known {
		if _, err := s.u.DanglingPosts.Add(uri); err != nil {
			return err
		}
	}
	return s.markActor(u.Actor)
}

func (s *Scanner) checkActor(actor string, from *model.Record) error {
	s.stats.ActorReferences++
	if actor == "" {
		s.invalid(actor, from, nil)
		return nil
	}
	return s.markActor(actor)
}

func (s *Scanner) markActor(actor string) error {
	known, err := s.u.KnownActors.Has(actor)
	if err != nil || known {
		return err
	}
	_, err = s.u.DanglingActors.Add(actor)
	return err
}

func (s *Scanner) invalid(id string, from *model.Record, cause error) {
	s.stats.InvalidIdentifiers++
	a := model.NewAnomaly(model.ErrInvalidIdentifier, id, "reference excluded from dangling detection (from "+from.RecordID+")", cause)
	s.log.Warnw("invalid identifier", "id", id, "from", from.RecordID, "kind", from.Kind.Short(), "err", cause)
	if s.onAnomaly != nil {
		s.onAnomaly(a)
	}
}
