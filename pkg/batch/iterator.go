package batch

import (
	"errors"
	"time"

	"github.com/daviddao/skylog/pkg/model"
)

// Iterator yields the records of a batch directory one at a time, in
// batch then in-batch order. It is the read interface offered to consumers
// of the rebuilt log.
//
//	it := st.Iterator(batch.Until(cutoff))
//	for it.Next() {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	st    *Store
	until int64
	bound bool

	seqs   []int
	listed bool
	cur    []model.Record
	pos    int
	rec    model.Record
	err    error
	done   bool
	batch  int

	onMalformed func(*model.Anomaly)
}

// IterOption configures an Iterator.
type IterOption func(*Iterator)

// Until stops iteration at the first record whose TS is after t. Because
// the stream is ordered this ends the sequence. A zero t means no cutoff.
func Until(t time.Time) IterOption {
	return func(it *Iterator) {
		if t.IsZero() {
			return
		}
		it.until = t.UnixMilli()
		it.bound = true
	}
}

// UntilMillis is Until for a canonical TS value.
func UntilMillis(ms int64) IterOption {
	return func(it *Iterator) {
		it.until = ms
		it.bound = true
	}
}

// SkipMalformed makes unparseable batch files non-fatal: each is reported
// to fn and iteration continues with the next batch.
func SkipMalformed(fn func(*model.Anomaly)) IterOption {
	return func(it *Iterator) { it.onMalformed = fn }
}

// Iterator returns a forward iterator over every batch in the store.
func (s *Store) Iterator(opts ...IterOption) *Iterator {
	it := &Iterator{st: s, batch: -1}
	for _, o := range opts {
		o(it)
	}
	return it
}

// Next advances to the next record. It returns false at the end of the
// log, at the cutoff, or on error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if !it.listed {
		seqs, err := it.st.Seqs()
		if err != nil {
			return it.fail(err)
		}
		it.seqs = seqs
		it.listed = true
	}
	for it.pos >= len(it.cur) {
		if len(it.seqs) == 0 {
			it.done = true
			return false
		}
		b, err := it.st.Read(it.seqs[0])
		it.seqs = it.seqs[1:]
		if err != nil {
			var a *model.Anomaly
			if it.onMalformed != nil && errors.As(err, &a) {
				it.onMalformed(a)
				continue
			}
			return it.fail(err)
		}
		it.cur, it.pos, it.batch = b.Records, 0, b.Seq
	}
	rec := it.cur[it.pos]
	if it.bound && rec.TS > it.until {
		it.done = true
		return false
	}
	it.pos++
	it.rec = rec
	return true
}

func (it *Iterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

// Record returns the current record.
func (it *Iterator) Record() model.Record { return it.rec }

// Batch returns the number of the batch holding the current record.
func (it *Iterator) Batch() int { return it.batch }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }
