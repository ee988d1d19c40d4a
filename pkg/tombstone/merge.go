package tombstone

import (
	"errors"
	"fmt"

	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
)

// Merger interleaves sorted tombstones into an ordered record stream.
//
// Before each original record with timestamp ts, every pending tombstone
// in (previous ts, ts] is emitted. The cursor survives across Merge calls,
// so a tombstone due between the last record of one batch and the first of
// the next lands at the start of the next batch. Tombstones after the last
// record are returned by Finish.
type Merger struct {
	pending  []model.Record
	next     int
	prevTS   int64
	inserted int
}

// NewMerger returns a merger over tombstones, which must be sorted.
func NewMerger(tombstones []model.Record) *Merger {
	return &Merger{pending: tombstones}
}

// Merge returns recs with due tombstones inserted.
func (m *Merger) Merge(recs []model.Record) []model.Record {
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		for m.next < len(m.pending) && m.pending[m.next].TS <= r.TS {
			out = append(out, m.pending[m.next])
			m.next++
			m.inserted++
		}
		out = append(out, r)
		m.prevTS = r.TS
	}
	return out
}

// Finish returns the tombstones that fall after every merged record.
func (m *Merger) Finish() []model.Record {
	rest := m.pending[m.next:]
	m.inserted += len(rest)
	m.next = len(m.pending)
	return rest
}

// Inserted returns how many tombstones have been emitted so far.
func (m *Merger) Inserted() int { return m.inserted }

// LastTS returns the timestamp of the last original record merged.
func (m *Merger) LastTS() int64 { return m.prevTS }

// Result summarizes Reinsert.
type Result struct {
	Batches  int // output batches written, including the trailing one
	Inserted int
	Trailing int // tombstones placed after the last original record
	Skipped  int // input batches that could not be read
}

// ReinsertOptions are the optional hooks of Reinsert.
type ReinsertOptions struct {
	Log *logger.Logger
	// OnSkip receives each unreadable input batch.
	OnSkip func(*model.Anomaly)
	// OnBatch sees each output batch after it is written.
	OnBatch func(model.Batch)
}

// Reinsert copies every batch of src to dst in order with tombstones
// merged in. Batch numbers are kept; trailing tombstones become one extra
// batch. Unreadable input batches are skipped. Any write failure aborts.
func Reinsert(src, dst *batch.Store, tombstones []model.Record, opts ReinsertOptions) (Result, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("tombstone")
	emit := func(b model.Batch) error {
		if err := dst.Write(b); err != nil {
			return err
		}
		if opts.OnBatch != nil {
			opts.OnBatch(b)
		}
		return nil
	}
	seqs, err := src.Seqs()
	if err != nil {
		return Result{}, err
	}
	m := NewMerger(tombstones)
	var res Result
	trailingSeq := 0
	if len(seqs) > 0 {
		trailingSeq = seqs[len(seqs)-1] + 1
	}
	for _, seq := range seqs {
		b, err := src.Read(seq)
		if err != nil {
			var a *model.Anomaly
			if !errors.As(err, &a) {
				return res, err
			}
			res.Skipped++
			log.Warnw("batch skipped", "batch", seq, "err", a)
			if opts.OnSkip != nil {
				opts.OnSkip(a)
			}
			continue
		}
		before := m.Inserted()
		out := model.Batch{Seq: seq, Records: m.Merge(b.Records)}
		if err := emit(out); err != nil {
			return res, err
		}
		res.Batches++
		log.Debugw("batch merged", "batch", seq, "records", len(b.Records), "tombstones", m.Inserted()-before)
	}
	if rest := m.Finish(); len(rest) > 0 {
		if err := emit(model.Batch{Seq: trailingSeq, Records: rest}); err != nil {
			return res, fmt.Errorf("write trailing tombstones: %w", err)
		}
		res.Batches++
		res.Trailing = len(rest)
	}
	res.Inserted = m.Inserted()
	return res, nil
}
