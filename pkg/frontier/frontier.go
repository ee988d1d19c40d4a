// Package frontier tracks how far an ordered batch sequence has progressed
// in time.
//
// Each batch has a low and high watermark (its smallest and largest TS).
// A sequence is ordered when every record's TS is >= the TS of the record
// before it, across batch boundaries too. An inversion is a record whose
// TS is below the running frontier, the highest TS seen so far; it marks a
// record displaced by more than the reorder capacity.
//
// The functions here are pure over model types, and the Tracker gives the
// same answers incrementally for streams too large to hold.
package frontier

import "github.com/daviddao/skylog/pkg/model"

// Watermark describes one batch.
type Watermark struct {
	Batch      int   `json:"batch"`
	Records    int   `json:"records"`
	Tombstones int   `json:"tombstones"`
	Low        int64 `json:"low"`
	High       int64 `json:"high"`
}

// Inversion is one record found behind the frontier.
type Inversion struct {
	Batch    int    `json:"batch"`
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	TS       int64  `json:"ts"`
	Frontier int64  `json:"frontier"`
}

// maxListed caps the inversions kept in a Status.
const maxListed = 50

// Status is the result of an ordering check over a batch sequence.
type Status struct {
	Ordered    bool        `json:"ordered"`
	Batches    []Watermark `json:"batches"`
	Records    int         `json:"records"`
	Tombstones int         `json:"tombstones"`
	Frontier   int64       `json:"frontier"`
	Inversions int         `json:"inversions"`
	// Overlaps counts adjacent batch pairs whose ranges overlap, i.e. a
	// batch whose low watermark is below the previous batch's high.
	Overlaps int         `json:"overlaps"`
	Behind   []Inversion `json:"behind,omitempty"`
}

// ComputeWatermark returns the watermark of b.
func ComputeWatermark(b model.Batch) Watermark {
	w := Watermark{Batch: b.Seq, Records: len(b.Records)}
	w.Low, w.High, _ = b.Bounds()
	for i := range b.Records {
		if b.Records[i].IsTombstone() {
			w.Tombstones++
		}
	}
	return w
}

// ComputeStatus checks a whole batch sequence.
func ComputeStatus(batches []model.Batch) Status {
	var t Tracker
	for _, b := range batches {
		t.ObserveBatch(b)
	}
	return t.Status()
}

// Tracker computes Status incrementally, batch by batch. The zero value is
// ready to use.
type Tracker struct {
	status  Status
	started bool
	prevHi  int64
	hasPrev bool
}

// ObserveBatch folds b into the status.
func (t *Tracker) ObserveBatch(b model.Batch) {
	w := ComputeWatermark(b)
	if w.Records > 0 {
		if t.hasPrev && w.Low < t.prevHi {
			t.status.Overlaps++
		}
		t.prevHi, t.hasPrev = w.High, true
	}
	for i := range b.Records {
		t.observe(b.Seq, i, &b.Records[i])
	}
	t.status.Batches = append(t.status.Batches, w)
	t.status.Tombstones += w.Tombstones
}

func (t *Tracker) observe(seq, idx int, r *model.Record) {
	t.status.Records++
	if !t.started {
		t.status.Frontier, t.started = r.TS, true
		return
	}
	if r.TS < t.status.Frontier {
		t.status.Inversions++
		if len(t.status.Behind) < maxListed {
			t.status.Behind = append(t.status.Behind, Inversion{
				Batch: seq, Index: idx, RecordID: r.RecordID, TS: r.TS, Frontier: t.status.Frontier,
			})
		}
		return
	}
	t.status.Frontier = r.TS
}

// Status returns the result so far.
func (t *Tracker) Status() Status {
	s := t.status
	s.Ordered = s.Inversions == 0
	return s
}
