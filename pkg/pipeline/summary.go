package pipeline

import (
	"time"

	"github.com/daviddao/skylog/pkg/model"
)

// Summary describes one rebuild.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Shards        int `json:"shards"`
	SkippedFiles  int `json:"skipped_files"`
	BatchCapacity int `json:"batch_capacity"`

	RecordsRead         int `json:"records_read"`
	MalformedRecords    int `json:"malformed_records"`
	UnresolvableRecords int `json:"unresolvable_records"`
	RecordsOrdered      int `json:"records_ordered"`
	TempBatches         int `json:"temp_batches"`
	PeakInFlight        int `json:"peak_in_flight"`
	OrderingInversions  int `json:"ordering_inversions"`

	KnownActors        int `json:"known_actors"`
	KnownPosts         int `json:"known_posts"`
	DanglingPosts      int `json:"dangling_posts"`
	DanglingActors     int `json:"dangling_actors"`
	UnplaceablePosts   int `json:"unplaceable_posts"`
	InvalidIdentifiers int `json:"invalid_identifiers"`

	TombstonesInserted int `json:"tombstones_inserted"`
	TrailingTombstones int `json:"trailing_tombstones"`
	OutputBatches      int `json:"output_batches"`
	SkippedBatches     int `json:"skipped_batches"`
	OutputInversions   int `json:"output_inversions"`
	OutputOverlaps     int `json:"output_overlaps"`

	PostOverlap  int     `json:"post_overlap"`
	ActorOverlap int     `json:"actor_overlap"`
	DeletionRate float64 `json:"deletion_rate"`

	Anomalies map[string]int `json:"anomalies,omitempty"`
}

// Duration returns the wall time of the run.
func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Consistent reports whether the validator found no overlap.
func (s Summary) Consistent() bool { return s.PostOverlap == 0 && s.ActorOverlap == 0 }

// anomalyLog counts anomalies by kind and keeps the first limit of them
// for the ledger.
type anomalyLog struct {
	limit  int
	counts map[string]int
	kept   []*model.Anomaly
}

func newAnomalyLog(limit int) *anomalyLog {
	return &anomalyLog{limit: limit, counts: make(map[string]int)}
}

func (l *anomalyLog) add(a *model.Anomaly) {
	l.counts[model.KindName(a)]++
	if len(l.kept) < l.limit {
		l.kept = append(l.kept, a)
	}
}
