// Package validate checks that the known and dangling sets of a finished
// scan are disjoint. Overlap is reported, never fatal.
package validate

import (
	"fmt"

	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/universe"
)

// sampleSize caps how many overlapping identifiers a report carries.
const sampleSize = 20

// Report is the outcome of Check.
type Report struct {
	KnownPosts     int
	DanglingPosts  int
	KnownActors    int
	DanglingActors int

	PostOverlap  int
	ActorOverlap int
	PostSample   []string
	ActorSample  []string

	// DeletionRate is dangling / (known + dangling) posts, in [0, 1].
	DeletionRate float64
}

// Consistent reports whether both intersections are empty.
func (r Report) Consistent() bool { return r.PostOverlap == 0 && r.ActorOverlap == 0 }

// Violations returns one ConsistencyViolation anomaly per non-empty
// intersection.
func (r Report) Violations() []*model.Anomaly {
	var out []*model.Anomaly
	if r.PostOverlap > 0 {
		out = append(out, model.NewAnomaly(model.ErrConsistencyViolation, "posts",
			fmt.Sprintf("%d posts are both known and dangling", r.PostOverlap), nil))
	}
	if r.ActorOverlap > 0 {
		out = append(out, model.NewAnomaly(model.ErrConsistencyViolation, "actors",
			fmt.Sprintf("%d actors are both known and dangling", r.ActorOverlap), nil))
	}
	return out
}

// Check computes the report for u and logs any overlap as a warning.
func Check(u *universe.Universe, log *logger.Logger) (Report, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("validate")

	r := Report{
		KnownPosts:     u.KnownPosts.Len(),
		DanglingPosts:  u.DanglingPosts.Len(),
		KnownActors:    u.KnownActors.Len(),
		DanglingActors: u.DanglingActors.Len(),
	}
	if total := r.KnownPosts + r.DanglingPosts; total > 0 {
		r.DeletionRate = float64(r.DanglingPosts) / float64(total)
	}

	posts, err := universe.Intersect(u.KnownPosts, u.DanglingPosts)
	if err != nil {
		return r, fmt.Errorf("intersect posts: %w", err)
	}
	actors, err := universe.Intersect(u.KnownActors, u.DanglingActors)
	if err != nil {
		return r, fmt.Errorf("intersect actors: %w", err)
	}
	r.PostOverlap, r.PostSample = len(posts), sample(posts)
	r.ActorOverlap, r.ActorSample = len(actors), sample(actors)

	for _, a := range r.Violations() {
		log.Warnw("consistency violation", "set", a.Source, "detail", a.Detail)
	}
	if r.PostOverlap > 0 {
		log.Warnw("posts both known and dangling", "sample", r.PostSample)
	}
	if r.ActorOverlap > 0 {
		log.Warnw("actors both known and dangling", "sample", r.ActorSample)
	}
	return r, nil
}

func sample(ids []string) []string {
	if len(ids) > sampleSize {
		return ids[:sampleSize]
	}
	return ids
}
