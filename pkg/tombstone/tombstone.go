// Package tombstone turns dangling post references into placeholder
// records and merges them into the ordered log.
//
// A tombstone takes its TS from its own record key, so it lands where the
// missing post was created. Dangling posts whose key does not decode
// cannot be placed; they stay in the dangling set for reporting only.
package tombstone

import (
	"sort"

	"github.com/daviddao/skylog/pkg/aturi"
	"github.com/daviddao/skylog/pkg/clock"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/universe"
)

// Plan is the output of Synthesize.
type Plan struct {
	Tombstones  []model.Record // sorted by (TS, RecordID)
	Unplaceable []string       // dangling posts without a decodable key, ascending
}

// Synthesize builds one tombstone per placeable member of dangling.
func Synthesize(dangling universe.Set) (Plan, error) {
	var p Plan
	err := dangling.Each(func(uri string) error {
		if t, ok := newTombstone(uri); ok {
			p.Tombstones = append(p.Tombstones, t)
		} else {
			p.Unplaceable = append(p.Unplaceable, uri)
		}
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	Sort(p.Tombstones)
	return p, nil
}

func newTombstone(uri string) (model.Record, bool) {
	actor, err := aturi.Actor(uri)
	if err != nil {
		return model.Record{}, false
	}
	ts, err := clock.FromURI(uri)
	if err != nil {
		return model.Record{}, false
	}
	return model.NewTombstone(actor, uri, ts), true
}

// Sort orders tombstones by TS, then identifier.
func Sort(ts []model.Record) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].TS != ts[j].TS {
			return ts[i].TS < ts[j].TS
		}
		return ts[i].RecordID < ts[j].RecordID
	})
}
