package tombstone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/rkey"
	"github.com/daviddao/skylog/pkg/universe"
)

func uriAt(actor string, ms int64) string {
	return "at://" + actor + "/app.bsky.feed.post/" + rkey.New(ms*1000, 0)
}

func original(ms ...int64) []model.Record {
	var out []model.Record
	for _, v := range ms {
		out = append(out, model.Record{Kind: model.KindLike, ActorID: "did:plc:o", TS: v})
	}
	return out
}

func tsOf(recs []model.Record) []int64 {
	var out []int64
	for _, r := range recs {
		out = append(out, r.TS)
	}
	return out
}

func TestSynthesize(t *testing.T) {
	a := uriAt("did:plc:a", 80)
	b := uriAt("did:plc:b", 20)
	c := uriAt("did:plc:c", 80)
	bad := "at://did:plc:d/app.bsky.feed.post/nope"
	plan, err := Synthesize(universe.NewMemorySet(a, b, c, bad))
	require.NoError(t, err)

	require.Len(t, plan.Tombstones, 3)
	assert.Equal(t, []int64{20, 80, 80}, tsOf(plan.Tombstones))
	assert.Equal(t, b, plan.Tombstones[0].RecordID)
	assert.Equal(t, "did:plc:b", plan.Tombstones[0].ActorID)
	// Equal timestamps break ties by identifier.
	assert.Less(t, plan.Tombstones[1].RecordID, plan.Tombstones[2].RecordID)
	for _, tomb := range plan.Tombstones {
		assert.True(t, tomb.IsTombstone())
	}
	assert.Equal(t, []string{bad}, plan.Unplaceable)
}

func TestMerge_PlacesBetweenNeighbours(t *testing.T) {
	tomb := model.NewTombstone("did:plc:x", uriAt("did:plc:x", 80), 80)
	m := NewMerger([]model.Record{tomb})
	out := m.Merge(original(70, 90))
	assert.Equal(t, []int64{70, 80, 90}, tsOf(out))
	assert.True(t, out[1].IsTombstone())
	assert.Empty(t, m.Finish())
	assert.Equal(t, 1, m.Inserted())
}

func TestMerge_EqualTimestampGoesBefore(t *testing.T) {
	m := NewMerger([]model.Record{model.NewTombstone("did:plc:x", "t", 70)})
	out := m.Merge(original(70))
	require.Len(t, out, 2)
	assert.True(t, out[0].IsTombstone())
}

func TestMerge_AcrossBatchBoundary(t *testing.T) {
	tombs := []model.Record{
		model.NewTombstone("did:plc:x", "t1", 5),
		model.NewTombstone("did:plc:x", "t2", 25),
		model.NewTombstone("did:plc:x", "t3", 100),
	}
	m := NewMerger(tombs)
	b0 := m.Merge(original(10, 20))
	b1 := m.Merge(original(30, 40))
	rest := m.Finish()

	assert.Equal(t, []int64{5, 10, 20}, tsOf(b0))
	assert.Equal(t, []int64{25, 30, 40}, tsOf(b1))
	assert.Equal(t, []int64{100}, tsOf(rest))
	assert.Equal(t, 3, m.Inserted())
}

func TestMerge_OrderingAndCompleteness(t *testing.T) {
	var tombs []model.Record
	for i := int64(0); i < 50; i++ {
		tombs = append(tombs, model.NewTombstone("did:plc:x", uriAt("did:plc:x", i*7), i*7))
	}
	Sort(tombs)
	m := NewMerger(tombs)

	var all []model.Record
	for start := int64(0); start < 300; start += 40 {
		var ms []int64
		for v := start; v < start+40; v += 3 {
			ms = append(ms, v)
		}
		all = append(all, m.Merge(original(ms...))...)
	}
	all = append(all, m.Finish()...)

	seen := map[string]int{}
	for i, r := range all {
		if i > 0 {
			require.LessOrEqual(t, all[i-1].TS, r.TS, "position %d", i)
		}
		if r.IsTombstone() {
			seen[r.RecordID]++
		}
	}
	assert.Len(t, seen, len(tombs))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func newStore(t *testing.T, name string) *batch.Store {
	t.Helper()
	s, err := batch.Open(filepath.Join(t.TempDir(), name), false)
	require.NoError(t, err)
	require.NoError(t, s.Reset())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReinsert(t *testing.T) {
	src := newStore(t, "temp")
	dst := newStore(t, "out")
	require.NoError(t, src.Write(model.Batch{Seq: 0, Records: original(70, 90)}))
	require.NoError(t, src.Write(model.Batch{Seq: 1, Records: original(100, 110)}))

	tombs := []model.Record{
		model.NewTombstone("did:plc:x", "a", 80),
		model.NewTombstone("did:plc:x", "b", 95),
		model.NewTombstone("did:plc:x", "c", 500),
	}
	var seen []int
	res, err := Reinsert(src, dst, tombs, ReinsertOptions{
		Log:     logger.Nop(),
		OnBatch: func(b model.Batch) { seen = append(seen, b.Seq) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, Result{Batches: 3, Inserted: 3, Trailing: 1}, res)

	seqs, err := dst.Seqs()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seqs)

	b0, err := dst.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{70, 80, 90}, tsOf(b0.Records))
	b1, err := dst.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{95, 100, 110}, tsOf(b1.Records))
	b2, err := dst.Read(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{500}, tsOf(b2.Records))
}

func TestReinsert_SkipsMalformedBatch(t *testing.T) {
	src := newStore(t, "temp")
	dst := newStore(t, "out")
	require.NoError(t, src.Write(model.Batch{Seq: 0, Records: original(10)}))
	require.NoError(t, os.WriteFile(filepath.Join(src.Dir(), "1.json"), []byte("not json"), 0o644))

	var skipped []*model.Anomaly
	res, err := Reinsert(src, dst, []model.Record{model.NewTombstone("did:plc:x", "a", 50)}, ReinsertOptions{
		OnSkip: func(a *model.Anomaly) { skipped = append(skipped, a) },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, skipped, 1)

	// Trailing tombstones go after the highest input batch number.
	seqs, err := dst.Seqs()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, seqs)
}
