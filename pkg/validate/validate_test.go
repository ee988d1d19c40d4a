package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/universe"
)

func TestCheck_Disjoint(t *testing.T) {
	u := universe.NewMemory()
	u.KnownPosts = universe.NewMemorySet("p1", "p2", "p3")
	u.DanglingPosts = universe.NewMemorySet("p4")
	u.KnownActors = universe.NewMemorySet("a1")
	u.DanglingActors = universe.NewMemorySet("a2")

	r, err := Check(u, nil)
	require.NoError(t, err)
	assert.True(t, r.Consistent())
	assert.Empty(t, r.Violations())
	assert.InDelta(t, 0.25, r.DeletionRate, 1e-9)
}

func TestCheck_Overlap(t *testing.T) {
	u := universe.NewMemory()
	u.KnownPosts = universe.NewMemorySet("p1", "p2")
	u.DanglingPosts = universe.NewMemorySet("p2", "p9")
	u.KnownActors = universe.NewMemorySet("a1")
	u.DanglingActors = universe.NewMemorySet("a1")

	r, err := Check(u, nil)
	require.NoError(t, err)
	assert.False(t, r.Consistent())
	assert.Equal(t, 1, r.PostOverlap)
	assert.Equal(t, []string{"p2"}, r.PostSample)
	assert.Equal(t, 1, r.ActorOverlap)

	v := r.Violations()
	require.Len(t, v, 2)
	for _, a := range v {
		assert.ErrorIs(t, a, model.ErrConsistencyViolation)
	}
}

func TestCheck_Empty(t *testing.T) {
	r, err := Check(universe.NewMemory(), nil)
	require.NoError(t, err)
	assert.Zero(t, r.DeletionRate)
	assert.True(t, r.Consistent())
}

func TestSample_Caps(t *testing.T) {
	ids := make([]string, 50)
	assert.Len(t, sample(ids), sampleSize)
}
