package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	var s1, s2 Set
	assert.True(t, s1.IsEmpty())
	assert.True(t, s2.IsEmpty())

	assert.True(t, s1.Insert(5))
	assert.True(t, s2.Insert(10))
	assert.True(t, s1.Has(5))
	assert.False(t, s1.Has(10))
	assert.False(t, s2.Has(5))
	assert.True(t, s2.Has(10))
	assert.False(t, s1.Intersects(&s2))

	assert.True(t, s1.Insert(15))
	assert.True(t, s2.Insert(15))
	assert.False(t, s2.Insert(10))
	assert.True(t, s1.Intersects(&s2))

	assert.True(t, s1.UnionWith(&s2))
	assert.False(t, s1.UnionWith(&s2))
	assert.True(t, s1.Contains(&s2))
	assert.False(t, s2.Contains(&s1))
	assert.Equal(t, 3, s1.Len())
	assert.Equal(t, []int{5, 10, 15}, s1.AppendTo(nil))

	var s3 Set
	s3.Copy(&s1)
	assert.True(t, s3.Equals(&s1))
	s3.Clear()
	assert.True(t, s3.IsEmpty())
}

func TestSetDenseCluster(t *testing.T) {
	// Object runs produce contiguous indices; make sure a dense block
	// round-trips in order.
	var s Set
	for i := 100; i < 164; i++ {
		require.True(t, s.Insert(i))
	}
	assert.Equal(t, 64, s.Len())
	assert.Equal(t, 100, s.Min())
	elems := s.AppendTo(nil)
	for i, x := range elems {
		assert.Equal(t, 100+i, x)
	}
}

func TestGraph(t *testing.T) {
	g := NewGraph()
	assert.Nil(t, g.Get(1))

	assert.True(t, g.InsertEdge(1, 2))
	assert.False(t, g.InsertEdge(1, 2))
	assert.True(t, g.InsertEdge(1, 3))
	assert.True(t, g.InsertEdge(2, 3))

	require.NotNil(t, g.Get(1))
	assert.Equal(t, []int{2, 3}, g.Get(1).AppendTo(nil))

	// Successor sets stay valid while other sources are mutated.
	succs := g.Get(2)
	g.InsertEdge(4, 5)
	g.MergeEdges(2, 1)
	assert.Equal(t, []int{2, 3}, succs.AppendTo(nil))

	assert.ElementsMatch(t, []int{1, 2, 4}, g.Nodes())

	g.MergeEdges(6, 7) // missing source is a no-op
	assert.Nil(t, g.Get(6))

	g.Release()
	assert.Equal(t, 0, g.Len())
}
