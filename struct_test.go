package andersen

import (
	"testing"

	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructOracle(t *testing.T) {
	inner := types.NewStruct(types.NewPointer(types.I32), types.I64)
	outer := types.NewStruct(
		inner,
		types.NewArray(4, types.I8),
		types.NewPointer(types.I8),
	)

	o := newStructOracle()
	si := o.structInfo(outer)

	assert.Equal(t, 4, si.expandedSize(), "inner flattens to 2, array collapses to 1")
	assert.Equal(t, 3, si.numFields())
	assert.Equal(t, 0, si.offset(0))
	assert.Equal(t, 2, si.offset(1))
	assert.Equal(t, 3, si.offset(2))

	assert.True(t, si.fieldIsPointer(0))
	assert.False(t, si.fieldIsPointer(1))
	assert.False(t, si.fieldIsPointer(2))
	assert.True(t, si.fieldIsPointer(3))
	assert.True(t, si.fieldIsArray(2))
	assert.False(t, si.fieldIsArray(3))

	// Memoized: same pointer on repeat queries.
	require.Same(t, si, o.structInfo(outer))
}

func TestStructOracleEmpty(t *testing.T) {
	empty := types.NewStruct()
	o := newStructOracle()

	assert.True(t, o.structInfo(empty).isEmpty())
	assert.Equal(t, 0, o.expandedSizeOf(empty))
}

func TestExpandedSizeOf(t *testing.T) {
	o := newStructOracle()
	st := types.NewStruct(types.NewPointer(types.I8), types.NewPointer(types.I8))

	assert.Equal(t, 1, o.expandedSizeOf(types.I64))
	assert.Equal(t, 1, o.expandedSizeOf(types.NewPointer(st)))
	assert.Equal(t, 2, o.expandedSizeOf(st))
	assert.Equal(t, 2, o.expandedSizeOf(types.NewArray(8, st)),
		"an array is a single element of its element type")
}
