package extlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()

	for name, want := range map[string]Summary{
		"malloc":         {Kind: Alloc},
		"realloc":        {Kind: Realloc},
		"posix_memalign": {Kind: AllocIndirect},
		"free":           {Kind: Noop},
		"strcpy":         {Kind: RetArg, Arg: 0},
		"freopen":        {Kind: RetArg, Arg: 2},
		"memmove":        {Kind: Memcpy},
		"strtol":         {Kind: Convert},
		"llvm.va_start":  {Kind: VAStart},
	} {
		got, known := tbl.Lookup(name)
		require.True(t, known, name)
		assert.Equal(t, want, got, name)
	}

	// Intrinsics match by prefix.
	sum, known := tbl.Lookup("llvm.memcpy.p0i8.p0i8.i64")
	require.True(t, known)
	assert.Equal(t, Memcpy, sum.Kind)

	sum, known = tbl.Lookup("llvm.dbg.declare")
	require.True(t, known)
	assert.Equal(t, Noop, sum.Kind)

	_, known = tbl.Lookup("definitely_not_libc")
	assert.False(t, known)
}

func TestMergeYAML(t *testing.T) {
	tbl := DefaultTable()

	err := tbl.MergeYAML([]byte(`
noop:
  - my_log
alloc:
  - my_alloc
retArg:
  my_pass_through: 1
noopPrefixes:
  - "myrt."
`))
	require.NoError(t, err)

	sum, known := tbl.Lookup("my_alloc")
	require.True(t, known)
	assert.Equal(t, Alloc, sum.Kind)

	sum, known = tbl.Lookup("my_pass_through")
	require.True(t, known)
	assert.Equal(t, Summary{Kind: RetArg, Arg: 1}, sum)

	sum, known = tbl.Lookup("myrt.barrier")
	require.True(t, known)
	assert.Equal(t, Noop, sum.Kind)

	// Overrides replace the builtin classification.
	require.NoError(t, tbl.MergeYAML([]byte("noop:\n  - malloc\n")))
	sum, _ = tbl.Lookup("malloc")
	assert.Equal(t, Noop, sum.Kind)
}

func TestMergeYAMLRejectsGarbage(t *testing.T) {
	tbl := DefaultTable()
	assert.Error(t, tbl.MergeYAML([]byte("nope: [")))
	assert.Error(t, tbl.MergeYAML([]byte("unknownField:\n  - x\n")))
}
