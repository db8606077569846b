package andersen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniversalAbsorption(t *testing.T) {
	m := parseModule(t, `
declare i8* @mystery(i8*)

define void @main() {
entry:
	%buf = alloca i8
	%r = call i8* @mystery(i8* %buf)
	ret void
}`)

	main := findFunc(t, m, "main")
	a, s := buildPipeline(t, m, Config{})
	s.seed()
	s.run()
	f := a.factory

	for _, name := range []string{"r", "buf"} {
		n := f.getMergeTarget(f.valueNodeFor(findValue(t, main, name)))
		set := s.pts[n]
		require.NotNil(t, set, name)
		assert.True(t, setContainsOnly(set, universalObj),
			"%s escapes to unknown code; its set must collapse to the universal object", name)
	}
}

// After the solver quiesces, re-enqueueing every representative must not
// grow the points-to graph or the constraint graph.
func TestFixedPoint(t *testing.T) {
	m := parseModule(t, `
@cell = global i32* null

define void @main() {
entry:
	%p = alloca i32
	store i32* %p, i32** @cell
	%q = load i32*, i32** @cell
	%r = alloca i32*
	store i32* %q, i32** %r
	ret void
}`)

	_, s := buildPipeline(t, m, Config{EnableHCD: true, EnableLCD: true})
	s.seed()
	s.run()

	ptsSizes := make(map[NodeIndex]int)
	for n, set := range s.pts {
		ptsSizes[n] = set.Len()
	}
	edgeCount := func() int {
		total := 0
		for _, es := range s.graph.nodes {
			total += es.copies.Len() + es.loads.Len() + es.stores.Len()
			total += len(es.loadsOff) + len(es.storesOff)
		}
		return total
	}
	edges := edgeCount()

	for i := 0; i < s.factory.numNodes(); i++ {
		if n := NodeIndex(i); s.rep(n) == n {
			s.curr.enqueue(n)
		}
	}
	s.run()

	assert.Equal(t, edges, edgeCount(), "constraint graph grew after quiescence")
	for n, set := range s.pts {
		assert.Equal(t, ptsSizes[n], set.Len(), "pts(n%d) grew after quiescence", n)
	}
}

func TestMergeSoundness(t *testing.T) {
	m := parseModule(t, `define void @main() {
entry:
	%a = alloca i32
	%b = alloca i64
	ret void
}`)

	main := findFunc(t, m, "main")
	a, s := buildPipeline(t, m, Config{})
	s.seed()
	s.run()
	f := a.factory

	na := f.getMergeTarget(f.valueNodeFor(findValue(t, main, "a")))
	nb := f.getMergeTarget(f.valueNodeFor(findValue(t, main, "b")))
	require.NotEqual(t, na, nb)

	var union []int
	union = append(union, s.pts[na].AppendTo(nil)...)
	union = append(union, s.pts[nb].AppendTo(nil)...)

	s.mergeNodes(na, nb)

	assert.Equal(t, f.getMergeTarget(na), f.getMergeTarget(nb))
	merged := s.pts[f.getMergeTarget(nb)]
	require.NotNil(t, merged)
	for _, o := range union {
		assert.True(t, merged.Has(o), "object %d lost by the merge", o)
	}
}

// Indirect calls: arguments flow to every address-taken function of
// matching arity, while the returned value is polluted by the universal
// pointer.
func TestIndirectCall(t *testing.T) {
	m := parseModule(t, `
@x = global i32 0
@y = global i32 0

define i32* @f(i32* %af) {
entry:
	ret i32* @x
}

define i32* @g(i32* %ag) {
entry:
	ret i32* @y
}

define void @main(i1 %cond) {
entry:
	%m = alloca i32
	br i1 %cond, label %left, label %right

left:
	br label %join

right:
	br label %join

join:
	%fp = phi i32* (i32*)* [ @f, %left ], [ @g, %right ]
	%r = call i32* %fp(i32* %m)
	ret void
}`)

	a, s := buildPipeline(t, m, Config{EnableLCD: true})
	s.seed()
	s.run()
	f := a.factory

	mObj := f.objectNodeFor(findValue(t, findFunc(t, m, "main"), "m"))
	require.NotEqual(t, InvalidIndex, mObj)

	for _, tc := range []struct{ fn, param string }{{"f", "af"}, {"g", "ag"}} {
		p := f.getMergeTarget(f.valueNodeFor(findValue(t, findFunc(t, m, tc.fn), tc.param)))
		set := s.pts[p]
		require.NotNil(t, set, tc.param)
		assert.True(t, set.Has(int(mObj)),
			"argument must flow into %%%s of @%s", tc.param, tc.fn)
	}

	r := f.getMergeTarget(f.valueNodeFor(findValue(t, findFunc(t, m, "main"), "r")))
	set := s.pts[r]
	require.NotNil(t, set)
	assert.True(t, set.Has(int(universalObj)),
		"the indirect callsite's return is polluted")
}

func TestHCDCollapse(t *testing.T) {
	// %pp has two targets, so its load and store survive the offline
	// rewrite. Loading through it and storing the result back puts *pp and
	// %v in one offline cycle: the collapse map must make the solver merge
	// everything pp points to with v as soon as pp's set is processed.
	m := parseModule(t, `define void @main(i1 %c) {
entry:
	%a = alloca i32
	%p1 = alloca i32*
	%p2 = alloca i32*
	store i32* %a, i32** %p1
	%pp = select i1 %c, i32** %p1, i32** %p2
	%v = load i32*, i32** %pp
	store i32* %v, i32** %pp
	ret void
}`)

	main := findFunc(t, m, "main")
	a, s := buildPipeline(t, m, Config{EnableHCD: true})
	require.NotEmpty(t, a.collapse, "the offline cycle must produce a collapse hint")
	s.seed()
	s.run()
	f := a.factory

	v := f.getMergeTarget(f.valueNodeFor(findValue(t, main, "v")))
	o1 := f.getMergeTarget(f.objectNodeFor(findValue(t, main, "p1")))
	o2 := f.getMergeTarget(f.objectNodeFor(findValue(t, main, "p2")))
	assert.Equal(t, v, o1)
	assert.Equal(t, v, o2)

	aObj := f.objectNodeFor(findValue(t, main, "a"))
	set := s.pts[v]
	require.NotNil(t, set)
	assert.True(t, set.Has(int(aObj)))
}
