package andersen_test

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/internal/slices"
	"github.com/BarrensZeppelin/andersen/irutil"
	sliceset "github.com/BarrensZeppelin/andersen/slices"
)

func analyze(t *testing.T, source string) (*ir.Module, *andersen.Result) {
	t.Helper()
	m, err := irutil.ParseString(source)
	require.NoError(t, err)

	res, err := andersen.Analyze(andersen.Config{
		Module:    m,
		EnableHCD: true,
		EnableLCD: true,
	})
	require.NoError(t, err)
	return m, res
}

func funcByName(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

func valueByName(t *testing.T, fun *ir.Func, name string) value.Value {
	t.Helper()
	for _, p := range fun.Params {
		if p.Name() == name {
			return p
		}
	}
	for _, block := range fun.Blocks {
		for _, inst := range block.Insts {
			if v, ok := inst.(value.Named); ok && v.Name() == name {
				return v
			}
		}
	}
	t.Fatalf("no value %%%s in %s", name, fun.Name())
	return nil
}

// pointsToIdents returns the identifiers of everything v points to.
func pointsToIdents(t *testing.T, res *andersen.Result, v value.Value) []string {
	t.Helper()
	pts, ok := res.PointsTo(v)
	require.True(t, ok, "%v should be a known pointer", v)
	return slices.Map(pts, func(v value.Value) string { return v.Ident() })
}

func TestAnalyze(t *testing.T) {
	t.Run("Trivial", func(t *testing.T) {
		m, res := analyze(t, `define void @main() {
entry:
	%p = alloca i32
	%q = bitcast i32* %p to i32*
	ret void
}`)
		main := funcByName(t, m, "main")
		p := valueByName(t, main, "p")
		q := valueByName(t, main, "q")

		assert.Equal(t, []string{"%p"}, pointsToIdents(t, res, p))
		assert.Equal(t, []string{"%p"}, pointsToIdents(t, res, q))
		assert.Equal(t, andersen.MustAlias, res.Alias(p, q))
	})

	t.Run("LoadStore", func(t *testing.T) {
		m, res := analyze(t, `define void @main() {
entry:
	%p = alloca i32*
	%q = alloca i32
	store i32* %q, i32** %p
	%r = load i32*, i32** %p
	ret void
}`)
		main := funcByName(t, m, "main")
		q := valueByName(t, main, "q")
		r := valueByName(t, main, "r")

		assert.Contains(t, pointsToIdents(t, res, r), "%q")
		assert.NotEqual(t, andersen.NoAlias, res.Alias(r, q))
	})

	t.Run("PhiCycle", func(t *testing.T) {
		m, res := analyze(t, `define void @main() {
entry:
	%p = alloca i32
	br label %loop

loop:
	%x = phi i32* [ %p, %entry ], [ %y, %loop ]
	%y = bitcast i32* %x to i32*
	br label %loop
}`)
		main := funcByName(t, m, "main")
		x := valueByName(t, main, "x")
		y := valueByName(t, main, "y")

		assert.Equal(t, []string{"%p"}, pointsToIdents(t, res, x))
		assert.Equal(t, []string{"%p"}, pointsToIdents(t, res, y))
		assert.Equal(t, andersen.MustAlias, res.Alias(x, y))
	})

	t.Run("FieldSensitive", func(t *testing.T) {
		m, res := analyze(t, `
@a = global i32 0
@b = global i32 0
@g = global { i32*, i32* } { i32* @a, i32* @b }

define void @main() {
entry:
	%x = load i32*, i32** getelementptr inbounds ({ i32*, i32* }, { i32*, i32* }* @g, i32 0, i32 1)
	%y = load i32*, i32** getelementptr inbounds ({ i32*, i32* }, { i32*, i32* }* @g, i32 0, i32 0)
	ret void
}`)
		main := funcByName(t, m, "main")
		x := valueByName(t, main, "x")
		y := valueByName(t, main, "y")

		assert.Equal(t, []string{"@b"}, pointsToIdents(t, res, x),
			"field 1 of @g holds &b only")
		assert.Equal(t, []string{"@a"}, pointsToIdents(t, res, y),
			"field 0 of @g holds &a only")
		assert.Equal(t, andersen.NoAlias, res.Alias(x, y))
	})

	t.Run("ExternalLibrary", func(t *testing.T) {
		m, res := analyze(t, `
declare i8* @malloc(i64)
declare i8* @memcpy(i8*, i8*, i64)

define void @main() {
entry:
	%p = call i8* @malloc(i64 16)
	%buf = alloca i8
	%q = call i8* @memcpy(i8* %buf, i8* %p, i64 16)
	ret void
}`)
		main := funcByName(t, m, "main")
		p := valueByName(t, main, "p")
		buf := valueByName(t, main, "buf")
		q := valueByName(t, main, "q")

		assert.Equal(t, []string{"%p"}, pointsToIdents(t, res, p),
			"malloc materialises a fresh object at the callsite")
		assert.Equal(t, pointsToIdents(t, res, buf), pointsToIdents(t, res, q),
			"memcpy returns its first argument")
	})

	t.Run("MemcpyStruct", func(t *testing.T) {
		m, res := analyze(t, `
@a = global i32 0
@b = global i32 0
@src = global { i32*, i32* } { i32* @a, i32* @b }
@dst = global { i32*, i32* } zeroinitializer

declare i8* @memcpy(i8*, i8*, i64)

define void @main() {
entry:
	%r = call i8* @memcpy(i8* bitcast ({ i32*, i32* }* @dst to i8*), i8* bitcast ({ i32*, i32* }* @src to i8*), i64 16)
	%x = load i32*, i32** getelementptr inbounds ({ i32*, i32* }, { i32*, i32* }* @dst, i32 0, i32 0)
	%y = load i32*, i32** getelementptr inbounds ({ i32*, i32* }, { i32*, i32* }* @dst, i32 0, i32 1)
	ret void
}`)
		main := funcByName(t, m, "main")
		x := valueByName(t, main, "x")
		y := valueByName(t, main, "y")
		r := valueByName(t, main, "r")

		assert.Equal(t, []string{"@a"}, pointsToIdents(t, res, x),
			"field 0 of @dst picks up field 0 of @src only")
		assert.Equal(t, []string{"@b"}, pointsToIdents(t, res, y),
			"field 1 of @dst picks up field 1 of @src only")
		assert.Equal(t, andersen.NoAlias, res.Alias(x, y))
		assert.Equal(t, []string{"@dst"}, pointsToIdents(t, res, r),
			"memcpy returns its destination")
	})

	t.Run("Realloc", func(t *testing.T) {
		m, res := analyze(t, `
declare i8* @malloc(i64)
declare i8* @realloc(i8*, i64)

define void @main() {
entry:
	%p = call i8* @malloc(i64 8)
	%grown = call i8* @realloc(i8* %p, i64 16)
	%fresh = call i8* @realloc(i8* null, i64 16)
	ret void
}`)
		main := funcByName(t, m, "main")
		grown := valueByName(t, main, "grown")
		fresh := valueByName(t, main, "fresh")

		assert.Equal(t, []string{"%grown"}, pointsToIdents(t, res, grown),
			"realloc of a live pointer allocates")
		assert.Empty(t, pointsToIdents(t, res, fresh),
			"realloc(null, n) returns its (null) first argument")
	})

	t.Run("VarArgs", func(t *testing.T) {
		m, res := analyze(t, `
declare void @llvm.va_start(i8*)

define void @sink(i32, ...) {
entry:
	%ap = alloca i8
	call void @llvm.va_start(i8* %ap)
	%x = va_arg i8* %ap, i32*
	ret void
}

define void @main() {
entry:
	%g = alloca i32
	call void (i32, ...) @sink(i32 1, i32* %g)
	ret void
}`)
		sink := funcByName(t, m, "sink")
		x := valueByName(t, sink, "x")

		assert.Contains(t, pointsToIdents(t, res, x), "%g",
			"trailing pointer actuals reach the vararg pack")
	})
}

func TestAliasProperties(t *testing.T) {
	m, res := analyze(t, `define void @main() {
entry:
	%a = alloca i32
	%b = alloca i32
	%pp = alloca i32*
	store i32* %a, i32** %pp
	%c = load i32*, i32** %pp
	ret void
}`)
	main := funcByName(t, m, "main")
	a := valueByName(t, main, "a")
	b := valueByName(t, main, "b")
	c := valueByName(t, main, "c")

	assert.Equal(t, andersen.MustAlias, res.Alias(a, a))
	assert.Equal(t, andersen.NoAlias, res.Alias(a, b))
	assert.Equal(t, andersen.MustAlias, res.Alias(a, c),
		"singleton equal points-to sets")

	for _, x := range []value.Value{a, b, c} {
		for _, y := range []value.Value{a, b, c} {
			assert.Equal(t, res.Alias(x, y), res.Alias(y, x),
				"alias(%v,%v) must be symmetric", x.Ident(), y.Ident())
		}
	}
}

func TestIndirectCallsitesMayAlias(t *testing.T) {
	m, res := analyze(t, `
define i8* @id(i8* %x) {
entry:
	ret i8* %x
}

define void @main(i8* (i8*)* %fp) {
entry:
	%r1 = call i8* %fp(i8* null)
	%r2 = call i8* %fp(i8* null)
	ret void
}`)
	main := funcByName(t, m, "main")
	r1 := valueByName(t, main, "r1")
	r2 := valueByName(t, main, "r2")

	assert.NotEqual(t, andersen.NoAlias, res.Alias(r1, r2),
		"both polluted callsites share the universal object")
}

func TestPointsToConstantMemory(t *testing.T) {
	m, res := analyze(t, `
@ro = constant i32 7
@rw = global i32 7

define void @main() {
entry:
	%p = bitcast i32* @ro to i32*
	%q = bitcast i32* @rw to i32*
	ret void
}`)
	main := funcByName(t, m, "main")

	assert.True(t, res.PointsToConstantMemory(valueByName(t, main, "p")))
	assert.False(t, res.PointsToConstantMemory(valueByName(t, main, "q")))
}

func TestAllocationSites(t *testing.T) {
	_, res := analyze(t, `
@g = global i32 0

declare i8* @malloc(i64)

define void @main() {
entry:
	%p = alloca i32
	%h = call i8* @malloc(i64 4)
	ret void
}`)

	sites := slices.Map(res.AllocationSites(),
		func(v value.Value) string { return v.Ident() })
	assert.True(t, sliceset.Subset([]string{"@g", "%p", "%h"}, sites),
		"missing allocation sites in %v", sites)
}
