package andersen

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/require"

	"github.com/BarrensZeppelin/andersen/extlib"
	"github.com/BarrensZeppelin/andersen/irutil"
)

func parseModule(t *testing.T, source string) *ir.Module {
	t.Helper()
	m, err := irutil.ParseString(source)
	require.NoError(t, err)
	return m
}

func findFunc(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("no function %q in module", name)
	return nil
}

func findGlobal(t *testing.T, m *ir.Module, name string) *ir.Global {
	t.Helper()
	for _, g := range m.Globals {
		if g.Name() == name {
			return g
		}
	}
	t.Fatalf("no global %q in module", name)
	return nil
}

func findValue(t *testing.T, fun *ir.Func, name string) value.Value {
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
		if v, ok := block.Term.(value.Named); ok && v.Name() == name {
			return v
		}
	}
	t.Fatalf("no value %%%s in %s", name, fun.Name())
	return nil
}

// collectOnly runs just the constraint collector over source.
func collectOnly(t *testing.T, m *ir.Module) *collector {
	t.Helper()
	structs := newStructOracle()
	structs.run(m)
	c := &collector{
		module:    m,
		factory:   newNodeFactory(structs),
		structs:   structs,
		summaries: extlib.DefaultTable(),
	}
	require.NoError(t, c.run())
	return c
}

// buildPipeline runs collection, optimization and offline HCD, returning
// the analysis and a ready (unsolved) solver.
func buildPipeline(t *testing.T, m *ir.Module, config Config) (*analysis, *solver) {
	t.Helper()
	config.Module = m
	a := &analysis{config: config}
	a.structs = newStructOracle()
	a.structs.run(m)
	a.factory = newNodeFactory(a.structs)

	c := &collector{
		module:    m,
		factory:   a.factory,
		structs:   a.structs,
		summaries: extlib.DefaultTable(),
	}
	require.NoError(t, c.run())
	a.constraints = c.constraints

	a.optimizeConstraints()
	if config.EnableHCD {
		a.collapse = a.offlineHCD()
	}

	s := newSolver(a)
	s.build(a.constraints)
	return a, s
}

func hasConstraint(cs []constraint, c constraint) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}
