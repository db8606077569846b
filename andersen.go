// Package andersen implements a field-sensitive, inclusion-based
// (Andersen-style) pointer analysis for LLVM IR modules.
//
// The analysis proceeds in four stages: constraint collection over the
// module, offline pointer-equivalence optimization (HVN/HU), offline hybrid
// cycle detection, and a fixed-point worklist solver with lazy and
// HCD-driven online cycle collapsing. The resulting points-to graph is
// exposed through Result, which also answers alias queries.
package andersen

import (
	"errors"
	"io"
	"os"

	"github.com/llir/llvm/ir"
	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen/extlib"
)

// Config configures a single analysis run.
type Config struct {
	Module *ir.Module

	// EnableHCD turns on hybrid cycle detection: an offline pass computes
	// collapse hints that the solver applies as soon as the points-to sets
	// reach them.
	EnableHCD bool
	// EnableLCD turns on lazy cycle detection in the solver.
	EnableLCD bool
	// EnableHU runs the HU pass (value numbering with set union) after HVN
	// during constraint optimization.
	EnableHU bool

	// Summaries classifies external library calls. Defaults to
	// extlib.DefaultTable.
	Summaries *extlib.Table

	// DumpDebug raises the log level to debug for the duration of the run.
	// DumpConstraints and DumpResult write the rewritten constraint vector
	// and the final points-to sets to Log (default os.Stdout).
	DumpDebug       bool
	DumpConstraints bool
	DumpResult      bool
	Log             io.Writer
}

// Metrics reports coarse size numbers of a finished run.
type Metrics struct {
	// Nodes is the final size of the node arena.
	Nodes int
	// Constraints counts the collected constraints before optimization,
	// OptimizedConstraints after the HVN/HU rewrite.
	Constraints          int
	OptimizedConstraints int
}

type analysis struct {
	config  Config
	structs *structOracle
	factory *nodeFactory

	constraints []constraint
	collapse    map[NodeIndex]NodeIndex
	metrics     Metrics
}

// Analyze runs the pointer analysis on config.Module. It fails on IR the
// collector cannot translate (ErrUnsupportedInstruction,
// ErrUnhandledConstant); the solver itself has no error paths.
func Analyze(config Config) (*Result, error) {
	if config.Module == nil {
		return nil, errors.New("andersen: no module to analyse")
	}
	if config.Summaries == nil {
		config.Summaries = extlib.DefaultTable()
	}
	if config.Log == nil {
		config.Log = os.Stdout
	}
	if config.DumpDebug {
		defer log.SetLevel(log.GetLevel())
		log.SetLevel(log.DebugLevel)
	}

	a := &analysis{config: config}
	a.structs = newStructOracle()
	a.structs.run(config.Module)
	a.factory = newNodeFactory(a.structs)

	c := &collector{
		module:    config.Module,
		factory:   a.factory,
		structs:   a.structs,
		summaries: config.Summaries,
	}
	if err := c.run(); err != nil {
		return nil, err
	}
	a.constraints = c.constraints
	a.metrics.Constraints = len(a.constraints)
	log.Debugf("collected %d constraints over %d nodes",
		len(a.constraints), a.factory.numNodes())

	a.optimizeConstraints()
	a.metrics.OptimizedConstraints = len(a.constraints)
	log.Debugf("%d constraints after variable substitution", len(a.constraints))

	if config.DumpConstraints {
		a.dumpConstraints(config.Log)
	}

	if config.EnableHCD {
		a.collapse = a.offlineHCD()
		log.Debugf("offline HCD found %d collapse targets", len(a.collapse))
	}

	s := newSolver(a)
	s.build(a.constraints)
	// The constraint vector, the offline graphs and the SCC scratch are
	// transient; only the constraint graph and the points-to graph stay
	// live from here on.
	a.constraints = nil
	s.seed()
	s.run()
	a.metrics.Nodes = a.factory.numNodes()

	res := &Result{
		factory: a.factory,
		pts:     s.pts,
		Metrics: a.metrics,
	}
	if config.DumpResult {
		res.dump(config.Log)
	}
	return res, nil
}
