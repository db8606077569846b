// Command benchmark compares solver configurations on LLVM modules given on
// the command line (or on a synthetic workload when none are) and reports
// timings and size metrics.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"text/tabwriter"
	"time"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/irutil"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	jsonOut    = flag.Bool("json", false, "emit results as JSON")
	synthSize  = flag.Int("size", 20000, "size of the synthetic workload")
)

type variant struct {
	Name string
	HCD  bool
	LCD  bool
	HU   bool
}

var variants = []variant{
	{Name: "baseline"},
	{Name: "hcd", HCD: true},
	{Name: "lcd", LCD: true},
	{Name: "hcd+lcd", HCD: true, LCD: true},
	{Name: "hcd+lcd+hu", HCD: true, LCD: true, HU: true},
}

type row struct {
	Module      string
	Variant     string
	Nodes       int
	Constraints int
	Rewritten   int
	Millis      int64
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	type input struct {
		name   string
		module *ir.Module
	}
	var inputs []input

	if flag.NArg() == 0 {
		log.Infof("No modules given; synthesizing a workload of size %d", *synthSize)
		inputs = append(inputs, input{"synthetic", synthesize(*synthSize)})
	}
	for _, path := range flag.Args() {
		m, err := irutil.ParseFile(path)
		if err != nil {
			log.Fatalf("Loading module failed: %v", err)
		}
		inputs = append(inputs, input{path, m})
	}

	var rows []row
	for _, in := range inputs {
		for _, v := range variants {
			start := time.Now()
			res, err := andersen.Analyze(andersen.Config{
				Module:    in.module,
				EnableHCD: v.HCD,
				EnableLCD: v.LCD,
				EnableHU:  v.HU,
			})
			if err != nil {
				log.Fatalf("%s/%s: %v", in.name, v.Name, err)
			}
			rows = append(rows, row{
				Module:      in.name,
				Variant:     v.Name,
				Nodes:       res.Metrics.Nodes,
				Constraints: res.Metrics.Constraints,
				Rewritten:   res.Metrics.OptimizedConstraints,
				Millis:      time.Since(start).Milliseconds(),
			})
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			log.Fatal(err)
		}
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "module\tvariant\tnodes\tconstraints\trewritten\ttime (ms)")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.Module, r.Variant, r.Nodes, r.Constraints, r.Rewritten, r.Millis)
	}
	tw.Flush()
}

// synthesize builds a module with long copy chains and a load/store tangle,
// enough to make the cycle detectors earn their keep.
func synthesize(n int) *ir.Module {
	m := ir.NewModule()
	i8 := types.I8
	i8p := types.NewPointer(i8)

	f := m.NewFunc("main", types.Void)
	b := f.NewBlock("")

	src := b.NewAlloca(i8)
	var cur value.Value = src
	cells := make([]*ir.InstAlloca, 0, n/100+1)
	for i := 0; i < n; i++ {
		cur = b.NewBitCast(cur, i8p)
		if i%100 == 0 {
			cell := b.NewAlloca(i8p)
			b.NewStore(cur, cell)
			cells = append(cells, cell)
		}
	}
	for _, cell := range cells {
		cur = b.NewLoad(i8p, cell)
	}
	b.NewStore(cur, cells[0])
	b.NewRet(nil)

	return m
}
