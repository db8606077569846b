package main

import (
	"flag"
	"os"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/extlib"
	"github.com/BarrensZeppelin/andersen/irutil"
)

var (
	cpuprofile      = flag.String("cpuprofile", "", "write cpu profile to `file`")
	summariesPath   = flag.String("extlib", "", "YAML `file` extending the external-library summary table")
	enableHCD       = flag.Bool("hcd", true, "enable hybrid cycle detection")
	enableLCD       = flag.Bool("lcd", true, "enable lazy cycle detection")
	enableHU        = flag.Bool("hu", false, "run the HU pass after HVN")
	dumpConstraints = flag.Bool("dump-constraints", false, "dump the rewritten constraints")
	dumpResult      = flag.Bool("dump-result", false, "dump the final points-to sets")
	debug           = flag.Bool("debug", false, "debug logging")
)

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("Specify one or more LLVM assembly files on the command line")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Fatalf("Failed to close %v", f)
			}
		}()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	summaries := extlib.DefaultTable()
	if *summariesPath != "" {
		data, err := os.ReadFile(*summariesPath)
		if err != nil {
			log.Fatalf("Reading summary table failed: %v", err)
		}
		if err := summaries.MergeYAML(data); err != nil {
			log.Fatalf("Loading summary table failed: %v", err)
		}
	}

	for _, path := range flag.Args() {
		m, err := irutil.ParseFile(path)
		if err != nil {
			log.Fatalf("Loading module failed: %v", err)
		}
		log.Infof("%s: loaded %d globals, %d functions",
			path, len(m.Globals), len(m.Funcs))

		start := time.Now()
		res, err := andersen.Analyze(andersen.Config{
			Module:          m,
			EnableHCD:       *enableHCD,
			EnableLCD:       *enableLCD,
			EnableHU:        *enableHU,
			Summaries:       summaries,
			DumpDebug:       *debug,
			DumpConstraints: *dumpConstraints,
			DumpResult:      *dumpResult,
			Log:             os.Stdout,
		})
		if err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}

		log.Infof("%s: %d nodes, %d constraints (%d after substitution), %d allocation sites in %v",
			path, res.Metrics.Nodes, res.Metrics.Constraints,
			res.Metrics.OptimizedConstraints, len(res.AllocationSites()),
			time.Since(start).Round(time.Millisecond))
	}
}
