package andersen

import (
	"fmt"
	"io"
	"sort"
)

// Diagnostic text dumps, gated by the Dump* tuneables.

func (f *nodeFactory) describe(n NodeIndex) string {
	switch n {
	case universalPtr:
		return "<universal ptr>"
	case universalObj:
		return "<universal obj>"
	case nullPtr:
		return "<null ptr>"
	case nullObj:
		return "<null obj>"
	}
	kind := "v"
	if f.nodes[n].kind == objectNode {
		kind = "o"
	}
	if val := f.nodes[n].val; val != nil {
		return fmt.Sprintf("[%s n%d] %s", kind, n, val.Ident())
	}
	return fmt.Sprintf("[%s n%d]", kind, n)
}

func (a *analysis) dumpConstraints(w io.Writer) {
	fmt.Fprintf(w, "---- %d constraints ----\n", len(a.constraints))
	for _, c := range a.constraints {
		fmt.Fprintf(w, "%s\t(%s <- %s)\n",
			c, a.factory.describe(c.dest), a.factory.describe(c.src))
	}
}

func (r *Result) dump(w io.Writer) {
	reps := make([]int, 0, len(r.pts))
	for n := range r.pts {
		reps = append(reps, int(n))
	}
	sort.Ints(reps)

	fmt.Fprintf(w, "---- points-to sets of %d representatives ----\n", len(reps))
	for _, n := range reps {
		set := r.pts[NodeIndex(n)]
		if set.IsEmpty() {
			continue
		}
		fmt.Fprintf(w, "%s ->", r.factory.describe(NodeIndex(n)))
		for _, o := range set.AppendTo(nil) {
			fmt.Fprintf(w, " %s", r.factory.describe(NodeIndex(o)))
		}
		fmt.Fprintln(w)
	}
}
