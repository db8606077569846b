package andersen

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BarrensZeppelin/andersen/internal/scc"
	"github.com/BarrensZeppelin/andersen/internal/sparse"
)

// This file implements offline variable substitution: HVN (hash-based value
// numbering) and optionally HU (value numbering with set union), after
// Hardekopf & Lin, "Exploiting Pointer and Location Equivalence to Optimize
// Pointer Analysis" (SAS 2007). Nodes that provably have equal points-to
// sets are merged before solving, and loads/stores through pointers with a
// statically known single target are strength-reduced.

// The predecessor graph lives in a universe of 3·N virtual indices:
// VAR x = x, REF x = x+N (the value of *x), ADR x = x+2N (&x). REF and ADR
// indices are a fiction of the offline pass; they must never reach the node
// factory.

// optimizeConstraints runs HVN (and HU when enabled), rewriting the
// constraint vector in place.
func (a *analysis) optimizeConstraints() {
	a.substitute(false)
	if a.config.EnableHU {
		a.substitute(true)
	}
}

func (a *analysis) substitute(hu bool) {
	l := &peLabeler{
		n:        a.factory.numNodes(),
		pred:     sparse.NewGraph(),
		indirect: new(sparse.Set),
		table:    make(map[string]uint32),
		adrVar:   make(map[uint32]NodeIndex),
		hu:       hu,
	}
	l.offRep = make([]int32, 3*l.n)
	for i := range l.offRep {
		l.offRep[i] = int32(i)
	}
	l.labels = make([]uint32, 3*l.n)
	if hu {
		l.ptsets = make([]*sparse.Set, 3*l.n)
	}

	l.build(a.factory, a.constraints)

	det := &scc.Detector{
		Rep:           l.rep,
		Succs:         l.succs,
		OnCycleMember: l.onCycleMember,
		OnCycleRep:    l.onCycleRep,
	}
	det.Run(l.roots(a.factory))

	a.rewriteConstraints(l)
	l.pred.Release()
}

type peLabeler struct {
	n        int // arena size; virtual universe is 3·n
	pred     *sparse.Graph
	indirect *sparse.Set
	offRep   []int32 // union-find over virtual indices
	labels   []uint32
	next     uint32
	table    map[string]uint32
	// adrVar maps the label of an ADR equivalence class back to the
	// addressed node, for the Load/Store/Copy strength reductions.
	adrVar  map[uint32]NodeIndex
	scratch []int

	hu     bool
	ptsets []*sparse.Set
}

func (l *peLabeler) ref(x int) int { return x + l.n }
func (l *peLabeler) adr(x int) int { return x + 2*l.n }

// build translates each constraint into predecessor edges. For a = &b the
// implied *a ⊇ b edge is added as well, which captures more cycles.
func (l *peLabeler) build(f *nodeFactory, constraints []constraint) {
	for _, c := range constraints {
		d := int(f.getMergeTarget(c.dest))
		s := int(f.getMergeTarget(c.src))
		switch c.kind {
		case addrOf:
			l.indirect.Insert(s)
			l.pred.InsertEdge(d, l.adr(s))
			l.pred.InsertEdge(l.ref(d), s)
		case copyOf:
			l.pred.InsertEdge(d, s)
			l.pred.InsertEdge(l.ref(d), l.ref(s))
		case load:
			// A load with a field offset reads memory the graph cannot
			// name; its destination gets a fresh label.
			if c.offset == 0 {
				l.pred.InsertEdge(d, l.ref(s))
			} else {
				l.indirect.Insert(d)
			}
		case store:
			if c.offset == 0 {
				l.pred.InsertEdge(l.ref(d), s)
			}
		}
	}
}

func (l *peLabeler) roots(f *nodeFactory) []int {
	roots := make([]int, 0, 2*l.n)
	for i := 0; i < l.n; i++ {
		r := int(f.getMergeTarget(NodeIndex(i)))
		roots = append(roots, r, l.ref(r))
	}
	return roots
}

func (l *peLabeler) rep(v int) int {
	for l.offRep[v] != int32(v) {
		l.offRep[v] = l.offRep[l.offRep[v]]
		v = int(l.offRep[v])
	}
	return v
}

func (l *peLabeler) succs(v int) []int {
	set := l.pred.Get(v)
	if set == nil {
		return nil
	}
	return set.AppendTo(nil)
}

func (l *peLabeler) onCycleMember(m, rep int) {
	l.offRep[m] = int32(rep)
	l.pred.MergeEdges(rep, m)
	if l.indirect.Has(m) {
		l.indirect.Insert(rep)
	}
}

// onCycleRep assigns the pointer-equivalence label of a condensed node.
// Tarjan closes components in reverse topological order, so every
// predecessor is labelled by the time its consumers close.
func (l *peLabeler) onCycleRep(rep int) {
	if l.hu {
		l.labelHU(rep)
	} else {
		l.labelHVN(rep)
	}
}

func (l *peLabeler) fresh() uint32 {
	l.next++
	return l.next
}

func (l *peLabeler) labelHVN(rep int) {
	if rep >= l.n || l.indirect.Has(rep) {
		lab := l.fresh()
		l.labels[rep] = lab
		if rep >= 2*l.n {
			l.adrVar[lab] = NodeIndex(rep - 2*l.n)
		}
		return
	}

	// Direct VAR node: its label is determined by the labels of its
	// predecessors.
	var labs []int
	if set := l.pred.Get(rep); set != nil {
		l.scratch = set.AppendTo(l.scratch[:0])
		for _, p := range l.scratch {
			pr := l.rep(p)
			if pr == rep {
				continue
			}
			if lab := l.labels[pr]; lab != 0 {
				labs = append(labs, int(lab))
			}
		}
	}

	switch {
	case len(labs) == 0:
		l.labels[rep] = 0 // non-pointer
	default:
		sort.Ints(labs)
		labs = dedupSorted(labs)
		if len(labs) == 1 {
			l.labels[rep] = uint32(labs[0])
		} else {
			l.labels[rep] = l.hashLabels(labs)
		}
	}
}

func (l *peLabeler) labelHU(rep int) {
	set := new(sparse.Set)
	switch {
	case rep >= 2*l.n:
		set.Insert(rep - 2*l.n) // ADR x stands for exactly {x}
	case rep >= l.n:
		set.Insert(rep) // REF x stands for itself
	case l.indirect.Has(rep):
		set.Insert(l.adr(rep))
	default:
		// Direct VAR: the union of its predecessors' sets.
		if preds := l.pred.Get(rep); preds != nil {
			l.scratch = preds.AppendTo(l.scratch[:0])
			for _, p := range l.scratch {
				pr := l.rep(p)
				if pr == rep {
					continue
				}
				set.UnionWith(l.ptsets[pr])
			}
		}
	}
	l.ptsets[rep] = set

	if set.IsEmpty() {
		l.labels[rep] = 0
		return
	}
	lab := l.hashLabels(set.AppendTo(nil))
	l.labels[rep] = lab
	if rep >= 2*l.n {
		l.adrVar[lab] = NodeIndex(rep - 2*l.n)
	}
}

func (l *peLabeler) hashLabels(labs []int) uint32 {
	var sb strings.Builder
	for _, x := range labs {
		sb.WriteString(strconv.Itoa(x))
		sb.WriteByte(',')
	}
	key := sb.String()
	if lab, found := l.table[key]; found {
		return lab
	}
	lab := l.fresh()
	l.table[key] = lab
	return lab
}

func dedupSorted(xs []int) []int {
	out := xs[:0]
	for i, x := range xs {
		if i == 0 || x != xs[i-1] {
			out = append(out, x)
		}
	}
	return out
}

// labelOf returns the equivalence label of an arena node.
func (l *peLabeler) labelOf(f *nodeFactory, n NodeIndex) uint32 {
	return l.labels[l.rep(int(f.getMergeTarget(n)))]
}

// rewriteConstraints merges same-label nodes and rewrites the constraint
// vector: loads and stores through single-target pointers become copies,
// copies from address labels become addr_ofs, self-copies and copies from
// non-pointers are dropped, and the result is deduplicated.
func (a *analysis) rewriteConstraints(l *peLabeler) {
	f := a.factory

	firstWithLabel := make(map[uint32]NodeIndex)
	for i := 0; i < l.n; i++ {
		n := NodeIndex(i)
		lab := l.labelOf(f, n)
		if lab == 0 {
			continue
		}
		if first, found := firstWithLabel[lab]; found {
			f.mergeNode(first, n)
		} else {
			firstWithLabel[lab] = f.getMergeTarget(n)
		}
	}

	seen := make(map[constraint]bool, len(a.constraints))
	out := a.constraints[:0]
	keep := func(c constraint) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, c := range a.constraints {
		d := f.getMergeTarget(c.dest)
		switch c.kind {
		case addrOf:
			// The address of a merged variable is still the address of
			// that variable: the source stays as it is.
			keep(constraint{kind: addrOf, dest: d, src: c.src})
		case copyOf:
			s := f.getMergeTarget(c.src)
			lab := l.labelOf(f, c.src)
			switch {
			case lab == 0 || s == d:
				// Non-pointer source or self copy.
			default:
				if v, found := l.adrVar[lab]; found {
					keep(constraint{kind: addrOf, dest: d, src: v})
				} else {
					keep(constraint{kind: copyOf, dest: d, src: s})
				}
			}
		case load:
			s := f.getMergeTarget(c.src)
			if c.offset != 0 {
				keep(constraint{kind: load, dest: d, src: s, offset: c.offset})
				break
			}
			if v, found := l.adrVar[l.labelOf(f, c.src)]; found {
				keep(constraint{kind: copyOf, dest: d, src: f.getMergeTarget(v)})
			} else {
				keep(constraint{kind: load, dest: d, src: s})
			}
		case store:
			s := f.getMergeTarget(c.src)
			if c.offset != 0 {
				keep(constraint{kind: store, dest: d, src: s, offset: c.offset})
				break
			}
			if v, found := l.adrVar[l.labelOf(f, c.dest)]; found {
				keep(constraint{kind: copyOf, dest: f.getMergeTarget(v), src: s})
			} else {
				keep(constraint{kind: store, dest: d, src: s})
			}
		}
	}

	a.constraints = out
}
