package andersen

import (
	"github.com/BarrensZeppelin/andersen/internal/scc"
	"github.com/BarrensZeppelin/andersen/internal/sparse"
)

// Offline portion of hybrid cycle detection (Hardekopf & Lin, "The Ant and
// the Grasshopper", PLDI 2007). The offline constraint graph lives in a
// universe of 2·N indices (VAR ∪ REF). A cycle through REF x means that
// everything x points to at solve time can be collapsed with the cycle's
// representative as soon as it is discovered; the collapse map records
// exactly that and is the only artifact handed to the solver.
type hcdState struct {
	n     int
	graph *sparse.Graph

	members    []int
	mergePairs [][2]NodeIndex
	collapse   map[NodeIndex]NodeIndex
}

// offlineHCD computes the collapse map for the current constraint vector.
func (a *analysis) offlineHCD() map[NodeIndex]NodeIndex {
	f := a.factory
	h := &hcdState{
		n:        f.numNodes(),
		graph:    sparse.NewGraph(),
		collapse: make(map[NodeIndex]NodeIndex),
	}

	for _, c := range a.constraints {
		if c.offset != 0 {
			// Field-offset loads and stores do not collapse: the accessed
			// node varies with the points-to set.
			continue
		}
		d := int(f.getMergeTarget(c.dest))
		s := int(f.getMergeTarget(c.src))
		switch c.kind {
		case addrOf:
		case load:
			h.graph.InsertEdge(h.n+s, d)
		case store:
			h.graph.InsertEdge(s, h.n+d)
		case copyOf:
			h.graph.InsertEdge(s, d)
		}
	}

	roots := make([]int, 0, 2*h.n)
	for i := 0; i < h.n; i++ {
		r := int(f.getMergeTarget(NodeIndex(i)))
		roots = append(roots, r, h.n+r)
	}

	det := &scc.Detector{
		Rep: func(v int) int {
			if v >= h.n {
				return v
			}
			return int(f.getMergeTarget(NodeIndex(v)))
		},
		Succs: func(v int) []int {
			set := h.graph.Get(v)
			if set == nil {
				return nil
			}
			return set.AppendTo(nil)
		},
		OnCycleMember: func(m, rep int) {
			h.members = append(h.members, m)
		},
		OnCycleRep: h.closeComponent,
	}
	det.Run(roots)

	// Merging is deferred until after the traversal so that the DFS sees a
	// stable graph.
	for _, pair := range h.mergePairs {
		f.mergeNode(pair[0], pair[1])
	}
	h.graph.Release()

	return h.collapse
}

func (h *hcdState) closeComponent(rep int) {
	if len(h.members) == 0 {
		return
	}
	group := append(h.members, rep)
	h.members = nil

	// The representative is the first VAR of the component.
	target := NodeIndex(-1)
	for _, m := range group {
		if m < h.n && (target == InvalidIndex || NodeIndex(m) < target) {
			target = NodeIndex(m)
		}
	}
	if target == InvalidIndex {
		// A cycle cannot consist of REF nodes only: every REF successor
		// edge leads to a VAR.
		return
	}

	for _, m := range group {
		switch {
		case m >= h.n:
			h.collapse[NodeIndex(m-h.n)] = target
		case NodeIndex(m) != target:
			h.mergePairs = append(h.mergePairs, [2]NodeIndex{target, NodeIndex(m)})
		}
	}
}
