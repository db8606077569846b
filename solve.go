package andersen

import (
	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen/internal/queue"
	"github.com/BarrensZeppelin/andersen/internal/scc"
	"github.com/BarrensZeppelin/andersen/internal/sparse"
)

// The online solver: a fixed-point worklist over the constraint graph with
// lazy cycle detection and the online half of hybrid cycle detection, after
// Hardekopf & Lin (PLDI 2007). LCD batches cycle candidates and detects
// them all at the start of the next iteration instead of one DFS per
// candidate edge.

// edgeSets are the per-representative successor sets of the constraint
// graph. Endpoints are representatives at the time of insertion; endpoints
// that go stale through later merges are rewritten when discovered.
// Loads and stores that address a field offset of the pointed-to object
// (library aggregate copies) are kept in side lists: the node they touch is
// only determined once the points-to set is known.
type edgeSets struct {
	copies sparse.Set
	loads  sparse.Set
	stores sparse.Set

	loadsOff  []offsetEdge
	storesOff []offsetEdge
}

type offsetEdge struct {
	target NodeIndex
	offset int32
}

func insertOffsetEdge(edges []offsetEdge, target NodeIndex, offset int32) []offsetEdge {
	for _, e := range edges {
		if e.target == target && e.offset == offset {
			return edges
		}
	}
	return append(edges, offsetEdge{target: target, offset: offset})
}

type constraintGraph struct {
	nodes map[NodeIndex]*edgeSets
}

func newConstraintGraph() *constraintGraph {
	return &constraintGraph{nodes: make(map[NodeIndex]*edgeSets)}
}

func (g *constraintGraph) get(n NodeIndex) *edgeSets {
	return g.nodes[n]
}

func (g *constraintGraph) getOrInsert(n NodeIndex) *edgeSets {
	es, found := g.nodes[n]
	if !found {
		es = new(edgeSets)
		g.nodes[n] = es
	}
	return es
}

func (g *constraintGraph) insertCopyEdge(src, dst NodeIndex) bool {
	return g.getOrInsert(src).copies.Insert(int(dst))
}

// worklist is a FIFO with deduplicating enqueue.
type worklist struct {
	fifo queue.Queue[NodeIndex]
	set  sparse.Set
}

func (w *worklist) enqueue(n NodeIndex) {
	if w.set.Insert(int(n)) {
		w.fifo.Push(n)
	}
}

func (w *worklist) dequeue() NodeIndex {
	n := w.fifo.Pop()
	w.set.Remove(int(n))
	return n
}

func (w *worklist) empty() bool { return w.fifo.Empty() }

type solver struct {
	factory *nodeFactory
	graph   *constraintGraph
	pts     map[NodeIndex]*sparse.Set

	enableHCD bool
	enableLCD bool
	collapse  map[NodeIndex]NodeIndex

	curr, next *worklist
	// LCD state: nodes believed to be on a cycle, and copy edges already
	// found not to be.
	candidates sparse.Set
	checked    map[[2]NodeIndex]bool

	scratch []int
}

func newSolver(a *analysis) *solver {
	return &solver{
		factory:   a.factory,
		graph:     newConstraintGraph(),
		pts:       make(map[NodeIndex]*sparse.Set),
		enableHCD: a.config.EnableHCD,
		enableLCD: a.config.EnableLCD,
		collapse:  a.collapse,
		curr:      new(worklist),
		next:      new(worklist),
		checked:   make(map[[2]NodeIndex]bool),
	}
}

func (s *solver) rep(n NodeIndex) NodeIndex {
	return s.factory.getMergeTarget(n)
}

func (s *solver) ptsOf(n NodeIndex) *sparse.Set {
	set, found := s.pts[n]
	if !found {
		set = new(sparse.Set)
		s.pts[n] = set
	}
	return set
}

// fieldObject resolves field offset of the object o, staying within the
// arena's object runs. The universal object absorbs any offset; anything
// that escapes its run (an aggregate copy larger than the object) reaches
// nothing.
func (s *solver) fieldObject(o NodeIndex, offset int32) NodeIndex {
	if offset == 0 {
		return o
	}
	if o == universalObj {
		return universalObj
	}
	if o == nullObj {
		return InvalidIndex
	}
	// The fields of a run follow its base as object nodes without an IR
	// back-reference; the next object with one starts another run.
	field := o + NodeIndex(offset)
	for k := o + 1; k <= field; k++ {
		if int(k) >= s.factory.numNodes() || !s.factory.isObjectNode(k) ||
			s.factory.valueForNode(k) != nil {
			return InvalidIndex
		}
	}
	return field
}

// contagion keeps the universal object absorbing: a set that gains it
// collapses to the singleton.
func (s *solver) contagion(set *sparse.Set) {
	if set.Has(int(universalObj)) && set.Len() > 1 {
		set.Clear()
		set.Insert(int(universalObj))
	}
}

// build translates the rewritten constraint vector into the constraint
// graph and the initial points-to sets.
func (s *solver) build(constraints []constraint) {
	for _, c := range constraints {
		st := s.rep(c.src)
		dt := s.rep(c.dest)
		switch c.kind {
		case addrOf:
			// The source is deliberately not resolved: the address of a
			// variable is not the address of whatever it was merged with.
			s.ptsOf(dt).Insert(int(c.src))
		case load:
			es := s.graph.getOrInsert(st)
			if c.offset == 0 {
				es.loads.Insert(int(dt))
			} else {
				es.loadsOff = insertOffsetEdge(es.loadsOff, dt, c.offset)
			}
		case store:
			es := s.graph.getOrInsert(dt)
			if c.offset == 0 {
				es.stores.Insert(int(st))
			} else {
				es.storesOff = insertOffsetEdge(es.storesOff, st, c.offset)
			}
		case copyOf:
			s.graph.getOrInsert(st).copies.Insert(int(dt))
		}
	}

	// The universal object points to itself.
	s.ptsOf(s.rep(universalObj)).Insert(int(universalObj))

	for _, set := range s.pts {
		s.contagion(set)
	}
}

// seed enqueues every representative that can contribute right away.
func (s *solver) seed() {
	for i := 0; i < s.factory.numNodes(); i++ {
		n := NodeIndex(i)
		if s.rep(n) != n {
			continue
		}
		if set, found := s.pts[n]; found && !set.IsEmpty() && s.graph.get(n) != nil {
			s.curr.enqueue(n)
		}
	}
	log.Debugf("seeded %d solver nodes", s.curr.fifo.Len())
}

func (s *solver) run() {
	for !s.curr.empty() {
		if s.enableLCD && !s.candidates.IsEmpty() {
			s.detectCycles()
			s.candidates.Clear()
		}

		for !s.curr.empty() {
			n := s.rep(s.curr.dequeue())
			s.processNode(n)
		}

		s.curr, s.next = s.next, s.curr
	}
}

func (s *solver) processNode(n NodeIndex) {
	pts := s.pts[n]
	if pts == nil || pts.IsEmpty() {
		return
	}

	if s.enableHCD {
		if tgt, found := s.collapse[n]; found {
			// Everything n points to is known to be in one cycle with
			// tgt: collapse it now instead of waiting for LCD.
			tgt = s.rep(tgt)
			s.scratch = pts.AppendTo(s.scratch[:0])
			for _, o := range s.scratch {
				s.mergeNodes(tgt, s.rep(NodeIndex(o)))
			}
			if r := s.rep(n); r != n {
				// n itself was swallowed by the collapse.
				s.next.enqueue(r)
				return
			}
			pts = s.pts[n]
			if pts == nil || pts.IsEmpty() {
				return
			}
		}
	}

	es := s.graph.get(n)
	if es == nil {
		return
	}

	s.scratch = pts.AppendTo(s.scratch[:0])
	objs := s.scratch
	for _, o := range objs {
		ov := s.rep(NodeIndex(o))

		for _, t := range es.loads.AppendTo(nil) {
			tr := s.rep(NodeIndex(t))
			if int(tr) != t {
				es.loads.Remove(t)
				es.loads.Insert(int(tr))
			}
			if s.graph.insertCopyEdge(ov, tr) {
				s.next.enqueue(ov)
			}
		}

		for _, t := range es.stores.AppendTo(nil) {
			tr := s.rep(NodeIndex(t))
			if int(tr) != t {
				es.stores.Remove(t)
				es.stores.Insert(int(tr))
			}
			if s.graph.insertCopyEdge(tr, ov) {
				s.next.enqueue(tr)
			}
		}

		// Field-offset edges address field k of the object o itself, so
		// the offset applies to the raw index of the run, not to ov.
		for i := range es.loadsOff {
			e := &es.loadsOff[i]
			tr := s.rep(e.target)
			e.target = tr
			field := s.fieldObject(NodeIndex(o), e.offset)
			if field == InvalidIndex {
				continue
			}
			fr := s.rep(field)
			if s.graph.insertCopyEdge(fr, tr) {
				s.next.enqueue(fr)
			}
		}

		for i := range es.storesOff {
			e := &es.storesOff[i]
			tr := s.rep(e.target)
			e.target = tr
			field := s.fieldObject(NodeIndex(o), e.offset)
			if field == InvalidIndex {
				continue
			}
			if s.graph.insertCopyEdge(tr, s.rep(field)) {
				s.next.enqueue(tr)
			}
		}
	}

	for _, t := range es.copies.AppendTo(nil) {
		tr := s.rep(NodeIndex(t))
		if int(tr) != t {
			es.copies.Remove(t)
			if tr == n {
				continue
			}
			es.copies.Insert(int(tr))
		}
		if tr == n {
			continue
		}

		tpts := s.ptsOf(tr)
		if tpts.UnionWith(pts) {
			s.contagion(tpts)
			s.next.enqueue(tr)
		} else if s.enableLCD {
			edge := [2]NodeIndex{n, tr}
			if !s.checked[edge] && pts.Equals(tpts) {
				s.checked[edge] = true
				s.candidates.Insert(int(tr))
			}
		}
	}
}

// detectCycles runs the SCC detector over the copy edges, restricted to the
// LCD candidates, and collapses every non-trivial component found.
func (s *solver) detectCycles() {
	roots := s.candidates.AppendTo(nil)

	var members []int
	var groups [][]int
	det := &scc.Detector{
		Rep: func(v int) int { return int(s.rep(NodeIndex(v))) },
		Succs: func(v int) []int {
			es := s.graph.get(NodeIndex(v))
			if es == nil {
				return nil
			}
			return es.copies.AppendTo(nil)
		},
		OnCycleMember: func(m, rep int) {
			members = append(members, m)
		},
		OnCycleRep: func(rep int) {
			if len(members) > 0 {
				groups = append(groups, append(members, rep))
				members = nil
			}
		},
	}
	det.Run(roots)

	// Merging is deferred until the traversal is over.
	for _, group := range groups {
		tgt := s.rep(NodeIndex(group[len(group)-1]))
		for _, m := range group[:len(group)-1] {
			s.mergeNodes(tgt, s.rep(NodeIndex(m)))
		}
	}
}

// mergeNodes folds src into dst: union-find target, points-to set and edge
// sets. Both arguments must be representatives.
func (s *solver) mergeNodes(dst, src NodeIndex) {
	if dst == src {
		return
	}

	s.factory.mergeNode(dst, src)

	if sp, found := s.pts[src]; found {
		s.ptsOf(dst).UnionWith(sp)
		delete(s.pts, src)
	}

	if se, found := s.graph.nodes[src]; found {
		de := s.graph.getOrInsert(dst)
		de.copies.UnionWith(&se.copies)
		de.loads.UnionWith(&se.loads)
		de.stores.UnionWith(&se.stores)
		for _, e := range se.loadsOff {
			de.loadsOff = insertOffsetEdge(de.loadsOff, e.target, e.offset)
		}
		for _, e := range se.storesOff {
			de.storesOff = insertOffsetEdge(de.storesOff, e.target, e.offset)
		}
		delete(s.graph.nodes, src)
	}
	if de := s.graph.get(dst); de != nil {
		de.copies.Remove(int(dst))
		de.copies.Remove(int(src))
	}

	if set, found := s.pts[dst]; found {
		s.contagion(set)
	}
	s.next.enqueue(dst)
}
