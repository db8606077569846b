// Package sparse provides the sparse-bit-vector set and graph containers
// used throughout the analysis. Both are thin wrappers around
// golang.org/x/tools/container/intsets, which handles dense clusters of
// indices (such as the fields of an expanded struct object) in a single
// word block.
package sparse

import "golang.org/x/tools/container/intsets"

// Set is a set of non-negative node indices backed by a sparse bit vector.
// The zero value is an empty set ready for use.
type Set struct {
	bits intsets.Sparse
}

func (s *Set) Has(x int) bool { return s.bits.Has(x) }

// Insert adds x to the set and reports whether the set changed.
func (s *Set) Insert(x int) bool { return s.bits.Insert(x) }

// Remove removes x from the set and reports whether the set changed.
func (s *Set) Remove(x int) bool { return s.bits.Remove(x) }

// UnionWith adds all elements of other to s and reports whether s changed.
func (s *Set) UnionWith(other *Set) bool {
	if other == nil {
		return false
	}
	return s.bits.UnionWith(&other.bits)
}

// Intersects reports whether s and other share an element.
func (s *Set) Intersects(other *Set) bool {
	if other == nil {
		return false
	}
	return s.bits.Intersects(&other.bits)
}

// Contains reports whether s is a superset of other.
func (s *Set) Contains(other *Set) bool {
	if other == nil {
		return true
	}
	return other.bits.SubsetOf(&s.bits)
}

func (s *Set) Equals(other *Set) bool {
	if other == nil {
		return s.IsEmpty()
	}
	return s.bits.Equals(&other.bits)
}

func (s *Set) IsEmpty() bool { return s.bits.IsEmpty() }

// Len returns the number of elements. Not a constant-time operation.
func (s *Set) Len() int { return s.bits.Len() }

func (s *Set) Clear() { s.bits.Clear() }

// Copy makes s a copy of other.
func (s *Set) Copy(other *Set) { s.bits.Copy(&other.bits) }

// Min returns the minimum element of the set; the set must be non-empty.
func (s *Set) Min() int { return s.bits.Min() }

// AppendTo appends the elements of s to dst in ascending order and returns
// the resulting slice. Iterating over a snapshot keeps callers immune to
// structural changes made while they walk the elements.
func (s *Set) AppendTo(dst []int) []int { return s.bits.AppendTo(dst) }

func (s *Set) String() string { return s.bits.String() }

// Graph maps a source index to the sparse bit vector of its successors.
// Successor sets are handed out as stable pointers: inserting edges for one
// source never invalidates a set previously obtained for another, which the
// SCC driver relies on while it walks the graph.
type Graph struct {
	nodes map[int]*Set
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[int]*Set)}
}

// InsertEdge adds the edge src → dst and reports whether it is new.
func (g *Graph) InsertEdge(src, dst int) bool {
	return g.GetOrInsert(src).Insert(dst)
}

// MergeEdges unions other's successors into src's. A missing other is a
// no-op.
func (g *Graph) MergeEdges(src, other int) {
	os, ok := g.nodes[other]
	if !ok {
		return
	}
	g.GetOrInsert(src).UnionWith(os)
}

func (g *Graph) GetOrInsert(src int) *Set {
	s, ok := g.nodes[src]
	if !ok {
		s = new(Set)
		g.nodes[src] = s
	}
	return s
}

// Get returns the successor set of src, or nil if src has no successors.
func (g *Graph) Get(src int) *Set {
	return g.nodes[src]
}

// Nodes returns a snapshot of all sources that have a successor set.
func (g *Graph) Nodes() []int {
	ns := make([]int, 0, len(g.nodes))
	for n := range g.nodes {
		ns = append(ns, n)
	}
	return ns
}

func (g *Graph) Len() int { return len(g.nodes) }

// Release drops all successor sets, returning the memory to the collector.
func (g *Graph) Release() {
	g.nodes = make(map[int]*Set)
}
