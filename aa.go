package andersen

import (
	"github.com/llir/llvm/ir/value"

	"github.com/BarrensZeppelin/andersen/internal/sparse"
)

// AliasResult is the verdict of an alias query.
type AliasResult int

const (
	NoAlias AliasResult = iota
	MayAlias
	MustAlias
)

func (r AliasResult) String() string {
	switch r {
	case NoAlias:
		return "NoAlias"
	case MayAlias:
		return "MayAlias"
	case MustAlias:
		return "MustAlias"
	}
	return "AliasResult(?)"
}

func setContainsOnly(set *sparse.Set, n NodeIndex) bool {
	return set.Len() == 1 && set.Has(int(n))
}

// Alias reports the relation between the memory accessed through a and b:
// the same representative means MustAlias, an unknown pointer means
// MayAlias, and two known pointers alias exactly when their points-to sets
// intersect outside the null sink.
func (r *Result) Alias(a, b value.Value) AliasResult {
	if !isPointer(a.Type()) || !isPointer(b.Type()) {
		return NoAlias
	}

	a, b = stripPointerCasts(a), stripPointerCasts(b)
	if a == b {
		return MustAlias
	}

	n1 := r.factory.valueNodeFor(a)
	n2 := r.factory.valueNodeFor(b)
	if n1 == InvalidIndex || n2 == InvalidIndex {
		return MayAlias
	}

	n1 = r.factory.getMergeTarget(n1)
	n2 = r.factory.getMergeTarget(n2)
	if n1 == n2 {
		return MustAlias
	}

	s1, s2 := r.pts[n1], r.pts[n2]
	if s1 == nil || s2 == nil {
		// We know nothing about at least one of the two.
		return MayAlias
	}

	if setContainsOnly(s1, nullObj) || setContainsOnly(s2, nullObj) {
		return NoAlias
	}

	if s1.Len() == 1 && s2.Len() == 1 && s1.Min() == s2.Min() {
		return MustAlias
	}

	for _, o := range s1.AppendTo(nil) {
		if NodeIndex(o) == nullObj {
			continue
		}
		if s2.Has(o) {
			return MayAlias
		}
	}
	return NoAlias
}
