package andersen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/BarrensZeppelin/andersen/internal/sparse"
)

// Result is the points-to graph of a finished analysis run.
type Result struct {
	factory *nodeFactory
	pts     map[NodeIndex]*sparse.Set

	Metrics Metrics
}

// PointsTo returns the IR values whose memory v may point to. The second
// result is false when v is not a known pointer. The null sink and objects
// without an IR back-reference (expanded struct fields, summary
// temporaries) are skipped.
func (r *Result) PointsTo(v value.Value) ([]value.Value, bool) {
	n := r.factory.valueNodeFor(v)
	if n == InvalidIndex {
		return nil, false
	}

	set := r.pts[r.factory.getMergeTarget(n)]
	if set == nil {
		return nil, true
	}

	var out []value.Value
	for _, o := range set.AppendTo(nil) {
		obj := NodeIndex(o)
		if obj == nullObj {
			continue
		}
		if val := r.factory.valueForNode(obj); val != nil {
			out = append(out, val)
		}
	}
	return out, true
}

// AllocationSites lists the IR value of every registered abstract object:
// globals, address-taken functions, stack and heap allocations.
func (r *Result) AllocationSites() []value.Value {
	return r.factory.allocationSites()
}

// PointsToConstantMemory reports whether every object v may point to is
// immutable: the null sink, a constant global variable, or a function.
func (r *Result) PointsToConstantMemory(v value.Value) bool {
	n := r.factory.valueNodeFor(v)
	if n == InvalidIndex {
		return false
	}
	set := r.pts[r.factory.getMergeTarget(n)]
	if set == nil {
		return false
	}

	for _, o := range set.AppendTo(nil) {
		obj := NodeIndex(o)
		val := r.factory.valueForNode(obj)
		if val == nil {
			if obj != nullObj {
				return false
			}
			continue
		}
		switch val := val.(type) {
		case *ir.Global:
			if !val.Immutable {
				return false
			}
		case *ir.Func:
			// Function bodies are immutable.
		default:
			return false
		}
	}
	return true
}
