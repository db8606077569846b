package andersen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen/internal/maps"
)

// NodeIndex identifies a node in the arena. Indices are dense and stable;
// structural containers (points-to graph, constraint graph, offline graphs)
// are keyed by them instead of holding pointers between node objects.
type NodeIndex int32

// InvalidIndex is returned by lookups for IR values that were never
// registered. Callers must check for it.
const InvalidIndex NodeIndex = -1

// Reserved nodes, created before any user nodes.
const (
	// universalPtr is the pointer we know nothing about.
	universalPtr NodeIndex = 0
	// universalObj is the object we know nothing about; it points to itself.
	universalObj NodeIndex = 1
	// nullPtr represents the null pointer.
	nullPtr NodeIndex = 2
	// nullObj is the object the null pointer points to.
	nullObj NodeIndex = 3
)

type nodeKind uint8

const (
	// valueNode models a top-level pointer-typed SSA value or a function
	// return.
	valueNode nodeKind = iota
	// objectNode models an abstract memory location: an allocation, a
	// global, an address-taken function, an expanded struct field or a
	// vararg pack.
	objectNode
)

type node struct {
	kind nodeKind
	// IR back-reference, may be nil (field nodes of expanded objects,
	// temporaries introduced by library summaries).
	val value.Value
	// mergeTarget points to the node this one was merged into, or to the
	// node itself if it is a representative. Merging is monotone: once
	// merged, a node is never split.
	mergeTarget NodeIndex
}

// nodeFactory owns the node arena. All node creation and index lookups go
// through it to keep the reverse maps consistent.
type nodeFactory struct {
	nodes []node

	valueMap  map[value.Value]NodeIndex
	objectMap map[value.Value]NodeIndex
	returnMap map[*ir.Func]NodeIndex
	varargMap map[*ir.Func]NodeIndex

	structs *structOracle
}

func newNodeFactory(structs *structOracle) *nodeFactory {
	f := &nodeFactory{
		valueMap:  make(map[value.Value]NodeIndex),
		objectMap: make(map[value.Value]NodeIndex),
		returnMap: make(map[*ir.Func]NodeIndex),
		varargMap: make(map[*ir.Func]NodeIndex),
		structs:   structs,
	}

	f.append(valueNode, nil)  // universalPtr
	f.append(objectNode, nil) // universalObj
	f.append(valueNode, nil)  // nullPtr
	f.append(objectNode, nil) // nullObj

	return f
}

func (f *nodeFactory) append(kind nodeKind, val value.Value) NodeIndex {
	idx := NodeIndex(len(f.nodes))
	f.nodes = append(f.nodes, node{kind: kind, val: val, mergeTarget: idx})
	return idx
}

func (f *nodeFactory) createValueNode(val value.Value) NodeIndex {
	idx := f.append(valueNode, val)
	if val != nil {
		if _, found := f.valueMap[val]; found {
			log.Panicf("value %v registered twice", val)
		}
		f.valueMap[val] = idx
	}
	return idx
}

func (f *nodeFactory) createObjectNode(val value.Value) NodeIndex {
	idx := f.append(objectNode, val)
	if val != nil {
		if _, found := f.objectMap[val]; found {
			log.Panicf("object %v registered twice", val)
		}
		f.objectMap[val] = idx
	}
	return idx
}

func (f *nodeFactory) createReturnNode(fun *ir.Func) NodeIndex {
	if _, found := f.returnMap[fun]; found {
		log.Panicf("return node of %s registered twice", fun.Name())
	}
	idx := f.append(valueNode, fun)
	f.returnMap[fun] = idx
	return idx
}

// createVarargNode creates the object standing for all pointers passed
// through the variadic portion of calls to fun.
func (f *nodeFactory) createVarargNode(fun *ir.Func) NodeIndex {
	if _, found := f.varargMap[fun]; found {
		log.Panicf("vararg node of %s registered twice", fun.Name())
	}
	idx := f.append(objectNode, fun)
	f.varargMap[fun] = idx
	return idx
}

// valueNodeFor returns the value node registered for v, resolving constants
// structurally. Unknown values yield InvalidIndex.
func (f *nodeFactory) valueNodeFor(v value.Value) NodeIndex {
	switch v.(type) {
	case *ir.Global, *ir.Func:
	default:
		if c, ok := v.(constant.Constant); ok {
			n, err := f.valueNodeForConstant(c)
			if err != nil {
				return InvalidIndex
			}
			return n
		}
	}

	if n, found := f.valueMap[v]; found {
		return n
	}
	return InvalidIndex
}

func (f *nodeFactory) valueNodeForConstant(c constant.Constant) (NodeIndex, error) {
	switch c := c.(type) {
	case *constant.Null, *constant.Undef, *constant.ZeroInitializer:
		return nullPtr, nil
	case *ir.Global, *ir.Func:
		if n, found := f.valueMap[c]; found {
			return n, nil
		}
		return InvalidIndex, nil
	case *constant.ExprGetElementPtr:
		// Registered on demand by the collector, which pairs the node with
		// an addr_of constraint on the field object.
		if n, found := f.valueMap[c]; found {
			return n, nil
		}
		return InvalidIndex, nil
	case *constant.ExprIntToPtr, *constant.ExprPtrToInt:
		return universalPtr, nil
	case *constant.ExprBitCast:
		return f.valueNodeForConstant(c.From)
	case *constant.ExprAddrSpaceCast:
		return f.valueNodeForConstant(c.From)
	default:
		return InvalidIndex, fmt.Errorf("%w: %T (%v)", ErrUnhandledConstant, c, c)
	}
}

// objectNodeFor returns the object node registered for v. Unknown values
// yield InvalidIndex.
func (f *nodeFactory) objectNodeFor(v value.Value) NodeIndex {
	switch v.(type) {
	case *ir.Global, *ir.Func:
	default:
		if c, ok := v.(constant.Constant); ok {
			n, err := f.objectNodeForConstant(c)
			if err != nil {
				return InvalidIndex
			}
			return n
		}
	}

	if n, found := f.objectMap[v]; found {
		return n
	}
	return InvalidIndex
}

func (f *nodeFactory) objectNodeForConstant(c constant.Constant) (NodeIndex, error) {
	switch c := c.(type) {
	case *constant.Null, *constant.Undef, *constant.ZeroInitializer:
		return nullObj, nil
	case *ir.Global, *ir.Func:
		if n, found := f.objectMap[c]; found {
			return n, nil
		}
		return InvalidIndex, nil
	case *constant.ExprGetElementPtr:
		base, err := f.objectNodeForConstant(c.Src)
		if err != nil || base == InvalidIndex || base == nullObj || base == universalObj {
			return base, err
		}
		off, err := f.structs.expandedGEPOffset(c)
		if err != nil {
			return InvalidIndex, err
		}
		return f.offsetObject(base, off), nil
	case *constant.ExprIntToPtr, *constant.ExprPtrToInt:
		return universalObj, nil
	case *constant.ExprBitCast:
		return f.objectNodeForConstant(c.From)
	case *constant.ExprAddrSpaceCast:
		return f.objectNodeForConstant(c.From)
	default:
		return InvalidIndex, fmt.Errorf("%w: %T (%v)", ErrUnhandledConstant, c, c)
	}
}

func (f *nodeFactory) returnNodeFor(fun *ir.Func) NodeIndex {
	if n, found := f.returnMap[fun]; found {
		return n
	}
	return InvalidIndex
}

func (f *nodeFactory) varargNodeFor(fun *ir.Func) NodeIndex {
	if n, found := f.varargMap[fun]; found {
		return n
	}
	return InvalidIndex
}

// mergeNode makes a's representative the merge target of b. Points-to sets
// and edge sets of b must be folded into a by the caller.
func (f *nodeFactory) mergeNode(a, b NodeIndex) {
	ra, rb := f.getMergeTarget(a), f.getMergeTarget(b)
	if ra == rb {
		return
	}
	f.nodes[rb].mergeTarget = ra
}

// getMergeTarget resolves n to its representative, compressing the path on
// the way.
func (f *nodeFactory) getMergeTarget(n NodeIndex) NodeIndex {
	if n < 0 || int(n) >= len(f.nodes) {
		log.Panicf("node index n%d out of range", n)
	}
	rep := f.nodes[n].mergeTarget
	if rep != n {
		rep = f.getMergeTarget(rep)
		f.nodes[n].mergeTarget = rep
	}
	return rep
}

// offsetObject returns the node for field k of the object run starting at
// base. The result must land on an object node; anything else means struct
// expansion went wrong.
func (f *nodeFactory) offsetObject(base NodeIndex, k int) NodeIndex {
	idx := base + NodeIndex(k)
	if int(idx) >= len(f.nodes) || f.nodes[idx].kind != objectNode {
		log.Panicf("field offset %d escapes the object run at n%d", k, base)
	}
	return idx
}

func (f *nodeFactory) isObjectNode(n NodeIndex) bool {
	return f.nodes[n].kind == objectNode
}

func (f *nodeFactory) valueForNode(n NodeIndex) value.Value {
	return f.nodes[n].val
}

func (f *nodeFactory) numNodes() int { return len(f.nodes) }

// allocationSites lists the IR back-reference of every registered object.
func (f *nodeFactory) allocationSites() []value.Value {
	return maps.Keys(f.objectMap)
}
