package andersen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

func isPointer(t types.Type) bool {
	_, ok := t.(*types.PointerType)
	return ok
}

// stripPointerCasts looks through constant pointer casts, so that a call
// through a bitcast of a function resolves to the function itself.
func stripPointerCasts(v value.Value) value.Value {
	for {
		switch c := v.(type) {
		case *constant.ExprBitCast:
			v = c.From
		case *constant.ExprAddrSpaceCast:
			v = c.From
		default:
			return v
		}
	}
}

// calleeFunc returns the statically known callee of v, or nil.
func calleeFunc(v value.Value) *ir.Func {
	f, _ := stripPointerCasts(v).(*ir.Func)
	return f
}

// underlyingAllocType guesses the type of the memory allocated at a
// malloc-like callsite by looking for a pointer cast of its result inside
// the same function. The first cast wins; without one the allocation is a
// single cell.
func underlyingAllocType(call value.Value, fun *ir.Func) types.Type {
	for _, block := range fun.Blocks {
		for _, inst := range block.Insts {
			if bc, ok := inst.(*ir.InstBitCast); ok && bc.From == call {
				if pt, ok := bc.To.(*types.PointerType); ok {
					return pt.ElemType
				}
			}
		}
	}
	return nil
}
