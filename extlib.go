package andersen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/BarrensZeppelin/andersen/extlib"
)

// externalCall translates a call to a declared function through the summary
// table. It reports false for names the table does not know, in which case
// the caller escalates to the pollute path.
func (c *collector) externalCall(fun *ir.Func, call value.Value, target *ir.Func, args []value.Value) (bool, error) {
	sum, known := c.summaries.Lookup(target.Name())
	if !known {
		return false, nil
	}

	switch sum.Kind {
	case extlib.Noop:

	case extlib.Alloc:
		c.allocCall(fun, call)

	case extlib.AllocIndirect:
		// posix_memalign stores the fresh object through its first
		// argument. An ill-typed first argument degrades to the pollute
		// path.
		if len(args) == 0 || !isPointer(args[0].Type()) {
			return false, nil
		}
		arg0, err := c.operand(args[0])
		if err != nil {
			return false, err
		}
		obj := c.factory.createObjectNode(call)
		c.emit(store, arg0, obj)

	case extlib.Realloc:
		if len(args) == 0 {
			return false, nil
		}
		if !isNullConst(args[0]) {
			c.allocCall(fun, call)
		} else if isPointer(call.Type()) {
			arg0, err := c.operand(args[0])
			if err != nil {
				return false, err
			}
			c.emit(copyOf, c.factory.valueNodeFor(call), arg0)
		}

	case extlib.RetArg:
		if isPointer(call.Type()) && sum.Arg < len(args) {
			an, err := c.operand(args[sum.Arg])
			if err != nil {
				return false, err
			}
			c.emit(copyOf, c.factory.valueNodeFor(call), an)
		}

	case extlib.Memcpy:
		if len(args) < 2 {
			return false, nil
		}
		if err := c.memcpyCall(call, args); err != nil {
			return false, err
		}

	case extlib.Convert:
		if len(args) >= 2 && !isNullConst(args[1]) {
			arg0, err := c.operand(args[0])
			if err != nil {
				return false, err
			}
			arg1, err := c.operand(args[1])
			if err != nil {
				return false, err
			}
			c.emit(store, arg0, arg1)
		}

	case extlib.VAStart:
		if len(args) == 0 {
			return false, nil
		}
		va := c.factory.varargNodeFor(fun)
		if va == InvalidIndex {
			return false, nil
		}
		arg0, err := c.operand(args[0])
		if err != nil {
			return false, err
		}
		c.emit(addrOf, arg0, va)
	}

	return true, nil
}

// allocCall materialises a fresh object run for a malloc-like callsite and
// makes the result point at it. The run is sized from a pointer cast of the
// result when one exists.
func (c *collector) allocCall(fun *ir.Func, call value.Value) {
	var base NodeIndex
	if t := underlyingAllocType(call, fun); t != nil {
		base = c.createObjectRun(call, t)
	} else {
		base = c.factory.createObjectNode(call)
	}
	if isPointer(call.Type()) {
		c.emit(addrOf, c.factory.valueNodeFor(call), base)
	}
}

// memcpyCall models memcpy/memmove with a load/store pair through a
// temporary node per field: temp = *(src + i); *(dst + i) = temp. The field
// objects are only known relative to whatever the arguments point to, so
// the offsets are resolved by the solver against each object's run. The
// call returns its first argument.
func (c *collector) memcpyCall(call value.Value, args []value.Value) error {
	arg0, err := c.operand(args[0])
	if err != nil {
		return err
	}
	arg1, err := c.operand(args[1])
	if err != nil {
		return err
	}

	size := 1
	if st, ok := underlyingPointee(args[1]).(*types.StructType); ok {
		if n := c.structs.structInfo(st).expandedSize(); n > 0 {
			size = n
		}
	}

	for i := 0; i < size; i++ {
		tmp := c.factory.createValueNode(nil)
		c.emitOffset(load, tmp, arg1, i)
		c.emitOffset(store, arg0, tmp, i)
	}

	if isPointer(call.Type()) {
		c.emit(copyOf, c.factory.valueNodeFor(call), arg0)
	}
	return nil
}

// underlyingPointee walks pointer casts and getelementptrs back to the
// allocation a pointer is derived from and returns the pointed-to type.
func underlyingPointee(v value.Value) types.Type {
	for {
		switch vv := v.(type) {
		case *ir.InstBitCast:
			v = vv.From
		case *ir.InstGetElementPtr:
			v = vv.Src
		case *constant.ExprBitCast:
			v = vv.From
		case *constant.ExprGetElementPtr:
			v = vv.Src
		case *ir.InstAlloca:
			return vv.ElemType
		case *ir.Global:
			return vv.ContentType
		default:
			if pt, ok := v.Type().(*types.PointerType); ok {
				return pt.ElemType
			}
			return nil
		}
	}
}

func isNullConst(v value.Value) bool {
	switch v.(type) {
	case *constant.Null, *constant.ZeroInitializer:
		return true
	}
	return false
}
