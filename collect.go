package andersen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	log "github.com/sirupsen/logrus"

	"github.com/BarrensZeppelin/andersen/extlib"
)

// collector walks the module once and translates it into the constraint
// vector. The walk is split into phases so that forward references (phi
// edges, calls to later functions, initializers mentioning other globals)
// always find their nodes.
type collector struct {
	module    *ir.Module
	factory   *nodeFactory
	structs   *structOracle
	summaries *extlib.Table

	constraints []constraint

	addrTaken      map[*ir.Func]bool
	addrTakenFuncs []*ir.Func // in module order
}

func (c *collector) run() error {
	c.findAddressTakenFuncs()

	c.emit(addrOf, universalPtr, universalObj)
	c.emit(store, universalObj, universalObj)
	c.emit(addrOf, nullPtr, nullObj)

	c.collectObjects()
	c.collectSignatures()
	c.collectInstructionValues()

	if err := c.collectInitializers(); err != nil {
		return err
	}

	for _, fun := range c.module.Funcs {
		for _, block := range fun.Blocks {
			for _, inst := range block.Insts {
				if err := c.collectInst(fun, inst); err != nil {
					return err
				}
			}
			if err := c.collectTerm(fun, block.Term); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *collector) emit(kind constraintKind, dest, src NodeIndex) {
	c.constraints = append(c.constraints, constraint{kind: kind, dest: dest, src: src})
}

// emitOffset emits a load or store that addresses field offset of whatever
// object the pointer resolves to at solve time.
func (c *collector) emitOffset(kind constraintKind, dest, src NodeIndex, offset int) {
	c.constraints = append(c.constraints,
		constraint{kind: kind, dest: dest, src: src, offset: int32(offset)})
}

// findAddressTakenFuncs marks every function that is referenced outside a
// direct-callee position. llir carries no use lists, so this is a module
// pre-scan.
func (c *collector) findAddressTakenFuncs() {
	c.addrTaken = make(map[*ir.Func]bool)

	var markConstant func(cst constant.Constant)
	markConstant = func(cst constant.Constant) {
		switch cst := cst.(type) {
		case *ir.Func:
			c.addrTaken[cst] = true
		case *constant.Struct:
			for _, f := range cst.Fields {
				markConstant(f)
			}
		case *constant.Array:
			for _, e := range cst.Elems {
				markConstant(e)
			}
		case *constant.ExprGetElementPtr:
			markConstant(cst.Src)
		case *constant.ExprBitCast:
			markConstant(cst.From)
		case *constant.ExprAddrSpaceCast:
			markConstant(cst.From)
		case *constant.ExprPtrToInt:
			markConstant(cst.From)
		}
	}

	mark := func(v value.Value) {
		if cst, ok := v.(constant.Constant); ok {
			markConstant(cst)
		}
	}

	for _, g := range c.module.Globals {
		if g.Init != nil {
			markConstant(g.Init)
		}
	}

	for _, fun := range c.module.Funcs {
		for _, block := range fun.Blocks {
			for _, inst := range block.Insts {
				switch inst := inst.(type) {
				case *ir.InstCall:
					// A function named as the direct callee (possibly
					// behind a constant cast) is not address-taken.
					if calleeFunc(inst.Callee) == nil {
						mark(inst.Callee)
					}
					for _, a := range inst.Args {
						mark(a)
					}
				case *ir.InstLoad:
					mark(inst.Src)
				case *ir.InstStore:
					mark(inst.Src)
					mark(inst.Dst)
				case *ir.InstGetElementPtr:
					mark(inst.Src)
				case *ir.InstBitCast:
					mark(inst.From)
				case *ir.InstAddrSpaceCast:
					mark(inst.From)
				case *ir.InstPtrToInt:
					mark(inst.From)
				case *ir.InstSelect:
					mark(inst.ValueTrue)
					mark(inst.ValueFalse)
				case *ir.InstPhi:
					for _, inc := range inst.Incs {
						mark(inc.X)
					}
				case *ir.InstVAArg:
					mark(inst.ArgList)
				}
			}
			switch term := block.Term.(type) {
			case *ir.TermRet:
				if term.X != nil {
					mark(term.X)
				}
			case *ir.TermInvoke:
				if calleeFunc(term.Invokee) == nil {
					mark(term.Invokee)
				}
				for _, a := range term.Args {
					mark(a)
				}
			}
		}
	}

	for _, fun := range c.module.Funcs {
		if c.addrTaken[fun] {
			c.addrTakenFuncs = append(c.addrTakenFuncs, fun)
		}
	}
}

// collectObjects creates value and object nodes for globals and
// address-taken functions, and ties each value to its object.
func (c *collector) collectObjects() {
	for _, g := range c.module.Globals {
		v := c.factory.createValueNode(g)
		base := c.createObjectRun(g, g.ContentType)
		c.emit(addrOf, v, base)
	}

	for _, fun := range c.addrTakenFuncs {
		v := c.factory.createValueNode(fun)
		o := c.factory.createObjectNode(fun)
		c.emit(addrOf, v, o)
	}
}

// createObjectRun reserves a contiguous run of object nodes for a memory
// object of type t, registered under val. An empty aggregate reserves
// nothing: its pointer ends up at the null object sink.
func (c *collector) createObjectRun(val value.Value, t types.Type) NodeIndex {
	size := c.structs.expandedSizeOf(t)
	if size == 0 {
		return nullObj
	}
	base := c.factory.createObjectNode(val)
	for i := 1; i < size; i++ {
		c.factory.createObjectNode(nil)
	}
	return base
}

func (c *collector) collectSignatures() {
	for _, fun := range c.module.Funcs {
		if len(fun.Blocks) > 0 {
			if isPointer(fun.Sig.RetType) {
				c.factory.createReturnNode(fun)
			}
			if fun.Sig.Variadic {
				c.factory.createVarargNode(fun)
			}
		}
		for _, p := range fun.Params {
			if isPointer(p.Type()) {
				c.factory.createValueNode(p)
			}
		}
	}
}

// collectInstructionValues creates a value node for every pointer-typed
// instruction before any instruction semantics are examined, so that phis
// can observe forward-flowing values.
func (c *collector) collectInstructionValues() {
	for _, fun := range c.module.Funcs {
		for _, block := range fun.Blocks {
			for _, inst := range block.Insts {
				if v, ok := inst.(value.Value); ok && isPointer(v.Type()) {
					c.factory.createValueNode(v)
				}
			}
			if inv, ok := block.Term.(*ir.TermInvoke); ok && isPointer(inv.Type()) {
				c.factory.createValueNode(inv)
			}
		}
	}
}

func (c *collector) collectInitializers() error {
	for _, g := range c.module.Globals {
		obj := c.factory.objectNodeFor(g)
		if obj == InvalidIndex {
			continue // empty aggregate
		}
		if g.Init == nil {
			// Defined in another translation unit; its contents could be
			// anything.
			c.emit(copyOf, obj, universalObj)
			continue
		}
		if err := c.initializerConstraints(obj, g.Init); err != nil {
			return err
		}
	}
	return nil
}

func (c *collector) initializerConstraints(obj NodeIndex, cst constant.Constant) error {
	switch cst := cst.(type) {
	case *constant.Null, *constant.Undef, *constant.ZeroInitializer:
		c.emit(copyOf, obj, nullObj)
		return nil
	case *constant.Int, *constant.Float, *constant.CharArray:
		return nil
	case *constant.Struct:
		si := c.structs.structInfo(cst.Typ)
		for j, field := range cst.Fields {
			fieldObj := c.factory.offsetObject(obj, si.offset(j))
			if err := c.initializerConstraints(fieldObj, field); err != nil {
				return err
			}
		}
		return nil
	case *constant.Array:
		for _, elem := range cst.Elems {
			// All elements share the single object of the collapsed array.
			if err := c.initializerConstraints(obj, elem); err != nil {
				return err
			}
		}
		return nil
	default:
		if !isPointer(cst.Type()) {
			return nil
		}
		tgt, err := c.factory.objectNodeForConstant(cst)
		if err != nil {
			return err
		}
		if tgt == InvalidIndex {
			tgt = universalObj
		}
		c.emit(addrOf, obj, tgt)
		return nil
	}
}

func (c *collector) collectInst(fun *ir.Func, inst ir.Instruction) error {
	switch inst := inst.(type) {
	case *ir.InstAlloca:
		v := c.factory.valueNodeFor(inst)
		base := c.createObjectRun(inst, inst.ElemType)
		c.emit(addrOf, v, base)

	case *ir.InstLoad:
		if isPointer(inst.Type()) {
			src, err := c.operand(inst.Src)
			if err != nil {
				return err
			}
			c.emit(load, c.factory.valueNodeFor(inst), src)
		}

	case *ir.InstStore:
		if isPointer(inst.Src.Type()) {
			dst, err := c.operand(inst.Dst)
			if err != nil {
				return err
			}
			src, err := c.operand(inst.Src)
			if err != nil {
				return err
			}
			c.emit(store, dst, src)
		}

	case *ir.InstGetElementPtr:
		// Field sensitivity is encoded when constant expressions are
		// resolved; a dynamic getelementptr keeps the base's
		// pointer-to-first-field discipline.
		if isPointer(inst.Type()) {
			src, err := c.operand(inst.Src)
			if err != nil {
				return err
			}
			c.emit(copyOf, c.factory.valueNodeFor(inst), src)
		}

	case *ir.InstBitCast:
		if isPointer(inst.Type()) {
			src, err := c.operand(inst.From)
			if err != nil {
				return err
			}
			c.emit(copyOf, c.factory.valueNodeFor(inst), src)
		}

	case *ir.InstAddrSpaceCast:
		if isPointer(inst.Type()) {
			src, err := c.operand(inst.From)
			if err != nil {
				return err
			}
			c.emit(copyOf, c.factory.valueNodeFor(inst), src)
		}

	case *ir.InstPhi:
		if isPointer(inst.Type()) {
			dest := c.factory.valueNodeFor(inst)
			for _, inc := range inst.Incs {
				src, err := c.operand(inc.X)
				if err != nil {
					return err
				}
				c.emit(copyOf, dest, src)
			}
		}

	case *ir.InstSelect:
		if isPointer(inst.Type()) {
			dest := c.factory.valueNodeFor(inst)
			x, err := c.operand(inst.ValueTrue)
			if err != nil {
				return err
			}
			y, err := c.operand(inst.ValueFalse)
			if err != nil {
				return err
			}
			c.emit(copyOf, dest, x)
			c.emit(copyOf, dest, y)
		}

	case *ir.InstVAArg:
		if isPointer(inst.Type()) {
			dest := c.factory.valueNodeFor(inst)
			if va := c.factory.varargNodeFor(fun); va != InvalidIndex {
				c.emit(copyOf, dest, va)
			} else {
				c.emit(copyOf, dest, universalPtr)
			}
		}

	case *ir.InstIntToPtr:
		dest := c.factory.valueNodeFor(inst)
		src := c.intToPtrSource(inst.From)
		c.emit(copyOf, dest, src)

	case *ir.InstPtrToInt:
		// The integer escapes the analysed universe; a matching inttoptr
		// recovers the pointer, anything else lands on the universal node.

	case *ir.InstCall:
		return c.collectCall(fun, inst, inst.Callee, inst.Args)

	case *ir.InstLandingPad, *ir.InstAtomicRMW, *ir.InstCmpXchg:
		return fmt.Errorf("%w: %v", ErrUnsupportedInstruction, inst)

	default:
		if v, ok := inst.(value.Value); ok && isPointer(v.Type()) {
			return fmt.Errorf("%w: %v", ErrUnsupportedInstruction, inst)
		}
	}

	return nil
}

func (c *collector) collectTerm(fun *ir.Func, term ir.Terminator) error {
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X != nil && isPointer(term.X.Type()) {
			if ret := c.factory.returnNodeFor(fun); ret != InvalidIndex {
				src, err := c.operand(term.X)
				if err != nil {
					return err
				}
				c.emit(copyOf, ret, src)
			}
		}
	case *ir.TermInvoke:
		return c.collectCall(fun, term, term.Invokee, term.Args)
	case *ir.TermResume:
		return fmt.Errorf("%w: %v", ErrUnsupportedInstruction, term)
	}
	return nil
}

// intToPtrSource matches the inttoptr operand against "ptrtoint X" and
// "ptrtoint X + k"; anything else is routed to the universal pointer.
func (c *collector) intToPtrSource(from value.Value) NodeIndex {
	if pti, ok := from.(*ir.InstPtrToInt); ok {
		if n, err := c.operand(pti.From); err == nil {
			return n
		}
		return universalPtr
	}
	if add, ok := from.(*ir.InstAdd); ok {
		if pti, ok := add.X.(*ir.InstPtrToInt); ok {
			if n, err := c.operand(pti.From); err == nil {
				return n
			}
		} else if pti, ok := add.Y.(*ir.InstPtrToInt); ok {
			if n, err := c.operand(pti.From); err == nil {
				return n
			}
		}
	}
	return universalPtr
}

func (c *collector) collectCall(fun *ir.Func, call value.Value, callee value.Value, args []value.Value) error {
	if _, ok := callee.(*ir.InlineAsm); ok {
		return c.polluteCall(call, args)
	}

	if target := calleeFunc(callee); target != nil {
		if len(target.Blocks) > 0 {
			return c.directCall(call, target, args)
		}

		handled, err := c.externalCall(fun, call, target, args)
		if err != nil {
			return err
		}
		if !handled {
			log.Warnf("%v: %s", ErrUnknownLibraryFunction, target.Name())
			return c.polluteCall(call, args)
		}
		return nil
	}

	return c.indirectCall(call, args)
}

func (c *collector) directCall(call value.Value, target *ir.Func, args []value.Value) error {
	if isPointer(call.Type()) {
		dest := c.factory.valueNodeFor(call)
		if ret := c.factory.returnNodeFor(target); ret != InvalidIndex {
			c.emit(copyOf, dest, ret)
		} else {
			c.emit(copyOf, dest, universalPtr)
		}
	}
	return c.argConstraints(target, args)
}

func (c *collector) argConstraints(target *ir.Func, args []value.Value) error {
	n := len(target.Params)
	if len(args) < n {
		n = len(args)
	}
	for i := 0; i < n; i++ {
		formal := target.Params[i]
		if !isPointer(formal.Type()) {
			continue
		}
		fn := c.factory.valueNodeFor(formal)
		if fn == InvalidIndex {
			continue
		}
		if isPointer(args[i].Type()) {
			an, err := c.operand(args[i])
			if err != nil {
				return err
			}
			c.emit(copyOf, fn, an)
		} else {
			c.emit(copyOf, fn, universalPtr)
		}
	}

	if target.Sig.Variadic {
		if va := c.factory.varargNodeFor(target); va != InvalidIndex {
			for i := len(target.Params); i < len(args); i++ {
				if !isPointer(args[i].Type()) {
					continue
				}
				an, err := c.operand(args[i])
				if err != nil {
					return err
				}
				c.emit(copyOf, va, an)
			}
		}
	}
	return nil
}

// indirectCall pollutes the returned value and links arguments to every
// address-taken function the callsite could reach.
func (c *collector) indirectCall(call value.Value, args []value.Value) error {
	if isPointer(call.Type()) {
		c.emit(copyOf, c.factory.valueNodeFor(call), universalPtr)
	}
	for _, target := range c.addrTakenFuncs {
		if !compatibleArity(target, len(args)) {
			continue
		}
		if err := c.argConstraints(target, args); err != nil {
			return err
		}
	}
	return nil
}

func compatibleArity(fun *ir.Func, nargs int) bool {
	if fun.Sig.Variadic {
		return nargs >= len(fun.Params)
	}
	return nargs == len(fun.Params)
}

// polluteCall routes a call nothing is known about to the universal node:
// the result could be anything and every pointer argument escapes.
func (c *collector) polluteCall(call value.Value, args []value.Value) error {
	if isPointer(call.Type()) {
		c.emit(copyOf, c.factory.valueNodeFor(call), universalPtr)
	}
	for _, a := range args {
		if !isPointer(a.Type()) {
			continue
		}
		an, err := c.operand(a)
		if err != nil {
			return err
		}
		c.emit(copyOf, an, universalPtr)
	}
	return nil
}

// operand resolves an instruction operand to its value node. Values outside
// the registered universe degrade to the universal pointer.
func (c *collector) operand(v value.Value) (NodeIndex, error) {
	if gep, ok := v.(*constant.ExprGetElementPtr); ok {
		return c.gepConstNode(gep)
	}
	if bc, ok := v.(*constant.ExprBitCast); ok {
		if gep, ok := bc.From.(*constant.ExprGetElementPtr); ok {
			return c.gepConstNode(gep)
		}
	}

	var n NodeIndex
	switch v.(type) {
	case *ir.Global, *ir.Func:
		n = c.factory.valueNodeFor(v)
	default:
		if cst, ok := v.(constant.Constant); ok {
			var err error
			n, err = c.factory.valueNodeForConstant(cst)
			if err != nil {
				return InvalidIndex, err
			}
		} else {
			n = c.factory.valueNodeFor(v)
		}
	}

	if n == InvalidIndex {
		log.Debugf("no node for operand %v; using the universal pointer", v)
		return universalPtr, nil
	}
	return n, nil
}

// gepConstNode materialises the value node of a getelementptr constant the
// first time it is seen, seeding it with the address of the selected field
// object.
func (c *collector) gepConstNode(gep *constant.ExprGetElementPtr) (NodeIndex, error) {
	if n := c.factory.valueNodeFor(gep); n != InvalidIndex {
		return n, nil
	}
	obj, err := c.factory.objectNodeForConstant(gep)
	if err != nil {
		return InvalidIndex, err
	}
	if obj == InvalidIndex {
		return universalPtr, nil
	}
	n := c.factory.createValueNode(gep)
	c.emit(addrOf, n, obj)
	return n, nil
}
