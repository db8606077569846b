package andersen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// structInfo describes the flattened layout of a struct type, following the
// field-sensitive scheme of Pearce et al.: nested structs are expanded in
// place and an array is treated as a single element of its element type.
type structInfo struct {
	// Per expanded field: whether the field was (part of) an array, and
	// whether it has pointer type.
	arrayFlags   []bool
	pointerFlags []bool
	// offsetMap[j] is the position of original field j in the expanded
	// layout.
	offsetMap []int
}

// expandedSize is the number of scalar fields after flattening.
func (si *structInfo) expandedSize() int { return len(si.arrayFlags) }

// numFields is the number of fields of the original struct.
func (si *structInfo) numFields() int { return len(si.offsetMap) }

// offset translates an original field index into an object-node delta.
func (si *structInfo) offset(j int) int { return si.offsetMap[j] }

func (si *structInfo) isEmpty() bool { return len(si.arrayFlags) == 0 }

func (si *structInfo) fieldIsArray(k int) bool   { return si.arrayFlags[k] }
func (si *structInfo) fieldIsPointer(k int) bool { return si.pointerFlags[k] }

// structOracle computes and caches structInfo per struct type. After
// constraint collection it is no longer consulted.
type structOracle struct {
	infos map[*types.StructType]*structInfo
}

func newStructOracle() *structOracle {
	return &structOracle{infos: make(map[*types.StructType]*structInfo)}
}

// run seeds the cache with the module's named struct types. Literal struct
// types encountered later are computed on demand.
func (o *structOracle) run(m *ir.Module) {
	for _, def := range m.TypeDefs {
		if st, ok := def.(*types.StructType); ok {
			o.structInfo(st)
		}
	}
}

func (o *structOracle) structInfo(st *types.StructType) *structInfo {
	if si, found := o.infos[st]; found {
		return si
	}

	si := new(structInfo)
	numField := 0
	for _, field := range st.Fields {
		isArray := false
		for {
			at, ok := field.(*types.ArrayType)
			if !ok {
				break
			}
			isArray = true
			field = at.ElemType
		}

		si.offsetMap = append(si.offsetMap, numField)

		if sub, ok := field.(*types.StructType); ok {
			subInfo := o.structInfo(sub)
			si.arrayFlags = append(si.arrayFlags, subInfo.arrayFlags...)
			si.pointerFlags = append(si.pointerFlags, subInfo.pointerFlags...)
			numField += subInfo.expandedSize()
		} else {
			si.arrayFlags = append(si.arrayFlags, isArray)
			si.pointerFlags = append(si.pointerFlags, isPointer(field))
			numField++
		}
	}

	o.infos[st] = si
	return si
}

// expandedSizeOf returns the number of object nodes needed for a memory
// object of type t. An empty aggregate yields 0.
func (o *structOracle) expandedSizeOf(t types.Type) int {
	switch t := t.(type) {
	case *types.StructType:
		return o.structInfo(t).expandedSize()
	case *types.ArrayType:
		return o.expandedSizeOf(t.ElemType)
	case *types.VectorType:
		return o.expandedSizeOf(t.ElemType)
	default:
		return 1
	}
}

// expandedGEPOffset resolves the constant indices of a getelementptr
// expression into an offset in the expanded layout of the base object. The
// first index steps over the pointer operand and contributes nothing; array
// indices collapse onto their element.
func (o *structOracle) expandedGEPOffset(gep *constant.ExprGetElementPtr) (int, error) {
	pt, ok := gep.Src.Type().(*types.PointerType)
	if !ok {
		return 0, fmt.Errorf("%w: getelementptr on non-pointer %v", ErrUnhandledConstant, gep.Src)
	}
	if len(gep.Indices) == 0 {
		return 0, nil
	}

	cur := pt.ElemType
	off := 0
	for _, idx := range gep.Indices[1:] {
		switch t := cur.(type) {
		case *types.StructType:
			rawIdx := idx
			if wrapped, ok := rawIdx.(*constant.Index); ok {
				rawIdx = wrapped.Constant
			}
			ci, ok := rawIdx.(*constant.Int)
			if !ok {
				return 0, fmt.Errorf("%w: non-constant struct field index in %v", ErrUnhandledConstant, gep)
			}
			j := int(ci.X.Int64())
			si := o.structInfo(t)
			if j < 0 || j >= si.numFields() {
				return 0, fmt.Errorf("%w: field index %d out of range in %v", ErrUnhandledConstant, j, gep)
			}
			off += si.offset(j)
			cur = t.Fields[j]
		case *types.ArrayType:
			cur = t.ElemType
		case *types.VectorType:
			cur = t.ElemType
		default:
			return off, nil
		}
	}
	return off, nil
}
