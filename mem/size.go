package mem

// TypeKind classifies a type descriptor for size resolution.
type TypeKind uint8

const (
	KindUnit TypeKind = iota
	KindBool
	KindChar
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindIsize
	KindUsize
	KindF32
	KindF64
	KindRawPtr
	KindRef
	KindArray
	KindTuple
	KindAdt
)

// Type is the view of a type descriptor that size resolution needs. Elem and
// Len are only consulted for arrays.
type Type interface {
	Kind() TypeKind
	Elem() Type
	Len() int
}

// TySize returns the size of t for types with a guaranteed size. Composite
// types under the default layout have no guaranteed size, since the abstract
// machine may insert arbitrarily large padding.
func TySize(t Type, ptrSize int) (int, bool) {
	switch t.Kind() {
	case KindUnit:
		return 0, true
	case KindBool, KindI8, KindU8:
		return 1, true
	case KindI16, KindU16:
		return 2, true
	case KindChar, KindI32, KindU32, KindF32:
		return 4, true
	case KindI64, KindU64, KindF64:
		return 8, true
	case KindI128, KindU128:
		return 16, true
	case KindIsize, KindUsize, KindRawPtr, KindRef:
		return ptrSize, true
	case KindArray:
		elem, ok := TySize(t.Elem(), ptrSize)
		if !ok {
			return 0, false
		}
		return elem * t.Len(), true
	}
	return 0, false
}

// TySize resolves t with the store's pointer width.
func (m *Memory) TySize(t Type) (int, bool) {
	return TySize(t, m.ptrSize)
}
