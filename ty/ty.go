// Package ty is a small type system for driving the memory model: type
// descriptors, a textual syntax for them, and their decomposition into
// padding-free runs.
package ty

import (
	"fmt"
	"strings"

	"github.com/chazu/stackmem/mem"
)

// Ty is an immutable type descriptor. It implements mem.Type.
type Ty struct {
	kind   mem.TypeKind
	name   string // ADT name
	elem   *Ty    // pointee or array element
	n      int    // array length
	mut    bool   // mutable pointer or reference
	fields []*Ty  // tuple and ADT fields, in declaration order
}

var primitives = map[string]mem.TypeKind{
	"bool":  mem.KindBool,
	"char":  mem.KindChar,
	"i8":    mem.KindI8,
	"i16":   mem.KindI16,
	"i32":   mem.KindI32,
	"i64":   mem.KindI64,
	"i128":  mem.KindI128,
	"u8":    mem.KindU8,
	"u16":   mem.KindU16,
	"u32":   mem.KindU32,
	"u64":   mem.KindU64,
	"u128":  mem.KindU128,
	"isize": mem.KindIsize,
	"usize": mem.KindUsize,
	"f32":   mem.KindF32,
	"f64":   mem.KindF64,
}

var primitiveNames = func() map[mem.TypeKind]string {
	out := make(map[mem.TypeKind]string, len(primitives))
	for name, k := range primitives {
		out[k] = name
	}
	return out
}()

// Common primitive types.
var (
	Unit  = &Ty{kind: mem.KindUnit}
	Bool  = &Ty{kind: mem.KindBool}
	Char  = &Ty{kind: mem.KindChar}
	I8    = &Ty{kind: mem.KindI8}
	I16   = &Ty{kind: mem.KindI16}
	I32   = &Ty{kind: mem.KindI32}
	I64   = &Ty{kind: mem.KindI64}
	I128  = &Ty{kind: mem.KindI128}
	U8    = &Ty{kind: mem.KindU8}
	U16   = &Ty{kind: mem.KindU16}
	U32   = &Ty{kind: mem.KindU32}
	U64   = &Ty{kind: mem.KindU64}
	U128  = &Ty{kind: mem.KindU128}
	Isize = &Ty{kind: mem.KindIsize}
	Usize = &Ty{kind: mem.KindUsize}
	F32   = &Ty{kind: mem.KindF32}
	F64   = &Ty{kind: mem.KindF64}
)

// RawPtr returns *const elem or *mut elem.
func RawPtr(elem *Ty, mut bool) *Ty {
	return &Ty{kind: mem.KindRawPtr, elem: elem, mut: mut}
}

// Ref returns &elem or &mut elem.
func Ref(elem *Ty, mut bool) *Ty {
	return &Ty{kind: mem.KindRef, elem: elem, mut: mut}
}

// Array returns [elem; n].
func Array(elem *Ty, n int) *Ty {
	return &Ty{kind: mem.KindArray, elem: elem, n: n}
}

// Tuple returns (fields...). The empty tuple is Unit.
func Tuple(fields ...*Ty) *Ty {
	if len(fields) == 0 {
		return Unit
	}
	return &Ty{kind: mem.KindTuple, fields: fields}
}

// Adt returns a named aggregate with the given fields.
func Adt(name string, fields ...*Ty) *Ty {
	return &Ty{kind: mem.KindAdt, name: name, fields: fields}
}

func (t *Ty) Kind() mem.TypeKind { return t.kind }

// Elem returns the pointee or element type, or nil.
func (t *Ty) Elem() mem.Type {
	if t.elem == nil {
		return nil
	}
	return t.elem
}

func (t *Ty) Len() int { return t.n }

// Mut reports whether a pointer or reference is mutable.
func (t *Ty) Mut() bool { return t.mut }

// Name returns the name of an ADT.
func (t *Ty) Name() string { return t.name }

// Fields returns the fields of a tuple or ADT.
func (t *Ty) Fields() []*Ty { return t.fields }

func (t *Ty) String() string {
	switch t.kind {
	case mem.KindUnit:
		return "()"
	case mem.KindRawPtr:
		if t.mut {
			return "*mut " + t.elem.String()
		}
		return "*const " + t.elem.String()
	case mem.KindRef:
		if t.mut {
			return "&mut " + t.elem.String()
		}
		return "&" + t.elem.String()
	case mem.KindArray:
		return fmt.Sprintf("[%s; %d]", t.elem, t.n)
	case mem.KindTuple:
		if len(t.fields) == 1 {
			return "(" + t.fields[0].String() + ",)"
		}
		return "(" + joinTys(t.fields) + ")"
	case mem.KindAdt:
		if len(t.fields) == 0 {
			return t.name
		}
		return t.name + "{" + joinTys(t.fields) + "}"
	}
	if name, ok := primitiveNames[t.kind]; ok {
		return name
	}
	return "?"
}

func joinTys(tys []*Ty) string {
	parts := make([]string, len(tys))
	for i, f := range tys {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}
