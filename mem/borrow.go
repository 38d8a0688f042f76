package mem

import "fmt"

// Edge identifies one live reference or pointer value. Edges are handed out
// by the borrow/projection graph that drives the store; Memory only compares
// and orders them.
type Edge uint32

// BorrowKind is the permission a borrow grants.
type BorrowKind uint8

const (
	Raw BorrowKind = iota
	Shared
	Exclusive
)

func (k BorrowKind) String() string {
	switch k {
	case Raw:
		return "*"
	case Shared:
		return "&"
	case Exclusive:
		return "&mut"
	default:
		return "&unknown"
	}
}

// ParseBorrowKind accepts both the symbolic form produced by String and the
// words raw, shared and excl.
func ParseBorrowKind(s string) (BorrowKind, error) {
	switch s {
	case "*", "raw":
		return Raw, nil
	case "&", "shared":
		return Shared, nil
	case "&mut", "excl", "exclusive":
		return Exclusive, nil
	}
	return Raw, fmt.Errorf("mem: unknown borrow kind %q", s)
}

// Borrow is one entry of a byte's borrow stack.
type Borrow struct {
	Kind BorrowKind `cbor:"1,keyasint"`
	Edge Edge       `cbor:"2,keyasint"`
}

func (b Borrow) String() string {
	return fmt.Sprintf("%s%d", b.Kind, b.Edge)
}
