package mem

import "testing"

type fakeType struct {
	kind TypeKind
	elem Type
	n    int
}

func (f fakeType) Kind() TypeKind { return f.kind }
func (f fakeType) Elem() Type     { return f.elem }
func (f fakeType) Len() int       { return f.n }

func TestTySize(t *testing.T) {
	u16 := fakeType{kind: KindU16}
	tuple := fakeType{kind: KindTuple}

	tests := []struct {
		name string
		ty   Type
		want int
		ok   bool
	}{
		{"unit", fakeType{kind: KindUnit}, 0, true},
		{"bool", fakeType{kind: KindBool}, 1, true},
		{"char", fakeType{kind: KindChar}, 4, true},
		{"i8", fakeType{kind: KindI8}, 1, true},
		{"u16", u16, 2, true},
		{"i32", fakeType{kind: KindI32}, 4, true},
		{"u64", fakeType{kind: KindU64}, 8, true},
		{"i128", fakeType{kind: KindI128}, 16, true},
		{"f32", fakeType{kind: KindF32}, 4, true},
		{"f64", fakeType{kind: KindF64}, 8, true},
		{"isize", fakeType{kind: KindIsize}, 4, true},
		{"usize", fakeType{kind: KindUsize}, 4, true},
		{"raw ptr", fakeType{kind: KindRawPtr}, 4, true},
		{"ref", fakeType{kind: KindRef}, 4, true},
		{"array", fakeType{kind: KindArray, elem: u16, n: 3}, 6, true},
		{"nested array", fakeType{kind: KindArray, elem: fakeType{kind: KindArray, elem: u16, n: 2}, n: 5}, 20, true},
		{"empty array", fakeType{kind: KindArray, elem: u16, n: 0}, 0, true},
		{"tuple", tuple, 0, false},
		{"array of tuple", fakeType{kind: KindArray, elem: tuple, n: 2}, 0, false},
		{"adt", fakeType{kind: KindAdt}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TySize(tt.ty, 4)
			if ok != tt.ok || got != tt.want {
				t.Errorf("TySize = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMemoryTySizeUsesPointerWidth(t *testing.T) {
	m := New(WithPointerSize(2))
	if got, _ := m.TySize(fakeType{kind: KindRef}); got != 2 {
		t.Errorf("ref size = %d, want 2", got)
	}
	if got, _ := New().TySize(fakeType{kind: KindUsize}); got != DefaultPointerSize {
		t.Errorf("usize size = %d, want %d", got, DefaultPointerSize)
	}
}
