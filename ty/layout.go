package ty

import "github.com/chazu/stackmem/mem"

// Runs decomposes t into the sizes of its padding-free runs. A type with a
// guaranteed size is a single run. Tuples and ADTs are the concatenation of
// their fields' runs, since padding may appear between any two fields, and
// an array of such a type repeats its element's runs. Zero-sized runs are
// dropped.
func Runs(t *Ty, ptrSize int) []int {
	if size, ok := mem.TySize(t, ptrSize); ok {
		if size == 0 {
			return nil
		}
		return []int{size}
	}
	var out []int
	switch t.kind {
	case mem.KindTuple, mem.KindAdt:
		for _, f := range t.fields {
			out = append(out, Runs(f, ptrSize)...)
		}
	case mem.KindArray:
		elem := Runs(t.elem, ptrSize)
		for range t.n {
			out = append(out, elem...)
		}
	}
	return out
}
