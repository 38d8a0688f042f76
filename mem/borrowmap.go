package mem

import (
	"slices"

	"github.com/google/btree"
)

// stackEntry is one coalesced interval of a borrowMap: every byte in
// [start, end) has exactly this stack, oldest borrow first.
type stackEntry struct {
	start int
	end   int
	stack []Borrow
}

func entryLess(a, b *stackEntry) bool {
	return a.start < b.start
}

// borrowMap maps every byte offset of a run to its borrow stack. Adjacent
// bytes with equal stacks share one entry. The entries always tile
// [0, size) exactly; every mutation splits at the range boundaries, edits
// the entries inside and then merges equal neighbours again.
type borrowMap struct {
	size int
	tree *btree.BTreeG[*stackEntry]
}

const borrowMapDegree = 8

func newBorrowMap(size int) *borrowMap {
	bm := &borrowMap{
		size: size,
		tree: btree.NewG(borrowMapDegree, entryLess),
	}
	if size > 0 {
		bm.tree.ReplaceOrInsert(&stackEntry{start: 0, end: size})
	}
	return bm
}

// entryAt returns the entry covering byte offset off.
func (bm *borrowMap) entryAt(off int) *stackEntry {
	var found *stackEntry
	bm.tree.DescendLessOrEqual(&stackEntry{start: off}, func(e *stackEntry) bool {
		found = e
		return false
	})
	return found
}

// split makes pos an entry boundary. The right half gets its own copy of the
// stack so the halves can diverge.
func (bm *borrowMap) split(pos int) {
	if pos <= 0 || pos >= bm.size {
		return
	}
	e := bm.entryAt(pos)
	if e.start == pos {
		return
	}
	right := &stackEntry{start: pos, end: e.end, stack: slices.Clone(e.stack)}
	e.end = pos
	bm.tree.ReplaceOrInsert(right)
}

// each calls fn for every entry overlapping [off, off+n), with the entry's
// range clipped to the query. Iteration stops when fn returns false.
func (bm *borrowMap) each(off, n int, fn func(r Range, stack []Borrow) bool) {
	if n <= 0 {
		return
	}
	end := off + n
	first := bm.entryAt(off)
	if first == nil {
		return
	}
	bm.tree.AscendGreaterOrEqual(first, func(e *stackEntry) bool {
		if e.start >= end {
			return false
		}
		r := Range{Start: max(e.start, off), End: min(e.end, end)}
		return fn(r, e.stack)
	})
}

// mutate replaces the stack of every byte in [off, off+n) with
// fn(old stack). fn may edit the slice it is given in place.
func (bm *borrowMap) mutate(off, n int, fn func(r Range, stack []Borrow) []Borrow) {
	if n <= 0 {
		return
	}
	end := off + n
	bm.split(off)
	bm.split(end)

	var inside []*stackEntry
	bm.tree.AscendRange(&stackEntry{start: off}, &stackEntry{start: end}, func(e *stackEntry) bool {
		inside = append(inside, e)
		return true
	})
	for _, e := range inside {
		e.stack = fn(Range{Start: e.start, End: e.end}, e.stack)
	}
	bm.coalesce(off, end)
}

// coalesce merges equal neighbouring entries touching [lo, hi].
func (bm *borrowMap) coalesce(lo, hi int) {
	from := bm.entryAt(max(lo-1, 0))
	if from == nil {
		return
	}
	var run []*stackEntry
	bm.tree.AscendGreaterOrEqual(from, func(e *stackEntry) bool {
		if e.start > hi {
			return false
		}
		run = append(run, e)
		return true
	})
	for i := 1; i < len(run); i++ {
		prev, cur := run[i-1], run[i]
		if slices.Equal(prev.stack, cur.stack) {
			prev.end = cur.end
			bm.tree.Delete(cur)
			run[i] = prev
		}
	}
}

// stackAt returns the stack of a single byte. The slice is shared with the
// map and must not be modified.
func (bm *borrowMap) stackAt(off int) []Borrow {
	e := bm.entryAt(off)
	if e == nil {
		return nil
	}
	return e.stack
}

// entries returns the number of coalesced intervals.
func (bm *borrowMap) entries() int {
	return bm.tree.Len()
}

func (bm *borrowMap) clone() *borrowMap {
	out := newBorrowMap(0)
	out.size = bm.size
	bm.tree.Ascend(func(e *stackEntry) bool {
		out.tree.ReplaceOrInsert(&stackEntry{start: e.start, end: e.end, stack: slices.Clone(e.stack)})
		return true
	})
	return out
}
